package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"faceconsole/internal/faults"
)

// Phase is the enrollment session state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseAcquiring  Phase = "acquiring"
	PhasePreviewing Phase = "previewing"
	PhaseSubmitting Phase = "submitting"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
)

// successDelay is how long a successful submission stays visible before the
// completion callback fires.
const successDelay = 1500 * time.Millisecond

// Submitter sends an enrollment image upstream.
type Submitter interface {
	Enroll(ctx context.Context, userID int64, image []byte, filename string) error
}

var (
	errSessionClosed = errors.New("session closed")
	errSuperseded    = errors.New("session changed during the operation")
)

// Session walks one enrollment through acquire, preview and submit. All
// network work runs outside the lock; the phase is advanced first so
// concurrent calls are rejected rather than interleaved.
type Session struct {
	ID     string
	UserID int64

	opener        DeviceOpener
	submitter     Submitter
	acquireWithin time.Duration
	submitWithin  time.Duration
	doneDelay     time.Duration
	onDone        func(userID int64)

	mu      sync.Mutex
	phase   Phase
	mode    Mode
	source  ImageSource
	image   *Image
	lastErr error
	timer   *time.Timer
	closed  bool
	seq     uint64
}

// State is the wire view of a session.
type State struct {
	ID        string      `json:"id"`
	UserID    int64       `json:"user_id"`
	Phase     Phase       `json:"phase"`
	Mode      Mode        `json:"mode,omitempty"`
	HasImage  bool        `json:"has_image"`
	Filename  string      `json:"filename,omitempty"`
	Width     int         `json:"width,omitempty"`
	Height    int         `json:"height,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorKind faults.Kind `json:"error_kind,omitempty"`
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{ID: s.ID, UserID: s.UserID, Phase: s.phase, Mode: s.mode}
	if s.image != nil {
		st.HasImage = true
		st.Filename = s.image.Filename
		st.Width = s.image.Width
		st.Height = s.image.Height
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
		if k := faults.KindOf(s.lastErr); k != faults.Unclassified {
			st.ErrorKind = k
		}
	}
	return st
}

// Image returns the previewable image, nil when none was captured yet.
func (s *Session) Image() *Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}

// Start moves an idle session into acquiring. Camera mode opens the device
// before returning; a failed open drops the session back to idle with the
// fault recorded.
func (s *Session) Start(ctx context.Context, mode Mode) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		return phaseErr("start", s.phase)
	}
	s.mode = mode
	s.phase = PhaseAcquiring
	s.lastErr = nil
	if mode != ModeCamera {
		s.mu.Unlock()
		return nil
	}
	src := NewCameraSource(s.opener)
	s.source = src
	s.mu.Unlock()

	actx, cancel := context.WithTimeout(ctx, s.acquireWithin)
	defer cancel()
	return s.finishAcquire(src, src.Acquire(actx))
}

// finishAcquire settles an out-of-lock device open. The session may have
// moved on while the device was opening: a close or mode switch replaces
// s.source, and the late handle must be released, not installed.
func (s *Session) finishAcquire(src *CameraSource, err error) error {
	s.mu.Lock()
	closed := s.closed
	current := s.source == src
	if err != nil && current {
		s.source = nil
		s.phase = PhaseIdle
		s.lastErr = err
	}
	s.mu.Unlock()

	if err != nil {
		src.Release()
		return err
	}
	if closed || !current {
		src.Release()
		if closed {
			return errSessionClosed
		}
		return errSuperseded
	}
	return nil
}

// Capture grabs the current camera frame. A rejected capture records the
// fault and leaves the session in acquiring so the operator can try again.
func (s *Session) Capture(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	if s.phase != PhaseAcquiring || s.mode != ModeCamera || s.source == nil {
		p := s.phase
		s.mu.Unlock()
		return phaseErr("capture", p)
	}
	src := s.source
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, s.acquireWithin)
	defer cancel()
	img, err := src.Capture(cctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	if s.source != src {
		// A mode switch took the device away mid-frame and already
		// released it; the stale bytes are dropped.
		s.mu.Unlock()
		return errSuperseded
	}
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		return err
	}
	// The preview holds bytes, not the device.
	s.source = nil
	s.image = &img
	s.phase = PhasePreviewing
	s.lastErr = nil
	s.mu.Unlock()
	src.Release()
	return nil
}

// SelectFile validates an uploaded file and moves to previewing. A rejected
// file records the fault without changing phase.
func (s *Session) SelectFile(filename, contentType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	if s.phase != PhaseAcquiring || s.mode != ModeUpload {
		return phaseErr("select a file", s.phase)
	}
	src, err := NewUploadSource(filename, contentType, data)
	if err != nil {
		s.lastErr = err
		return err
	}
	img, _ := src.Capture(context.Background())
	s.image = &img
	s.phase = PhasePreviewing
	s.lastErr = nil
	return nil
}

// Retake discards the captured image and returns to acquiring. Camera mode
// reopens the device.
func (s *Session) Retake(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	if s.phase != PhasePreviewing && s.phase != PhaseFailed {
		p := s.phase
		s.mu.Unlock()
		return phaseErr("retake", p)
	}
	s.image = nil
	s.lastErr = nil
	s.phase = PhaseAcquiring
	if s.mode != ModeCamera {
		s.mu.Unlock()
		return nil
	}
	src := NewCameraSource(s.opener)
	s.source = src
	s.mu.Unlock()

	actx, cancel := context.WithTimeout(ctx, s.acquireWithin)
	defer cancel()
	return s.finishAcquire(src, src.Acquire(actx))
}

// Submit sends the previewed image upstream. On failure the image is kept
// so the operator can retry or retake; on success the completion callback
// fires after a short delay.
func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	if s.phase != PhasePreviewing && s.phase != PhaseFailed {
		p := s.phase
		s.mu.Unlock()
		return phaseErr("submit", p)
	}
	if s.image == nil {
		s.mu.Unlock()
		return errors.New("nothing to submit")
	}
	img := *s.image
	seq := s.seq
	s.phase = PhaseSubmitting
	s.lastErr = nil
	s.mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, s.submitWithin)
	defer cancel()
	err := s.submitter.Enroll(sctx, s.UserID, img.Data, img.Filename)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	if s.seq != seq {
		// A mode switch cancelled the submission while it was in
		// flight. The outcome is dropped either way.
		return errSuperseded
	}
	if err != nil {
		s.phase = PhaseFailed
		s.lastErr = err
		return err
	}
	s.phase = PhaseSucceeded
	if s.onDone != nil {
		cb, id := s.onDone, s.UserID
		s.timer = time.AfterFunc(s.doneDelay, func() { cb(id) })
	}
	return nil
}

// SwitchMode releases the current source and returns to idle in the new
// mode, from any phase. An open or submission still in flight is cancelled:
// its result is discarded when it lands.
func (s *Session) SwitchMode(mode Mode) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	s.seq++
	src := s.source
	s.source = nil
	s.image = nil
	s.lastErr = nil
	s.mode = mode
	s.phase = PhaseIdle
	s.mu.Unlock()

	if src != nil {
		return src.Release()
	}
	return nil
}

// Close releases all resources. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	src := s.source
	s.source = nil
	s.image = nil
	timer := s.timer
	s.timer = nil
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if src != nil {
		return src.Release()
	}
	return nil
}

func phaseErr(op string, p Phase) error {
	return fmt.Errorf("cannot %s while %s", op, p)
}
