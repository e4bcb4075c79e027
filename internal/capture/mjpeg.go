package capture

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"faceconsole/internal/faults"
)

// maxFrameBytes bounds a single MJPEG part so a misbehaving camera cannot
// exhaust memory.
const maxFrameBytes = 4 << 20

// MJPEGOpener opens a network camera that publishes an
// multipart/x-mixed-replace JPEG stream. Width and Height are advisory:
// they are passed as query parameters and the camera's native size is
// accepted either way. Only one handle may be open at a time.
type MJPEGOpener struct {
	URL    string
	Client *http.Client
	Width  int
	Height int

	mu   sync.Mutex
	open bool
}

func NewMJPEGOpener(rawURL string) *MJPEGOpener {
	return &MJPEGOpener{URL: rawURL, Width: 640, Height: 480}
}

func (o *MJPEGOpener) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return http.DefaultClient
}

// Open connects to the stream and starts the frame reader. The returned
// device keeps reading until Close.
func (o *MJPEGOpener) Open(ctx context.Context) (Device, error) {
	o.mu.Lock()
	if o.open {
		o.mu.Unlock()
		return nil, faults.New(faults.DeviceNotReady, "camera is already in use")
	}
	o.open = true
	o.mu.Unlock()

	dev, err := o.dial(ctx)
	if err != nil {
		o.release()
		return nil, err
	}
	return dev, nil
}

func (o *MJPEGOpener) release() {
	o.mu.Lock()
	o.open = false
	o.mu.Unlock()
}

func (o *MJPEGOpener) dial(ctx context.Context) (*mjpegDevice, error) {
	u, err := url.Parse(o.URL)
	if err != nil {
		return nil, faults.Wrap(faults.DeviceNotReady, "bad camera URL", err)
	}
	if o.Width > 0 && o.Height > 0 {
		q := u.Query()
		q.Set("width", strconv.Itoa(o.Width))
		q.Set("height", strconv.Itoa(o.Height))
		u.RawQuery = q.Encode()
	}

	// The stream must outlive the acquire deadline, so the request runs on
	// its own context and ctx only bounds the connect.
	sctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(sctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, faults.Wrap(faults.DeviceNotReady, "bad camera request", err)
	}

	type result struct {
		resp *http.Response
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := o.client().Do(req)
		ch <- result{resp, err}
	}()

	var resp *http.Response
	select {
	case <-ctx.Done():
		cancel()
		return nil, faults.Wrap(faults.DeviceNotReady, "camera did not answer in time", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			cancel()
			return nil, faults.Wrap(faults.DeviceNotReady, "camera connection failed", r.err)
		}
		resp = r.resp
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		cancel()
		return nil, faults.New(faults.DeviceAccessDenied, "camera refused access")
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, faults.New(faults.DeviceNotReady, fmt.Sprintf("camera returned status %d", resp.StatusCode))
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" || params["boundary"] == "" {
		resp.Body.Close()
		cancel()
		return nil, faults.New(faults.DeviceNotReady, "camera did not return an MJPEG stream")
	}

	d := &mjpegDevice{
		cancel:  cancel,
		body:    resp.Body,
		onClose: o.release,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.readLoop(multipart.NewReader(resp.Body, params["boundary"]))
	return d, nil
}

// mjpegDevice holds the latest frame from the stream. Frame hands out a
// copy so the reader can keep overwriting.
type mjpegDevice struct {
	cancel  context.CancelFunc
	body    io.ReadCloser
	onClose func()

	mu        sync.Mutex
	latest    []byte
	readyOnce sync.Once
	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (d *mjpegDevice) readLoop(mr *multipart.Reader) {
	defer close(d.done)
	for {
		part, err := mr.NextPart()
		if err != nil {
			return
		}
		data, err := io.ReadAll(io.LimitReader(part, maxFrameBytes))
		part.Close()
		if err != nil || len(data) == 0 {
			continue
		}
		d.mu.Lock()
		d.latest = data
		d.mu.Unlock()
		d.readyOnce.Do(func() { close(d.ready) })
	}
}

func (d *mjpegDevice) Frame(ctx context.Context) ([]byte, error) {
	select {
	case <-d.ready:
	case <-d.done:
		return nil, faults.New(faults.DeviceNotReady, "camera stream ended")
	case <-ctx.Done():
		return nil, faults.Wrap(faults.DeviceNotReady, "timed out waiting for a frame", ctx.Err())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(d.latest))
	copy(cp, d.latest)
	return cp, nil
}

// Close stops the stream and waits for the reader to exit before the
// opener accepts a new handle.
func (d *mjpegDevice) Close() error {
	d.closeOnce.Do(func() {
		d.cancel()
		d.body.Close()
		select {
		case <-d.done:
		case <-time.After(5 * time.Second):
		}
		d.onClose()
	})
	return nil
}
