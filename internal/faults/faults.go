// Package faults defines the console's error taxonomy. Device and file
// problems are resolved locally before any network call; submission problems
// are classified centrally from the transport response. Every fault is
// retryable from the operator's point of view.
package faults

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind identifies a failure class.
type Kind string

const (
	DeviceAccessDenied Kind = "device_access_denied"
	DeviceNotReady     Kind = "device_not_ready"
	InvalidFileType    Kind = "invalid_file_type"
	FileTooLarge       Kind = "file_too_large"
	ImageDecodeFailure Kind = "image_decode_failure"
	NoFaceDetected     Kind = "no_face_detected"
	AuthExpired        Kind = "auth_expired"
	IdentityNotFound   Kind = "identity_not_found"
	ServerFault        Kind = "server_fault"
	NetworkUnavailable Kind = "network_unavailable"
	Unclassified       Kind = "unclassified"
)

// Fault carries a classified error with a user-facing message.
type Fault struct {
	Kind    Kind
	Message string
	Err     error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.Err }

// New builds a fault with a message.
func New(kind Kind, message string) *Fault {
	return &Fault{Kind: kind, Message: message}
}

// Wrap builds a fault around an underlying error.
func Wrap(kind Kind, message string, err error) *Fault {
	return &Fault{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from err, Unclassified when err is not a Fault.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return Unclassified
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }

// faceHints are substrings the backend uses in its no-face-detected detail
// text. The backend reports in both English and Vietnamese.
var faceHints = []string{"face", "khuôn mặt", "không phát hiện"}

// ClassifyResponse maps an HTTP status plus response detail text into the
// taxonomy. Status wins; the text match only refines 400s.
func ClassifyResponse(status int, detail string) *Fault {
	switch {
	case status == http.StatusBadRequest:
		lower := strings.ToLower(detail)
		for _, hint := range faceHints {
			if strings.Contains(lower, hint) {
				return &Fault{Kind: NoFaceDetected, Message: detail}
			}
		}
		if detail == "" {
			detail = "request rejected"
		}
		return &Fault{Kind: Unclassified, Message: detail}
	case status == http.StatusUnauthorized:
		return &Fault{Kind: AuthExpired, Message: "session expired, sign in again"}
	case status == http.StatusNotFound:
		return &Fault{Kind: IdentityNotFound, Message: "user not found"}
	case status >= 500:
		return &Fault{Kind: ServerFault, Message: fmt.Sprintf("server error (%d), try again later", status)}
	default:
		if detail == "" {
			detail = fmt.Sprintf("unexpected status %d", status)
		}
		return &Fault{Kind: Unclassified, Message: detail}
	}
}

// ClassifyTransport maps an error with no HTTP response (refused connection,
// DNS failure, timeout) into the taxonomy.
func ClassifyTransport(err error) *Fault {
	return &Fault{Kind: NetworkUnavailable, Message: "connection failed, check the network", Err: err}
}
