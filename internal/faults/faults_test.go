package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyResponse(t *testing.T) {
	cases := []struct {
		status int
		detail string
		want   Kind
	}{
		{400, "No face detected in image", NoFaceDetected},
		{400, "Không phát hiện được khuôn mặt trong ảnh", NoFaceDetected},
		{400, "code already exists", Unclassified},
		{401, "", AuthExpired},
		{404, "", IdentityNotFound},
		{500, "", ServerFault},
		{503, "", ServerFault},
		{418, "teapot", Unclassified},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_%s", tc.status, tc.detail), func(t *testing.T) {
			f := ClassifyResponse(tc.status, tc.detail)
			assert.Equal(t, tc.want, f.Kind)
			assert.NotEmpty(t, f.Message)
		})
	}
}

func TestClassifyTransport(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	f := ClassifyTransport(cause)
	assert.Equal(t, NetworkUnavailable, f.Kind)
	assert.ErrorIs(t, f, cause)
}

func TestKindOf(t *testing.T) {
	f := New(DeviceNotReady, "no frame yet")
	wrapped := fmt.Errorf("capture: %w", f)
	assert.Equal(t, DeviceNotReady, KindOf(wrapped))
	assert.True(t, Is(wrapped, DeviceNotReady))
	assert.Equal(t, Unclassified, KindOf(errors.New("plain")))
}
