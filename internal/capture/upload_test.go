package capture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceconsole/internal/faults"
)

func TestNewUploadSource_Validation(t *testing.T) {
	valid := tinyPNG(t)

	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
		wantKind    faults.Kind
	}{
		{"non-image mime", "doc.pdf", "application/pdf", valid, faults.InvalidFileType},
		{"text mime", "notes.txt", "text/plain", valid, faults.InvalidFileType},
		{"over the limit", "big.png", "image/png", make([]byte, MaxUploadBytes+1), faults.FileTooLarge},
		{"undecodable bytes", "broken.jpg", "image/jpeg", []byte("not an image"), faults.ImageDecodeFailure},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewUploadSource(tc.filename, tc.contentType, tc.data)
			require.Error(t, err)
			assert.Equal(t, tc.wantKind, faults.KindOf(err))
		})
	}
}

func TestNewUploadSource_ExactLimitAccepted(t *testing.T) {
	// A real image header padded out to exactly the limit.
	data := make([]byte, MaxUploadBytes)
	copy(data, tinyPNG(t))

	src, err := NewUploadSource("big.png", "image/png", data)
	require.NoError(t, err)

	img, err := src.Capture(context.Background())
	require.NoError(t, err)
	assert.Len(t, img.Data, MaxUploadBytes)
	assert.Equal(t, 2, img.Width)
	assert.Equal(t, 3, img.Height)
}

func TestNewUploadSource_DefaultFilename(t *testing.T) {
	src, err := NewUploadSource("", "image/png", tinyPNG(t))
	require.NoError(t, err)

	img, err := src.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultFilename, img.Filename)
}
