package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"faceconsole/internal/faults"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// MaxUploadBytes is the largest accepted file. A file of exactly this size
// passes.
const MaxUploadBytes = 10 * 1024 * 1024

// UploadSource wraps a validated uploaded file. Validation happens in
// NewUploadSource; a source is only ever built from an acceptable file, and
// Capture returns the original bytes untouched.
type UploadSource struct {
	img Image
}

// NewUploadSource validates the selected file. The content type must be an
// image type, the size must not exceed MaxUploadBytes, and the bytes must
// decode as an image. Dimensions come from the header only.
func NewUploadSource(filename, contentType string, data []byte) (*UploadSource, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return nil, faults.New(faults.InvalidFileType, "only image files are accepted")
	}
	if len(data) > MaxUploadBytes {
		return nil, faults.New(faults.FileTooLarge, fmt.Sprintf("image exceeds the %d MB limit", MaxUploadBytes/(1024*1024)))
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, faults.Wrap(faults.ImageDecodeFailure, "file could not be read as an image", err)
	}
	if filename == "" {
		filename = DefaultFilename
	}
	return &UploadSource{img: Image{Data: data, Filename: filename, Width: cfg.Width, Height: cfg.Height}}, nil
}

func (u *UploadSource) Mode() Mode { return ModeUpload }

func (u *UploadSource) Acquire(context.Context) error { return nil }

func (u *UploadSource) Capture(context.Context) (Image, error) { return u.img, nil }

func (u *UploadSource) Release() error { return nil }
