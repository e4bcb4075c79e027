package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// DefaultEnrollFilename is used when the image did not come from a named
// file (camera captures).
const DefaultEnrollFilename = "face.jpg"

// Enroll submits a biometric reference image for the given identity as a
// single-file multipart payload. The caller owns refreshing the identity's
// enrollment flag afterwards; this call does not mutate user records.
// Failures come back classified per the fault taxonomy.
func (c *Client) Enroll(ctx context.Context, userID int64, image []byte, filename string) error {
	if filename == "" {
		filename = DefaultEnrollFilename
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("enroll: create form file failed: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(image)); err != nil {
		return fmt.Errorf("enroll: write file failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("enroll: close form failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/api/users/%d/enroll", c.BaseURL, userID), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req, nil)
}
