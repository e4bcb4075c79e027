package upstream

import (
	"context"
	"fmt"
	"net/http"

	"faceconsole/internal/faults"
)

// Threshold and camera bounds enforced before the round trip.
const (
	MinThreshold = 0.3
	MaxThreshold = 0.9
)

// GetSettings fetches the recognition configuration.
func (c *Client) GetSettings(ctx context.Context) (Settings, error) {
	var s Settings
	err := c.get(ctx, "/api/settings", nil, &s)
	return s, err
}

// UpdateSettings validates and writes the recognition configuration.
func (c *Client) UpdateSettings(ctx context.Context, s Settings) (Settings, error) {
	if s.Threshold < MinThreshold || s.Threshold > MaxThreshold {
		return Settings{}, faults.New(faults.Unclassified,
			fmt.Sprintf("threshold must be between %.1f and %.1f", MinThreshold, MaxThreshold))
	}
	if s.CameraID < 0 {
		return Settings{}, faults.New(faults.Unclassified, "camera id must be non-negative")
	}
	var out Settings
	err := c.doJSON(ctx, http.MethodPut, "/api/settings", s, &out)
	return out, err
}
