package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/models"
)

const maxSnapshotBytes = 32 << 20

// SnapshotSource fetches a still image from a camera's HTTP snapshot endpoint.
type SnapshotSource struct {
	URL    string
	client *http.Client
}

func NewSnapshotSource(url string, client *http.Client) *SnapshotSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &SnapshotSource{URL: url, client: client}
}

func (s *SnapshotSource) Capture(ctx context.Context) (models.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return models.Frame{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return models.Frame{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Frame{}, fmt.Errorf("bad status: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return models.Frame{}, fmt.Errorf("read snapshot: %w", err)
	}
	img, err := decode(data)
	if err != nil {
		return models.Frame{}, err
	}
	return models.Frame{Image: img}, nil
}

func (s *SnapshotSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
