package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/models"
)

var imageExt = []string{".jpg", ".jpeg", ".png"}

// ReplaySource cycles through a fixed list of encoded frames.
type ReplaySource struct {
	mu     sync.Mutex
	frames [][]byte
	next   int
}

func NewReplaySource(frames [][]byte) (*ReplaySource, error) {
	if len(frames) == 0 {
		return nil, errors.New("replay source needs at least one frame")
	}
	return &ReplaySource{frames: frames}, nil
}

// NewDirSource loads every image file in dir, ordered by name.
func NewDirSource(dir string) (*ReplaySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}

	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		return e.Name(), !e.IsDir() && lo.Contains(imageExt, ext)
	})
	sort.Strings(names)

	frames := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		frames = append(frames, data)
	}
	return NewReplaySource(frames)
}

// ObjectDownloader fetches every object under bucket/prefix.
type ObjectDownloader interface {
	DownloadFrames(ctx context.Context, bucket, prefix string) ([][]byte, error)
}

// NewS3Source replays frames stored in object storage.
func NewS3Source(ctx context.Context, d ObjectDownloader, bucket, prefix string) (*ReplaySource, error) {
	frames, err := d.DownloadFrames(ctx, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("download frames from %s/%s: %w", bucket, prefix, err)
	}
	return NewReplaySource(frames)
}

func (r *ReplaySource) Capture(ctx context.Context) (models.Frame, error) {
	r.mu.Lock()
	data := r.frames[r.next]
	r.next = (r.next + 1) % len(r.frames)
	r.mu.Unlock()

	img, err := decode(data)
	if err != nil {
		return models.Frame{}, err
	}
	return models.Frame{Image: img}, nil
}

func (r *ReplaySource) Close() error {
	return nil
}
