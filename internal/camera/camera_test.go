package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/models"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/timeutil"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

type slowSource struct {
	inFlight atomic.Int32
	overlap  atomic.Bool
	closes   atomic.Int32
	err      error
}

func (s *slowSource) Capture(ctx context.Context) (models.Frame, error) {
	if s.inFlight.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.inFlight.Add(-1)
	time.Sleep(2 * time.Millisecond)
	if s.err != nil {
		return models.Frame{}, s.err
	}
	return models.Frame{Image: image.NewGray(image.Rect(0, 0, 4, 4))}, nil
}

func (s *slowSource) Close() error {
	s.closes.Add(1)
	return nil
}

func TestGuard_CapturesNeverOverlap(t *testing.T) {
	src := &slowSource{}
	g := NewGuard(src, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Capture(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, src.overlap.Load())
}

func TestGuard_WrapsErrors(t *testing.T) {
	g := NewGuard(&slowSource{err: errors.New("sensor unplugged")}, nil)

	_, err := g.Capture(context.Background())
	require.ErrorIs(t, err, ErrFrameAcquisition)
	assert.Contains(t, err.Error(), "sensor unplugged")
}

func TestGuard_StampsCaptureTime(t *testing.T) {
	g := NewGuard(&slowSource{}, nil)
	f, err := g.Capture(context.Background())
	require.NoError(t, err)
	assert.False(t, f.CapturedAt.IsZero())

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g = NewGuard(&slowSource{}, timeutil.NewMockClock(at))
	f, err = g.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, at, f.CapturedAt)
}

func TestGuard_CloseOnce(t *testing.T) {
	src := &slowSource{}
	g := NewGuard(src, nil)

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
	assert.Equal(t, int32(1), src.closes.Load())

	_, err := g.Capture(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, err, ErrFrameAcquisition)
}

func TestSnapshotSource(t *testing.T) {
	body := pngBytes(t, 8, 6)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	g := NewGuard(NewSnapshotSource(srv.URL, srv.Client()), nil)
	bounds, err := g.Bounds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), bounds)
}

func TestSnapshotSource_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewGuard(NewSnapshotSource(srv.URL, srv.Client()), nil)
	_, err := g.Capture(context.Background())
	require.ErrorIs(t, err, ErrFrameAcquisition)
	assert.Contains(t, err.Error(), "503")
}

func TestDirSource_CyclesInNameOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), pngBytes(t, 2, 2), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), pngBytes(t, 1, 1), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	src, err := NewDirSource(dir)
	require.NoError(t, err)

	var widths []int
	for i := 0; i < 3; i++ {
		f, err := src.Capture(context.Background())
		require.NoError(t, err)
		widths = append(widths, f.Image.Bounds().Dx())
	}
	assert.Equal(t, []int{1, 2, 1}, widths)
}

func TestDirSource_EmptyDir(t *testing.T) {
	_, err := NewDirSource(t.TempDir())
	assert.Error(t, err)
}

type fakeDownloader struct {
	frames [][]byte
	err    error
}

func (f fakeDownloader) DownloadFrames(ctx context.Context, bucket, prefix string) ([][]byte, error) {
	return f.frames, f.err
}

func TestS3Source(t *testing.T) {
	src, err := NewS3Source(context.Background(), fakeDownloader{frames: [][]byte{pngBytes(t, 3, 3)}}, "frames", "cam1/")
	require.NoError(t, err)
	f, err := src.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, f.Image.Bounds().Dx())

	_, err = NewS3Source(context.Background(), fakeDownloader{err: errors.New("no bucket")}, "frames", "")
	assert.ErrorContains(t, err, "no bucket")
}
