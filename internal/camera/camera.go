// Package camera wraps frame sources behind a single-owner capture section.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/models"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/timeutil"
)

var (
	// ErrFrameAcquisition wraps every capture failure. It is fatal to one tick only.
	ErrFrameAcquisition = errors.New("frame acquisition failed")
	ErrClosed           = errors.New("camera closed")
)

// FrameSource yields frames on demand.
type FrameSource interface {
	Capture(ctx context.Context) (models.Frame, error)
	Close() error
}

// Guard serializes captures so two never overlap and closes the source once.
type Guard struct {
	mu     sync.Mutex
	src    FrameSource
	clock  timeutil.Clock
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// NewGuard wraps src. Frames without a capture time are stamped from clock
// once the source returns; a nil clock means wall time.
func NewGuard(src FrameSource, clock timeutil.Clock) *Guard {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Guard{src: src, clock: clock}
}

func (g *Guard) Capture(ctx context.Context) (models.Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return models.Frame{}, fmt.Errorf("%w: %w", ErrFrameAcquisition, ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return models.Frame{}, fmt.Errorf("%w: %w", ErrFrameAcquisition, err)
	}

	frame, err := g.src.Capture(ctx)
	if err != nil {
		if errors.Is(err, ErrFrameAcquisition) {
			return models.Frame{}, err
		}
		return models.Frame{}, fmt.Errorf("%w: %w", ErrFrameAcquisition, err)
	}
	if frame.Image == nil {
		return models.Frame{}, fmt.Errorf("%w: source returned no image", ErrFrameAcquisition)
	}
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = g.clock.Now()
	}
	return frame, nil
}

// Bounds captures and discards one frame.
func (g *Guard) Bounds(ctx context.Context) (image.Rectangle, error) {
	frame, err := g.Capture(ctx)
	if err != nil {
		return image.Rectangle{}, err
	}
	return frame.Image.Bounds(), nil
}

// Close releases the underlying source exactly once; later calls return the first result.
func (g *Guard) Close() error {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.closed = true
		g.closeErr = g.src.Close()
	})
	return g.closeErr
}

func decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}
