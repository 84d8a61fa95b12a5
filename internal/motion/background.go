package motion

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/gift"
)

// ErrFrameShapeMismatch is returned when a frame's dimensions differ from the
// frames the model was seeded with. The running average is left untouched.
var ErrFrameShapeMismatch = errors.New("frame shape mismatch")

// ChangeMap is the dilated binary map of changed pixels: 255 changed, 0 static.
type ChangeMap struct {
	*image.Gray
}

// Changed reports whether any pixel in the map is set.
func (c ChangeMap) Changed() bool {
	for _, p := range c.Pix {
		if p != 0 {
			return true
		}
	}
	return false
}

// BackgroundModel keeps an exponential moving average of blurred grayscale
// frames and thresholds each new frame against it.
type BackgroundModel struct {
	alpha     float64
	threshold float64

	prep   *gift.GIFT
	dilate *gift.GIFT

	srcW, srcH int
	w, h       int
	origin     image.Point
	avg        []float64
}

func NewBackgroundModel(p Params) *BackgroundModel {
	filters := []gift.Filter{}
	if p.ProcessWidth > 0 {
		filters = append(filters, gift.Resize(p.ProcessWidth, 0, gift.LinearResampling))
	}
	filters = append(filters, gift.Grayscale())
	if p.BlurSigma > 0 {
		filters = append(filters, gift.GaussianBlur(float32(p.BlurSigma)))
	}

	m := &BackgroundModel{
		alpha:     p.Alpha,
		threshold: p.DeltaThreshold,
		prep:      gift.New(filters...),
	}
	if p.DilateSize > 1 {
		m.dilate = gift.New(gift.Maximum(p.DilateSize|1, false))
	}
	return m
}

// Initialized reports whether the average has been seeded.
func (m *BackgroundModel) Initialized() bool {
	return m.avg != nil
}

// Reset drops the running average; the next Update re-seeds it.
func (m *BackgroundModel) Reset() {
	m.avg = nil
	m.srcW, m.srcH, m.w, m.h = 0, 0, 0, 0
}

// Origin is the top-left corner of the last frame; change maps are zero-based.
func (m *BackgroundModel) Origin() image.Point {
	return m.origin
}

// Scale returns the factors mapping change-map coordinates back to frame coordinates.
func (m *BackgroundModel) Scale() (float64, float64) {
	if m.w == 0 || m.h == 0 {
		return 1, 1
	}
	return float64(m.srcW) / float64(m.w), float64(m.srcH) / float64(m.h)
}

// Update blends frame into the average and returns the change map. The first
// call only seeds the model and returns an empty map.
func (m *BackgroundModel) Update(frame image.Image) (ChangeMap, error) {
	if frame == nil {
		return ChangeMap{}, fmt.Errorf("%w: nil frame", ErrFrameShapeMismatch)
	}
	b := frame.Bounds()
	if b.Empty() {
		return ChangeMap{}, fmt.Errorf("%w: empty frame", ErrFrameShapeMismatch)
	}
	if m.Initialized() && (b.Dx() != m.srcW || b.Dy() != m.srcH) {
		return ChangeMap{}, fmt.Errorf("%w: got %dx%d, model is %dx%d",
			ErrFrameShapeMismatch, b.Dx(), b.Dy(), m.srcW, m.srcH)
	}

	m.origin = b.Min

	gray := image.NewGray(m.prep.Bounds(b))
	m.prep.Draw(gray, frame)
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()

	mask := image.NewGray(image.Rect(0, 0, w, h))

	if !m.Initialized() {
		m.srcW, m.srcH, m.w, m.h = b.Dx(), b.Dy(), w, h
		m.avg = make([]float64, w*h)
		for y := 0; y < h; y++ {
			row := gray.Pix[y*gray.Stride : y*gray.Stride+w]
			for x, v := range row {
				m.avg[y*w+x] = float64(v)
			}
		}
		return ChangeMap{mask}, nil
	}

	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		for x, v := range row {
			i := y*w + x
			px := float64(v)
			a := (1-m.alpha)*m.avg[i] + m.alpha*px
			m.avg[i] = a
			if math.Abs(px-a) > m.threshold {
				mask.Pix[y*mask.Stride+x] = 255
			}
		}
	}

	if m.dilate != nil {
		dilated := image.NewGray(mask.Bounds())
		m.dilate.Draw(dilated, mask)
		mask = dilated
	}
	return ChangeMap{mask}, nil
}
