package collector

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/models"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/motion"
)

// Encoder turns a frame into the JPEG payload sent to the Collector.
type Encoder struct {
	Quality  int
	Annotate bool
}

func (e Encoder) Encode(frame models.Frame, regions []models.MotionRegion) ([]byte, error) {
	if frame.Image == nil {
		return nil, fmt.Errorf("encode frame: no image")
	}
	img := frame.Image
	if e.Annotate && len(regions) > 0 {
		img = motion.Annotate(img, regions)
	}

	quality := e.Quality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
