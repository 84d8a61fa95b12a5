package motion

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/models"
)

var boxColor = color.RGBA{G: 255, A: 255}

const boxThickness = 2

// Annotate returns a copy of img with each region's bounding box outlined.
func Annotate(img image.Image, regions []models.MotionRegion) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)

	fill := image.NewUniform(boxColor)
	for _, r := range regions {
		box := r.Box.Intersect(b)
		if box.Empty() {
			continue
		}
		edges := []image.Rectangle{
			image.Rect(box.Min.X, box.Min.Y, box.Max.X, box.Min.Y+boxThickness),
			image.Rect(box.Min.X, box.Max.Y-boxThickness, box.Max.X, box.Max.Y),
			image.Rect(box.Min.X, box.Min.Y, box.Min.X+boxThickness, box.Max.Y),
			image.Rect(box.Max.X-boxThickness, box.Min.Y, box.Max.X, box.Max.Y),
		}
		for _, e := range edges {
			draw.Draw(out, e.Intersect(box), fill, image.Point{}, draw.Src)
		}
	}
	return out
}
