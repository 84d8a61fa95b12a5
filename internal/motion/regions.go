package motion

import (
	"image"
	"math"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/models"
)

var neighbors8 = [8]image.Point{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// ExtractRegions labels 8-connected components of set pixels in the map.
// Area is the number of pixels in the component.
func ExtractRegions(c ChangeMap) []models.MotionRegion {
	if c.Gray == nil {
		return nil
	}
	b := c.Bounds()
	w, h := b.Dx(), b.Dy()
	visited := make([]bool, w*h)
	set := func(x, y int) bool {
		return c.Pix[y*c.Stride+x] != 0
	}

	var regions []models.MotionRegion
	queue := make([]int, 0, 64)

	for start := 0; start < w*h; start++ {
		sx, sy := start%w, start/w
		if visited[start] || !set(sx, sy) {
			continue
		}

		// BFS по связной компоненте
		visited[start] = true
		queue = append(queue[:0], start)
		box := image.Rect(sx, sy, sx+1, sy+1)
		area := 0

		for len(queue) > 0 {
			cur := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := cur%w, cur/w
			area++
			box = box.Union(image.Rect(x, y, x+1, y+1))

			for _, d := range neighbors8 {
				nx, ny := x+d.X, y+d.Y
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				ni := ny*w + nx
				if visited[ni] || !set(nx, ny) {
					continue
				}
				visited[ni] = true
				queue = append(queue, ni)
			}
		}

		regions = append(regions, models.MotionRegion{
			Box:  box.Add(b.Min),
			Area: area,
		})
	}
	return regions
}

// scaleRegion maps a region from change-map space back to frame space.
func scaleRegion(r models.MotionRegion, sx, sy float64) models.MotionRegion {
	if sx == 1 && sy == 1 {
		return r
	}
	return models.MotionRegion{
		Box: image.Rect(
			int(math.Floor(float64(r.Box.Min.X)*sx)),
			int(math.Floor(float64(r.Box.Min.Y)*sy)),
			int(math.Ceil(float64(r.Box.Max.X)*sx)),
			int(math.Ceil(float64(r.Box.Max.Y)*sy)),
		),
		Area: int(math.Round(float64(r.Area) * sx * sy)),
	}
}
