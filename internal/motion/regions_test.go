package motion

import (
	"image"
	"image/color"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/models"
)

func maskFrom(rows ...string) ChangeMap {
	img := image.NewGray(image.Rect(0, 0, len(rows[0]), len(rows)))
	for y, row := range rows {
		for x, c := range row {
			if c == '#' {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return ChangeMap{img}
}

func TestExtractRegions(t *testing.T) {
	m := maskFrom(
		"##......",
		"##....#.",
		".....#..",
		"........",
		"#.......",
	)

	regions := ExtractRegions(m)
	require.Len(t, regions, 3)
	sort.Slice(regions, func(i, j int) bool { return regions[i].Area > regions[j].Area })

	assert.Equal(t, 4, regions[0].Area)
	assert.Equal(t, image.Rect(0, 0, 2, 2), regions[0].Box)

	// диагональные соседи образуют одну область
	assert.Equal(t, 2, regions[1].Area)
	assert.Equal(t, image.Rect(5, 1, 7, 3), regions[1].Box)

	assert.Equal(t, 1, regions[2].Area)
}

func TestExtractRegions_Empty(t *testing.T) {
	assert.Empty(t, ExtractRegions(maskFrom("....", "....")))
	assert.Empty(t, ExtractRegions(ChangeMap{}))
}

func TestBackgroundModel_FirstUpdateSeeds(t *testing.T) {
	m := NewBackgroundModel(DefaultParams())
	assert.False(t, m.Initialized())

	change, err := m.Update(blobFrame(10, 10, 40).Image)
	require.NoError(t, err)
	assert.False(t, change.Changed())
	assert.True(t, m.Initialized())

	m.Reset()
	assert.False(t, m.Initialized())
}

func TestBackgroundModel_AbsorbsStaticScene(t *testing.T) {
	m := NewBackgroundModel(DefaultParams())
	f := blobFrame(10, 10, 40).Image
	_, err := m.Update(staticFrame().Image)
	require.NoError(t, err)

	// после нескольких одинаковых кадров фон догоняет сцену
	var change ChangeMap
	for i := 0; i < 10; i++ {
		change, err = m.Update(f)
		require.NoError(t, err)
	}
	assert.False(t, change.Changed())
}

func TestBackgroundModel_RejectsNilFrame(t *testing.T) {
	m := NewBackgroundModel(DefaultParams())
	_, err := m.Update(nil)
	assert.ErrorIs(t, err, ErrFrameShapeMismatch)
}

func TestAnnotate(t *testing.T) {
	f := staticFrame().Image
	out := Annotate(f, nil)
	assert.Equal(t, f.Bounds(), out.Bounds())

	box := image.Rect(10, 10, 30, 30)
	out = Annotate(f, []models.MotionRegion{{Box: box, Area: 400}})
	r, g, _, _ := out.At(10, 10).RGBA()
	assert.Zero(t, r)
	assert.Equal(t, uint32(0xffff), g)
	_, g, _, _ = out.At(20, 20).RGBA()
	assert.Zero(t, g, "box interior must stay untouched")
}
