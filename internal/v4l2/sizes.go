package v4l2

import (
	"sort"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"
)

// commonSizes are offered for devices with stepwise or continuous frame
// sizes
var commonSizes = []camera.Size{
	{Width: 320, Height: 240},
	{Width: 640, Height: 480},
	{Width: 800, Height: 600},
	{Width: 1280, Height: 720},
	{Width: 1600, Height: 1200},
	{Width: 1920, Height: 1080},
	{Width: 2592, Height: 1944},
	{Width: 3840, Height: 2160},
}

// stepwiseSizes returns the common sizes a stepwise range can produce, plus
// its maximum
func stepwiseSizes(minW, maxW, stepW, minH, maxH, stepH int) []camera.Size {
	if stepW <= 0 {
		stepW = 1
	}
	if stepH <= 0 {
		stepH = 1
	}
	fits := func(v, min, max, step int) bool {
		return v >= min && v <= max && (v-min)%step == 0
	}

	var out []camera.Size
	for _, s := range commonSizes {
		if fits(s.Width, minW, maxW, stepW) && fits(s.Height, minH, maxH, stepH) {
			out = append(out, s)
		}
	}
	out = append(out, camera.Size{Width: maxW, Height: maxH})
	return sortSizes(out)
}

// sortSizes orders sizes by area, smallest first, and removes duplicates
func sortSizes(sizes []camera.Size) []camera.Size {
	sort.SliceStable(sizes, func(i, j int) bool {
		ai, aj := sizes[i].Width*sizes[i].Height, sizes[j].Width*sizes[j].Height
		if ai != aj {
			return ai < aj
		}
		return sizes[i].Width < sizes[j].Width
	})
	out := sizes[:0]
	for i, s := range sizes {
		if i > 0 && s == sizes[i-1] {
			continue
		}
		out = append(out, s)
	}
	return out
}
