package media

import "fmt"

func roundUp2(v int) int { return (v + 1) &^ 1 }
func roundUp4(v int) int { return (v + 3) &^ 3 }

// computeLayout returns the plane table and total frame size for a pixel
// format. Row strides are padded to 4 bytes, so consumers must address
// pixels as offset + row*stride + col*pixel_stride.
func computeLayout(pixel PixelFormat, width, height int) ([]Plane, int, error) {
	switch pixel {
	case PixelRGB:
		stride := roundUp4(width * 3)
		return []Plane{{Offset: 0, Stride: stride, PixelStride: 3, Width: width, Height: height}}, stride * height, nil

	case PixelBGRx:
		stride := width * 4
		return []Plane{{Offset: 0, Stride: stride, PixelStride: 4, Width: width, Height: height}}, stride * height, nil

	case PixelGRAY8:
		stride := roundUp4(width)
		return []Plane{{Offset: 0, Stride: stride, PixelStride: 1, Width: width, Height: height}}, stride * height, nil

	case PixelI420, PixelYV12:
		yStride := roundUp4(width)
		cWidth := roundUp2(width) / 2
		cHeight := roundUp2(height) / 2
		cStride := roundUp4(cWidth)

		y := Plane{Offset: 0, Stride: yStride, PixelStride: 1, Width: width, Height: height}
		first := Plane{Offset: yStride * roundUp2(height), Stride: cStride, PixelStride: 1, Width: cWidth, Height: cHeight}
		second := Plane{Offset: first.Offset + cStride*cHeight, Stride: cStride, PixelStride: 1, Width: cWidth, Height: cHeight}
		size := second.Offset + cStride*cHeight

		// YV12 stores V before U; plane indexes stay Y, U, V.
		if pixel == PixelYV12 {
			first.Offset, second.Offset = second.Offset, first.Offset
		}
		return []Plane{y, first, second}, size, nil

	case PixelNV12:
		yStride := roundUp4(width)
		cWidth := roundUp2(width) / 2
		cHeight := roundUp2(height) / 2

		y := Plane{Offset: 0, Stride: yStride, PixelStride: 1, Width: width, Height: height}
		uv := Plane{Offset: yStride * roundUp2(height), Stride: yStride, PixelStride: 2, Width: cWidth, Height: cHeight}
		return []Plane{y, uv}, uv.Offset + yStride*cHeight, nil

	case PixelY444:
		stride := roundUp4(width)
		planeSize := stride * height
		planes := make([]Plane, 3)
		for i := range planes {
			planes[i] = Plane{Offset: i * planeSize, Stride: stride, PixelStride: 1, Width: width, Height: height}
		}
		return planes, 3 * planeSize, nil

	default:
		return nil, 0, fmt.Errorf("unsupported pixel format %q", pixel)
	}
}
