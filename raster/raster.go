package raster

import (
	"errors"
	"fmt"

	"patchstore/geometry"
)

var ErrUnsupportedImage = errors.New("unsupported image layout")

// Raster 解码后的栅格：8 位像素、可选坐标系与仿射变换
type Raster struct {
	geometry.Buffer
	CRS       string
	Transform *Affine
}

// New 分配全零栅格
func New(s geometry.Shape) *Raster {
	return &Raster{Buffer: geometry.NewBuffer(s)}
}

// Validate 只接受灰度或真彩色，且像素长度与尺寸一致
func (r *Raster) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil raster", ErrUnsupportedImage)
	}
	if err := CheckShape(r.Shape); err != nil {
		return err
	}
	if len(r.Pix) != r.Shape.Len() {
		return fmt.Errorf("%w: %d bytes for shape %s", ErrUnsupportedImage, len(r.Pix), r.Shape)
	}
	return nil
}

// CheckShape 行列为正，通道数为 1 或 3
func CheckShape(s geometry.Shape) error {
	if s.Rows <= 0 || s.Cols <= 0 {
		return fmt.Errorf("%w: empty shape %s", ErrUnsupportedImage, s)
	}
	if b := s.Bands(); b != 1 && b != 3 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedImage, b)
	}
	return nil
}

// Subclass 图像子类标记
func Subclass(s geometry.Shape) string {
	if s.Bands() == 3 {
		return "IMAGE_TRUECOLOR"
	}
	return "IMAGE_GRAYSCALE"
}

// Interleave 将逐波段平面数据合并为像素交错
func Interleave(planes [][]byte, rows, cols int) (geometry.Buffer, error) {
	s := geometry.Shape{Rows: rows, Cols: cols, Channels: len(planes)}
	if err := CheckShape(s); err != nil {
		return geometry.Buffer{}, err
	}
	out := geometry.NewBuffer(s)
	n := len(planes)
	for b, plane := range planes {
		if len(plane) != rows*cols {
			return geometry.Buffer{}, fmt.Errorf("%w: band %d has %d bytes", ErrUnsupportedImage, b, len(plane))
		}
		for i, v := range plane {
			out.Pix[i*n+b] = v
		}
	}
	return out, nil
}

// Planes 像素交错数据拆分为逐波段平面
func Planes(b geometry.Buffer) [][]byte {
	n := b.Shape.Bands()
	size := b.Shape.Rows * b.Shape.Cols
	planes := make([][]byte, n)
	for i := range planes {
		planes[i] = make([]byte, size)
	}
	for i, v := range b.Pix {
		planes[i%n][i/n] = v
	}
	return planes
}
