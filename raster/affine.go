package raster

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrWorldFile = errors.New("malformed world file")

// Affine 像素到地图坐标的仿射变换
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// Identity 单位变换
func Identity() Affine {
	return Affine{A: 1, E: 1}
}

// FromGDAL GDAL geotransform 顺序为 [C, A, B, F, D, E]
func FromGDAL(gt [6]float64) Affine {
	return Affine{A: gt[1], B: gt[2], C: gt[0], D: gt[4], E: gt[5], F: gt[3]}
}

// GDAL 转为 GDAL geotransform
func (t Affine) GDAL() [6]float64 {
	return [6]float64{t.C, t.A, t.B, t.F, t.D, t.E}
}

// Apply 像素坐标 (col, row) 转地图坐标
func (t Affine) Apply(col, row float64) (x, y float64) {
	// 显式转换使乘积先舍入，避免融合乘加
	return float64(t.A*col) + float64(t.B*row) + t.C, float64(t.D*col) + float64(t.E*row) + t.F
}

// Translate 右乘平移
func (t Affine) Translate(dc, dr float64) Affine {
	t.C, t.F = t.Apply(dc, dr)
	return t
}

// Equal 在误差范围内比较
func (t Affine) Equal(o Affine, eps float64) bool {
	a := [6]float64{t.A, t.B, t.C, t.D, t.E, t.F}
	b := [6]float64{o.A, o.B, o.C, o.D, o.E, o.F}
	for i := range a {
		if math.Abs(a[i]-b[i]) > eps {
			return false
		}
	}
	return true
}

// WorldFile 世界文件文本：像素中心变换的 a d b e c f，每行一个
func (t Affine) WorldFile() string {
	c := t.Translate(0.5, 0.5)
	var sb strings.Builder
	for _, v := range []float64{c.A, c.D, c.B, c.E, c.C, c.F} {
		sb.WriteString(formatFloat(v))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// ParseWorldFile 解析世界文件文本
func ParseWorldFile(s string) (Affine, error) {
	fields := strings.Fields(s)
	if len(fields) != 6 {
		return Affine{}, fmt.Errorf("%w: expected 6 values, got %d", ErrWorldFile, len(fields))
	}
	var v [6]float64
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Affine{}, fmt.Errorf("%w: %v", ErrWorldFile, err)
		}
		v[i] = n
	}
	center := Affine{A: v[0], D: v[1], B: v[2], E: v[3], C: v[4], F: v[5]}
	return center.Translate(-0.5, -0.5), nil
}

func (t Affine) String() string {
	return fmt.Sprintf("| %g, %g, %g|\n| %g, %g, %g|", t.A, t.B, t.C, t.D, t.E, t.F)
}

// formatFloat 十进制最短表示，整数保留 ".0"，极大或极小值用指数形式
func formatFloat(v float64) string {
	if v == 0 {
		return "0.0"
	}
	abs := math.Abs(v)
	if abs >= 1e16 || abs < 1e-4 {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
