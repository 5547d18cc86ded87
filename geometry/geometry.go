package geometry

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidIndex    = errors.New("invalid patch index")
	ErrInvalidTileSize = errors.New("tile size must be positive")
)

// Shape 栅格尺寸，Channels 为 1 表示灰度(二维)，3 表示真彩色(三维，像素交错)
type Shape struct {
	Rows     int
	Cols     int
	Channels int
}

// Bands 通道数，0 视为 1
func (s Shape) Bands() int {
	if s.Channels < 1 {
		return 1
	}
	return s.Channels
}

// Len 像素字节数
func (s Shape) Len() int {
	return s.Rows * s.Cols * s.Bands()
}

// Dims 与存储层一致的维度列表
func (s Shape) Dims() []int {
	if s.Bands() == 1 {
		return []int{s.Rows, s.Cols}
	}
	return []int{s.Rows, s.Cols, s.Bands()}
}

func (s Shape) String() string {
	if s.Bands() == 1 {
		return fmt.Sprintf("(%d, %d)", s.Rows, s.Cols)
	}
	return fmt.Sprintf("(%d, %d, %d)", s.Rows, s.Cols, s.Bands())
}

// Rect 半开区间矩形 [Row0,Row1) x [Col0,Col1)
type Rect struct {
	Row0, Col0 int
	Row1, Col1 int
}

// Empty 是否为空
func (r Rect) Empty() bool {
	return r.Row1 <= r.Row0 || r.Col1 <= r.Col0
}

func (r Rect) Rows() int {
	if r.Empty() {
		return 0
	}
	return r.Row1 - r.Row0
}

func (r Rect) Cols() int {
	if r.Empty() {
		return 0
	}
	return r.Col1 - r.Col0
}

// Window 源窗口与目标缓冲区内的对应位置
type Window struct {
	Src Rect
	Dst Rect
	Out Shape
}

// Grid 补丁网格参数
type Grid struct {
	PatchSize int
	Border    int
}

// TileSize 相邻补丁之间的步长
func (g Grid) TileSize() int {
	return g.PatchSize - 2*g.Border
}

func (g Grid) Validate() error {
	if g.PatchSize <= 0 || g.Border < 0 || g.TileSize() <= 0 {
		return fmt.Errorf("%w: patch size %d, border %d", ErrInvalidTileSize, g.PatchSize, g.Border)
	}
	return nil
}

// Dims 栅格对应的网格行列数
func (g Grid) Dims(s Shape) (rows, cols int) {
	return GridDims(s.Rows, s.Cols, g.TileSize())
}

// Window 网格单元的裁剪窗口
func (g Grid) Window(row, col int, s Shape) (Window, error) {
	return CropWindow(row, col, s, g.PatchSize, g.Border)
}

// GridDims 网格行列数 ceil(rows/tile), ceil(cols/tile)
func GridDims(rows, cols, tileSize int) (gridRows, gridCols int) {
	if tileSize <= 0 {
		return 0, 0
	}
	return ceilDiv(rows, tileSize), ceilDiv(cols, tileSize)
}

// CropWindow 计算 (row, col) 补丁的源/目标窗口。
//
// 源窗口在每个轴上为 [i*tile-border, i*tile+tile+border)，裁剪到栅格范围内；
// 目标窗口保持裁剪后区域在 patchSize x patchSize 零值缓冲区中的实际偏移。
//
// 只拒绝负数索引。超出网格的非负索引得到空的源窗口，即同样大小的全零补丁。
func CropWindow(row, col int, raster Shape, patchSize, border int) (Window, error) {
	if row < 0 || col < 0 {
		return Window{}, fmt.Errorf("%w: (%d, %d)", ErrInvalidIndex, row, col)
	}
	tile := patchSize - 2*border
	if tile <= 0 {
		return Window{}, fmt.Errorf("%w: patch size %d, border %d", ErrInvalidTileSize, patchSize, border)
	}
	w := Window{Out: Shape{Rows: patchSize, Cols: patchSize, Channels: raster.Channels}}
	w.Src.Row0, w.Src.Row1, w.Dst.Row0, w.Dst.Row1 = clampAxis(row, tile, border, raster.Rows)
	w.Src.Col0, w.Src.Col1, w.Dst.Col0, w.Dst.Col1 = clampAxis(col, tile, border, raster.Cols)
	if w.Src.Empty() {
		w.Src, w.Dst = Rect{}, Rect{}
	}
	return w, nil
}

func clampAxis(i, tile, border, dim int) (src0, src1, dst0, dst1 int) {
	src0 = i*tile - border
	if src0 < 0 {
		dst0 = -src0
		src0 = 0
	}
	if src0 > dim {
		src0 = dim
	}
	src1 = i*tile + tile + border
	if src1 > dim {
		src1 = dim
	}
	if src1 < src0 {
		src1 = src0
	}
	dst1 = dst0 + src1 - src0
	return
}

// LegendWindow 图例矩形。
// 标注点的第一个坐标对应列，第二个坐标对应行；截断取整后裁剪到栅格范围内，不做填充。
func LegendWindow(minX, minY, maxX, maxY float64, raster Shape) Rect {
	r := Rect{
		Row0: clampInt(int(minY), 0, raster.Rows),
		Row1: clampInt(int(maxY), 0, raster.Rows),
		Col0: clampInt(int(minX), 0, raster.Cols),
		Col1: clampInt(int(maxX), 0, raster.Cols),
	}
	if r.Empty() {
		return Rect{}
	}
	return r
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
