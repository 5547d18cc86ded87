package geometry

// Buffer 像素缓冲区，按 行-列-通道 顺序存放
type Buffer struct {
	Shape Shape
	Pix   []byte
}

// NewBuffer 分配全零缓冲区
func NewBuffer(s Shape) Buffer {
	return Buffer{Shape: s, Pix: make([]byte, s.Len())}
}

// Empty 无像素
func (b Buffer) Empty() bool {
	return b.Shape.Rows == 0 || b.Shape.Cols == 0
}

// At 取 (r, c, ch) 处像素
func (b Buffer) At(r, c, ch int) byte {
	n := b.Shape.Bands()
	return b.Pix[(r*b.Shape.Cols+c)*n+ch]
}

// Row 第 r 行的字节切片
func (b Buffer) Row(r int) []byte {
	stride := b.Shape.Cols * b.Shape.Bands()
	return b.Pix[r*stride : (r+1)*stride]
}

// Copy 将 src 中 w.Src 区域复制到 dst 的 w.Dst 区域
func Copy(dst, src Buffer, w Window) {
	if w.Src.Empty() {
		return
	}
	n := src.Shape.Bands()
	width := w.Src.Cols() * n
	for i := 0; i < w.Src.Rows(); i++ {
		so := ((w.Src.Row0+i)*src.Shape.Cols + w.Src.Col0) * n
		do := ((w.Dst.Row0+i)*dst.Shape.Cols + w.Dst.Col0) * n
		copy(dst.Pix[do:do+width], src.Pix[so:so+width])
	}
}

// Crop 按窗口从内存栅格裁剪出补丁
func Crop(src Buffer, w Window) Buffer {
	out := NewBuffer(w.Out)
	Copy(out, src, w)
	return out
}

// IsValidPatch 任一通道平均值大于 0 即为有效补丁
func IsValidPatch(b Buffer) bool {
	if b.Empty() {
		return false
	}
	n := b.Shape.Bands()
	sums := make([]uint64, n)
	for i, v := range b.Pix {
		sums[i%n] += uint64(v)
	}
	count := float64(b.Shape.Rows * b.Shape.Cols)
	for _, s := range sums {
		if float64(s)/count > 0 {
			return true
		}
	}
	return false
}
