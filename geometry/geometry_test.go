package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridDims(t *testing.T) {
	tests := []struct {
		name             string
		rows, cols, tile int
		wantR, wantC     int
	}{
		{name: "exact", rows: 500, cols: 500, tile: 250, wantR: 2, wantC: 2},
		{name: "ceil", rows: 512, cols: 512, tile: 250, wantR: 3, wantC: 3},
		{name: "non square", rows: 100, cols: 600, tile: 250, wantR: 1, wantC: 3},
		{name: "empty raster", rows: 0, cols: 0, tile: 250, wantR: 0, wantC: 0},
		{name: "bad tile", rows: 10, cols: 10, tile: 0, wantR: 0, wantC: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, c := GridDims(tt.rows, tt.cols, tt.tile)
			assert.Equal(t, tt.wantR, r)
			assert.Equal(t, tt.wantC, c)
		})
	}
}

func TestCropWindow(t *testing.T) {
	raster := Shape{Rows: 512, Cols: 512, Channels: 3}
	tests := []struct {
		name     string
		row, col int
		src, dst Rect
	}{
		{
			name: "top left corner is shifted by the border",
			row:  0, col: 0,
			src: Rect{Row0: 0, Col0: 0, Row1: 253, Col1: 253},
			dst: Rect{Row0: 3, Col0: 3, Row1: 256, Col1: 256},
		},
		{
			name: "interior",
			row:  1, col: 1,
			src: Rect{Row0: 247, Col0: 247, Row1: 503, Col1: 503},
			dst: Rect{Row0: 0, Col0: 0, Row1: 256, Col1: 256},
		},
		{
			name: "bottom right edge is clamped",
			row:  2, col: 2,
			src: Rect{Row0: 497, Col0: 497, Row1: 512, Col1: 512},
			dst: Rect{Row0: 0, Col0: 0, Row1: 15, Col1: 15},
		},
		{
			name: "mixed",
			row:  0, col: 2,
			src: Rect{Row0: 0, Col0: 497, Row1: 253, Col1: 512},
			dst: Rect{Row0: 3, Col0: 0, Row1: 256, Col1: 15},
		},
		{
			name: "beyond grid",
			row:  7, col: 1,
			src: Rect{},
			dst: Rect{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := CropWindow(tt.row, tt.col, raster, 256, 3)
			require.NoError(t, err)
			assert.Equal(t, tt.src, w.Src)
			assert.Equal(t, tt.dst, w.Dst)
			assert.Equal(t, Shape{Rows: 256, Cols: 256, Channels: 3}, w.Out)
		})
	}
}

func TestCropWindowRejectsNegativeIndex(t *testing.T) {
	raster := Shape{Rows: 512, Cols: 512, Channels: 1}
	for _, rc := range [][2]int{{-1, 0}, {0, -1}, {-3, -3}} {
		_, err := CropWindow(rc[0], rc[1], raster, 256, 3)
		assert.ErrorIs(t, err, ErrInvalidIndex)
	}
}

func TestCropWindowRejectsBadTileSize(t *testing.T) {
	_, err := CropWindow(0, 0, Shape{Rows: 10, Cols: 10}, 6, 3)
	assert.ErrorIs(t, err, ErrInvalidTileSize)
	assert.ErrorIs(t, Grid{PatchSize: 6, Border: 3}.Validate(), ErrInvalidTileSize)
	assert.NoError(t, Grid{PatchSize: 256, Border: 3}.Validate())
}

func gradient(s Shape) Buffer {
	b := NewBuffer(s)
	for i := range b.Pix {
		b.Pix[i] = byte(i%251 + 1)
	}
	return b
}

func TestCropMatchesSourceAndZeroFills(t *testing.T) {
	raster := Shape{Rows: 40, Cols: 30, Channels: 3}
	src := gradient(raster)
	g := Grid{PatchSize: 16, Border: 2}
	gr, gc := g.Dims(raster)
	require.Equal(t, 4, gr)
	require.Equal(t, 3, gc)

	for row := 0; row < gr+1; row++ {
		for col := 0; col < gc+1; col++ {
			w, err := g.Window(row, col, raster)
			require.NoError(t, err)
			patch := Crop(src, w)
			require.Len(t, patch.Pix, 16*16*3)
			for r := 0; r < 16; r++ {
				for c := 0; c < 16; c++ {
					ar := row*g.TileSize() - g.Border + r
					ac := col*g.TileSize() - g.Border + c
					for ch := 0; ch < 3; ch++ {
						want := byte(0)
						if ar >= 0 && ar < raster.Rows && ac >= 0 && ac < raster.Cols {
							want = src.At(ar, ac, ch)
						}
						if !assert.Equal(t, want, patch.At(r, c, ch), "patch (%d,%d) pixel (%d,%d,%d)", row, col, r, c, ch) {
							return
						}
					}
				}
			}
		}
	}
}

func TestIsValidPatch(t *testing.T) {
	gray := NewBuffer(Shape{Rows: 4, Cols: 4, Channels: 1})
	assert.False(t, IsValidPatch(gray))
	gray.Pix[15] = 1
	assert.True(t, IsValidPatch(gray))

	rgb := NewBuffer(Shape{Rows: 4, Cols: 4, Channels: 3})
	assert.False(t, IsValidPatch(rgb))
	// only the blue channel is set
	rgb.Pix[2] = 200
	assert.True(t, IsValidPatch(rgb))

	assert.False(t, IsValidPatch(Buffer{}))
}

func TestLegendWindow(t *testing.T) {
	raster := Shape{Rows: 100, Cols: 200}
	tests := []struct {
		name                   string
		minX, minY, maxX, maxY float64
		want                   Rect
	}{
		{
			name: "first coordinate is the column",
			minX: 10.9, minY: 20.2, maxX: 50.7, maxY: 30.9,
			want: Rect{Row0: 20, Col0: 10, Row1: 30, Col1: 50},
		},
		{
			name: "clamped to raster",
			minX: -5, minY: 90, maxX: 250, maxY: 150,
			want: Rect{Row0: 90, Col0: 0, Row1: 100, Col1: 200},
		},
		{
			name: "degenerate",
			minX: 10, minY: 10, maxX: 10, maxY: 40,
			want: Rect{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LegendWindow(tt.minX, tt.minY, tt.maxX, tt.maxY, raster))
		})
	}
}
