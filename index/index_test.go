package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchstore/geometry"
)

func TestCellKey(t *testing.T) {
	c := Cell{Row: 12, Col: 3}
	assert.Equal(t, "12_3", c.Key())
	parsed, err := ParseKey("12_3")
	require.NoError(t, err)
	assert.Equal(t, c, parsed)

	for _, bad := range []string{"", "12", "a_1", "1_b"} {
		_, err := ParseKey(bad)
		assert.ErrorIs(t, err, ErrBadKey, bad)
	}
}

func TestRecordLayerKeepsProcessingOrder(t *testing.T) {
	idx := New()
	idx.RecordLayer("water", []Cell{{1, 1}, {0, 2}})
	idx.RecordLayer("road", []Cell{{0, 2}, {2, 0}})
	idx.RecordLayer("empty", nil)

	assert.Equal(t, []string{"water", "road", "empty"}, idx.Layers())
	assert.Equal(t, []string{"water", "road"}, idx.LayersForPatch(0, 2))
	assert.Equal(t, []string{"water"}, idx.LayersForPatch(1, 1))
	assert.Empty(t, idx.LayersForPatch(5, 5))
	assert.Equal(t, []Cell{{1, 1}, {0, 2}, {2, 0}}, idx.ValidPatches())
	assert.Equal(t, []Cell{}, idx.PatchesForLayer("empty"))
	assert.True(t, idx.HasLayer("empty"))
	assert.False(t, idx.HasLayer("map"))

	layers, err := idx.MarshalLayers()
	require.NoError(t, err)
	assert.Equal(t, `{"water":[[1,1],[0,2]],"road":[[0,2],[2,0]],"empty":[]}`, string(layers))

	locations, err := idx.MarshalLocations()
	require.NoError(t, err)
	assert.Equal(t, `{"1_1":["water"],"0_2":["water","road"],"2_0":["road"]}`, string(locations))

	valid, err := idx.MarshalValid()
	require.NoError(t, err)
	assert.Equal(t, `[[1,1],[0,2],[2,0]]`, string(valid))
}

func TestCorners(t *testing.T) {
	idx := New()
	_, ok := idx.Corners()
	assert.False(t, ok)

	idx.RecordLayer("a", []Cell{{0, 0}})
	idx.RecordLayer("b", []Cell{{2, 2}})
	corners, ok := idx.Corners()
	require.True(t, ok)
	assert.Equal(t, Corners{{0, 0}, {2, 2}}, corners)

	idx.RecordLayer("c", []Cell{{1, 5}})
	corners, _ = idx.Corners()
	assert.Equal(t, Cell{0, 0}, corners.Min())
	assert.Equal(t, Cell{2, 5}, corners.Max())
}

func TestLoadRoundTrip(t *testing.T) {
	idx := New()
	idx.RecordLayer("z", []Cell{{3, 1}})
	idx.RecordLayer("a", []Cell{{0, 0}, {3, 1}})
	layers, err := idx.MarshalLayers()
	require.NoError(t, err)
	locations, err := idx.MarshalLocations()
	require.NoError(t, err)

	loaded, err := Load(layers, locations)
	require.NoError(t, err)
	assert.Equal(t, idx.Layers(), loaded.Layers())
	assert.Equal(t, idx.ValidPatches(), loaded.ValidPatches())
	assert.Equal(t, []string{"z", "a"}, loaded.LayersForPatch(3, 1))

	// merging after a reload appends instead of replacing
	loaded.RecordLayer("z", []Cell{{4, 4}})
	assert.Equal(t, []Cell{{3, 1}, {4, 4}}, loaded.PatchesForLayer("z"))

	_, err = Load([]byte(`{}`), []byte(`{"x_1":["a"]}`))
	assert.ErrorIs(t, err, ErrBadKey)

	empty, err := Load(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Layers())
}

func TestCloneIsIndependent(t *testing.T) {
	idx := New()
	idx.RecordLayer("a", []Cell{{0, 0}})
	cp := idx.Clone()
	cp.RecordLayer("b", []Cell{{0, 0}})
	assert.Equal(t, []string{"a"}, idx.LayersForPatch(0, 0))
	assert.Equal(t, []string{"a", "b"}, cp.LayersForPatch(0, 0))
}

func TestScanLayerQuadrants(t *testing.T) {
	// 512x512, patch 256, border 3: a 3x3 grid over a raster whose top left
	// quadrant is black.
	shape := geometry.Shape{Rows: 512, Cols: 512, Channels: 1}
	layer := geometry.NewBuffer(shape)
	for r := 0; r < 512; r++ {
		for c := 0; c < 512; c++ {
			if r < 256 && c < 256 {
				continue
			}
			layer.Pix[r*512+c] = 7
		}
	}
	grid := geometry.Grid{PatchSize: 256, Border: 3}
	cells := ScanLayer(layer, grid)
	// (0,0) spans rows and cols [0,253), entirely inside the black quadrant.
	// Every other cell overlaps non-zero pixels, the border included.
	want := []Cell{{0, 1}, {0, 2}, {1, 0}, {1, 1}, {1, 2}, {2, 0}, {2, 1}, {2, 2}}
	assert.Equal(t, want, cells)
}

func TestScanLayerRGB(t *testing.T) {
	shape := geometry.Shape{Rows: 20, Cols: 20, Channels: 3}
	layer := geometry.NewBuffer(shape)
	// a single red pixel in the bottom right tile
	layer.Pix[(19*20+19)*3] = 255
	cells := ScanLayer(layer, geometry.Grid{PatchSize: 10, Border: 0})
	assert.Equal(t, []Cell{{1, 1}}, cells)

	blank := geometry.NewBuffer(shape)
	assert.Equal(t, []Cell{}, ScanLayer(blank, geometry.Grid{PatchSize: 10, Border: 0}))
}
