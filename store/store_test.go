package store

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchstore/geometry"
)

func TestJoinSplit(t *testing.T) {
	assert.Equal(t, "/", Join())
	assert.Equal(t, "/", Join(""))
	assert.Equal(t, "/map/water", Join("map", "water"))
	assert.Equal(t, "/map/water", Join("/map/", "water"))

	tests := []struct {
		in, parent, name string
	}{
		{"/", "", ""},
		{"/map", "/", "map"},
		{"map/water", "/map", "water"},
		{"/a/b/c", "/a/b", "c"},
	}
	for _, tt := range tests {
		parent, name := Split(tt.in)
		assert.Equal(t, tt.parent, parent, tt.in)
		assert.Equal(t, tt.name, name, tt.in)
	}

	assert.NoError(t, ValidName("AR_Maps"))
	assert.Error(t, ValidName(""))
	assert.Error(t, ValidName("a/b"))
	assert.Error(t, ValidName(".."))
}

func TestAttr(t *testing.T) {
	s, err := StringAttr("CLASS", "IMAGE").String()
	require.NoError(t, err)
	assert.Equal(t, "IMAGE", s)

	n, err := IntAttr("patch_size", 256).Int()
	require.NoError(t, err)
	assert.Equal(t, 256, n)

	a, err := JSONAttr("corners", [][2]int{{0, 0}, {2, 2}})
	require.NoError(t, err)
	assert.Equal(t, `[[0,0],[2,2]]`, string(a.Value))
	var corners [][2]int
	require.NoError(t, a.Decode(&corners))
	assert.Equal(t, [][2]int{{0, 0}, {2, 2}}, corners)

	_, err = a.Int()
	assert.Error(t, err)

	_, err = JSONAttr("bad", make(chan int))
	assert.Error(t, err)
}

func TestCompression(t *testing.T) {
	data := bytes.Repeat([]byte{0, 1, 2, 3, 250}, 1000)
	for _, name := range []string{"", NONE, GZIP, ZLIB} {
		c, err := Compression(name)
		require.NoError(t, err, name)
		packed, err := c.Compress(data)
		require.NoError(t, err)
		if name == GZIP || name == ZLIB {
			assert.Less(t, len(packed), len(data))
		}
		unpacked, err := c.Decompress(packed)
		require.NoError(t, err)
		assert.Equal(t, data, unpacked)
	}

	_, err := Compression("lzf")
	assert.ErrorIs(t, err, ErrCompression)
}

func TestCheckWindow(t *testing.T) {
	s := geometry.Shape{Rows: 10, Cols: 10, Channels: 1}
	out := geometry.Shape{Rows: 4, Cols: 4, Channels: 1}
	ok := geometry.Window{
		Src: geometry.Rect{Row0: 8, Col0: 8, Row1: 10, Col1: 10},
		Dst: geometry.Rect{Row0: 0, Col0: 0, Row1: 2, Col1: 2},
		Out: out,
	}
	assert.NoError(t, CheckWindow(s, ok, make([]byte, 16)))
	assert.NoError(t, CheckWindow(s, geometry.Window{Out: out}, nil))

	outside := ok
	outside.Src.Row1 = 11
	assert.Error(t, CheckWindow(s, outside, make([]byte, 16)))

	mismatch := ok
	mismatch.Dst.Col1 = 3
	assert.Error(t, CheckWindow(s, mismatch, make([]byte, 16)))

	assert.Error(t, CheckWindow(s, ok, make([]byte, 15)))

	rgb := ok
	rgb.Out.Channels = 3
	assert.Error(t, CheckWindow(s, rgb, make([]byte, 48)))
}
