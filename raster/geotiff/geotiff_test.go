package geotiff

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"patchstore/geometry"
	"patchstore/raster"
)

func pattern(s geometry.Shape) *raster.Raster {
	r := raster.New(s)
	for i := range r.Pix {
		r.Pix[i] = byte(i * 7 % 256)
	}
	return r
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	codec := New()
	for _, s := range []geometry.Shape{
		{Rows: 13, Cols: 21, Channels: 1},
		{Rows: 9, Cols: 5, Channels: 3},
	} {
		src := pattern(s)
		src.CRS = "EPSG:32617"
		src.Transform = &raster.Affine{A: 30, C: 500000, E: -30, F: 4200000}
		path := filepath.Join(dir, s.String()+".tif")
		require.NoError(t, codec.Encode(path, src))

		got, err := codec.Decode(path)
		require.NoError(t, err)
		assert.Equal(t, s, got.Shape)
		assert.Equal(t, src.Pix, got.Pix)
		assert.Equal(t, "EPSG:32617", got.CRS)
		require.NotNil(t, got.Transform)
		assert.True(t, src.Transform.Equal(*got.Transform, 1e-6))
	}
}

func TestNoSidecars(t *testing.T) {
	dir := t.TempDir()
	codec := New(WithSidecars(false))
	src := pattern(geometry.Shape{Rows: 4, Cols: 4, Channels: 1})
	src.CRS = "EPSG:4326"
	src.Transform = &raster.Affine{A: 1, E: -1}
	path := filepath.Join(dir, "plain.tiff")
	require.NoError(t, codec.Encode(path, src))

	_, err := os.Stat(filepath.Join(dir, "plain.tfw"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	got, err := codec.Decode(path)
	require.NoError(t, err)
	assert.Empty(t, got.CRS)
	assert.Nil(t, got.Transform)
}

func TestDecodeErrors(t *testing.T) {
	codec := New()
	_, err := codec.Decode(filepath.Join(t.TempDir(), "missing.tif"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.tif")
	require.NoError(t, os.WriteFile(bad, []byte("not a tiff"), 0o644))
	_, err = codec.Decode(bad)
	assert.Error(t, err)

	assert.ErrorIs(t, codec.Encode(bad, raster.New(geometry.Shape{Rows: 1, Cols: 1, Channels: 2})), raster.ErrUnsupportedImage)
}

func TestSupports(t *testing.T) {
	codec := New()
	assert.True(t, raster.Supports(codec, "a/b/map.TIF"))
	assert.True(t, raster.Supports(codec, "map.tiff"))
	assert.False(t, raster.Supports(codec, "map.png"))
}

func TestGeoTags(t *testing.T) {
	tags := &geoTags{
		ModelPixelScaleTag: []float64{10, 10, 0},
		ModelTiePointTag:   []float64{0, 0, 0, 440720, 3751320, 0},
		GeoKeyDirectoryTag: []uint16{
			1, 1, 0, 3,
			1024, 0, 1, 1,
			1025, 0, 1, 1,
			3072, 0, 1, 26711,
		},
	}
	assert.Equal(t, "EPSG:26711", tags.crs())
	tr := tags.transform()
	require.NotNil(t, tr)
	assert.Equal(t, raster.Affine{A: 10, C: 440720, E: -10, F: 3751320}, *tr)

	// PixelIsPoint shifts the origin by half a pixel
	tags.GeoKeyDirectoryTag[11] = rasterPixelIsPoint
	tr = tags.transform()
	assert.Equal(t, raster.Affine{A: 10, C: 440715, E: -10, F: 3751325}, *tr)

	geographic := &geoTags{
		ModelTransformationTag: []float64{
			0.5, 0, 0, -120,
			0, -0.5, 0, 45,
			0, 0, 0, 0,
			0, 0, 0, 1,
		},
		GeoKeyDirectoryTag: []uint16{1, 1, 0, 1, 2048, 0, 1, 4326},
	}
	assert.Equal(t, "EPSG:4326", geographic.crs())
	assert.Equal(t, raster.Affine{A: 0.5, C: -120, E: -0.5, F: 45}, *geographic.transform())

	empty := &geoTags{GeoKeyDirectoryTag: []uint16{1, 1, 0, 1, 3072, 0, 1, userDefined}}
	assert.Empty(t, empty.crs())
	assert.Nil(t, empty.transform())
}

func TestPalettedLabelsKeepIndices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.tif")
	m := image.NewPaletted(image.Rect(0, 0, 3, 2), color.Palette{
		color.RGBA{0, 0, 0, 255},
		color.RGBA{255, 0, 0, 255},
		color.RGBA{0, 255, 0, 255},
	})
	copy(m.Pix, []byte{0, 1, 2, 1, 1, 0})
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(f, m, nil))
	require.NoError(t, f.Close())

	got, err := New(WithSidecars(false)).Decode(path)
	require.NoError(t, err)
	assert.Equal(t, geometry.Shape{Rows: 2, Cols: 3, Channels: 1}, got.Shape)
	assert.Equal(t, []byte{0, 1, 2, 1, 1, 0}, got.Pix)
}
