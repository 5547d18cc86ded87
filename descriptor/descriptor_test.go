package descriptor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

const sample = `{
  "version": "4.5.6",
  "shapes": [
    {"label": "water_poly", "points": [[10.5, 20.9], [40.2, 30.1]], "shape_type": "rectangle"},
    {"label": "road_line", "points": [[5, 5], [1, 9], [3, 2]]},
    {"label": "no_points"}
  ],
  "imagePath": "AR_Maps.tif",
  "imageHeight": 512,
  "imageWidth": 640
}`

func TestParse(t *testing.T) {
	d, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, []string{"water_poly", "road_line", "no_points"}, d.Labels())
	assert.Equal(t, 512, d.ImageHeight)
	assert.Equal(t, 640, d.ImageWidth)
	assert.Equal(t, "AR_Maps.tif", d.ImagePath)
	assert.Equal(t, "4.5.6", d.Extra["version"])
	assert.NotContains(t, d.Extra, "shapes")
	assert.Equal(t, sample, string(d.Bytes()))

	b, ok := d.Legend("road_line")
	require.True(t, ok)
	assert.Equal(t, orb.Bound{Min: orb.Point{1, 2}, Max: orb.Point{5, 9}}, b)

	_, ok = d.Legend("no_points")
	assert.False(t, ok)
	_, ok = d.Legend("missing")
	assert.False(t, ok)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte(`{"shapes": []}`))
	assert.ErrorIs(t, err, ErrEmptyDescriptor)

	_, err = Parse([]byte(`{"imagePath": "x.tif"}`))
	assert.ErrorIs(t, err, ErrEmptyDescriptor)

	_, err = Parse([]byte(`{"shapes": [{"points": [[1, 2]]}]}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"shapes": [`))
	assert.Error(t, err)

	_, err = Parse([]byte{0xff, 0xfe, 0x00})
	assert.ErrorIs(t, err, ErrEncoding)

	_, err = Parse([]byte(sample), WithEncoding("latin9"))
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestParseGBK(t *testing.T) {
	encoded, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte(`{"shapes": [{"label": "水系"}]}`))
	require.NoError(t, err)

	d, err := Parse(encoded, WithEncoding("gbk"))
	require.NoError(t, err)
	assert.Equal(t, []string{"水系"}, d.Labels())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	d, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, d.Shapes, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
