package geotiff

import (
	"fmt"
	"os"

	"github.com/google/tiff"

	"patchstore/raster"
)

// GeoKey IDs
const (
	gkRasterTypeGeoKey      = 1025
	gkGeographicTypeGeoKey  = 2048
	gkProjectedCSTypeGeoKey = 3072

	rasterPixelIsPoint = 2
	userDefined        = 32767
)

type geoTags struct {
	ModelPixelScaleTag     []float64 `tiff:"field,tag=33550"`
	ModelTiePointTag       []float64 `tiff:"field,tag=33922"`
	ModelTransformationTag []float64 `tiff:"field,tag=34264"`
	GeoKeyDirectoryTag     []uint16  `tiff:"field,tag=34735"`
}

// readGeoTags 读取第一个 IFD 中的地理标签
func readGeoTags(path string) (*geoTags, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := tiff.Parse(f, nil, nil)
	if err != nil {
		return nil, err
	}
	ifds := t.IFDs()
	if len(ifds) == 0 {
		return nil, fmt.Errorf("%s: no image file directory", path)
	}
	tags := &geoTags{}
	if err := tiff.UnmarshalIFD(ifds[0], tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// transform 像素到模型坐标的仿射变换，没有相关标签时返回 nil
func (g *geoTags) transform() *raster.Affine {
	var t raster.Affine
	switch {
	case len(g.ModelTransformationTag) >= 16:
		m := g.ModelTransformationTag
		t = raster.Affine{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}
	case len(g.ModelPixelScaleTag) >= 2 && len(g.ModelTiePointTag) >= 6:
		sx, sy := g.ModelPixelScaleTag[0], g.ModelPixelScaleTag[1]
		tp := g.ModelTiePointTag
		t = raster.Affine{A: sx, C: tp[3] - tp[0]*sx, E: -sy, F: tp[4] + tp[1]*sy}
	default:
		return nil
	}
	if g.geoKey(gkRasterTypeGeoKey) == rasterPixelIsPoint {
		t = t.Translate(-0.5, -0.5)
	}
	return &t
}

// crs EPSG 坐标系，未知时为空
func (g *geoTags) crs() string {
	for _, key := range []uint16{gkProjectedCSTypeGeoKey, gkGeographicTypeGeoKey} {
		if code := g.geoKey(key); code > 0 && code != userDefined {
			return fmt.Sprintf("EPSG:%d", code)
		}
	}
	return ""
}

// geoKey 目录中内联存储的 SHORT 值
func (g *geoTags) geoKey(id uint16) int {
	keys := g.GeoKeyDirectoryTag
	if len(keys) < 4 {
		return 0
	}
	n := int(keys[3])
	for i := 0; i < n; i++ {
		base := 4 + i*4
		if base+3 >= len(keys) {
			break
		}
		if keys[base] == id && keys[base+1] == 0 {
			return int(keys[base+3])
		}
	}
	return 0
}
