package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"patchstore/index"
	"patchstore/raster"
)

var ErrEmptyAOI = errors.New("aoi has no polygon")

// findDescriptors 查找 input 下的全部 .json 描述文件，input 也可以是单个文件
func findDescriptors(input string) ([]string, error) {
	st, err := os.Stat(input)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		if !strings.EqualFold(filepath.Ext(input), ".json") {
			return nil, fmt.Errorf("%s is not a descriptor", input)
		}
		return []string{input}, nil
	}

	var files []string
	err = filepath.WalkDir(input, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

func loadCollection(path string) (orb.Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read file: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("unable to unmarshal feature: %w", err)
	}

	var collection orb.Collection
	for _, f := range fc.Features {
		collection = append(collection, f.Geometry)
	}

	return collection, nil
}

// AOI 采样范围，坐标与地图的 CRS 一致
type AOI struct {
	polygons orb.MultiPolygon
	bound    orb.Bound
}

// LoadAOI 读取 GeoJSON 中的面要素，其他几何类型被忽略
func LoadAOI(path string) (*AOI, error) {
	collection, err := loadCollection(path)
	if err != nil {
		return nil, err
	}
	aoi := &AOI{}
	for _, g := range collection {
		switch g := g.(type) {
		case orb.Polygon:
			aoi.polygons = append(aoi.polygons, g)
		case orb.MultiPolygon:
			aoi.polygons = append(aoi.polygons, g...)
		default:
			log.WithField("file", path).Debugf("aoi ignores %s geometry", g.GeoJSONType())
		}
	}
	if len(aoi.polygons) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyAOI)
	}
	aoi.bound = aoi.polygons.Bound()
	return aoi, nil
}

func (a *AOI) Bound() orb.Bound {
	return a.bound
}

// Contains 补丁中心点(按仿射变换换算到地图坐标)是否落在范围内
func (a *AOI) Contains(cell index.Cell, tileSize int, t raster.Affine) bool {
	half := float64(tileSize) / 2
	x, y := t.Apply(float64(cell.Col*tileSize)+half, float64(cell.Row*tileSize)+half)
	p := orb.Point{x, y}
	if !a.bound.Contains(p) {
		return false
	}
	return planar.MultiPolygonContains(a.polygons, p)
}

// Filter 保留中心点落在范围内的补丁
func (a *AOI) Filter(cells []index.Cell, tileSize int, t raster.Affine) []index.Cell {
	res := make([]index.Cell, 0, len(cells))
	for _, c := range cells {
		if a.Contains(c, tileSize, t) {
			res = append(res, c)
		}
	}
	return res
}
