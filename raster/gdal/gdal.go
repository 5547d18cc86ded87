//go:build gdal

// Package gdal 基于 GDAL 的栅格编解码，需要以 -tags gdal 编译并安装 GDAL 开发库
package gdal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/airbusgeo/godal"

	"patchstore/geometry"
	"patchstore/raster"
)

var registerOnce sync.Once

type Codec struct {
	creationOptions []string
}

type Option func(*Codec)

// WithCreationOptions GTiff 创建参数，默认 COMPRESS=LZW
func WithCreationOptions(opts ...string) Option {
	return func(c *Codec) {
		c.creationOptions = opts
	}
}

func New(options ...Option) *Codec {
	registerOnce.Do(godal.RegisterAll)
	c := &Codec{creationOptions: []string{"COMPRESS=LZW"}}
	for _, o := range options {
		o(c)
	}
	return c
}

func (c *Codec) Extensions() []string {
	return []string{".tif", ".tiff", ".vrt", ".img", ".jp2", ".png"}
}

// Decode 读取 1 波段或前 3 个波段，像素交错
func (c *Codec) Decode(path string) (*raster.Raster, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer ds.Close()

	st := ds.Structure()
	if st.DataType != godal.Byte {
		return nil, fmt.Errorf("%w: %s has data type %s", raster.ErrUnsupportedImage, path, st.DataType)
	}
	var bands []int
	switch {
	case st.NBands == 1:
		bands = []int{0}
	case st.NBands >= 3:
		bands = []int{0, 1, 2}
	default:
		return nil, fmt.Errorf("%w: %s has %d bands", raster.ErrUnsupportedImage, path, st.NBands)
	}

	r := raster.New(geometry.Shape{Rows: st.SizeY, Cols: st.SizeX, Channels: len(bands)})
	if err := ds.Read(0, 0, r.Pix, st.SizeX, st.SizeY, godal.Bands(bands...)); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if gt, err := ds.GeoTransform(); err == nil {
		t := raster.FromGDAL(gt)
		r.Transform = &t
	}
	r.CRS = crsString(ds)
	return r, nil
}

// Encode 写出 GTiff
func (c *Codec) Encode(path string, r *raster.Raster) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}
	ds, err := godal.Create(godal.GTiff, path, r.Shape.Bands(), godal.Byte, r.Shape.Cols, r.Shape.Rows,
		godal.CreationOption(c.creationOptions...))
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := c.fill(ds, r); err != nil {
		ds.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return ds.Close()
}

func (c *Codec) fill(ds *godal.Dataset, r *raster.Raster) error {
	if err := ds.Write(0, 0, r.Pix, r.Shape.Cols, r.Shape.Rows); err != nil {
		return err
	}
	if r.Transform != nil {
		if err := ds.SetGeoTransform(r.Transform.GDAL()); err != nil {
			return err
		}
	}
	if r.CRS != "" {
		sr, err := godal.NewSpatialRef(r.CRS)
		if err != nil {
			return fmt.Errorf("crs %q: %w", r.CRS, err)
		}
		defer sr.Close()
		if err := ds.SetSpatialRef(sr); err != nil {
			return err
		}
	}
	return nil
}

// crsString 可识别时为 EPSG:<code>，否则为 WKT
func crsString(ds *godal.Dataset) string {
	wkt := ds.Projection()
	if wkt == "" {
		return ""
	}
	sr := ds.SpatialRef()
	if sr == nil {
		return wkt
	}
	defer sr.Close()
	if sr.AuthorityName("") == "EPSG" {
		if code := sr.AuthorityCode(""); code != "" {
			return "EPSG:" + code
		}
	}
	return wkt
}
