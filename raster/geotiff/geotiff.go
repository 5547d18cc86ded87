// Package geotiff 纯 Go 的 GeoTIFF 编解码。
//
// 像素由 golang.org/x/image/tiff 读写，地理参考从 GeoTIFF 标签读取；
// 写出时坐标系与仿射变换保存为 .prj 与 .tfw 旁车文件，读取时标签缺失则回退到旁车文件。
package geotiff

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/tiff"

	"patchstore/geometry"
	"patchstore/raster"
)

type Codec struct {
	compression tiff.CompressionType
	sidecars    bool
	log         logrus.FieldLogger
}

type Option func(*Codec)

// WithCompression TIFF 压缩方式，默认 Deflate
func WithCompression(c tiff.CompressionType) Option {
	return func(codec *Codec) {
		codec.compression = c
	}
}

// WithSidecars 是否读写 .tfw/.prj 旁车文件，默认开启
func WithSidecars(enabled bool) Option {
	return func(codec *Codec) {
		codec.sidecars = enabled
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(codec *Codec) {
		codec.log = log
	}
}

func New(options ...Option) *Codec {
	c := &Codec{
		compression: tiff.Deflate,
		sidecars:    true,
		log:         logrus.StandardLogger(),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

func (c *Codec) Extensions() []string {
	return []string{".tif", ".tiff"}
}

// Decode 读取 8 位灰度或 RGB(A) TIFF
func (c *Codec) Decode(path string) (*raster.Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	img, err := tiff.Decode(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	buf, err := fromImage(img)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	r := &raster.Raster{Buffer: buf}

	tags, err := readGeoTags(path)
	if err != nil {
		c.log.WithField("file", path).Debugf("geotiff tags unavailable: %v", err)
	} else {
		r.CRS = tags.crs()
		r.Transform = tags.transform()
	}
	if c.sidecars {
		c.readSidecars(path, r)
	}
	return r, nil
}

// Encode 写出 TIFF，坐标系与变换写入旁车文件
func (c *Codec) Encode(path string, r *raster.Raster) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = tiff.Encode(f, toImage(r.Buffer), &tiff.Options{Compression: c.compression})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if !c.sidecars {
		return nil
	}
	if r.Transform != nil {
		if err := os.WriteFile(sidecar(path, ".tfw"), []byte(r.Transform.WorldFile()), 0o644); err != nil {
			return err
		}
	}
	if r.CRS != "" {
		if err := os.WriteFile(sidecar(path, ".prj"), []byte(r.CRS), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (c *Codec) readSidecars(path string, r *raster.Raster) {
	if r.Transform == nil {
		data, err := os.ReadFile(sidecar(path, ".tfw"))
		if err == nil {
			t, err := raster.ParseWorldFile(string(data))
			if err != nil {
				c.log.WithField("file", path).Warnf("ignore world file: %v", err)
			} else {
				r.Transform = &t
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			c.log.WithField("file", path).Warnf("read world file: %v", err)
		}
	}
	if r.CRS == "" {
		data, err := os.ReadFile(sidecar(path, ".prj"))
		if err == nil {
			r.CRS = strings.TrimSpace(string(data))
		}
	}
}

func sidecar(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

func fromImage(img image.Image) (geometry.Buffer, error) {
	b := img.Bounds()
	rows, cols := b.Dy(), b.Dx()
	switch m := img.(type) {
	case *image.Gray:
		out := geometry.NewBuffer(geometry.Shape{Rows: rows, Cols: cols, Channels: 1})
		for r := 0; r < rows; r++ {
			copy(out.Row(r), m.Pix[r*m.Stride:r*m.Stride+cols])
		}
		return out, nil
	case *image.Paletted:
		// 调色板图像按索引保存为单波段
		out := geometry.NewBuffer(geometry.Shape{Rows: rows, Cols: cols, Channels: 1})
		for r := 0; r < rows; r++ {
			copy(out.Row(r), m.Pix[r*m.Stride:r*m.Stride+cols])
		}
		return out, nil
	case *image.RGBA, *image.NRGBA:
		out := geometry.NewBuffer(geometry.Shape{Rows: rows, Cols: cols, Channels: 3})
		for r := 0; r < rows; r++ {
			row := out.Row(r)
			for c := 0; c < cols; c++ {
				px := color.NRGBAModel.Convert(m.At(b.Min.X+c, b.Min.Y+r)).(color.NRGBA)
				row[c*3], row[c*3+1], row[c*3+2] = px.R, px.G, px.B
			}
		}
		return out, nil
	default:
		return geometry.Buffer{}, fmt.Errorf("%w: %T", raster.ErrUnsupportedImage, img)
	}
}

func toImage(buf geometry.Buffer) image.Image {
	rect := image.Rect(0, 0, buf.Shape.Cols, buf.Shape.Rows)
	if buf.Shape.Bands() == 1 {
		m := image.NewGray(rect)
		copy(m.Pix, buf.Pix)
		return m
	}
	m := image.NewRGBA(rect)
	for i := 0; i < buf.Shape.Rows*buf.Shape.Cols; i++ {
		copy(m.Pix[i*4:i*4+3], buf.Pix[i*3:i*3+3])
		m.Pix[i*4+3] = 0xff
	}
	return m
}
