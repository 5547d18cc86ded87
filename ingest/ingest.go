// Package ingest 把标注描述文件与同名栅格导入补丁容器，并支持追加图层和导出。
//
// 描述文件 <prefix>.json 旁边需要底图 <prefix>.tif，描述文件中每个标签对应
// <prefix>_<label>.tif。单个图层缺失或解码失败只记录一次警告并跳过，不影响整个地图。
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"patchstore/container"
	"patchstore/descriptor"
	"patchstore/index"
	"patchstore/raster"
	"patchstore/store"
)

var (
	ErrNotDescriptor     = errors.New("descriptor must be a .json file")
	ErrImageFileNotFound = errors.New("image file not found")
	ErrLayerSkipped      = errors.New("layer skipped")
)

// Skipped 被跳过的图层
type Skipped struct {
	Layer string
	File  string
	Err   error
}

// Report 一次导入的结果
type Report struct {
	Map     string
	Layers  []string
	Skipped []Skipped
}

type Pipeline struct {
	c        *container.Container
	codec    raster.Codec
	log      logrus.FieldLogger
	descOpts []descriptor.Option
}

type Option func(*Pipeline)

func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// WithEncoding 描述文件编码
func WithEncoding(name string) Option {
	return func(p *Pipeline) {
		p.descOpts = append(p.descOpts, descriptor.WithEncoding(name))
	}
}

// New 创建导入流程，容器需以写或追加模式打开
func New(c *container.Container, codec raster.Codec, opts ...Option) *Pipeline {
	p := &Pipeline{c: c, codec: codec, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddImage 导入 folder/jsonFile 描述的地图，mapName 为空时使用文件名前缀
func (p *Pipeline) AddImage(jsonFile, folder, mapName string) (*Report, error) {
	if !strings.HasSuffix(jsonFile, ".json") {
		return nil, fmt.Errorf("%s: %w", jsonFile, ErrNotDescriptor)
	}
	path := filepath.Join(folder, jsonFile)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, container.ErrNotFound)
		}
		return nil, err
	}
	prefix := strings.TrimSuffix(path, ".json")
	if mapName == "" {
		mapName = filepath.Base(prefix)
	}
	log := p.log.WithField("map", mapName)

	basePath, ok := p.findRaster(prefix)
	if !ok {
		return nil, fmt.Errorf("base map for %s: %w", path, ErrImageFileNotFound)
	}
	desc, err := descriptor.Load(path, p.descOpts...)
	if err != nil {
		return nil, err
	}
	base, err := p.codec.Decode(basePath)
	if err != nil {
		return nil, err
	}
	if (desc.ImageHeight > 0 && desc.ImageHeight != base.Shape.Rows) || (desc.ImageWidth > 0 && desc.ImageWidth != base.Shape.Cols) {
		log.WithFields(logrus.Fields{
			"imageHeight": desc.ImageHeight,
			"imageWidth":  desc.ImageWidth,
			"shape":       base.Shape.String(),
		}).Warn("descriptor image size differs from the base map")
	}

	b, err := p.c.BeginMap(mapName, desc)
	if err != nil {
		return nil, err
	}
	defer b.Abort()
	if err := b.WriteBase(base); err != nil {
		return nil, err
	}

	report := &Report{Map: mapName, Layers: []string{}}
	seen := map[string]bool{}
	for _, label := range desc.Labels() {
		file, _ := p.findRaster(prefix + "_" + label)
		if seen[label] {
			report.skip(log, label, file, container.ErrDuplicateLayer)
			continue
		}
		seen[label] = true
		if file == "" {
			report.skip(log, label, prefix+"_"+label+p.defaultExt(), ErrImageFileNotFound)
			continue
		}
		r, err := p.codec.Decode(file)
		if err != nil {
			report.skip(log, label, file, err)
			continue
		}
		if _, err := b.WriteLayer(label, r); err != nil {
			if !skippable(err) {
				return nil, err
			}
			report.skip(log, label, file, err)
			continue
		}
		report.Layers = append(report.Layers, label)
	}

	if err := b.Commit(); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"layers": len(report.Layers), "skipped": len(report.Skipped)}).Info("map imported")
	return report, nil
}

// AddLayer 向已导入的地图追加一个图层。文件缺失或解码失败时记录一次跳过并返回 ErrLayerSkipped。
func (p *Pipeline) AddLayer(mapName, layer, file string) ([]index.Cell, error) {
	log := p.log.WithFields(logrus.Fields{"map": mapName, "layer": layer, "file": file})
	if _, err := os.Stat(file); err != nil {
		log.WithError(err).Warn("layer skipped")
		return nil, fmt.Errorf("%w: %s: %v", ErrLayerSkipped, file, err)
	}
	r, err := p.codec.Decode(file)
	if err != nil {
		log.WithError(err).Warn("layer skipped")
		return nil, fmt.Errorf("%w: %v", ErrLayerSkipped, err)
	}
	return p.c.AddLayer(mapName, layer, r)
}

// Export 导出图层；layer 为空时导出底图、描述文件与全部图层
func (p *Pipeline) Export(mapName, dest, layer string) ([]string, error) {
	if err := os.MkdirAll(dest, os.ModePerm); err != nil {
		return nil, err
	}
	if layer != "" {
		file, err := p.exportLayer(mapName, dest, layer)
		if err != nil {
			return nil, err
		}
		return []string{file}, nil
	}

	file, err := p.exportLayer(mapName, dest, container.BaseLayer)
	if err != nil {
		return nil, err
	}
	files := []string{file}

	desc, err := p.c.Descriptor(mapName)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, desc.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	jsonFile := filepath.Join(dest, mapName+".json")
	if err := os.WriteFile(jsonFile, buf.Bytes(), 0o644); err != nil {
		return nil, err
	}
	files = append(files, jsonFile)

	layers, err := p.c.Layers(mapName)
	if err != nil {
		return nil, err
	}
	for _, l := range layers {
		file, err := p.exportLayer(mapName, dest, l)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, nil
}

func (p *Pipeline) exportLayer(mapName, dest, layer string) (string, error) {
	r, err := p.c.ReadFullLayer(mapName, layer)
	if err != nil {
		return "", err
	}
	name := mapName
	if layer != container.BaseLayer {
		name += "_" + layer
	}
	file := filepath.Join(dest, name+p.defaultExt())
	if err := p.codec.Encode(file, r); err != nil {
		return "", err
	}
	p.log.WithFields(logrus.Fields{"map": mapName, "layer": layer, "file": file}).Debug("layer exported")
	return file, nil
}

// findRaster 按编解码器支持的扩展名查找 prefix 对应的栅格文件
func (p *Pipeline) findRaster(prefix string) (string, bool) {
	for _, ext := range p.codec.Extensions() {
		file := prefix + ext
		if st, err := os.Stat(file); err == nil && !st.IsDir() {
			return file, true
		}
	}
	return "", false
}

func (p *Pipeline) defaultExt() string {
	if exts := p.codec.Extensions(); len(exts) > 0 {
		return exts[0]
	}
	return ".tif"
}

func (r *Report) skip(log logrus.FieldLogger, layer, file string, err error) {
	r.Skipped = append(r.Skipped, Skipped{Layer: layer, File: file, Err: err})
	log.WithFields(logrus.Fields{"layer": layer, "file": file}).WithError(err).Warn("layer skipped")
}

// skippable 只影响当前图层的错误
func skippable(err error) bool {
	return errors.Is(err, container.ErrDimensionMismatch) ||
		errors.Is(err, container.ErrUnsupportedImage) ||
		errors.Is(err, container.ErrDuplicateLayer) ||
		errors.Is(err, store.ErrInvalidName)
}
