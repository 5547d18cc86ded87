package container

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"patchstore/descriptor"
	"patchstore/geometry"
	"patchstore/index"
	"patchstore/raster"
	"patchstore/store"
)

// 地图与数据集属性
const (
	attrJSON         = "json"
	attrPatches      = "patches"
	attrLayersPatch  = "layers_patch"
	attrValidPatches = "valid_patches"
	attrCorners      = "corners"
	attrCRS          = "CRS"
	attrTransform    = "TRANSFORM"
)

// MapBuilder 一次地图写入。所有写操作共享一个事务，Commit 时写入索引，
// 提交前其他读者看不到这个地图。
type MapBuilder struct {
	c       *Container
	tx      store.Tx
	name    string
	desc    *descriptor.Descriptor
	base    geometry.Shape
	hasBase bool
	idx     *index.Index
	log     logrus.FieldLogger
	done    bool
}

// BeginMap 创建地图分组并保存描述文件
func (c *Container) BeginMap(name string, desc *descriptor.Descriptor) (*MapBuilder, error) {
	if err := c.checkWritable(); err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, descriptor.ErrEmptyDescriptor
	}
	if err := store.ValidName(name); err != nil {
		return nil, err
	}
	ok, err := c.backend.Exists(name)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, fmt.Errorf("%s: %w", name, ErrDuplicateMap)
	}

	tx, err := c.backend.Begin()
	if err != nil {
		return nil, err
	}
	if err := tx.CreateGroup(name); err != nil {
		tx.Rollback()
		if errors.Is(err, store.ErrExists) {
			return nil, fmt.Errorf("%s: %w", name, ErrDuplicateMap)
		}
		return nil, err
	}
	if err := tx.SetAttrs(name, store.StringAttr(attrJSON, string(desc.Bytes()))); err != nil {
		tx.Rollback()
		return nil, err
	}
	return &MapBuilder{
		c:    c,
		tx:   tx,
		name: name,
		desc: desc,
		idx:  index.New(),
		log:  c.log.WithField("map", name),
	}, nil
}

// Name 地图名
func (b *MapBuilder) Name() string {
	return b.name
}

// WriteBase 写入底图，决定补丁网格
func (b *MapBuilder) WriteBase(r *raster.Raster) error {
	if b.done {
		return ErrBuilderDone
	}
	if b.hasBase {
		return fmt.Errorf("%s/%s: %w", b.name, BaseLayer, ErrDuplicateLayer)
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if err := writeDataset(b.tx, store.Join(b.name, BaseLayer), r, b.c.cfg.Compression); err != nil {
		return err
	}
	b.base = r.Shape
	b.hasBase = true
	b.log.WithField("shape", r.Shape.String()).Debug("base map written")
	return nil
}

// WriteLayer 写入图层并扫描有效补丁
func (b *MapBuilder) WriteLayer(name string, r *raster.Raster) ([]index.Cell, error) {
	if b.done {
		return nil, ErrBuilderDone
	}
	if !b.hasBase {
		return nil, fmt.Errorf("%s: %w", b.name, ErrBaseMissing)
	}
	if name == BaseLayer || b.idx.HasLayer(name) {
		return nil, fmt.Errorf("%s/%s: %w", b.name, name, ErrDuplicateLayer)
	}
	cells, err := writeLayer(b.tx, b.name, name, r, b.base, b.c.cfg)
	if err != nil {
		return nil, err
	}
	b.idx.RecordLayer(name, cells)
	b.log.WithFields(logrus.Fields{"layer": name, "patches": len(cells)}).Debug("layer written")
	return cells, nil
}

// Index 当前已记录的索引副本
func (b *MapBuilder) Index() *index.Index {
	return b.idx.Clone()
}

// Commit 写入索引属性并提交事务
func (b *MapBuilder) Commit() error {
	if b.done {
		return ErrBuilderDone
	}
	if !b.hasBase {
		return fmt.Errorf("%s: %w", b.name, ErrBaseMissing)
	}
	if err := persistIndex(b.tx, b.name, b.idx); err != nil {
		return err
	}
	b.done = true
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("commit map %s: %w", b.name, err)
	}
	b.c.cache(b.name, b.idx.Clone(), b.desc)
	return nil
}

// Abort 放弃整个地图
func (b *MapBuilder) Abort() error {
	if b.done {
		return nil
	}
	b.done = true
	return b.tx.Rollback()
}

// AddLayer 向已存在的地图追加图层，索引合并而不是覆盖
func (c *Container) AddLayer(mapName, layer string, r *raster.Raster) ([]index.Cell, error) {
	if err := c.checkWritable(); err != nil {
		return nil, err
	}
	var cells []index.Cell
	var merged *index.Index
	err := c.update(func(tx store.Tx) error {
		info, err := tx.Dataset(store.Join(mapName, BaseLayer))
		if err != nil {
			return fmt.Errorf("map %s: %w", mapName, err)
		}
		ok, err := tx.Exists(store.Join(mapName, layer))
		if err != nil {
			return err
		}
		if ok || layer == BaseLayer {
			return fmt.Errorf("%s/%s: %w", mapName, layer, ErrDuplicateLayer)
		}
		idx, err := loadIndex(tx, mapName)
		if err != nil {
			return err
		}
		cells, err = writeLayer(tx, mapName, layer, r, info.Shape, c.cfg)
		if err != nil {
			return err
		}
		idx.RecordLayer(layer, cells)
		merged = idx
		return persistIndex(tx, mapName, idx)
	})
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.indexes[mapName] = merged
	c.mu.Unlock()
	c.log.WithFields(logrus.Fields{"map": mapName, "layer": layer, "patches": len(cells)}).Info("layer added")
	return cells, nil
}

func writeLayer(tx store.Tx, mapName, layer string, r *raster.Raster, base geometry.Shape, cfg Config) ([]index.Cell, error) {
	if err := store.ValidName(layer); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.Shape.Rows != base.Rows || r.Shape.Cols != base.Cols {
		return nil, fmt.Errorf("%s/%s is %s, base map is %s: %w", mapName, layer, r.Shape, base, ErrDimensionMismatch)
	}
	cells := index.ScanLayer(r.Buffer, cfg.Grid())
	patches, err := store.JSONAttr(attrPatches, cells)
	if err != nil {
		return nil, err
	}
	p := store.Join(mapName, layer)
	if err := writeDataset(tx, p, r, cfg.Compression, store.StringAttr(attrPatches, string(patches.Value))); err != nil {
		return nil, err
	}
	return cells, nil
}

// writeDataset 写入像素与自描述属性
func writeDataset(tx store.Tx, p string, r *raster.Raster, compression string, extra ...store.Attr) error {
	if err := tx.CreateDataset(p, r.Buffer, compression); err != nil {
		if errors.Is(err, store.ErrExists) {
			return fmt.Errorf("%s: %w", p, ErrDuplicateLayer)
		}
		return err
	}
	attrs, err := imageAttrs(r)
	if err != nil {
		return err
	}
	return tx.SetAttrs(p, append(attrs, extra...)...)
}

func imageAttrs(r *raster.Raster) ([]store.Attr, error) {
	minmax, err := store.JSONAttr("IMAGE_MINMAXRANGE", []int{0, 255})
	if err != nil {
		return nil, err
	}
	attrs := []store.Attr{
		store.StringAttr("CLASS", "IMAGE"),
		store.StringAttr("IMAGE_VERSION", "1.2"),
		store.StringAttr("INTERLACE_MODE", "INTERLACE_PIXEL"),
		minmax,
		store.StringAttr("IMAGE_SUBCLASS", raster.Subclass(r.Shape)),
	}
	if r.CRS != "" {
		attrs = append(attrs, store.StringAttr(attrCRS, r.CRS))
	}
	if r.Transform != nil {
		attrs = append(attrs, store.StringAttr(attrTransform, r.Transform.WorldFile()))
	}
	return attrs, nil
}

// persistIndex 整体覆盖地图的索引属性
func persistIndex(tx store.Tx, mapName string, idx *index.Index) error {
	layers, err := idx.MarshalLayers()
	if err != nil {
		return err
	}
	locations, err := idx.MarshalLocations()
	if err != nil {
		return err
	}
	valid, err := idx.MarshalValid()
	if err != nil {
		return err
	}
	attrs := []store.Attr{
		store.StringAttr(attrPatches, string(layers)),
		store.StringAttr(attrLayersPatch, string(locations)),
		store.StringAttr(attrValidPatches, string(valid)),
	}
	if corners, ok := idx.Corners(); ok {
		a, err := store.JSONAttr(attrCorners, corners)
		if err != nil {
			return err
		}
		attrs = append(attrs, a)
	}
	return tx.SetAttrs(mapName, attrs...)
}
