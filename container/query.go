package container

import (
	"errors"
	"fmt"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"patchstore/descriptor"
	"patchstore/geometry"
	"patchstore/index"
	"patchstore/raster"
	"patchstore/store"
)

// loadIndex 从地图属性重建索引，尚无索引属性时返回空索引
func loadIndex(r store.Reader, mapName string) (*index.Index, error) {
	ok, err := r.Exists(mapName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("map %s: %w", mapName, ErrNotFound)
	}
	layers, err := optionalString(r, mapName, attrPatches)
	if err != nil {
		return nil, err
	}
	locations, err := optionalString(r, mapName, attrLayersPatch)
	if err != nil {
		return nil, err
	}
	idx, err := index.Load([]byte(layers), []byte(locations))
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", mapName, err)
	}
	return idx, nil
}

func optionalString(r store.Reader, p, name string) (string, error) {
	a, err := r.Attr(p, name)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return a.String()
}

func (c *Container) cache(mapName string, idx *index.Index, desc *descriptor.Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes[mapName] = idx
	if desc != nil {
		c.descriptors[mapName] = desc
	}
}

// index 缓存的地图索引，调用方不得修改
func (c *Container) index(mapName string) (*index.Index, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	idx, ok := c.indexes[mapName]
	c.mu.RUnlock()
	if ok {
		return idx, nil
	}
	idx, err := loadIndex(c.backend, mapName)
	if err != nil {
		return nil, err
	}
	c.cache(mapName, idx, nil)
	return idx, nil
}

// Maps 全部地图名
func (c *Container) Maps() ([]string, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.backend.Members("/")
}

// Layers 地图的图层名，不含底图，按写入顺序
func (c *Container) Layers(mapName string) ([]string, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	names, err := c.backend.Members(mapName)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", mapName, err)
	}
	return slices.DeleteFunc(names, func(n string) bool { return n == BaseLayer }), nil
}

// HasLayer 图层数据集是否存在，底图也算
func (c *Container) HasLayer(mapName, layer string) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	if _, err := c.backend.Dataset(store.Join(mapName, layer)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MapSize 底图尺寸
func (c *Container) MapSize(mapName string) (geometry.Shape, error) {
	info, err := c.dataset(mapName, BaseLayer)
	return info.Shape, err
}

func (c *Container) dataset(mapName, layer string) (store.DatasetInfo, error) {
	if err := c.checkOpen(); err != nil {
		return store.DatasetInfo{}, err
	}
	info, err := c.backend.Dataset(store.Join(mapName, layer))
	if err != nil {
		return info, fmt.Errorf("layer %s of map %s: %w", layer, mapName, err)
	}
	return info, nil
}

// CRS 图层坐标系，没有时返回空字符串
func (c *Container) CRS(mapName, layer string) (string, error) {
	if _, err := c.dataset(mapName, layer); err != nil {
		return "", err
	}
	return optionalString(c.backend, store.Join(mapName, layer), attrCRS)
}

// Transform 图层仿射变换，没有时返回 nil
func (c *Container) Transform(mapName, layer string) (*raster.Affine, error) {
	if _, err := c.dataset(mapName, layer); err != nil {
		return nil, err
	}
	text, err := optionalString(c.backend, store.Join(mapName, layer), attrTransform)
	if err != nil || text == "" {
		return nil, err
	}
	t, err := raster.ParseWorldFile(text)
	if err != nil {
		return nil, fmt.Errorf("layer %s of map %s: %w", layer, mapName, err)
	}
	return &t, nil
}

// Corners 有效补丁的外包范围，没有有效补丁时 ok 为 false
func (c *Container) Corners(mapName string) (index.Corners, bool, error) {
	idx, err := c.index(mapName)
	if err != nil {
		return index.Corners{}, false, err
	}
	corners, ok := idx.Corners()
	return corners, ok, nil
}

// Patches 图层 -> 有效补丁
func (c *Container) Patches(mapName string) (*orderedmap.OrderedMap[string, []index.Cell], error) {
	idx, err := c.index(mapName)
	if err != nil {
		return nil, err
	}
	return idx.ByLayer(), nil
}

// PatchesByLocation "row_col" -> 图层
func (c *Container) PatchesByLocation(mapName string) (*orderedmap.OrderedMap[string, []string], error) {
	idx, err := c.index(mapName)
	if err != nil {
		return nil, err
	}
	return idx.ByLocation(), nil
}

// ValidPatches 至少一个图层有效的补丁
func (c *Container) ValidPatches(mapName string) ([]index.Cell, error) {
	idx, err := c.index(mapName)
	if err != nil {
		return nil, err
	}
	return idx.ValidPatches(), nil
}

// PatchesForLayer 读取图层数据集上的 patches 属性；底图没有该属性
func (c *Container) PatchesForLayer(mapName, layer string) ([]index.Cell, error) {
	if _, err := c.dataset(mapName, layer); err != nil {
		return nil, err
	}
	a, err := c.backend.Attr(store.Join(mapName, layer), attrPatches)
	if err != nil {
		return nil, err
	}
	text, err := a.String()
	if err != nil {
		return nil, err
	}
	cells := []index.Cell{}
	if err := (store.Attr{Name: attrPatches, Value: []byte(text)}).Decode(&cells); err != nil {
		return nil, err
	}
	return cells, nil
}

// LayersForPatch 在该补丁上有效的图层
func (c *Container) LayersForPatch(mapName string, row, col int) ([]string, error) {
	idx, err := c.index(mapName)
	if err != nil {
		return nil, err
	}
	return idx.LayersForPatch(row, col), nil
}

// Descriptor 地图保存的描述文件
func (c *Container) Descriptor(mapName string) (*descriptor.Descriptor, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	desc, ok := c.descriptors[mapName]
	c.mu.RUnlock()
	if ok {
		return desc, nil
	}
	a, err := c.backend.Attr(mapName, attrJSON)
	if err != nil {
		return nil, fmt.Errorf("descriptor of map %s: %w", mapName, err)
	}
	text, err := a.String()
	if err != nil {
		return nil, err
	}
	desc, err = descriptor.Parse([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("descriptor of map %s: %w", mapName, err)
	}
	c.mu.Lock()
	c.descriptors[mapName] = desc
	c.mu.Unlock()
	return desc, nil
}
