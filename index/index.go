package index

import (
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Index 单个地图的补丁索引。
// byLayer 记录每个图层的有效补丁，byLocation 为倒排索引，两者都保持插入顺序。
// Index 不做并发保护，由持有者加锁。
type Index struct {
	byLayer    *orderedmap.OrderedMap[string, []Cell]
	byLocation *orderedmap.OrderedMap[string, []string]
}

// New 空索引
func New() *Index {
	return &Index{
		byLayer:    orderedmap.New[string, []Cell](),
		byLocation: orderedmap.New[string, []string](),
	}
}

// Load 从持久化的 patches 与 layers_patch 属性重建索引
func Load(layersJSON, locationsJSON []byte) (*Index, error) {
	idx := New()
	if len(layersJSON) > 0 {
		if err := json.Unmarshal(layersJSON, idx.byLayer); err != nil {
			return nil, fmt.Errorf("decode patches: %w", err)
		}
	}
	if len(locationsJSON) > 0 {
		if err := json.Unmarshal(locationsJSON, idx.byLocation); err != nil {
			return nil, fmt.Errorf("decode layers_patch: %w", err)
		}
	}
	for p := idx.byLocation.Oldest(); p != nil; p = p.Next() {
		if _, err := ParseKey(p.Key); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// RecordLayer 记录图层的有效补丁，并追加到倒排索引
func (idx *Index) RecordLayer(name string, cells []Cell) {
	list, _ := idx.byLayer.Get(name)
	if list == nil {
		list = []Cell{}
	}
	idx.byLayer.Set(name, append(list, cells...))
	for _, c := range cells {
		key := c.Key()
		layers, _ := idx.byLocation.Get(key)
		idx.byLocation.Set(key, append(layers, name))
	}
}

// HasLayer 索引中是否记录过该图层
func (idx *Index) HasLayer(name string) bool {
	_, ok := idx.byLayer.Get(name)
	return ok
}

// Layers 按处理顺序返回已记录的图层
func (idx *Index) Layers() []string {
	names := make([]string, 0, idx.byLayer.Len())
	for p := idx.byLayer.Oldest(); p != nil; p = p.Next() {
		names = append(names, p.Key)
	}
	return names
}

// PatchesForLayer 图层的有效补丁
func (idx *Index) PatchesForLayer(name string) []Cell {
	list, _ := idx.byLayer.Get(name)
	out := make([]Cell, len(list))
	copy(out, list)
	return out
}

// LayersForPatch 某位置上有效的图层
func (idx *Index) LayersForPatch(row, col int) []string {
	list, _ := idx.byLocation.Get(Cell{Row: row, Col: col}.Key())
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// ValidPatches 倒排索引的全部位置，按首次出现顺序
func (idx *Index) ValidPatches() []Cell {
	cells := make([]Cell, 0, idx.byLocation.Len())
	for p := idx.byLocation.Oldest(); p != nil; p = p.Next() {
		c, err := ParseKey(p.Key)
		if err != nil {
			continue
		}
		cells = append(cells, c)
	}
	return cells
}

// Corners 重新计算外包范围，没有有效补丁时 ok 为 false
func (idx *Index) Corners() (Corners, bool) {
	cells := idx.ValidPatches()
	if len(cells) == 0 {
		return Corners{}, false
	}
	lo, hi := cells[0], cells[0]
	for _, c := range cells[1:] {
		lo.Row = min(lo.Row, c.Row)
		lo.Col = min(lo.Col, c.Col)
		hi.Row = max(hi.Row, c.Row)
		hi.Col = max(hi.Col, c.Col)
	}
	return Corners{lo, hi}, true
}

// ByLayer 图层 -> 补丁列表的副本
func (idx *Index) ByLayer() *orderedmap.OrderedMap[string, []Cell] {
	out := orderedmap.New[string, []Cell](idx.byLayer.Len())
	for p := idx.byLayer.Oldest(); p != nil; p = p.Next() {
		out.Set(p.Key, append([]Cell{}, p.Value...))
	}
	return out
}

// ByLocation "row_col" -> 图层列表的副本
func (idx *Index) ByLocation() *orderedmap.OrderedMap[string, []string] {
	out := orderedmap.New[string, []string](idx.byLocation.Len())
	for p := idx.byLocation.Oldest(); p != nil; p = p.Next() {
		out.Set(p.Key, append([]string{}, p.Value...))
	}
	return out
}

// Clone 深拷贝
func (idx *Index) Clone() *Index {
	return &Index{byLayer: idx.ByLayer(), byLocation: idx.ByLocation()}
}

// MarshalLayers patches 属性
func (idx *Index) MarshalLayers() ([]byte, error) {
	return json.Marshal(idx.byLayer)
}

// MarshalLocations layers_patch 属性
func (idx *Index) MarshalLocations() ([]byte, error) {
	return json.Marshal(idx.byLocation)
}

// MarshalValid valid_patches 属性
func (idx *Index) MarshalValid() ([]byte, error) {
	return json.Marshal(idx.ValidPatches())
}
