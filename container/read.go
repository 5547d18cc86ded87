package container

import (
	"fmt"

	"patchstore/geometry"
	"patchstore/raster"
	"patchstore/store"
)

// ReadPatch 读取 (row, col) 处补丁，尺寸总是 patch_size x patch_size [x 通道]。
// 栅格范围之外的部分为 0；超出网格的非负坐标返回全零补丁。
func (c *Container) ReadPatch(mapName, layer string, row, col int) (geometry.Buffer, error) {
	info, err := c.dataset(mapName, layer)
	if err != nil {
		return geometry.Buffer{}, err
	}
	w, err := c.cfg.Grid().Window(row, col, info.Shape)
	if err != nil {
		return geometry.Buffer{}, err
	}
	buf := geometry.NewBuffer(w.Out)
	if err := c.backend.ReadWindow(info.Path, w, buf.Pix); err != nil {
		return geometry.Buffer{}, fmt.Errorf("read patch (%d, %d) of %s: %w", row, col, info.Path, err)
	}
	return buf, nil
}

// ReadLegend 按描述文件中标签的外包矩形从底图精确裁剪，不补边。
// 标签没有标注时 ok 为 false；矩形退化时返回空缓冲区。
func (c *Container) ReadLegend(mapName, layer string) (geometry.Buffer, bool, error) {
	desc, err := c.Descriptor(mapName)
	if err != nil {
		return geometry.Buffer{}, false, err
	}
	bound, ok := desc.Legend(layer)
	if !ok {
		return geometry.Buffer{}, false, nil
	}
	info, err := c.dataset(mapName, BaseLayer)
	if err != nil {
		return geometry.Buffer{}, false, err
	}
	rect := geometry.LegendWindow(bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1], info.Shape)
	out := geometry.Shape{Rows: rect.Rows(), Cols: rect.Cols(), Channels: info.Shape.Channels}
	buf := geometry.NewBuffer(out)
	if rect.Empty() {
		return buf, true, nil
	}
	w := geometry.Window{
		Src: rect,
		Dst: geometry.Rect{Row1: out.Rows, Col1: out.Cols},
		Out: out,
	}
	if err := c.backend.ReadWindow(info.Path, w, buf.Pix); err != nil {
		return geometry.Buffer{}, false, fmt.Errorf("read legend %s of %s: %w", layer, mapName, err)
	}
	return buf, true, nil
}

// ReadFullLayer 读取整个图层，附带坐标系与仿射变换
func (c *Container) ReadFullLayer(mapName, layer string) (*raster.Raster, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	buf, info, err := store.ReadFull(c.backend, store.Join(mapName, layer))
	if err != nil {
		return nil, fmt.Errorf("layer %s of map %s: %w", layer, mapName, err)
	}
	crs, err := optionalString(c.backend, info.Path, attrCRS)
	if err != nil {
		return nil, err
	}
	transform, err := c.Transform(mapName, layer)
	if err != nil {
		return nil, err
	}
	return &raster.Raster{Buffer: buf, CRS: crs, Transform: transform}, nil
}
