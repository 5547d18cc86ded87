package index

import (
	"patchstore/geometry"
)

// ScanLayer 按行优先遍历网格，返回有效补丁
func ScanLayer(layer geometry.Buffer, grid geometry.Grid) []Cell {
	cells := []Cell{}
	rows, cols := grid.Dims(layer.Shape)
	patch := geometry.NewBuffer(geometry.Shape{Rows: grid.PatchSize, Cols: grid.PatchSize, Channels: layer.Shape.Channels})
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			w, err := grid.Window(r, c, layer.Shape)
			if err != nil {
				continue
			}
			clear(patch.Pix)
			geometry.Copy(patch, layer, w)
			if geometry.IsValidPatch(patch) {
				cells = append(cells, Cell{Row: r, Col: c})
			}
		}
	}
	return cells
}
