package raster

import (
	"path/filepath"
	"slices"
	"strings"
)

// Codec 栅格文件编解码
type Codec interface {
	Decode(path string) (*Raster, error)
	Encode(path string, r *Raster) error
	// Extensions 可识别的文件扩展名，带点、小写
	Extensions() []string
}

// Supports 判断 codec 是否识别该文件扩展名
func Supports(c Codec, path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return slices.Contains(c.Extensions(), ext)
}
