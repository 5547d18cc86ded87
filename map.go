package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// MapJob 一个描述文件对应的导入任务
type MapJob struct {
	Descriptor string
	Folder     string
	Name       string
}

// NewMapJob 由描述文件路径生成任务，地图名为文件名前缀
func NewMapJob(path string) MapJob {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return MapJob{
		Descriptor: abs,
		Folder:     filepath.Dir(abs),
		Name:       strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)),
	}
}

// Key 断点记录使用的键
func (j MapJob) Key() string {
	return j.Descriptor
}

// OutputPath 按模板生成输出容器路径，支持 {name} {dir} {date} {patch}
func (j MapJob) OutputPath(dir, layout string, patch int, now time.Time) string {
	p := strings.Replace(layout, "{name}", j.Name, -1)
	p = strings.Replace(p, "{patch}", strconv.Itoa(patch), -1)
	p = strings.Replace(p, "{dir}", filepath.Base(j.Folder), -1)
	p = strings.Replace(p, "{date}", now.Format("20060102"), -1)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// exists 输出容器是否已存在
func exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
