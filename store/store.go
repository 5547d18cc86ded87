// Package store 容器存储后端接口：分组、分块压缩的数据集与 JSON 属性
package store

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"patchstore/geometry"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrExists      = errors.New("already exists")
	ErrReadOnly    = errors.New("read-only")
	ErrCompression = errors.New("unsupported compression")
	ErrTxDone      = errors.New("transaction already finished")
	ErrInvalidName = errors.New("invalid node name")
)

// DatasetInfo 数据集描述
type DatasetInfo struct {
	Path        string
	Shape       geometry.Shape
	Compression string
	ChunkSize   int
}

// Reader 只读访问
type Reader interface {
	// Members 分组下的直接子节点名，按创建顺序
	Members(group string) ([]string, error)
	Exists(path string) (bool, error)
	AttrNames(path string) ([]string, error)
	// Attr 属性不存在时返回 ErrNotFound
	Attr(path, name string) (Attr, error)
	Dataset(path string) (DatasetInfo, error)
	// ReadWindow 将 w.Src 区域读入 dst 的 w.Dst 区域，dst 按 w.Out 排布，其余字节保持不变
	ReadWindow(path string, w geometry.Window, dst []byte) error
}

// Writer 写操作
type Writer interface {
	CreateGroup(path string) error
	CreateDataset(path string, buf geometry.Buffer, compression string) error
	// SetAttrs 新建或覆盖属性
	SetAttrs(path string, attrs ...Attr) error
}

// Tx 一次写事务，提交前的修改对其他读者不可见
type Tx interface {
	Reader
	Writer
	Commit() error
	Rollback() error
}

// Backend 一个打开的容器文件
type Backend interface {
	Reader
	Writable() bool
	Begin() (Tx, error)
	Close() error
}

// Join 拼接节点路径，结果总以 "/" 开头
func Join(elem ...string) string {
	return path.Join(append([]string{"/"}, elem...)...)
}

// Split 父节点与名称
func Split(p string) (parent, name string) {
	p = Join(p)
	if p == "/" {
		return "", ""
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/", p[1:]
	}
	return p[:i], p[i+1:]
}

// ValidName 节点名不能为空，不能包含 "/"
func ValidName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return fmt.Errorf("%w %q", ErrInvalidName, name)
	}
	return nil
}

// ReadFull 读取整个数据集
func ReadFull(r Reader, p string) (geometry.Buffer, DatasetInfo, error) {
	info, err := r.Dataset(p)
	if err != nil {
		return geometry.Buffer{}, info, err
	}
	s := info.Shape
	full := geometry.Rect{Row1: s.Rows, Col1: s.Cols}
	buf := geometry.NewBuffer(s)
	err = r.ReadWindow(p, geometry.Window{Src: full, Dst: full, Out: s}, buf.Pix)
	return buf, info, err
}

// CheckWindow 校验窗口与目标缓冲区
func CheckWindow(s geometry.Shape, w geometry.Window, dst []byte) error {
	if w.Src.Empty() {
		return nil
	}
	if w.Src.Row0 < 0 || w.Src.Col0 < 0 || w.Src.Row1 > s.Rows || w.Src.Col1 > s.Cols {
		return fmt.Errorf("window %+v outside dataset %s", w.Src, s)
	}
	if w.Dst.Rows() != w.Src.Rows() || w.Dst.Cols() != w.Src.Cols() {
		return fmt.Errorf("window source %+v and destination %+v differ in size", w.Src, w.Dst)
	}
	if w.Dst.Row0 < 0 || w.Dst.Col0 < 0 || w.Dst.Row1 > w.Out.Rows || w.Dst.Col1 > w.Out.Cols {
		return fmt.Errorf("window destination %+v outside output %s", w.Dst, w.Out)
	}
	if w.Out.Bands() != s.Bands() {
		return fmt.Errorf("output has %d channels, dataset has %d", w.Out.Bands(), s.Bands())
	}
	if len(dst) < w.Out.Len() {
		return fmt.Errorf("destination holds %d bytes, need %d", len(dst), w.Out.Len())
	}
	return nil
}
