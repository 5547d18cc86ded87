// Package hdf5 只读 HDF5 容器后端，用于读取由 HDF5 工具生成的补丁容器。
//
// 属性值转换为 JSON：字符串保持为字符串，多维数组按属性形状还原嵌套。
// HDF5 句柄不保证并发安全，所有访问由互斥锁串行化。
// 只支持 gzip/shuffle/fletcher32 过滤器，h5py 默认的 lzf 压缩无法读取。
package hdf5

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	h5 "github.com/robert-malhotra/go-hdf5/hdf5"

	"patchstore/geometry"
	"patchstore/store"
)

// lzfFilterID h5py 的 lzf 压缩过滤器编号
const lzfFilterID = 32000

// ErrUnsupportedFilter 数据集使用了无法解码的压缩过滤器
var ErrUnsupportedFilter = errors.New("unsupported hdf5 compression filter")

// filterError 识别过滤器无法解码的错误，其余错误返回 nil
func filterError(p string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, fmt.Sprintf("filter ID: %d", lzfFilterID)):
		return fmt.Errorf("%s: lzf filter (id %d), recreate the container with gzip compression: %w", p, lzfFilterID, ErrUnsupportedFilter)
	case strings.Contains(msg, "filter ID") || strings.Contains(msg, "filter (ID"):
		return fmt.Errorf("%s: %v: %w", p, err, ErrUnsupportedFilter)
	}
	return nil
}

type Backend struct {
	mu   sync.Mutex
	file *h5.File
	path string
}

// Open 只读打开 HDF5 文件
func Open(path string) (*Backend, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, store.ErrNotFound)
		}
		return nil, err
	}
	f, err := h5.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open hdf5 %s: %w", path, err)
	}
	return &Backend{file: f, path: path}, nil
}

func (b *Backend) Path() string {
	return b.path
}

func (b *Backend) Writable() bool {
	return false
}

func (b *Backend) Begin() (store.Tx, error) {
	return nil, store.ErrReadOnly
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}

type attrHolder interface {
	Attrs() []string
	Attr(name string) *h5.Attribute
}

// node 打开分组或数据集
func (b *Backend) node(p string) (attrHolder, *h5.Group, *h5.Dataset, error) {
	p = store.Join(p)
	if p == "/" {
		root := b.file.Root()
		return root, root, nil, nil
	}
	if g, err := b.file.OpenGroup(p); err == nil {
		return g, g, nil, nil
	}
	ds, err := b.file.OpenDataset(p)
	if err != nil {
		if ferr := filterError(p, err); ferr != nil {
			return nil, nil, nil, ferr
		}
		return nil, nil, nil, fmt.Errorf("%s: %w", p, store.ErrNotFound)
	}
	return ds, nil, ds, nil
}

func (b *Backend) Members(group string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, g, _, err := b.node(group)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("%s is not a group: %w", group, store.ErrNotFound)
	}
	names, err := g.Members()
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (b *Backend) Exists(p string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, _, _, err := b.node(p)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *Backend) AttrNames(p string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, _, _, err := b.node(p)
	if err != nil {
		return nil, err
	}
	return append([]string{}, h.Attrs()...), nil
}

func (b *Backend) Attr(p, name string) (store.Attr, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, _, _, err := b.node(p)
	if err != nil {
		return store.Attr{}, err
	}
	a := h.Attr(name)
	if a == nil {
		return store.Attr{}, fmt.Errorf("attribute %s on %s: %w", name, store.Join(p), store.ErrNotFound)
	}
	v, err := a.Value()
	if err != nil {
		return store.Attr{}, fmt.Errorf("attribute %s on %s: %w", name, store.Join(p), err)
	}
	data, err := json.Marshal(nest(v, a.Shape()))
	if err != nil {
		return store.Attr{}, err
	}
	return store.Attr{Name: name, Value: data}, nil
}

func (b *Backend) Dataset(p string) (store.DatasetInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ds, err := b.dataset(p)
	if err != nil {
		return store.DatasetInfo{Path: store.Join(p)}, err
	}
	return info(ds, store.Join(p))
}

func (b *Backend) dataset(p string) (*h5.Dataset, error) {
	_, _, ds, err := b.node(p)
	if err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, fmt.Errorf("%s is not a dataset: %w", store.Join(p), store.ErrNotFound)
	}
	return ds, nil
}

func info(ds *h5.Dataset, p string) (store.DatasetInfo, error) {
	out := store.DatasetInfo{Path: p}
	if ds.DtypeSize() != 1 {
		return out, fmt.Errorf("%s: element size %d, only 8-bit images are supported", p, ds.DtypeSize())
	}
	dims := ds.Shape()
	switch {
	case len(dims) == 2:
		out.Shape = geometry.Shape{Rows: int(dims[0]), Cols: int(dims[1]), Channels: 1}
	case len(dims) == 3 && (dims[2] == 1 || dims[2] == 3):
		out.Shape = geometry.Shape{Rows: int(dims[0]), Cols: int(dims[1]), Channels: int(dims[2])}
	default:
		return out, fmt.Errorf("%s: unsupported dataset shape %v", p, dims)
	}
	return out, nil
}

// ReadWindow 通过超平面切片读取窗口
func (b *Backend) ReadWindow(p string, w geometry.Window, dst []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ds, err := b.dataset(p)
	if err != nil {
		return err
	}
	in, err := info(ds, store.Join(p))
	if err != nil {
		return err
	}
	if err := store.CheckWindow(in.Shape, w, dst); err != nil {
		return fmt.Errorf("%s: %w", in.Path, err)
	}
	if w.Src.Empty() {
		return nil
	}
	start := []uint64{uint64(w.Src.Row0), uint64(w.Src.Col0)}
	count := []uint64{uint64(w.Src.Rows()), uint64(w.Src.Cols())}
	if len(ds.Shape()) == 3 {
		start = append(start, 0)
		count = append(count, uint64(in.Shape.Channels))
	}
	raw, err := ds.ReadSliceRaw(start, count)
	if err != nil {
		if ferr := filterError(in.Path, err); ferr != nil {
			return ferr
		}
		return fmt.Errorf("read %s: %w", in.Path, err)
	}
	src := geometry.Buffer{
		Shape: geometry.Shape{Rows: w.Src.Rows(), Cols: w.Src.Cols(), Channels: in.Shape.Channels},
		Pix:   raw,
	}
	if len(raw) != src.Shape.Len() {
		return fmt.Errorf("read %s: got %d bytes, want %d", in.Path, len(raw), src.Shape.Len())
	}
	out := geometry.Buffer{Shape: w.Out, Pix: dst}
	geometry.Copy(out, src, geometry.Window{
		Src: geometry.Rect{Row1: src.Shape.Rows, Col1: src.Shape.Cols},
		Dst: w.Dst,
	})
	return nil
}

// nest 按属性形状还原二维数组，其余保持原样
func nest(v any, shape []uint64) any {
	if len(shape) != 2 || shape[1] == 0 {
		return v
	}
	cols := int(shape[1])
	switch s := v.(type) {
	case []int64:
		return chunk(s, cols)
	case []uint64:
		return chunk(s, cols)
	case []float64:
		return chunk(s, cols)
	case []string:
		return chunk(s, cols)
	}
	return v
}

func chunk[T any](flat []T, cols int) [][]T {
	out := make([][]T, 0, len(flat)/cols)
	for i := 0; i+cols <= len(flat); i += cols {
		out = append(out, flat[i:i+cols])
	}
	return out
}
