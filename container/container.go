// Package container 补丁容器：地图与图层的写入、补丁窗口读取和索引查询。
//
// 一个容器文件包含多个地图，每个地图是一个分组，底图数据集名为 "map"，其余数据集为
// 对齐到底图像素网格的图层。补丁索引保存在地图分组的属性中，写入时与最后一次数据写入
// 在同一事务内提交。
//
// 读取方法可以并发调用；写入需要调用方串行化。超出网格但非负的补丁坐标返回全零补丁，
// 不视为错误；负坐标返回 ErrInvalidIndex。
package container

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"patchstore/descriptor"
	"patchstore/index"
	"patchstore/store"
	"patchstore/store/hdf5"
	"patchstore/store/sqlite"
)

// BaseLayer 底图数据集名
const BaseLayer = "map"

// 根属性
const (
	attrCompression = "compression"
	attrPatchSize   = "patch_size"
	attrPatchBorder = "patch_border"
)

// Container 打开的补丁容器
type Container struct {
	path    string
	mode    Mode
	cfg     Config
	backend store.Backend
	log     logrus.FieldLogger
	closed  atomic.Bool

	mu          sync.RWMutex
	indexes     map[string]*index.Index
	descriptors map[string]*descriptor.Descriptor
}

// Open 打开容器。读模式要求文件存在；写与追加模式在文件不存在时创建，从不清空已有内容。
// 已持久化的 compression、patch_size、patch_border 优先于传入参数，不一致时记录警告。
func Open(path string, mode Mode, opts ...Option) (*Container, error) {
	o := options{
		cfg: Config{
			Compression: DefaultCompression,
			PatchSize:   DefaultPatchSize,
			PatchBorder: DefaultPatchBorder,
		},
		log:       logrus.StandardLogger(),
		chunkSize: sqlite.DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	backend := o.backend
	if backend == nil {
		var err error
		backend, err = openBackend(path, mode, o.chunkSize)
		if err != nil {
			return nil, err
		}
	}
	if mode.Writable() && !backend.Writable() {
		backend.Close()
		return nil, fmt.Errorf("open %s for writing: %w", path, ErrReadOnly)
	}

	c := &Container{
		path:        path,
		mode:        mode,
		backend:     backend,
		log:         o.log.WithField("file", path),
		indexes:     map[string]*index.Index{},
		descriptors: map[string]*descriptor.Descriptor{},
	}
	cfg, err := c.reconcile(o.cfg)
	if err != nil {
		backend.Close()
		return nil, err
	}
	c.cfg = cfg
	return c, nil
}

func openBackend(path string, mode Mode, chunkSize int) (store.Backend, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".h5", ".hdf5":
		if mode.Writable() {
			return nil, fmt.Errorf("open %s for writing: hdf5 containers are %w", path, ErrReadOnly)
		}
		return hdf5.Open(path)
	}
	return sqlite.Open(path, !mode.Writable(), sqlite.WithChunkSize(chunkSize))
}

// reconcile 合并已存参数与请求参数，新文件写入请求参数
func (c *Container) reconcile(req Config) (Config, error) {
	cfg := req
	var missing []store.Attr

	stored, ok, err := c.rootString(attrCompression)
	if err != nil {
		return cfg, err
	}
	if ok {
		c.warnMismatch(attrCompression, stored, req.Compression)
		cfg.Compression = stored
	} else {
		missing = append(missing, store.StringAttr(attrCompression, req.Compression))
	}

	for _, p := range []struct {
		name string
		dst  *int
		req  int
	}{
		{attrPatchSize, &cfg.PatchSize, req.PatchSize},
		{attrPatchBorder, &cfg.PatchBorder, req.PatchBorder},
	} {
		n, ok, err := c.rootInt(p.name)
		if err != nil {
			return cfg, err
		}
		if ok {
			c.warnMismatch(p.name, n, p.req)
			*p.dst = n
		} else {
			missing = append(missing, store.IntAttr(p.name, p.req))
		}
	}

	if err := cfg.Validate(c.mode.Writable()); err != nil {
		return cfg, err
	}
	if len(missing) > 0 && c.mode.Writable() {
		if err := c.update(func(tx store.Tx) error {
			return tx.SetAttrs("/", missing...)
		}); err != nil {
			return cfg, fmt.Errorf("persist container parameters: %w", err)
		}
	}
	return cfg, nil
}

func (c *Container) warnMismatch(key string, stored, requested any) {
	if stored == requested {
		return
	}
	c.log.WithFields(logrus.Fields{
		"key":       key,
		"stored":    stored,
		"requested": requested,
	}).Warn("container parameter mismatch, using stored value")
}

func (c *Container) rootString(name string) (string, bool, error) {
	a, err := c.backend.Attr("/", name)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	s, err := a.String()
	return s, err == nil, err
}

func (c *Container) rootInt(name string) (int, bool, error) {
	a, err := c.backend.Attr("/", name)
	if errors.Is(err, store.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := a.Int()
	return n, err == nil, err
}

// update 在单个事务中执行写操作
func (c *Container) update(fn func(tx store.Tx) error) error {
	tx, err := c.backend.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *Container) checkOpen() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (c *Container) checkWritable() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if !c.mode.Writable() {
		return fmt.Errorf("%s opened with mode %s: %w", c.path, c.mode, ErrReadOnly)
	}
	return nil
}

// Config 生效的容器参数
func (c *Container) Config() Config {
	return c.cfg
}

func (c *Container) Mode() Mode {
	return c.mode
}

func (c *Container) Path() string {
	return c.path
}

func (c *Container) String() string {
	maps := -1
	if names, err := c.Maps(); err == nil {
		maps = len(names)
	}
	return fmt.Sprintf("Container(path=%s, mode=%s, patch_size=%d, patch_border=%d, tile_size=%d, maps=%d)",
		c.path, c.mode, c.cfg.PatchSize, c.cfg.PatchBorder, c.cfg.TileSize(), maps)
}

// Close 释放句柄，之后的调用返回 ErrClosed
func (c *Container) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	c.mu.Lock()
	clear(c.indexes)
	clear(c.descriptors)
	c.mu.Unlock()
	return c.backend.Close()
}
