package container

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"patchstore/geometry"
	"patchstore/store"
)

// Mode 打开方式
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
	ModeAppend
)

// 默认参数
const (
	DefaultCompression = store.GZIP
	DefaultPatchSize   = 256
	DefaultPatchBorder = 3
	maxPatchSize       = 65535
)

// ParseMode 解析 "r" "w" "a"
func ParseMode(s string) (Mode, error) {
	switch s {
	case "r", "read":
		return ModeRead, nil
	case "w", "write":
		return ModeWrite, nil
	case "a", "append":
		return ModeAppend, nil
	}
	return ModeRead, fmt.Errorf("unknown open mode %q", s)
}

func (m Mode) String() string {
	switch m {
	case ModeWrite:
		return "w"
	case ModeAppend:
		return "a"
	}
	return "r"
}

// Writable 写模式与追加模式都可写
func (m Mode) Writable() bool {
	return m == ModeWrite || m == ModeAppend
}

// Config 容器参数，首次写入时固定
type Config struct {
	Compression string
	PatchSize   int
	PatchBorder int
}

// TileSize 补丁步长
func (c Config) TileSize() int {
	return c.PatchSize - 2*c.PatchBorder
}

func (c Config) Grid() geometry.Grid {
	return geometry.Grid{PatchSize: c.PatchSize, Border: c.PatchBorder}
}

// Validate 参数合法性；压缩方式只在写入时检查
func (c Config) Validate(writable bool) error {
	if c.PatchSize <= 0 || c.PatchSize > maxPatchSize {
		return fmt.Errorf("%w: patch_size %d", ErrInvalidConfig, c.PatchSize)
	}
	if c.PatchBorder < 0 || c.PatchBorder > maxPatchSize {
		return fmt.Errorf("%w: patch_border %d", ErrInvalidConfig, c.PatchBorder)
	}
	if err := c.Grid().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if writable {
		if _, err := store.Compression(c.Compression); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

type options struct {
	cfg       Config
	log       logrus.FieldLogger
	chunkSize int
	backend   store.Backend
}

type Option func(*options)

// WithCompression 新建数据集的压缩方式：none gzip zlib
func WithCompression(name string) Option {
	return func(o *options) {
		o.cfg.Compression = name
	}
}

func WithPatchSize(n int) Option {
	return func(o *options) {
		o.cfg.PatchSize = n
	}
}

func WithPatchBorder(n int) Option {
	return func(o *options) {
		o.cfg.PatchBorder = n
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithChunkSize SQLite 后端的块边长
func WithChunkSize(n int) Option {
	return func(o *options) {
		o.chunkSize = n
	}
}

// WithBackend 使用已打开的存储后端，Close 时一并关闭
func WithBackend(b store.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}
