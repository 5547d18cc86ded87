package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
	"github.com/perimeterx/marshmallow"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

var (
	ErrEmptyDescriptor = errors.New("descriptor has no shapes")
	ErrEncoding        = errors.New("unsupported descriptor encoding")
)

// Shape 一个标注形状，points 的第一个坐标为列，第二个坐标为行
type Shape struct {
	Label     string      `json:"label" validate:"required"`
	Points    []orb.Point `json:"points,omitempty"`
	ShapeType string      `json:"shape_type,omitempty"`
}

// Bound 标注点的外包矩形
func (s Shape) Bound() (orb.Bound, bool) {
	if len(s.Points) == 0 {
		return orb.Bound{}, false
	}
	return orb.MultiPoint(s.Points).Bound(), true
}

// Descriptor 标注描述文件
type Descriptor struct {
	Shapes      []Shape `json:"shapes" validate:"dive"`
	ImagePath   string  `json:"imagePath,omitempty"`
	ImageHeight int     `json:"imageHeight,omitempty" validate:"gte=0"`
	ImageWidth  int     `json:"imageWidth,omitempty" validate:"gte=0"`

	// Extra 未声明的顶层字段
	Extra map[string]any `json:"-"`

	raw []byte
}

type options struct {
	encoding string
}

type Option func(*options)

// WithEncoding 描述文件的字符编码，支持 UTF-8 与 GBK
func WithEncoding(name string) Option {
	return func(o *options) {
		o.encoding = name
	}
}

// Load 读取描述文件
func Load(path string, opts ...Option) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := Parse(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Parse 解析描述文件内容，原始字节(转为 UTF-8 后)会被原样保留
func Parse(data []byte, opts ...Option) (*Descriptor, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	data, err := toUTF8(data, o.encoding)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{}
	extra, err := marshmallow.Unmarshal(data, d, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return nil, err
	}
	if len(d.Shapes) == 0 {
		return nil, ErrEmptyDescriptor
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(d); err != nil {
		return nil, err
	}
	d.Extra = extra
	d.raw = bytes.Clone(data)
	return d, nil
}

func toUTF8(data []byte, encoding string) ([]byte, error) {
	switch strings.ToUpper(encoding) {
	case "", "UTF8", "UTF-8":
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrEncoding)
		}
		return data, nil
	case "GBK":
		reader := transform.NewReader(bytes.NewReader(data), simplifiedchinese.GBK.NewDecoder())
		return io.ReadAll(reader)
	default:
		return nil, fmt.Errorf("%w: %s", ErrEncoding, encoding)
	}
}

// Bytes 原始内容
func (d *Descriptor) Bytes() []byte {
	return d.raw
}

// Labels 按描述文件顺序返回标签，可能重复
func (d *Descriptor) Labels() []string {
	labels := make([]string, 0, len(d.Shapes))
	for _, s := range d.Shapes {
		labels = append(labels, s.Label)
	}
	return labels
}

// Shape 第一个匹配标签的形状
func (d *Descriptor) Shape(label string) (Shape, bool) {
	for _, s := range d.Shapes {
		if s.Label == label {
			return s, true
		}
	}
	return Shape{}, false
}

// Legend 标签对应的图例外包矩形
func (d *Descriptor) Legend(label string) (orb.Bound, bool) {
	s, ok := d.Shape(label)
	if !ok {
		return orb.Bound{}, false
	}
	return s.Bound()
}
