package store

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
)

// 数据集压缩方式
const (
	NONE = "none"
	GZIP = "gzip"
	ZLIB = "zlib"
)

// Compressor 分块压缩
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Compression 按名称取压缩器，空字符串视为 none
func Compression(name string) (Compressor, error) {
	switch name {
	case "", NONE:
		return noneCompressor{}, nil
	case GZIP:
		return gzipCompressor{}, nil
	case ZLIB:
		return zlibCompressor{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrCompression, name)
	}
}

type noneCompressor struct{}

func (noneCompressor) Name() string { return NONE }

func (noneCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (noneCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

type gzipCompressor struct{}

func (gzipCompressor) Name() string { return GZIP }

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

type zlibCompressor struct{}

func (zlibCompressor) Name() string { return ZLIB }

func (zlibCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (zlibCompressor) Decompress(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
