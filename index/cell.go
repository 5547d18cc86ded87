package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrBadKey = errors.New("malformed patch key")

// Cell 补丁网格坐标
type Cell struct {
	Row int
	Col int
}

// Key 位置键 "row_col"
func (c Cell) Key() string {
	return strconv.Itoa(c.Row) + "_" + strconv.Itoa(c.Col)
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d, %d)", c.Row, c.Col)
}

// MarshalJSON 编码为 [row, col]
func (c Cell) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{c.Row, c.Col})
}

func (c *Cell) UnmarshalJSON(data []byte) error {
	var v []int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if len(v) != 2 {
		return fmt.Errorf("cell must have 2 elements, got %d", len(v))
	}
	c.Row, c.Col = v[0], v[1]
	return nil
}

// ParseKey 解析 "row_col"
func ParseKey(key string) (Cell, error) {
	r, c, ok := strings.Cut(key, "_")
	if !ok {
		return Cell{}, fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	row, err := strconv.Atoi(r)
	if err != nil {
		return Cell{}, fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	col, err := strconv.Atoi(c)
	if err != nil {
		return Cell{}, fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	return Cell{Row: row, Col: col}, nil
}

// Corners 所有有效补丁的外包行列范围 [[minRow,minCol],[maxRow,maxCol]]
type Corners [2]Cell

func (c Corners) Min() Cell { return c[0] }
func (c Corners) Max() Cell { return c[1] }
