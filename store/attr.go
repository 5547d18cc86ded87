package store

import (
	"encoding/json"
	"fmt"
)

// Attr 属性，值统一保存为 JSON
type Attr struct {
	Name  string
	Value json.RawMessage
}

func StringAttr(name, v string) Attr {
	data, _ := json.Marshal(v)
	return Attr{Name: name, Value: data}
}

func IntAttr(name string, v int) Attr {
	data, _ := json.Marshal(v)
	return Attr{Name: name, Value: data}
}

// JSONAttr 任意可序列化的值
func JSONAttr(name string, v any) (Attr, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Attr{}, fmt.Errorf("attribute %s: %w", name, err)
	}
	return Attr{Name: name, Value: data}, nil
}

func (a Attr) Decode(v any) error {
	if err := json.Unmarshal(a.Value, v); err != nil {
		return fmt.Errorf("attribute %s: %w", a.Name, err)
	}
	return nil
}

func (a Attr) String() (string, error) {
	var s string
	err := a.Decode(&s)
	return s, err
}

func (a Attr) Int() (int, error) {
	var n int
	err := a.Decode(&n)
	return n, err
}
