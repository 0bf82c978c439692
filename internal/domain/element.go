package domain

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/samber/lo"
)

// ErrNullElement 表示元素为 JSON null，白板不接受空元素。
var ErrNullElement = errors.New("element must not be null")

// Element 是白板上的一个可绘制对象。
// 服务端不关心其内部结构，只保存它的规范化 JSON 编码：
// 对象键排序、去掉多余空白、数字保持原样。两个元素相等当且仅当编码相同。
type Element json.RawMessage

// NewElement 解析并规范化一段 JSON。
func NewElement(raw []byte) (Element, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber() // 保持数字字面量，避免 float64 精度损失
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode element: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode element: trailing data after value")
	}
	if v == nil {
		return nil, ErrNullElement
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode element: %w", err)
	}
	return Element(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// MustElement 用于测试和常量场景，解析失败直接 panic。
func MustElement(raw string) Element {
	e, err := NewElement([]byte(raw))
	if err != nil {
		panic(err)
	}
	return e
}

// Key 返回元素的集合键。
func (e Element) Key() string { return string(e) }

func (e Element) MarshalJSON() ([]byte, error) {
	if len(e) == 0 {
		return []byte("null"), nil
	}
	return e, nil
}

func (e *Element) UnmarshalJSON(raw []byte) error {
	parsed, err := NewElement(raw)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// ElementSet 是不含重复元素的元素集合。顺序只是插入顺序，没有语义。
type ElementSet []Element

// NewElementSet 去重后构造集合，保留每个元素第一次出现的位置。
func NewElementSet(elems ...Element) ElementSet {
	return ElementSet(lo.UniqBy(elems, Element.Key))
}

// Keys 返回集合中所有元素的键。
func (s ElementSet) Keys() []string {
	return lo.Map([]Element(s), func(e Element, _ int) string { return e.Key() })
}

func (s ElementSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Element(s))
}

// Value 实现 driver.Valuer，以 JSON 文本存储。
func (s ElementSet) Value() (driver.Value, error) {
	b, err := s.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner。
func (s *ElementSet) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = ElementSet{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("element set: unsupported scan type %T", src)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		*s = ElementSet{}
		return nil
	}
	var elems []Element
	if err := json.Unmarshal(raw, &elems); err != nil {
		return fmt.Errorf("element set: %w", err)
	}
	*s = NewElementSet(elems...)
	return nil
}

// MergeElements 计算 (current \ removed) ∪ added。
// 并集与差集满足交换律和结合律，重复应用同一操作结果不变。
func MergeElements(current ElementSet, added, removed []Element) ElementSet {
	drop := lo.SliceToMap(removed, func(e Element) (string, struct{}) {
		return e.Key(), struct{}{}
	})
	kept := lo.Reject([]Element(current), func(e Element, _ int) bool {
		_, gone := drop[e.Key()]
		return gone
	})
	return NewElementSet(append(kept, added...)...)
}
