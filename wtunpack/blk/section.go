// Package blk holds the hierarchical key/value sections embedded in game
// data and a decoder for their binary "fat" block form.
package blk

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Color is an 8-bit RGBA color.
type Color struct {
	R, G, B, A uint8
}

// Float12 is a 4x3 transform matrix, row-major.
type Float12 [12]float32

// Field is a named value. Value holds one of: string, int32, int64,
// float32, bool, [2]float32, [3]float32, [4]float32, [2]int32, [3]int32,
// Color, Float12 or *Section.
type Field struct {
	Name  string
	Value interface{}
}

// Section is an ordered mapping; names may repeat.
type Section struct {
	Fields []Field
}

// Len returns the number of fields.
func (s *Section) Len() int {
	return len(s.Fields)
}

// Get returns the first value stored under name.
func (s *Section) Get(name string) (interface{}, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Section returns the first nested section stored under name.
func (s *Section) Section(name string) (*Section, bool) {
	for _, f := range s.Fields {
		if sub, ok := f.Value.(*Section); ok && f.Name == name {
			return sub, true
		}
	}
	return nil, false
}

// Add appends a field.
func (s *Section) Add(name string, value interface{}) {
	s.Fields = append(s.Fields, Field{Name: name, Value: value})
}

// MarshalJSON renders the section as a JSON object in field order. Repeated
// names collapse into one array-valued key at the position of the first
// occurrence.
func (s *Section) MarshalJSON() ([]byte, error) {
	order := make([]string, 0, len(s.Fields))
	grouped := make(map[string][]interface{}, len(s.Fields))
	for _, f := range s.Fields {
		if _, seen := grouped[f.Name]; !seen {
			order = append(order, f.Name)
		}
		grouped[f.Name] = append(grouped[f.Name], jsonValue(f.Value))
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var v interface{} = grouped[name]
		if vs := grouped[name]; len(vs) == 1 {
			v = vs[0]
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func jsonValue(v interface{}) interface{} {
	switch x := v.(type) {
	case Color:
		return [4]uint8{x.R, x.G, x.B, x.A}
	default:
		return v
	}
}
