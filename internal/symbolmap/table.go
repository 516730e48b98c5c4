package symbolmap

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Mapping 单条映射：场所原生品种 + 手数比例
type Mapping struct {
	VenueSymbol string  `json:"venue_id" yaml:"venue_id"`
	VolumeRatio float64 `json:"volume_ratio" yaml:"volume_ratio"`
}

// Entry 带外部品种的映射项
type Entry struct {
	External string
	Mapping
}

// Table 持久化形态的映射表，保持文档中的键顺序。
// 兼容旧格式：值为字符串时表示品种，比例为 1.0；对象中的 "symbol" 等同 "venue_id"。
type Table []Entry

type mappingDoc struct {
	VenueID     string   `json:"venue_id,omitempty" yaml:"venue_id,omitempty"`
	Symbol      string   `json:"symbol,omitempty" yaml:"symbol,omitempty"`
	VolumeRatio *float64 `json:"volume_ratio,omitempty" yaml:"volume_ratio,omitempty"`
}

func (d mappingDoc) toMapping(external string) Mapping {
	m := Mapping{VenueSymbol: d.VenueID, VolumeRatio: 1.0}
	if m.VenueSymbol == "" {
		m.VenueSymbol = d.Symbol
	}
	if m.VenueSymbol == "" {
		m.VenueSymbol = external
	}
	if d.VolumeRatio != nil {
		m.VolumeRatio = *d.VolumeRatio
	}
	return m
}

// MarshalJSON 按顺序输出对象
func (t Table) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.External)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Mapping)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 按文档顺序读取对象
func (t *Table) UnmarshalJSON(b []byte) error {
	if string(bytes.TrimSpace(b)) == "null" {
		*t = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("symbol_mapping 必须是对象")
	}
	var out Table
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := kt.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("symbol_mapping[%s]: %w", key, err)
		}
		m, err := decodeJSONMapping(key, raw)
		if err != nil {
			return err
		}
		out = append(out, Entry{External: key, Mapping: m})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*t = out
	return nil
}

func decodeJSONMapping(key string, raw json.RawMessage) (Mapping, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Mapping{}, err
		}
		return mappingDoc{VenueID: s}.toMapping(key), nil
	}
	var d mappingDoc
	if err := json.Unmarshal(trimmed, &d); err != nil {
		return Mapping{}, fmt.Errorf("symbol_mapping[%s]: %w", key, err)
	}
	return d.toMapping(key), nil
}

// MarshalYAML 输出有序 mapping 节点
func (t Table) MarshalYAML() (interface{}, error) {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, e := range t {
		var v yaml.Node
		if err := v.Encode(e.Mapping); err != nil {
			return nil, err
		}
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.External},
			&v,
		)
	}
	return n, nil
}

// UnmarshalYAML 按文档顺序读取 mapping 节点
func (t *Table) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		*t = nil
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("symbol_mapping 必须是 mapping (line %d)", value.Line)
	}
	var out Table
	for i := 0; i+1 < len(value.Content); i += 2 {
		key := value.Content[i].Value
		v := value.Content[i+1]
		var d mappingDoc
		switch v.Kind {
		case yaml.ScalarNode:
			d.VenueID = v.Value
		case yaml.MappingNode:
			if err := v.Decode(&d); err != nil {
				return fmt.Errorf("symbol_mapping[%s]: %w", key, err)
			}
		default:
			return fmt.Errorf("symbol_mapping[%s]: 不支持的值类型 (line %d)", key, v.Line)
		}
		out = append(out, Entry{External: key, Mapping: d.toMapping(key)})
	}
	*t = out
	return nil
}
