package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/betbot/orderbridge/pkg/logger"
)

// Store 存储接口
type Store interface {
	Save(data interface{}) error
	Load(data interface{}) error
}

// ErrNotExists 表示数据不存在
var ErrNotExists = fmt.Errorf("persistence data not exists")

// DocumentStore 把数据保存为配置文档中的一个顶层字段（section），
// 文档中其它字段原样保留。按扩展名选择 JSON 或 YAML。
type DocumentStore struct {
	path    string
	section string
	yaml    bool
	mu      sync.Mutex
}

// NewDocumentStore 创建文档存储
func NewDocumentStore(path, section string) (*DocumentStore, error) {
	ext := strings.ToLower(filepath.Ext(path))
	s := &DocumentStore{path: path, section: section}
	switch ext {
	case ".json":
	case ".yaml", ".yml":
		s.yaml = true
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return s, nil
}

// Path 文档路径
func (s *DocumentStore) Path() string { return s.path }

// Save 保存数据
func (s *DocumentStore) Save(data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger.Debugf("[persistence] Save: path=%s section=%s", s.path, s.section)

	raw, mode, err := s.read()
	if err != nil && err != ErrNotExists {
		return err
	}

	var out []byte
	if s.yaml {
		out, err = s.mergeYAML(raw, data)
	} else {
		out, err = s.mergeJSON(raw, data)
	}
	if err != nil {
		return err
	}
	return writeAtomic(s.path, out, mode)
}

// Load 加载数据
func (s *DocumentStore) Load(data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger.Debugf("[persistence] Load: path=%s section=%s", s.path, s.section)

	raw, _, err := s.read()
	if err != nil {
		return err
	}

	if s.yaml {
		var doc yaml.Node
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("解析 YAML 文档失败: %w", err)
		}
		_, value := findYAMLKey(rootMapping(&doc), s.section)
		if value == nil {
			return ErrNotExists
		}
		return value.Decode(data)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("解析 JSON 文档失败: %w", err)
	}
	value, ok := doc[s.section]
	if !ok || string(value) == "null" {
		return ErrNotExists
	}
	return json.Unmarshal(value, data)
}

func (s *DocumentStore) read() ([]byte, os.FileMode, error) {
	mode := os.FileMode(0o644)
	fi, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, mode, ErrNotExists
		}
		return nil, mode, err
	}
	mode = fi.Mode().Perm()
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, mode, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, mode, ErrNotExists
	}
	return b, mode, nil
}

func (s *DocumentStore) mergeJSON(raw []byte, data interface{}) ([]byte, error) {
	doc := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("解析 JSON 文档失败: %w", err)
		}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	doc[s.section] = b
	out, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func (s *DocumentStore) mergeYAML(raw []byte, data interface{}) ([]byte, error) {
	var doc yaml.Node
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("解析 YAML 文档失败: %w", err)
		}
	}
	root := rootMapping(&doc)
	if root == nil {
		root = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}
	}

	var value yaml.Node
	if err := value.Encode(data); err != nil {
		return nil, err
	}

	if _, existing := findYAMLKey(root, s.section); existing != nil {
		// 保留原字段位置与注释
		value.HeadComment = existing.HeadComment
		value.LineComment = existing.LineComment
		*existing = value
	} else {
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s.section},
			&value,
		)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func rootMapping(doc *yaml.Node) *yaml.Node {
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 && doc.Content[0].Kind == yaml.MappingNode {
		return doc.Content[0]
	}
	return nil
}

func findYAMLKey(m *yaml.Node, key string) (*yaml.Node, *yaml.Node) {
	if m == nil {
		return nil, nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i], m.Content[i+1]
		}
	}
	return nil, nil
}

// writeAtomic 写临时文件后 rename，避免半写文件
func writeAtomic(path string, b []byte, mode os.FileMode) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, mode); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// MemoryStore 内存存储（dry-run / 测试用），以 JSON 形式保存快照
type MemoryStore struct {
	mu      sync.Mutex
	data    []byte
	SaveErr error // 非 nil 时 Save 直接返回该错误
	Saves   int
}

// Save 保存数据
func (m *MemoryStore) Save(data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	m.data = b
	m.Saves++
	return nil
}

// Load 加载数据
func (m *MemoryStore) Load(data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return ErrNotExists
	}
	return json.Unmarshal(m.data, data)
}
