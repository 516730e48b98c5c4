package symbolmap

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/betbot/orderbridge/pkg/persistence"
)

var mapLog = logrus.WithField("component", "symbolmap")

var (
	ErrEmptySymbol  = errors.New("symbol mapping: 外部品种和场所品种都不能为空")
	ErrInvalidRatio = errors.New("symbol mapping: volume_ratio 必须大于 0")
	ErrNotFound     = errors.New("symbol mapping: 映射不存在")
)

// snapshot 不可变的映射表快照；读路径无锁
type snapshot struct {
	order   []string
	forward map[string]Mapping
	reverse map[string]string
}

func newSnapshot(t Table) *snapshot {
	s := &snapshot{
		order:   make([]string, 0, len(t)),
		forward: make(map[string]Mapping, len(t)),
		reverse: make(map[string]string, len(t)),
	}
	for _, e := range t {
		if e.External == "" {
			continue
		}
		if _, seen := s.forward[e.External]; !seen {
			s.order = append(s.order, e.External)
		}
		s.forward[e.External] = e.Mapping
	}
	// 反向索引：同一个场所品种只记录最早注册的外部品种
	for _, ext := range s.order {
		venue := s.forward[ext].VenueSymbol
		if _, ok := s.reverse[venue]; !ok {
			s.reverse[venue] = ext
		}
	}
	return s
}

func (s *snapshot) table() Table {
	t := make(Table, 0, len(s.order))
	for _, ext := range s.order {
		t = append(t, Entry{External: ext, Mapping: s.forward[ext]})
	}
	return t
}

// match 精确匹配优先，否则取被 external 包含的最长 key（等长取先注册者）
func (s *snapshot) match(external string) (string, bool) {
	if _, ok := s.forward[external]; ok {
		return external, true
	}
	best := ""
	for _, key := range s.order {
		if len(key) > len(best) && strings.Contains(external, key) {
			best = key
		}
	}
	return best, best != ""
}

// Translator 外部品种 <-> 场所品种 的双向映射，附带手数比例
type Translator struct {
	store persistence.Store
	mu    sync.Mutex // 单写者
	snap  atomic.Pointer[snapshot]
}

// New 创建映射器并从 store 加载；store 中没有数据时使用空表
func New(store persistence.Store) (*Translator, error) {
	t := &Translator{store: store}
	t.snap.Store(newSnapshot(nil))
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// NewWithTable 使用给定初始表创建（不写 store）
func NewWithTable(store persistence.Store, table Table) *Translator {
	t := &Translator{store: store}
	t.snap.Store(newSnapshot(table))
	return t
}

// Reload 重新从 store 读取映射表
func (t *Translator) Reload() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.store == nil {
		return nil
	}
	var table Table
	if err := t.store.Load(&table); err != nil {
		if errors.Is(err, persistence.ErrNotExists) {
			mapLog.Warn("未找到 symbol_mapping，使用空映射")
			t.snap.Store(newSnapshot(nil))
			return nil
		}
		return fmt.Errorf("加载符号映射失败: %w", err)
	}
	for i := range table {
		if table[i].VolumeRatio <= 0 {
			mapLog.Warnf("符号映射 %s 的 volume_ratio=%v 无效，按 1.0 处理", table[i].External, table[i].VolumeRatio)
			table[i].VolumeRatio = 1.0
		}
	}
	s := newSnapshot(table)
	t.snap.Store(s)
	mapLog.Infof("已加载 %d 个符号映射关系", len(s.order))
	return nil
}

// Resolve 外部品种 -> (场所品种, 手数比例)。无匹配时原样返回，比例 1.0
func (t *Translator) Resolve(external string) (string, float64) {
	s := t.snap.Load()
	key, ok := s.match(external)
	if !ok {
		mapLog.Debugf("符号映射(无匹配): %s -> %s", external, external)
		return external, 1.0
	}
	m := s.forward[key]
	if key == external {
		mapLog.Debugf("符号映射(精确): %s -> %s", external, m.VenueSymbol)
	} else {
		mapLog.Debugf("符号映射(包含): %s -> %s (匹配key: %s)", external, m.VenueSymbol, key)
	}
	return m.VenueSymbol, m.VolumeRatio
}

// ScaleVolume 按映射比例换算交易量
func (t *Translator) ScaleVolume(external string, volume float64) float64 {
	_, ratio := t.Resolve(external)
	return volume * ratio
}

// Reverse 场所品种 -> 外部品种，无映射时原样返回
func (t *Translator) Reverse(venue string) string {
	if ext, ok := t.snap.Load().reverse[venue]; ok {
		return ext
	}
	return venue
}

// All 返回映射表副本
func (t *Translator) All() map[string]Mapping {
	s := t.snap.Load()
	out := make(map[string]Mapping, len(s.forward))
	for k, v := range s.forward {
		out[k] = v
	}
	return out
}

// Entries 按注册顺序返回映射项
func (t *Translator) Entries() Table {
	return t.snap.Load().table()
}

// Add 新增或覆盖映射并持久化。持久化失败时内存表保持不变。
func (t *Translator) Add(external, venue string, ratio float64) error {
	external, venue = strings.TrimSpace(external), strings.TrimSpace(venue)
	if external == "" || venue == "" {
		return ErrEmptySymbol
	}
	if !(ratio > 0) {
		return ErrInvalidRatio
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	table := t.snap.Load().table()
	replaced := false
	for i := range table {
		if table[i].External == external {
			table[i].Mapping = Mapping{VenueSymbol: venue, VolumeRatio: ratio}
			replaced = true
			break
		}
	}
	if !replaced {
		table = append(table, Entry{External: external, Mapping: Mapping{VenueSymbol: venue, VolumeRatio: ratio}})
	}

	if err := t.commit(table); err != nil {
		return err
	}
	mapLog.Infof("添加符号映射: %s -> %s, 手数比例: %v", external, venue, ratio)
	return nil
}

// Remove 删除映射并持久化；不存在时返回 ErrNotFound
func (t *Translator) Remove(external string) error {
	external = strings.TrimSpace(external)
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.snap.Load()
	if _, ok := cur.forward[external]; !ok {
		return ErrNotFound
	}
	table := make(Table, 0, len(cur.order))
	for _, e := range cur.table() {
		if e.External != external {
			table = append(table, e)
		}
	}

	if err := t.commit(table); err != nil {
		return err
	}
	mapLog.Infof("删除符号映射: %s", external)
	return nil
}

// commit 先持久化，成功后再发布新快照。调用方持有 t.mu
func (t *Translator) commit(table Table) error {
	if t.store != nil {
		if err := t.store.Save(table); err != nil {
			mapLog.Errorf("保存符号映射失败: %v", err)
			return fmt.Errorf("保存符号映射失败: %w", err)
		}
	}
	t.snap.Store(newSnapshot(table))
	return nil
}
