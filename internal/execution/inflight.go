package execution

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

// DefaultRequestTTL 请求 id 的最长占用时间，超过后即便未释放也允许再次进入
const DefaultRequestTTL = 2 * time.Minute

// ErrDuplicateInFlight 同一请求 id 仍在处理中
var ErrDuplicateInFlight = errors.New("duplicate in-flight request")

// InFlightDeduper 按请求 id 去重：同一 id 的第二个请求在第一个完成前被拒绝。
// 分片 map + 惰性过期清理；不会误判不同的 id。
type InFlightDeduper struct {
	ttl    time.Duration
	now    func() time.Time
	shards []inFlightShard
}

type inFlightShard struct {
	mu sync.Mutex
	m  map[string]time.Time // key -> expiresAt
}

// NewInFlightDeduper 创建去重器
func NewInFlightDeduper(ttl time.Duration, shardCount int) *InFlightDeduper {
	if ttl <= 0 {
		ttl = DefaultRequestTTL
	}
	if shardCount <= 0 {
		shardCount = 32
	}
	shards := make([]inFlightShard, shardCount)
	for i := range shards {
		shards[i].m = make(map[string]time.Time)
	}
	return &InFlightDeduper{ttl: ttl, now: time.Now, shards: shards}
}

// TryAcquire 占用 key。空 key 不参与去重。
func (d *InFlightDeduper) TryAcquire(key string) error {
	if d == nil || key == "" {
		return nil
	}
	now := d.now()
	sh := d.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for k, exp := range sh.m {
		if !exp.After(now) {
			delete(sh.m, k)
		}
	}
	if _, ok := sh.m[key]; ok {
		return ErrDuplicateInFlight
	}
	sh.m[key] = now.Add(d.ttl)
	return nil
}

// Release 请求处理完成后释放 key
func (d *InFlightDeduper) Release(key string) {
	if d == nil || key == "" {
		return
	}
	sh := d.shard(key)
	sh.mu.Lock()
	delete(sh.m, key)
	sh.mu.Unlock()
}

// Len 当前占用数（含尚未清理的过期项）
func (d *InFlightDeduper) Len() int {
	if d == nil {
		return 0
	}
	n := 0
	for i := range d.shards {
		d.shards[i].mu.Lock()
		n += len(d.shards[i].m)
		d.shards[i].mu.Unlock()
	}
	return n
}

func (d *InFlightDeduper) shard(key string) *inFlightShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &d.shards[h.Sum32()%uint32(len(d.shards))]
}
