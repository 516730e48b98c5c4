// Package sigchan 合并式通知通道：消费之前的多次 Emit 只保留一次。
package sigchan

// Chan 不携带数据的通知
type Chan struct {
	c chan struct{}
}

// New 创建容量为 1 的通知通道
func New() *Chan {
	return &Chan{c: make(chan struct{}, 1)}
}

// Emit 发送通知，不阻塞；已有未消费的通知时丢弃本次
func (s *Chan) Emit() {
	select {
	case s.c <- struct{}{}:
	default:
	}
}

// C 用于 select
func (s *Chan) C() <-chan struct{} {
	return s.c
}
