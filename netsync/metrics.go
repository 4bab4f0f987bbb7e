package netsync

import (
	"sync/atomic"
)

// Metrics 连接运行期的关键计数（用于监控与调试，可被 admin 接口并发读取）
type Metrics struct {
	Sent          int64 // 实际交给传输层的数据报
	SendLost      int64 // 发送端模拟丢包
	Received      int64 // 收到并通过校验的数据报
	Malformed     int64 // 校验失败被丢弃
	Foreign       int64 // 来自非对端地址
	Evicted       int64 // 暂存区溢出淘汰
	Released      int64 // 经延迟门放行并执行
	LinkDelivered int64 // 模拟链路：到期并执行
	LinkLost      int64 // 模拟链路：到期但被丢弃
}

func (m *Metrics) IncSent()          { atomic.AddInt64(&m.Sent, 1) }
func (m *Metrics) IncSendLost()      { atomic.AddInt64(&m.SendLost, 1) }
func (m *Metrics) IncReceived()      { atomic.AddInt64(&m.Received, 1) }
func (m *Metrics) IncMalformed()     { atomic.AddInt64(&m.Malformed, 1) }
func (m *Metrics) IncForeign()       { atomic.AddInt64(&m.Foreign, 1) }
func (m *Metrics) IncEvicted()       { atomic.AddInt64(&m.Evicted, 1) }
func (m *Metrics) IncReleased()      { atomic.AddInt64(&m.Released, 1) }
func (m *Metrics) IncLinkDelivered() { atomic.AddInt64(&m.LinkDelivered, 1) }
func (m *Metrics) IncLinkLost()      { atomic.AddInt64(&m.LinkLost, 1) }

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"sent":           atomic.LoadInt64(&m.Sent),
		"send_lost":      atomic.LoadInt64(&m.SendLost),
		"received":       atomic.LoadInt64(&m.Received),
		"malformed":      atomic.LoadInt64(&m.Malformed),
		"foreign":        atomic.LoadInt64(&m.Foreign),
		"evicted":        atomic.LoadInt64(&m.Evicted),
		"released":       atomic.LoadInt64(&m.Released),
		"link_delivered": atomic.LoadInt64(&m.LinkDelivered),
		"link_lost":      atomic.LoadInt64(&m.LinkLost),
	}
}
