package netsync

import (
	"fmt"
	"strings"
	"time"
)

// OverflowPolicy 暂存区已满时对新到达事件的处理策略
type OverflowPolicy uint8

const (
	// OverflowQueue 全部保留，先进先出，无上限
	OverflowQueue OverflowPolicy = iota
	// OverflowDropNewest 有界；满时丢弃新到达的事件（保留最旧）
	OverflowDropNewest
	// OverflowDropOldest 有界先进先出；满时淘汰队首（新者胜出）
	OverflowDropOldest
)

// DefaultGateCapacity 有界策略的默认容量
const DefaultGateCapacity = 8

// CapacityFor 延迟 latency 下每 frame 到达一条时，容量至少要容纳全部在途事件，
// 否则事件在满足延迟前就会被淘汰
func CapacityFor(configured int, latency, frame time.Duration) int {
	if configured <= 0 {
		configured = DefaultGateCapacity
	}
	if frame <= 0 || latency <= 0 {
		return configured
	}
	inFlight := int((latency+frame-1)/frame) + 1
	return max(configured, inFlight)
}

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowQueue:
		return "queue"
	case OverflowDropNewest:
		return "drop-newest"
	case OverflowDropOldest:
		return "drop-oldest"
	default:
		return "unknown"
	}
}

// ParseOverflowPolicy 解析配置中的策略名
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queue":
		return OverflowQueue, nil
	case "drop-newest", "keep-oldest":
		return OverflowDropNewest, nil
	case "drop-oldest", "keep-newest", "":
		return OverflowDropOldest, nil
	default:
		return 0, fmt.Errorf("unknown overflow policy %q", s)
	}
}

type held struct {
	ev      Event
	arrived time.Duration
}

// Gate 延迟门：收到的事件先暂存，经过 latency 的墙钟时间后才放行，每次最多放行一个
type Gate struct {
	policy   OverflowPolicy
	capacity int
	items    []held
}

// NewGate capacity <= 0 时使用 DefaultGateCapacity；OverflowQueue 忽略容量
func NewGate(policy OverflowPolicy, capacity int) *Gate {
	if capacity <= 0 {
		capacity = DefaultGateCapacity
	}
	return &Gate{policy: policy, capacity: capacity}
}

func (g *Gate) Len() int { return len(g.items) }

func (g *Gate) Policy() OverflowPolicy { return g.policy }

func (g *Gate) Capacity() int { return g.capacity }

// SetCapacity 调整有界策略的容量；缩小时多出的事件在下一次 Push 时按策略处理
func (g *Gate) SetCapacity(capacity int) {
	if capacity <= 0 {
		capacity = DefaultGateCapacity
	}
	g.capacity = capacity
}

// Push 以到达时间 arrived 暂存事件。
// 返回因溢出被丢弃的事件（可能是 ev 本身），没有则为 nil。
func (g *Gate) Push(ev Event, arrived time.Duration) (dropped Event) {
	if ev == nil {
		panic("netsync: push of nil event")
	}
	switch {
	case g.policy == OverflowDropNewest && len(g.items) >= g.capacity:
		return ev
	case g.policy == OverflowDropOldest:
		// 容量缩小后可能需要连续淘汰，只返回最后一个
		for len(g.items) >= g.capacity {
			dropped = g.items[0].ev
			g.items[0] = held{}
			g.items = g.items[1:]
		}
	}
	g.items = append(g.items, held{ev: ev, arrived: arrived})
	return dropped
}

// Release 队首事件已等待满 latency 时将其取出，否则返回 nil
func (g *Gate) Release(now, latency time.Duration) Event {
	if len(g.items) == 0 {
		return nil
	}
	front := g.items[0]
	if now-front.arrived < latency {
		return nil
	}
	g.items[0] = held{}
	g.items = g.items[1:]
	return front.ev
}
