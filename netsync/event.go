// Package netsync 实现客户端与权威服务端之间的网络同步层：
// 事件模型、进程内模拟链路，以及基于数据报的真实连接。
package netsync

import (
	"time"

	"cubesync/sim"
)

// Kind 事件判别字段（线上对应 kind 字节）
type Kind uint8

const (
	KindInput Kind = iota + 1
	KindSync
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindSync:
		return "sync"
	default:
		return "unknown"
	}
}

// Meta 所有事件共享的投递元数据
type Meta struct {
	// DeliveryStep 仅模拟链路使用：本地步数到达该值后事件才可见
	DeliveryStep uint32

	// 以下字段仅真实链路使用
	ClientTime time.Duration
	ServerTime time.Duration
	ClientStep uint32
	ServerStep uint32
}

// InputReport 客户端每个 Tick 产生的输入上报
type InputReport struct {
	Meta
	Step  uint32
	Input sim.Input
	Moves []sim.Move
}

// SyncCorrection 服务端处理一次输入后回送的权威状态
type SyncCorrection struct {
	Meta
	Step  uint32
	State sim.State
	Input sim.Input // 服务端生成该状态时所应用的输入
}

// Event 封闭的事件变体：只有 *InputReport 与 *SyncCorrection 实现
type Event interface {
	Kind() Kind
	meta() *Meta
}

func (e *InputReport) Kind() Kind     { return KindInput }
func (e *InputReport) meta() *Meta    { return &e.Meta }
func (e *SyncCorrection) Kind() Kind  { return KindSync }
func (e *SyncCorrection) meta() *Meta { return &e.Meta }

// Handler 连接端对两类事件的处理回调
type Handler interface {
	OnInput(ev *InputReport)
	OnSync(ev *SyncCorrection)
}

// Dispatch 将事件交给对应回调，事件在此被消费
func Dispatch(h Handler, ev Event) {
	switch e := ev.(type) {
	case *InputReport:
		if e == nil {
			panic("netsync: dispatch of nil input report")
		}
		h.OnInput(e)
	case *SyncCorrection:
		if e == nil {
			panic("netsync: dispatch of nil sync correction")
		}
		h.OnSync(e)
	default:
		panic("netsync: dispatch of nil event")
	}
}

// NewInputReport 由客户端当前输入与移动历史构造输入上报
func NewInputReport(c *sim.Client) *InputReport {
	return &InputReport{
		Step:  c.Time,
		Input: c.Input,
		Moves: c.History.ImportantMoves(),
	}
}

// NewSyncCorrection 由服务端当前状态构造纠正事件
func NewSyncCorrection(s *sim.Server, applied sim.Input) *SyncCorrection {
	return &SyncCorrection{
		Step:  s.Time,
		State: s.State(),
		Input: applied,
	}
}

func jumpOf(ev Event) bool {
	switch e := ev.(type) {
	case *InputReport:
		return e.Input.Jump
	case *SyncCorrection:
		return e.Input.Jump
	}
	return false
}

func stepOf(ev Event) uint32 {
	switch e := ev.(type) {
	case *InputReport:
		return e.Step
	case *SyncCorrection:
		return e.Step
	}
	return 0
}
