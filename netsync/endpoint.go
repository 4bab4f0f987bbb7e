package netsync

import (
	"time"

	"go.uber.org/zap"
)

// ConnConfig 真实链路一端的参数
type ConnConfig struct {
	Latency       time.Duration  // 收到的事件至少暂存这么久才生效
	PacketLoss    float64        // 发送端额外模拟的丢包百分比
	Policy        OverflowPolicy // 暂存区溢出策略
	GateCapacity  int            // 有界策略的最小容量
	FrameInterval time.Duration  // 对端帧间隔，即数据报到达的节奏
}

// DefaultFrameInterval 未配置帧间隔时的假定值
const DefaultFrameInterval = 16 * time.Millisecond

// gateCapacity 暂存区容量：不少于配置值，也不少于延迟期间的在途事件数
func (c ConnConfig) gateCapacity() int {
	frame := c.FrameInterval
	if frame <= 0 {
		frame = DefaultFrameInterval
	}
	return CapacityFor(c.GateCapacity, c.Latency, frame)
}

// endpoint 客户端与服务端连接共用的收发与暂存逻辑
type endpoint struct {
	cfg       ConnConfig
	transport Transport
	gate      *Gate
	buf       []byte

	log     *zap.SugaredLogger
	rec     Recorder
	metrics *Metrics
	loss    *LossRoller

	malformed int64 // 本端丢弃的格式错误数据报，用于限流告警
}

// malformedLogEvery 格式错误的数据报只在首次及每这么多次时告警
const malformedLogEvery = 1000

func newEndpoint(cfg ConnConfig, t Transport, opts Options) endpoint {
	opts = opts.withDefaults()
	return endpoint{
		cfg:       cfg,
		transport: t,
		gate:      NewGate(cfg.Policy, cfg.gateCapacity()),
		buf:       make([]byte, 1500),
		log:       opts.Log,
		rec:       opts.Recorder,
		metrics:   opts.Metrics,
		loss:      opts.Loss,
	}
}

// Degraded 传输不可用时为 true，此时收发均为空操作
func (e *endpoint) Degraded() bool { return e.transport == nil }

func (e *endpoint) Metrics() *Metrics { return e.metrics }

// Pending 暂存区中等待放行的事件数
func (e *endpoint) Pending() int { return e.gate.Len() }

func (e *endpoint) Latency() time.Duration { return e.cfg.Latency }

func (e *endpoint) SetLatency(d time.Duration) {
	if d < 0 {
		d = 0
	}
	e.cfg.Latency = d
	e.gate.SetCapacity(e.cfg.gateCapacity())
}

// GateCapacity 暂存区当前容量
func (e *endpoint) GateCapacity() int { return e.gate.Capacity() }

func (e *endpoint) PacketLoss() float64 { return e.cfg.PacketLoss }

func (e *endpoint) SetPacketLoss(p float64) { e.cfg.PacketLoss = p }

func (e *endpoint) Close() error {
	if e.transport == nil {
		return nil
	}
	return e.transport.Close()
}

// poll 非阻塞地读取一条数据报并校验；非对端来源或格式错误的数据报被丢弃
func (e *endpoint) poll(want Kind) Event {
	if e.transport == nil {
		return nil
	}
	n, from, ok := e.transport.TryReceive(e.buf)
	if !ok {
		return nil
	}
	if peer := e.transport.Peer(); from == nil || from.String() != peer.String() {
		e.metrics.IncForeign()
		e.log.Debugw("dropped datagram from unknown sender", "from", from, "peer", peer, "size", n)
		return nil
	}
	ev, err := DecodeAs(e.buf[:n], want)
	if err != nil {
		e.metrics.IncMalformed()
		e.malformed++
		if e.malformed == 1 || e.malformed%malformedLogEvery == 0 {
			e.log.Warnw("dropped malformed datagram", "count", e.malformed, "error", err)
		} else {
			e.log.Debugw("dropped malformed datagram", "error", err)
		}
		return nil
	}
	e.metrics.IncReceived()
	return ev
}

func (e *endpoint) hold(ev Event, arrived time.Duration) {
	if dropped := e.gate.Push(ev, arrived); dropped != nil {
		e.metrics.IncEvicted()
		e.log.Debugw("holding area overflow",
			"policy", e.gate.Policy().String(),
			"kind", dropped.Kind().String(),
			"step", stepOf(dropped),
		)
	}
}

// send 丢包判定后发送；丢失即永久丢失，不重试
func (e *endpoint) send(ev Event) {
	if e.transport == nil {
		return
	}
	if e.loss.Chance(e.cfg.PacketLoss) {
		e.metrics.IncSendLost()
		return
	}
	b, err := Encode(ev)
	if err != nil {
		e.log.Errorw("encode event", "kind", ev.Kind().String(), "error", err)
		return
	}
	if err := e.transport.Send(b); err != nil {
		e.log.Warnw("send datagram", "error", err)
		return
	}
	e.metrics.IncSent()
}
