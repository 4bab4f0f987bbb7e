package netsync

import (
	"math"
	"time"

	"go.uber.org/zap"

	"cubesync/sim"
)

// DefaultTickDuration 与 sim.Timestep 一致的离散步长
const DefaultTickDuration = 10 * time.Millisecond

// LinkConfig 模拟链路参数
type LinkConfig struct {
	Latency            time.Duration // 单向延迟
	TickDuration       time.Duration // 离散步长，用于把延迟折算成步数
	ClientToServerLoss float64       // 百分比
	ServerToClientLoss float64       // 百分比
}

// SimulatedLink 进程内模拟的双向有损、有延迟链路。
// 客户端向服务端发送输入流，服务端回送纠正流，与离散模拟时钟同步推进。
type SimulatedLink struct {
	cfg LinkConfig

	client *sim.Client
	server *sim.Server

	log     *zap.SugaredLogger
	rec     Recorder
	metrics *Metrics
	loss    *LossRoller

	// OnCorrection 客户端应用纠正后调用（可为空）
	OnCorrection func(ev *SyncCorrection)

	clientToServer []Event
	serverToClient []Event

	time uint32
}

func NewSimulatedLink(cfg LinkConfig, client *sim.Client, server *sim.Server, opts Options) *SimulatedLink {
	if cfg.TickDuration <= 0 {
		cfg.TickDuration = DefaultTickDuration
	}
	opts = opts.withDefaults()
	return &SimulatedLink{
		cfg:     cfg,
		client:  client,
		server:  server,
		log:     opts.Log,
		rec:     opts.Recorder,
		metrics: opts.Metrics,
		loss:    opts.Loss,
	}
}

func (l *SimulatedLink) Config() LinkConfig { return l.cfg }

// SetLatency 两次 Update 之间热更新延迟；已入队事件的投递步不变
func (l *SimulatedLink) SetLatency(d time.Duration) {
	if d < 0 {
		d = 0
	}
	l.cfg.Latency = d
}

// SetLoss 热更新两个方向的丢包率
func (l *SimulatedLink) SetLoss(clientToServer, serverToClient float64) {
	l.cfg.ClientToServerLoss = clientToServer
	l.cfg.ServerToClientLoss = serverToClient
}

func (l *SimulatedLink) Metrics() *Metrics { return l.metrics }

// Step 链路当前的步数
func (l *SimulatedLink) Step() uint32 { return l.time }

// Pending 某方向上尚未到期的事件数
func (l *SimulatedLink) Pending(dir Direction) int {
	return len(*l.queue(dir))
}

// DelaySteps 延迟折算的步数
func (l *SimulatedLink) DelaySteps() uint32 {
	return uint32(math.Round(float64(l.cfg.Latency) / float64(l.cfg.TickDuration)))
}

// Update 推进到 step：处理两个方向的到期事件，再为客户端生成一条输入上报
func (l *SimulatedLink) Update(step uint32) {
	l.time = step

	l.process(ClientToServer, l.cfg.ClientToServerLoss)
	l.process(ServerToClient, l.cfg.ServerToClientLoss)

	l.Insert(ClientToServer, NewInputReport(l.client))

	l.time++
}

// Insert 打上投递步并追加到对应方向队列
func (l *SimulatedLink) Insert(dir Direction, ev Event) {
	if ev == nil {
		panic("netsync: insert of nil event")
	}
	m := ev.meta()
	m.DeliveryStep = l.time + l.DelaySteps()
	q := l.queue(dir)
	*q = append(*q, ev)
	l.record(dir, PhaseInsert, ev)
}

// process 依次取出到期事件；丢包在投递时判定，被丢弃的事件同样出队
func (l *SimulatedLink) process(dir Direction, lossPercent float64) {
	q := l.queue(dir)
	for len(*q) > 0 {
		ev := (*q)[0]
		if ev.meta().DeliveryStep > l.time {
			return
		}
		(*q)[0] = nil
		*q = (*q)[1:]

		if l.loss.Chance(lossPercent) {
			l.metrics.IncLinkLost()
			l.record(dir, PhaseLost, ev)
			continue
		}
		l.metrics.IncLinkDelivered()
		l.record(dir, PhaseRelease, ev)
		Dispatch(l, ev)
	}
}

// OnInput 服务端收到输入：推进权威模拟并回送纠正
func (l *SimulatedLink) OnInput(ev *InputReport) {
	l.server.Update(ev.Step, ev.Input, ev.Moves)
	corr := NewSyncCorrection(l.server, ev.Input)
	l.Insert(ServerToClient, corr)
	st := corr.State
	l.log.Debugw("server applied input",
		"step", corr.Step,
		"position", st.Position,
		"orientation", st.Orientation,
		"input_jump", ev.Input.Jump,
		"moves", len(ev.Moves),
	)
}

// OnSync 客户端收到纠正
func (l *SimulatedLink) OnSync(ev *SyncCorrection) {
	l.client.Synchronize(ev.Step, ev.State, ev.Input)
	if l.OnCorrection != nil {
		l.OnCorrection(ev)
	}
}

func (l *SimulatedLink) queue(dir Direction) *[]Event {
	if dir == ServerToClient {
		return &l.serverToClient
	}
	return &l.clientToServer
}

func (l *SimulatedLink) record(dir Direction, phase Phase, ev Event) {
	r := recordOf(dir, phase, ev)
	r.LinkStep = l.time
	l.rec.Record(r)
}
