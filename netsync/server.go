package netsync

import (
	"time"

	"cubesync/sim"
)

// ServerConn 服务端侧的真实连接：接收唯一客户端的输入，经延迟门放行后
// 推进权威模拟，并把纠正回送给客户端（回程不再经过延迟门）
type ServerConn struct {
	endpoint
	server *sim.Server
	now    time.Duration
}

// NewServerConn t 为 nil 时连接处于降级状态
func NewServerConn(cfg ConnConfig, t Transport, server *sim.Server, opts Options) *ServerConn {
	return &ServerConn{
		endpoint: newEndpoint(cfg, t, opts),
		server:   server,
	}
}

// OpenServer 绑定 local 并以 client 为唯一对端；失败语义同 OpenClient
func OpenServer(cfg ConnConfig, local, client string, server *sim.Server, opts Options) (*ServerConn, error) {
	opts = opts.withDefaults()
	t, err := ListenUDP(local, client)
	if err != nil {
		opts.Log.Errorw("failed to open server socket", "local", local, "client", client, "error", err)
		return NewServerConn(cfg, nil, server, opts), err
	}
	opts.Log.Infow("server socket open", "local", t.LocalAddr().String(), "client", client)
	return NewServerConn(cfg, t, server, opts), nil
}

// Update 每帧调用一次，now 为服务端墙钟
func (s *ServerConn) Update(now time.Duration) {
	s.now = now

	if ev := s.poll(KindInput); ev != nil {
		m := ev.meta()
		m.ServerTime = now
		m.ServerStep = s.server.Time
		s.hold(ev, now)
	}

	if ev := s.gate.Release(now, s.cfg.Latency); ev != nil {
		m := ev.meta()
		m.ServerTime = now
		m.ServerStep = s.server.Time
		s.metrics.IncReleased()
		s.rec.Record(recordOf(ClientToServer, PhaseRelease, ev))
		Dispatch(s, ev)
	}
}

func (s *ServerConn) OnInput(ev *InputReport) {
	s.server.Update(ev.Step, ev.Input, ev.Moves)

	corr := NewSyncCorrection(s.server, ev.Input)
	corr.ServerTime = s.now
	corr.ServerStep = s.server.Time
	s.send(corr)

	s.log.Debugw("server applied input",
		"step", corr.Step,
		"client_step", ev.ClientStep,
		"position", corr.State.Position,
		"input_jump", ev.Input.Jump,
	)
}

func (s *ServerConn) OnSync(ev *SyncCorrection) {
	s.log.Warnw("server ignored sync correction", "step", ev.Step)
}
