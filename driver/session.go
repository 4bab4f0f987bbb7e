package driver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cubesync/config"
	"cubesync/netsync"
	"cubesync/sim"
)

// maxCatchUpSteps 单帧最多补推的离散步数，超出部分丢弃并计入 skipped_steps
const maxCatchUpSteps = 25

// Session 一次运行的全部状态：按模式持有模拟链路或一端真实连接。
// 所有推进都在 Advance 中完成，管理接口的调参通过同一把锁与其串行。
type Session struct {
	mu sync.Mutex

	cfg     config.Config
	log     *zap.SugaredLogger
	metrics *netsync.Metrics
	frames  FrameMetrics
	autokey *sim.Autokey

	client *sim.Client
	server *sim.Server

	link       *netsync.SimulatedLink
	clientConn *netsync.ClientConn
	serverConn *netsync.ServerConn

	step        uint32        // 模拟模式的离散步数
	accumulator time.Duration // 模拟模式未消耗的墙钟时间
	last        time.Duration
}

// NewSession 按 cfg.Mode 组装会话。真实模式下套接字绑定失败返回错误，调用方应退出。
func NewSession(cfg config.Config, opts netsync.Options) (*Session, error) {
	s, opts, err := newSession(cfg, opts)
	if err != nil {
		return nil, err
	}

	switch cfg.Mode {
	case config.ModeSim:
		s.client = sim.NewClient()
		s.server = sim.NewServer()
		s.link = netsync.NewSimulatedLink(cfg.Link(), s.client, s.server, opts)
		s.link.OnCorrection = func(ev *netsync.SyncCorrection) {
			s.log.Debugw("client applied correction", "step", ev.Step, "position", ev.State.Position)
		}
	case config.ModeServer:
		s.server = sim.NewServer()
		s.serverConn, err = netsync.OpenServer(cfg.Conn(), cfg.ServerAddr, cfg.ClientAddr, s.server, opts)
	case config.ModeClient:
		s.client = sim.NewClient()
		s.clientConn, err = netsync.OpenClient(cfg.Conn(), cfg.ClientAddr, cfg.ServerAddr, s.client, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", cfg.Mode, err)
	}
	s.log.Infow("session ready",
		"mode", cfg.Mode,
		"latency", cfg.Latency,
		"packet_loss", cfg.PacketLoss,
		"gate_policy", cfg.GatePolicy,
		"autokey", s.autokey != nil,
	)
	return s, nil
}

// NewSessionWithTransport 真实模式下使用给定的传输，t 为 nil 时连接处于降级状态
func NewSessionWithTransport(cfg config.Config, t netsync.Transport, opts netsync.Options) (*Session, error) {
	if cfg.Mode == config.ModeSim {
		return nil, errors.New("simulated mode has no transport")
	}
	s, opts, err := newSession(cfg, opts)
	if err != nil {
		return nil, err
	}
	if cfg.Mode == config.ModeServer {
		s.server = sim.NewServer()
		s.serverConn = netsync.NewServerConn(cfg.Conn(), t, s.server, opts)
	} else {
		s.client = sim.NewClient()
		s.clientConn = netsync.NewClientConn(cfg.Conn(), t, s.client, opts)
	}
	return s, nil
}

func newSession(cfg config.Config, opts netsync.Options) (*Session, netsync.Options, error) {
	if err := cfg.Validate(); err != nil {
		return nil, opts, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	if opts.Metrics == nil {
		opts.Metrics = &netsync.Metrics{}
	}
	if opts.Loss == nil {
		opts.Loss = netsync.NewLossRoller(cfg.Seed)
	}
	s := &Session{
		cfg:     cfg,
		log:     opts.Log,
		metrics: opts.Metrics,
		last:    -1,
	}
	// 服务端没有本地输入
	if cfg.Autokey && cfg.Mode != config.ModeServer {
		s.autokey = &sim.Autokey{}
	}
	return s, opts, nil
}

func (s *Session) Mode() string { return s.cfg.Mode }

// SetInput 覆盖客户端输入（关闭 autokey 时由外部驱动）
func (s *Session) SetInput(in sim.Input) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Input = in
	}
}

// Advance 推进到墙钟 now（相对会话开始）。
// 模拟模式按固定步长消耗累计时间；真实模式每帧调用一次连接的 Update。
func (s *Session) Advance(now time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last >= 0 && now <= s.last {
		return
	}
	delta := now
	if s.last >= 0 {
		delta = now - s.last
	}
	s.last = now

	start := time.Now()
	if s.autokey != nil && s.client != nil {
		s.client.Input = s.autokey.Sample(now)
	}

	switch {
	case s.link != nil:
		s.accumulator += delta
		tick := s.cfg.TickDuration
		n := int64(0)
		for s.accumulator >= tick {
			if n == maxCatchUpSteps {
				skipped := int64(s.accumulator / tick)
				s.frames.AddSkipped(skipped)
				s.log.Warnw("simulation fell behind, dropping steps", "skipped", skipped)
				s.accumulator %= tick
				break
			}
			// 顺序：链路 → 客户端预测
			s.link.Update(s.step)
			s.client.Update(s.step)
			s.accumulator -= tick
			s.step++
			n++
		}
		s.frames.AddSteps(n)
	case s.clientConn != nil:
		step := s.clientConn.Step()
		s.clientConn.Update(now)
		s.client.Update(step)
		s.frames.AddSteps(1)
	case s.serverConn != nil:
		s.serverConn.Update(now)
		s.frames.AddSteps(1)
	}
	s.frames.AddFrame(time.Since(start).Nanoseconds())
}

// Step 已推进的离散步数
func (s *Session) Step() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.clientConn != nil:
		return s.clientConn.Step()
	case s.serverConn != nil:
		return s.server.Time
	}
	return s.step
}

// ClientState 客户端当前状态；服务端模式下 ok 为 false
func (s *Session) ClientState() (st sim.State, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return sim.State{}, false
	}
	return s.client.State(), true
}

// ServerState 服务端当前状态；客户端模式下 ok 为 false
func (s *Session) ServerState() (st sim.State, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return sim.State{}, false
	}
	return s.server.State(), true
}

// Snapshot 会话与链路指标
func (s *Session) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]any{
		"mode":    s.cfg.Mode,
		"frame":   s.frames.Snapshot(),
		"netsync": s.metrics.Snapshot(),
	}
	if s.client != nil {
		out["corrections"] = s.client.Corrections()
	}
	if s.server != nil {
		out["server_updates"] = s.server.Updates()
	}
	switch {
	case s.link != nil:
		out["step"] = s.step
		out["pending"] = map[string]int{
			netsync.ClientToServer.String(): s.link.Pending(netsync.ClientToServer),
			netsync.ServerToClient.String(): s.link.Pending(netsync.ServerToClient),
		}
	case s.clientConn != nil:
		out["step"] = s.clientConn.Step()
		out["pending"] = s.clientConn.Pending()
		out["degraded"] = s.clientConn.Degraded()
	case s.serverConn != nil:
		out["step"] = s.server.Time
		out["pending"] = s.serverConn.Pending()
		out["degraded"] = s.serverConn.Degraded()
	}
	return out
}

// Close 释放套接字
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.clientConn != nil:
		return s.clientConn.Close()
	case s.serverConn != nil:
		return s.serverConn.Close()
	}
	return nil
}
