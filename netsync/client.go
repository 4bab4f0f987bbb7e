package netsync

import (
	"time"

	"cubesync/sim"
)

// ClientConn 客户端侧的真实连接：
// 接收纠正 → 延迟门放行（每次最多一个）→ 发送本步输入 → 步数加一
type ClientConn struct {
	endpoint
	client *sim.Client
	step   uint32
}

// NewClientConn t 为 nil 时连接处于降级状态
func NewClientConn(cfg ConnConfig, t Transport, client *sim.Client, opts Options) *ClientConn {
	return &ClientConn{
		endpoint: newEndpoint(cfg, t, opts),
		client:   client,
	}
}

// OpenClient 绑定 local 并以 server 为对端。
// 绑定失败时记录一次错误并返回降级连接与该错误，调用方应视为致命。
func OpenClient(cfg ConnConfig, local, server string, client *sim.Client, opts Options) (*ClientConn, error) {
	opts = opts.withDefaults()
	t, err := ListenUDP(local, server)
	if err != nil {
		opts.Log.Errorw("failed to open client socket", "local", local, "server", server, "error", err)
		return NewClientConn(cfg, nil, client, opts), err
	}
	opts.Log.Infow("client socket open", "local", t.LocalAddr().String(), "server", server)
	return NewClientConn(cfg, t, client, opts), nil
}

// Step 本地离散步数
func (c *ClientConn) Step() uint32 { return c.step }

// Update 每帧调用一次，now 为本地墙钟
func (c *ClientConn) Update(now time.Duration) {
	if ev := c.poll(KindSync); ev != nil {
		m := ev.meta()
		m.ClientTime = now
		m.ClientStep = c.step
		c.hold(ev, now)
	}

	if ev := c.gate.Release(now, c.cfg.Latency); ev != nil {
		// 记录的是放行时刻而非到达时刻
		m := ev.meta()
		m.ClientTime = now
		m.ClientStep = c.step
		c.metrics.IncReleased()
		c.rec.Record(recordOf(ServerToClient, PhaseRelease, ev))
		Dispatch(c, ev)
	}

	rep := NewInputReport(c.client)
	rep.ClientTime = now
	rep.ClientStep = c.step
	c.send(rep)

	c.step++
}

func (c *ClientConn) OnSync(ev *SyncCorrection) {
	c.client.Synchronize(ev.Step, ev.State, ev.Input)
}

func (c *ClientConn) OnInput(ev *InputReport) {
	c.log.Warnw("client ignored input report", "step", ev.Step)
}
