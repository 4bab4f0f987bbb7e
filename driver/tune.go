package driver

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Tuning 可热更新的链路参数，nil 字段表示不修改
type Tuning struct {
	LatencyMs          *int64   `json:"latencyMs,omitempty"`
	PacketLoss         *float64 `json:"packetLoss,omitempty"`
	ClientToServerLoss *float64 `json:"clientToServerLoss,omitempty"`
	ServerToClientLoss *float64 `json:"serverToClientLoss,omitempty"`
}

// Tuning 当前生效的参数。
// 模拟模式报告两个方向的丢包；真实模式只报告本端发送方向。
func (s *Session) Tuning() Tuning {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t Tuning
	switch {
	case s.link != nil:
		c := s.link.Config()
		t.LatencyMs = ptr(c.Latency.Milliseconds())
		t.ClientToServerLoss = ptr(c.ClientToServerLoss)
		t.ServerToClientLoss = ptr(c.ServerToClientLoss)
	case s.clientConn != nil:
		t.LatencyMs = ptr(s.clientConn.Latency().Milliseconds())
		t.PacketLoss = ptr(s.clientConn.PacketLoss())
		t.ClientToServerLoss = ptr(s.clientConn.PacketLoss())
	case s.serverConn != nil:
		t.LatencyMs = ptr(s.serverConn.Latency().Milliseconds())
		t.PacketLoss = ptr(s.serverConn.PacketLoss())
		t.ServerToClientLoss = ptr(s.serverConn.PacketLoss())
	}
	return t
}

// Tune 校验后原子地应用 t；任一字段非法时不做任何修改
func (s *Session) Tune(t Tuning) error {
	if err := t.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.clientConn != nil && t.ServerToClientLoss != nil:
		return errors.New("server to client loss is emulated by the server process")
	case s.serverConn != nil && t.ClientToServerLoss != nil:
		return errors.New("client to server loss is emulated by the client process")
	}

	var latency *time.Duration
	if t.LatencyMs != nil {
		d := time.Duration(*t.LatencyMs) * time.Millisecond
		latency = &d
	}

	switch {
	case s.link != nil:
		c := s.link.Config()
		c2s, s2c := c.ClientToServerLoss, c.ServerToClientLoss
		if t.PacketLoss != nil {
			c2s, s2c = *t.PacketLoss, *t.PacketLoss
		}
		if t.ClientToServerLoss != nil {
			c2s = *t.ClientToServerLoss
		}
		if t.ServerToClientLoss != nil {
			s2c = *t.ServerToClientLoss
		}
		if latency != nil {
			s.link.SetLatency(*latency)
		}
		s.link.SetLoss(c2s, s2c)
	case s.clientConn != nil:
		if latency != nil {
			s.clientConn.SetLatency(*latency)
		}
		if loss := firstSet(t.ClientToServerLoss, t.PacketLoss); loss != nil {
			s.clientConn.SetPacketLoss(*loss)
		}
	case s.serverConn != nil:
		if latency != nil {
			s.serverConn.SetLatency(*latency)
		}
		if loss := firstSet(t.ServerToClientLoss, t.PacketLoss); loss != nil {
			s.serverConn.SetPacketLoss(*loss)
		}
	}
	s.log.Infow("link tuned", "tuning", t.String())
	return nil
}

func (t Tuning) validate() error {
	var errs []error
	if t.LatencyMs != nil && *t.LatencyMs < 0 {
		errs = append(errs, errors.New("latencyMs must not be negative"))
	}
	for name, v := range map[string]*float64{
		"packetLoss":         t.PacketLoss,
		"clientToServerLoss": t.ClientToServerLoss,
		"serverToClientLoss": t.ServerToClientLoss,
	} {
		if v != nil && (math.IsNaN(*v) || *v < 0 || *v > 100) {
			errs = append(errs, fmt.Errorf("%s %.2f out of range [0,100]", name, *v))
		}
	}
	return errors.Join(errs...)
}

func (t Tuning) String() string {
	return fmt.Sprintf("latencyMs=%s packetLoss=%s c2s=%s s2c=%s",
		show(t.LatencyMs), show(t.PacketLoss), show(t.ClientToServerLoss), show(t.ServerToClientLoss))
}

func show[T any](p *T) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprint(*p)
}

func ptr[T any](v T) *T { return &v }

func firstSet(vs ...*float64) *float64 {
	for _, v := range vs {
		if v != nil {
			return v
		}
	}
	return nil
}

