package driver

import (
	"context"
	"time"
)

// Run 按墙钟驱动会话直到 ctx 取消或运行满 RunFor。
// 模拟模式以 TickDuration 为帧间隔，由累加器换算成离散步；真实模式每 FrameDuration 一帧。
func (s *Session) Run(ctx context.Context) error {
	if s.cfg.RunFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunFor)
		defer cancel()
	}

	interval := s.cfg.FrameDuration
	if s.link != nil {
		interval = s.cfg.TickDuration
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	s.Advance(0)
	s.log.Infow("session running", "mode", s.cfg.Mode, "interval", interval, "run_for", s.cfg.RunFor)

	for {
		select {
		case <-ctx.Done():
			s.log.Infow("session stopped", "step", s.Step(), "elapsed", time.Since(start).Round(time.Millisecond))
			return nil
		case t := <-ticker.C:
			s.Advance(t.Sub(start))
		}
	}
}
