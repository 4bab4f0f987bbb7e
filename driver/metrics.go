package driver

import "sync/atomic"

// FrameMetrics 驱动循环的运行指标
type FrameMetrics struct {
	Frames       int64 // 处理的帧数
	Steps        int64 // 推进的离散步数（模拟模式）
	SkippedSteps int64 // 追帧上限截断掉的步数
	TotalFrameNs int64 // 帧处理累计耗时
}

func (m *FrameMetrics) AddSteps(n int64)   { atomic.AddInt64(&m.Steps, n) }
func (m *FrameMetrics) AddSkipped(n int64) { atomic.AddInt64(&m.SkippedSteps, n) }
func (m *FrameMetrics) AddFrame(ns int64) {
	atomic.AddInt64(&m.Frames, 1)
	atomic.AddInt64(&m.TotalFrameNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *FrameMetrics) Snapshot() map[string]any {
	frames := atomic.LoadInt64(&m.Frames)
	total := atomic.LoadInt64(&m.TotalFrameNs)
	var avgMs float64
	if frames > 0 {
		avgMs = float64(total) / float64(frames) / 1e6
	}
	return map[string]any{
		"frames":        frames,
		"steps":         atomic.LoadInt64(&m.Steps),
		"skipped_steps": atomic.LoadInt64(&m.SkippedSteps),
		"avg_frame_ms":  avgMs,
	}
}
