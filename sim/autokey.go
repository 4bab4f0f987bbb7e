package sim

import "time"

const (
	autokeyPress  = 20 * time.Millisecond
	autokeyPeriod = 500 * time.Millisecond
)

// Autokey 脚本化输入：每 500ms 按下跳跃 20ms，用于无人值守的延迟/丢包观测
type Autokey struct {
	origin time.Duration
}

// Sample 返回 now 时刻脚本给出的输入
func (a *Autokey) Sample(now time.Duration) Input {
	if now < 0 {
		return Input{}
	}
	d := now - a.origin
	switch {
	case d < autokeyPress:
		return Input{Jump: true}
	case d < autokeyPeriod:
		return Input{}
	default:
		a.origin = now
		return Input{}
	}
}
