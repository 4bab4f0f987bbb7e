package netsync

import (
	"math"
	"math/rand"
	"time"
)

// LossRoller 丢包模拟用的随机源；可注入种子以便确定性回放
type LossRoller struct {
	rng *rand.Rand
}

// NewLossRoller seed 为 0 时以当前时间播种
func NewLossRoller(seed int64) *LossRoller {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &LossRoller{rng: rand.New(rand.NewSource(seed))}
}

// Chance 在 [0,100) 上均匀抽样，抽样值 <= percent 时返回 true。
// percent <= 0 或 NaN 永不命中，>= 100 必定命中。
func (l *LossRoller) Chance(percent float64) bool {
	if percent <= 0 || math.IsNaN(percent) {
		return false
	}
	if percent >= 100 {
		return true
	}
	return l.rng.Float64()*100 <= percent
}
