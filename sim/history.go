package sim

const (
	// HistorySize 移动历史环形缓冲容量
	HistorySize = 64
	// MaxImportantMoves 单次上报携带的关键移动上限
	MaxImportantMoves = 32
)

// History 客户端维护的有界移动历史。
// 与上一条输入不同的移动被视为“关键移动”（例如跳跃的按下沿），
// 上报时附带给服务端，避免粗粒度的逐 Tick 采样漏掉短促输入。
type History struct {
	moves     [HistorySize]Move
	important [HistorySize]bool
	head      int // 下一个写入位置
	count     int
	pending   int // 自上次上报以来新增的关键移动数量

	last    Input
	hasLast bool
}

func NewHistory() *History {
	return &History{}
}

// Add 追加一次移动；满时覆盖最旧的记录
func (h *History) Add(m Move) {
	isImportant := !h.hasLast || m.Input != h.last
	h.last = m.Input
	h.hasLast = true

	h.moves[h.head] = m
	h.important[h.head] = isImportant
	h.head = (h.head + 1) % HistorySize
	if h.count < HistorySize {
		h.count++
	}
	if isImportant {
		h.pending++
	}
	// 尚未上报的关键移动可能已被覆盖
	if n := h.countImportant(); h.pending > n {
		h.pending = n
	}
}

// Len 当前保存的移动数量
func (h *History) Len() int {
	return h.count
}

// ImportantMoves 返回自上次调用以来记录的关键移动（按时间顺序），并清空待上报计数
func (h *History) ImportantMoves() []Move {
	if h.pending == 0 {
		return nil
	}
	out := make([]Move, 0, h.pending)
	// 从最新往回找 pending 个关键移动
	for i := 0; i < h.count && len(out) < h.pending; i++ {
		idx := (h.head - 1 - i + HistorySize) % HistorySize
		if h.important[idx] {
			out = append(out, h.moves[idx])
		}
	}
	h.pending = 0
	// 反转为时间正序
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if len(out) > MaxImportantMoves {
		out = out[len(out)-MaxImportantMoves:]
	}
	return out
}

func (h *History) countImportant() int {
	n := 0
	for i := 0; i < h.count; i++ {
		if h.important[i] {
			n++
		}
	}
	return n
}
