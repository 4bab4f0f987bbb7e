package sim

// Input 客户端每个 Tick 采样到的控制输入（按值拷贝进每条消息）
type Input struct {
	Left    bool
	Right   bool
	Forward bool
	Back    bool
	Jump    bool
}

// Move 某一离散步上的一次输入记录
type Move struct {
	Step  uint32
	Input Input
}

// Axes 将方向键折算为平面上的 (x, z) 推力方向
func (in Input) Axes() (x, z float64) {
	if in.Left {
		x--
	}
	if in.Right {
		x++
	}
	if in.Forward {
		z--
	}
	if in.Back {
		z++
	}
	return x, z
}
