package sim

// Server 服务端权威模拟
type Server struct {
	Time uint32

	cube     *Cube
	lastMove uint32
	hasMove  bool
	updates  int
}

func NewServer() *Server {
	return &Server{cube: NewCube()}
}

// Update 应用客户端在 step 步的输入。
// moves 中尚未见过的跳跃按下沿会先被重放，防止两次采样之间的短按丢失。
func (s *Server) Update(step uint32, input Input, moves []Move) {
	jumped := false
	for _, m := range moves {
		if s.hasMove && m.Step <= s.lastMove {
			continue
		}
		s.lastMove = m.Step
		s.hasMove = true
		if m.Input.Jump && !jumped {
			jumped = s.cube.Jump()
		}
	}
	if input.Jump && !jumped {
		s.cube.Jump()
	}
	s.cube.Step(input, Timestep)
	s.Time = step
	s.updates++
}

func (s *Server) State() State {
	return s.cube.State()
}

// Updates 已应用的输入次数
func (s *Server) Updates() int {
	return s.updates
}
