package sim

// Client 客户端本地预测模拟
type Client struct {
	Time    uint32
	Input   Input
	History *History

	cube        *Cube
	corrections int
}

func NewClient() *Client {
	return &Client{
		History: NewHistory(),
		cube:    NewCube(),
	}
}

// Update 以当前输入预测推进一步，并记录进移动历史
func (c *Client) Update(step uint32) {
	c.Time = step
	c.History.Add(Move{Step: step, Input: c.Input})
	if c.Input.Jump {
		c.cube.Jump()
	}
	c.cube.Step(c.Input, Timestep)
}

// Synchronize 应用服务端权威纠正：本地状态直接替换为 state
func (c *Client) Synchronize(step uint32, state State, input Input) {
	c.cube.Snap(state)
	c.corrections++
}

func (c *Client) State() State {
	return c.cube.State()
}

// Corrections 已应用的纠正次数
func (c *Client) Corrections() int {
	return c.corrections
}
