package sim

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Timestep 物理固定步长（秒）
const Timestep = 0.01

const (
	CubeHalfSize = 0.5

	gravity      = 9.8
	moveForce    = 20.0
	jumpSpeed    = 5.0
	groundDrag   = 4.0
	spinTorque   = 6.0
	angularDrag  = 2.0
	groundHeight = CubeHalfSize
)

// Cube 单个刚体立方体的简化积分器：重力、地面、平移推力、跳跃冲量与自转
type Cube struct {
	state State
}

func NewCube() *Cube {
	return &Cube{state: RestingState()}
}

func (c *Cube) State() State {
	return c.state
}

// Snap 直接覆盖为给定状态（客户端纠正）
func (c *Cube) Snap(s State) {
	c.state = s
}

// OnGround 是否接触地面
func (c *Cube) OnGround() bool {
	return c.state.Position.Y() <= groundHeight+1e-6
}

// Jump 施加一次跳跃冲量；离地时无效
func (c *Cube) Jump() bool {
	if !c.OnGround() {
		return false
	}
	c.state.Velocity[1] = jumpSpeed
	return true
}

// Step 以 dt 秒推进一次
func (c *Cube) Step(in Input, dt float64) {
	s := &c.state

	ax, az := in.Axes()
	s.Velocity = s.Velocity.Add(mgl64.Vec3{ax, 0, az}.Mul(moveForce * dt))
	s.Velocity[1] -= gravity * dt

	if c.OnGround() {
		damp := math.Max(0, 1-groundDrag*dt)
		s.Velocity[0] *= damp
		s.Velocity[2] *= damp
	}

	// 左右输入带动绕 y 轴自转
	s.AngularVelocity[1] += -ax * spinTorque * dt
	s.AngularVelocity = s.AngularVelocity.Mul(math.Max(0, 1-angularDrag*dt))

	s.Position = s.Position.Add(s.Velocity.Mul(dt))
	if s.Position.Y() < groundHeight {
		s.Position[1] = groundHeight
		if s.Velocity.Y() < 0 {
			s.Velocity[1] = 0
		}
	}

	// q' = q + 0.5 * w * q * dt
	w := mgl64.Quat{W: 0, V: s.AngularVelocity}
	spin := w.Mul(s.Orientation).Scale(0.5 * dt)
	s.Orientation = s.Orientation.Add(spin).Normalize()
}
