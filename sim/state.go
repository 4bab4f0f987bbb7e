package sim

import "github.com/go-gl/mathgl/mgl64"

// State 刚体在某一离散步上的权威状态，足以恢复积分
type State struct {
	Position        mgl64.Vec3
	Orientation     mgl64.Quat
	Velocity        mgl64.Vec3
	AngularVelocity mgl64.Vec3
}

// RestingState 立方体静止落在地面上的初始状态
func RestingState() State {
	return State{
		Position:    mgl64.Vec3{0, CubeHalfSize, 0},
		Orientation: mgl64.QuatIdent(),
	}
}

// ApproxEqual 逐分量比较（容差 eps）
func (s State) ApproxEqual(o State, eps float64) bool {
	return s.Position.ApproxEqualThreshold(o.Position, eps) &&
		s.Velocity.ApproxEqualThreshold(o.Velocity, eps) &&
		s.AngularVelocity.ApproxEqualThreshold(o.AngularVelocity, eps) &&
		s.Orientation.ApproxEqualThreshold(o.Orientation, eps)
}
