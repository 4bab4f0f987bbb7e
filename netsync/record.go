package netsync

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Direction 事件流向
type Direction uint8

const (
	ClientToServer Direction = iota + 1
	ServerToClient
)

func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "client_to_server"
	case ServerToClient:
		return "server_to_client"
	default:
		return "unknown"
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	if d != ClientToServer && d != ServerToClient {
		return nil, fmt.Errorf("invalid direction %d", uint8(d))
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "client_to_server":
		*d = ClientToServer
	case "server_to_client":
		*d = ServerToClient
	default:
		return fmt.Errorf("unknown direction %q", b)
	}
	return nil
}

// Phase 事件在链路中的阶段
type Phase uint8

const (
	PhaseInsert Phase = iota + 1
	PhaseRelease
	PhaseLost
)

func (p Phase) String() string {
	switch p {
	case PhaseInsert:
		return "insert"
	case PhaseRelease:
		return "release"
	case PhaseLost:
		return "lost"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	if p < PhaseInsert || p > PhaseLost {
		return nil, fmt.Errorf("invalid phase %d", uint8(p))
	}
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	for _, v := range []Phase{PhaseInsert, PhaseRelease, PhaseLost} {
		if v.String() == string(b) {
			*p = v
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// Record 一条诊断记录，仅用于离线分析延迟与顺序，协议本身不消费
type Record struct {
	Direction    Direction     `json:"direction"`
	Phase        Phase         `json:"phase"`
	ServerTime   time.Duration `json:"serverTime"`
	ClientTime   time.Duration `json:"clientTime"`
	ServerStep   uint32        `json:"serverStep"`
	ClientStep   uint32        `json:"clientStep"`
	Step         uint32        `json:"step"`
	DeliveryStep uint32        `json:"deliveryStep"`
	LinkStep     uint32        `json:"linkStep"`
	Jump         bool          `json:"jump"`
}

// Recorder 诊断记录的接收方
type Recorder interface {
	Record(r Record)
}

// RecorderFunc 适配普通函数
type RecorderFunc func(Record)

func (f RecorderFunc) Record(r Record) { f(r) }

type multiRecorder []Recorder

func (m multiRecorder) Record(r Record) {
	for _, rec := range m {
		rec.Record(r)
	}
}

// Recorders 扇出到多个 Recorder，忽略 nil
func Recorders(recs ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(recs))
	for _, r := range recs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// LogRecorder 每条记录输出一行结构化日志
type LogRecorder struct {
	Log *zap.SugaredLogger
}

func (l LogRecorder) Record(r Record) {
	l.Log.Debugw("sync event",
		"direction", r.Direction.String(),
		"phase", r.Phase.String(),
		"server_time", r.ServerTime,
		"client_time", r.ClientTime,
		"server_step", r.ServerStep,
		"client_step", r.ClientStep,
		"step", r.Step,
		"delivery_step", r.DeliveryStep,
		"link_step", r.LinkStep,
		"jump", r.Jump,
	)
}

func recordOf(dir Direction, phase Phase, ev Event) Record {
	m := ev.meta()
	return Record{
		Direction:    dir,
		Phase:        phase,
		ServerTime:   m.ServerTime,
		ClientTime:   m.ClientTime,
		ServerStep:   m.ServerStep,
		ClientStep:   m.ClientStep,
		Step:         stepOf(ev),
		DeliveryStep: m.DeliveryStep,
		Jump:         jumpOf(ev),
	}
}
