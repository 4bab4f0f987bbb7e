package netsync

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"cubesync/sim"
)

/*
数据报格式（大端）：

	header   protocolID uint32 | version uint8 | kind uint8 | payloadLen uint16
	meta     clientTime int64(ns) | serverTime int64(ns) | clientStep uint32 | serverStep uint32
	input    step uint32 | input uint8 | moveCount uint8 | moveCount x (step uint32, input uint8)
	sync     step uint32 | state 13 x float64 | input uint8

任何字段在长度与版本校验通过前都不会被解释。
*/

const (
	ProtocolID      uint32 = 0x43554245 // "CUBE"
	ProtocolVersion uint8  = 1

	HeaderSize = 8
	metaSize   = 24
	moveSize   = 5
	stateSize  = 13 * 8

	inputFixedSize = metaSize + 4 + 1 + 1
	syncSize       = metaSize + 4 + stateSize + 1

	// MaxMoves 单条输入上报允许携带的关键移动数
	MaxMoves = sim.MaxImportantMoves

	// MaxDatagramSize 合法数据报的最大长度
	MaxDatagramSize = HeaderSize + inputFixedSize + MaxMoves*moveSize
)

var be = binary.BigEndian

var (
	ErrShortDatagram   = errors.New("datagram shorter than header")
	ErrProtocolID      = errors.New("unknown protocol id")
	ErrVersion         = errors.New("unsupported protocol version")
	ErrUnknownKind     = errors.New("unknown event kind")
	ErrPayloadLength   = errors.New("payload length mismatch")
	ErrTooManyMoves    = errors.New("too many important moves")
	ErrInputBits       = errors.New("unknown input bits")
	ErrUnexpectedKind  = errors.New("unexpected event kind")
	errEncodeNilEvent  = errors.New("encode nil event")
	errEncodeMoveCount = errors.New("encode: too many important moves")
)

// DecodeError 解码失败的详细信息
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %d-byte datagram: %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

const (
	bitLeft uint8 = 1 << iota
	bitRight
	bitForward
	bitBack
	bitJump

	inputBitsMask = bitLeft | bitRight | bitForward | bitBack | bitJump
)

func packInput(in sim.Input) uint8 {
	var b uint8
	if in.Left {
		b |= bitLeft
	}
	if in.Right {
		b |= bitRight
	}
	if in.Forward {
		b |= bitForward
	}
	if in.Back {
		b |= bitBack
	}
	if in.Jump {
		b |= bitJump
	}
	return b
}

func unpackInput(b uint8) (sim.Input, error) {
	if b&^inputBitsMask != 0 {
		return sim.Input{}, ErrInputBits
	}
	return sim.Input{
		Left:    b&bitLeft != 0,
		Right:   b&bitRight != 0,
		Forward: b&bitForward != 0,
		Back:    b&bitBack != 0,
		Jump:    b&bitJump != 0,
	}, nil
}

// Encode 将事件编码为一条数据报
func Encode(ev Event) ([]byte, error) {
	var payload int
	switch e := ev.(type) {
	case *InputReport:
		if e == nil {
			return nil, errEncodeNilEvent
		}
		if len(e.Moves) > MaxMoves {
			return nil, errEncodeMoveCount
		}
		payload = inputFixedSize + len(e.Moves)*moveSize
	case *SyncCorrection:
		if e == nil {
			return nil, errEncodeNilEvent
		}
		payload = syncSize
	default:
		return nil, errEncodeNilEvent
	}

	b := make([]byte, HeaderSize+payload)
	be.PutUint32(b[0:], ProtocolID)
	b[4] = ProtocolVersion
	b[5] = uint8(ev.Kind())
	be.PutUint16(b[6:], uint16(payload))

	w := b[HeaderSize:]
	m := ev.meta()
	be.PutUint64(w[0:], uint64(m.ClientTime))
	be.PutUint64(w[8:], uint64(m.ServerTime))
	be.PutUint32(w[16:], m.ClientStep)
	be.PutUint32(w[20:], m.ServerStep)
	w = w[metaSize:]

	switch e := ev.(type) {
	case *InputReport:
		be.PutUint32(w[0:], e.Step)
		w[4] = packInput(e.Input)
		w[5] = uint8(len(e.Moves))
		w = w[6:]
		for _, mv := range e.Moves {
			be.PutUint32(w[0:], mv.Step)
			w[4] = packInput(mv.Input)
			w = w[moveSize:]
		}
	case *SyncCorrection:
		be.PutUint32(w[0:], e.Step)
		putState(w[4:], e.State)
		w[4+stateSize] = packInput(e.Input)
	}
	return b, nil
}

// Decode 校验并解码一条数据报
func Decode(b []byte) (Event, error) {
	ev, err := decode(b)
	if err != nil {
		return nil, &DecodeError{Size: len(b), Err: err}
	}
	return ev, nil
}

// DecodeAs 解码并要求事件类型为 want
func DecodeAs(b []byte, want Kind) (Event, error) {
	ev, err := Decode(b)
	if err != nil {
		return nil, err
	}
	if ev.Kind() != want {
		return nil, &DecodeError{Size: len(b), Err: fmt.Errorf("%w: got %s, want %s", ErrUnexpectedKind, ev.Kind(), want)}
	}
	return ev, nil
}

func decode(b []byte) (Event, error) {
	if len(b) < HeaderSize {
		return nil, ErrShortDatagram
	}
	if be.Uint32(b[0:]) != ProtocolID {
		return nil, ErrProtocolID
	}
	if b[4] != ProtocolVersion {
		return nil, ErrVersion
	}
	kind := Kind(b[5])
	payload := int(be.Uint16(b[6:]))
	if payload != len(b)-HeaderSize {
		return nil, ErrPayloadLength
	}
	r := b[HeaderSize:]

	switch kind {
	case KindInput:
		if payload < inputFixedSize {
			return nil, ErrPayloadLength
		}
		ev := &InputReport{Meta: readMeta(r)}
		r = r[metaSize:]
		ev.Step = be.Uint32(r[0:])
		in, err := unpackInput(r[4])
		if err != nil {
			return nil, err
		}
		ev.Input = in
		n := int(r[5])
		if n > MaxMoves {
			return nil, ErrTooManyMoves
		}
		if payload != inputFixedSize+n*moveSize {
			return nil, ErrPayloadLength
		}
		r = r[6:]
		if n > 0 {
			ev.Moves = make([]sim.Move, n)
		}
		for i := 0; i < n; i++ {
			mi, err := unpackInput(r[4])
			if err != nil {
				return nil, err
			}
			ev.Moves[i] = sim.Move{Step: be.Uint32(r[0:]), Input: mi}
			r = r[moveSize:]
		}
		return ev, nil
	case KindSync:
		if payload != syncSize {
			return nil, ErrPayloadLength
		}
		ev := &SyncCorrection{Meta: readMeta(r)}
		r = r[metaSize:]
		ev.Step = be.Uint32(r[0:])
		ev.State = readState(r[4:])
		in, err := unpackInput(r[4+stateSize])
		if err != nil {
			return nil, err
		}
		ev.Input = in
		return ev, nil
	default:
		return nil, ErrUnknownKind
	}
}

func readMeta(r []byte) Meta {
	return Meta{
		ClientTime: time.Duration(be.Uint64(r[0:])),
		ServerTime: time.Duration(be.Uint64(r[8:])),
		ClientStep: be.Uint32(r[16:]),
		ServerStep: be.Uint32(r[20:]),
	}
}

func putState(w []byte, s sim.State) {
	vals := [13]float64{
		s.Position[0], s.Position[1], s.Position[2],
		s.Orientation.W, s.Orientation.V[0], s.Orientation.V[1], s.Orientation.V[2],
		s.Velocity[0], s.Velocity[1], s.Velocity[2],
		s.AngularVelocity[0], s.AngularVelocity[1], s.AngularVelocity[2],
	}
	for i, v := range vals {
		be.PutUint64(w[i*8:], math.Float64bits(v))
	}
}

func readState(r []byte) sim.State {
	var v [13]float64
	for i := range v {
		v[i] = math.Float64frombits(be.Uint64(r[i*8:]))
	}
	return sim.State{
		Position:        mgl64.Vec3{v[0], v[1], v[2]},
		Orientation:     mgl64.Quat{W: v[3], V: mgl64.Vec3{v[4], v[5], v[6]}},
		Velocity:        mgl64.Vec3{v[7], v[8], v[9]},
		AngularVelocity: mgl64.Vec3{v[10], v[11], v[12]},
	}
}
