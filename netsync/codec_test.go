package netsync

import (
	"errors"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"cubesync/sim"
)

func TestEncodeDecodeInputReport(t *testing.T) {
	in := &InputReport{
		Meta: Meta{
			ClientTime:   1500 * time.Millisecond,
			ClientStep:   150,
			DeliveryStep: 99, // not transmitted
		},
		Step:  149,
		Input: sim.Input{Forward: true, Jump: true},
		Moves: []sim.Move{
			{Step: 140, Input: sim.Input{Jump: true}},
			{Step: 142, Input: sim.Input{Left: true}},
		},
	}
	b, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(b) != HeaderSize+inputFixedSize+2*moveSize {
		t.Fatalf("encoded size %d", len(b))
	}

	ev, err := DecodeAs(b, KindInput)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := ev.(*InputReport)
	if got.ClientTime != in.ClientTime || got.ClientStep != 150 || got.Step != 149 {
		t.Fatalf("meta/step mismatch: %+v", got)
	}
	if got.DeliveryStep != 0 {
		t.Fatalf("delivery step leaked onto the wire: %d", got.DeliveryStep)
	}
	if got.Input != in.Input || len(got.Moves) != 2 || got.Moves[1] != in.Moves[1] {
		t.Fatalf("payload mismatch: %+v", got)
	}
}

func TestEncodeDecodeSyncCorrection(t *testing.T) {
	st := sim.State{
		Position:        mgl64.Vec3{1, 2, 3},
		Orientation:     mgl64.QuatRotate(0.5, mgl64.Vec3{0, 1, 0}),
		Velocity:        mgl64.Vec3{-1, 0.25, 4},
		AngularVelocity: mgl64.Vec3{0, 3, 0},
	}
	in := &SyncCorrection{
		Meta:  Meta{ServerTime: 2 * time.Second, ServerStep: 200},
		Step:  200,
		State: st,
		Input: sim.Input{Right: true},
	}
	b, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ev, err := DecodeAs(b, KindSync)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := ev.(*SyncCorrection)
	if !got.State.ApproxEqual(st, 0) || got.Input != in.Input || got.ServerStep != 200 || got.ServerTime != 2*time.Second {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestDecodeRejectsBadDatagrams(t *testing.T) {
	valid, err := Encode(&SyncCorrection{Step: 1, State: sim.RestingState()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	mutate := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), valid...))
	}

	cases := []struct {
		name string
		b    []byte
		want error
	}{
		{"empty", nil, ErrShortDatagram},
		{"short header", valid[:5], ErrShortDatagram},
		{"protocol id", mutate(func(b []byte) []byte { b[0] ^= 0xff; return b }), ErrProtocolID},
		{"version", mutate(func(b []byte) []byte { b[4] = 9; return b }), ErrVersion},
		{"kind", mutate(func(b []byte) []byte { b[5] = 7; return b }), ErrUnknownKind},
		{"truncated", valid[:len(valid)-1], ErrPayloadLength},
		{"trailing bytes", append(append([]byte(nil), valid...), 0), ErrPayloadLength},
		{"input bits", mutate(func(b []byte) []byte { b[len(b)-1] = 0x80; return b }), ErrInputBits},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.b)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			var de *DecodeError
			if !errors.As(err, &de) || de.Size != len(tc.b) {
				t.Fatalf("expected DecodeError with size %d, got %v", len(tc.b), err)
			}
		})
	}
}

func TestDecodeRejectsMoveCountMismatch(t *testing.T) {
	b, err := Encode(&InputReport{Step: 1, Moves: []sim.Move{{Step: 1}}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// moveCount claims two moves but only one is present
	b[HeaderSize+metaSize+5] = 2
	if _, err := Decode(b); !errors.Is(err, ErrPayloadLength) {
		t.Fatalf("err = %v, want ErrPayloadLength", err)
	}
	b[HeaderSize+metaSize+5] = MaxMoves + 1
	if _, err := Decode(b); !errors.Is(err, ErrTooManyMoves) {
		t.Fatalf("err = %v, want ErrTooManyMoves", err)
	}
}

func TestDecodeAsRejectsOtherKind(t *testing.T) {
	b, err := Encode(&InputReport{Step: 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeAs(b, KindSync); !errors.Is(err, ErrUnexpectedKind) {
		t.Fatalf("err = %v, want ErrUnexpectedKind", err)
	}
}

func TestEncodeRejectsTooManyMoves(t *testing.T) {
	moves := make([]sim.Move, MaxMoves+1)
	if _, err := Encode(&InputReport{Moves: moves}); err == nil {
		t.Fatalf("expected error for %d moves", len(moves))
	}
	if _, err := Encode(nil); err == nil {
		t.Fatalf("expected error for nil event")
	}
}
