package netsync

import (
	"testing"

	"cubesync/sim"
)

type countingHandler struct {
	inputs []*InputReport
	syncs  []*SyncCorrection
}

func (h *countingHandler) OnInput(ev *InputReport)   { h.inputs = append(h.inputs, ev) }
func (h *countingHandler) OnSync(ev *SyncCorrection) { h.syncs = append(h.syncs, ev) }

func TestDispatchRoutesByKind(t *testing.T) {
	h := &countingHandler{}
	Dispatch(h, &InputReport{Step: 1})
	Dispatch(h, &SyncCorrection{Step: 2})
	Dispatch(h, &InputReport{Step: 3})

	if len(h.inputs) != 2 || len(h.syncs) != 1 {
		t.Fatalf("inputs=%d syncs=%d, want 2 and 1", len(h.inputs), len(h.syncs))
	}
	if h.inputs[1].Step != 3 || h.syncs[0].Step != 2 {
		t.Fatalf("unexpected routing: %+v %+v", h.inputs, h.syncs)
	}
}

func TestDispatchNilPanics(t *testing.T) {
	cases := map[string]Event{
		"untyped nil":  nil,
		"nil input":   (*InputReport)(nil),
		"nil sync":    (*SyncCorrection)(nil),
	}
	for name, ev := range cases {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			Dispatch(&countingHandler{}, ev)
		})
	}
}

func TestNewInputReportDrainsImportantMoves(t *testing.T) {
	c := sim.NewClient()
	c.Input = sim.Input{Jump: true}
	c.Update(7)

	ev := NewInputReport(c)
	if ev.Kind() != KindInput || ev.Step != 7 || !ev.Input.Jump {
		t.Fatalf("unexpected report: %+v", ev)
	}
	if len(ev.Moves) != 1 || ev.Moves[0].Step != 7 {
		t.Fatalf("moves = %+v, want the jump edge at step 7", ev.Moves)
	}
	if again := NewInputReport(c); len(again.Moves) != 0 {
		t.Fatalf("moves reported twice: %+v", again.Moves)
	}
}

func TestNewSyncCorrectionSnapshotsServer(t *testing.T) {
	s := sim.NewServer()
	s.Update(4, sim.Input{Right: true}, nil)

	ev := NewSyncCorrection(s, sim.Input{Right: true})
	if ev.Kind() != KindSync || ev.Step != 4 || !ev.Input.Right {
		t.Fatalf("unexpected correction: %+v", ev)
	}
	if !ev.State.ApproxEqual(s.State(), 0) {
		t.Fatalf("state %+v differs from server %+v", ev.State, s.State())
	}
}
