package netsync

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRecordJSONUsesNames(t *testing.T) {
	in := Record{Direction: ServerToClient, Phase: PhaseLost, ServerTime: 30 * time.Millisecond, Step: 7, Jump: true}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"direction":"server_to_client"`) || !strings.Contains(s, `"phase":"lost"`) {
		t.Fatalf("unexpected json: %s", s)
	}
	var out Record
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestRecordJSONRejectsUnknownValues(t *testing.T) {
	if _, err := json.Marshal(Record{}); err == nil {
		t.Fatalf("zero direction should not marshal")
	}
	var r Record
	if err := json.Unmarshal([]byte(`{"direction":"sideways","phase":"insert"}`), &r); err == nil {
		t.Fatalf("unknown direction should not unmarshal")
	}
}

func TestRecordersFanOutSkipsNil(t *testing.T) {
	var a, b int
	rec := Recorders(
		RecorderFunc(func(Record) { a++ }),
		nil,
		RecorderFunc(func(Record) { b++ }),
	)
	rec.Record(Record{Direction: ClientToServer, Phase: PhaseInsert})
	rec.Record(Record{Direction: ClientToServer, Phase: PhaseRelease})
	if a != 2 || b != 2 {
		t.Fatalf("fan-out counts a=%d b=%d", a, b)
	}
}
