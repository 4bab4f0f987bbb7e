package netsync

import (
	"math"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"cubesync/sim"
)

const ms = time.Millisecond

func newConnPair(latency time.Duration, clientLoss, serverLoss float64) (*ClientConn, *ServerConn, *sim.Client, *sim.Server, *MemoryTransport, *MemoryTransport) {
	ct, st := NewMemoryPipe("client", "server")
	c, s := sim.NewClient(), sim.NewServer()
	cc := NewClientConn(ConnConfig{Latency: latency, PacketLoss: clientLoss}, ct, c, Options{Loss: NewLossRoller(1)})
	sc := NewServerConn(ConnConfig{Latency: latency, PacketLoss: serverLoss}, st, s, Options{Loss: NewLossRoller(2)})
	return cc, sc, c, s, ct, st
}

func TestRoundTripScenario(t *testing.T) {
	cc, sc, c, s, _, _ := newConnPair(100*ms, 0, 0)

	c.Time = 10
	c.Input = sim.Input{Jump: true}
	cc.Update(0)

	sc.Update(0)
	sc.Update(50 * ms)
	if s.Updates() != 0 {
		t.Fatalf("server applied input before latency elapsed")
	}
	sc.Update(100 * ms)
	if s.Updates() != 1 {
		t.Fatalf("server updates = %d, want 1 at latency", s.Updates())
	}
	want := s.State()

	cc.Update(100 * ms) // correction arrives
	cc.Update(150 * ms)
	if c.Corrections() != 0 {
		t.Fatalf("client applied correction before latency elapsed")
	}
	if c.State().ApproxEqual(want, 1e-12) {
		t.Fatalf("client already at server state before correction")
	}
	cc.Update(200 * ms)
	if c.Corrections() != 1 {
		t.Fatalf("client corrections = %d, want 1", c.Corrections())
	}
	if !c.State().ApproxEqual(want, 0) {
		t.Fatalf("client state %+v, want %+v", c.State(), want)
	}
}

func TestRoundTripCorrectionEchoesInput(t *testing.T) {
	ct, st := NewMemoryPipe("client", "server")
	s := sim.NewServer()
	sc := NewServerConn(ConnConfig{}, st, s, Options{})

	b, err := Encode(&InputReport{Meta: Meta{ClientStep: 10}, Step: 10, Input: sim.Input{Jump: true}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := ct.Send(b); err != nil {
		t.Fatalf("send: %v", err)
	}
	sc.Update(5 * ms)

	buf := make([]byte, 1500)
	n, _, ok := ct.TryReceive(buf)
	if !ok {
		t.Fatalf("no correction sent")
	}
	ev, err := DecodeAs(buf[:n], KindSync)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	corr := ev.(*SyncCorrection)
	if corr.Step != 10 || !corr.Input.Jump || corr.ServerTime != 5*ms || corr.ServerStep != 10 {
		t.Fatalf("unexpected correction: %+v", corr)
	}
	if !corr.State.ApproxEqual(s.State(), 0) {
		t.Fatalf("correction state differs from server state")
	}
}

func TestClientReleasesAtMostOneCorrectionPerUpdate(t *testing.T) {
	cc, _, c, _, ct, _ := newConnPair(10*ms, 0, 0)
	cc.cfg.Policy = OverflowQueue
	cc.gate = NewGate(OverflowQueue, 0)

	for i := 0; i < 3; i++ {
		b, err := Encode(&SyncCorrection{Step: uint32(i), State: sim.RestingState()})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		ct.Inject(b, MemAddr("server"))
	}
	cc.Update(0)
	cc.Update(1 * ms)
	cc.Update(2 * ms)
	if cc.Pending() != 3 || c.Corrections() != 0 {
		t.Fatalf("pending=%d corrections=%d, want 3 and 0", cc.Pending(), c.Corrections())
	}

	cc.Update(100 * ms)
	if c.Corrections() != 1 || cc.Pending() != 2 {
		t.Fatalf("after one update: corrections=%d pending=%d", c.Corrections(), cc.Pending())
	}
	cc.Update(101 * ms)
	cc.Update(102 * ms)
	if c.Corrections() != 3 || cc.Pending() != 0 {
		t.Fatalf("after drain: corrections=%d pending=%d", c.Corrections(), cc.Pending())
	}
}

func TestFullLossNeverReachesServer(t *testing.T) {
	cc, sc, c, s, _, _ := newConnPair(20*ms, 100, 0)
	c.Input = sim.Input{Forward: true, Jump: true}
	for i := 0; i < 200; i++ {
		now := time.Duration(i) * 16 * ms
		c.Update(cc.Step())
		cc.Update(now)
		sc.Update(now)
	}
	if s.Updates() != 0 {
		t.Fatalf("server applied %d inputs under full loss", s.Updates())
	}
	if !s.State().ApproxEqual(sim.RestingState(), 0) {
		t.Fatalf("server state changed under full loss")
	}
	m := cc.Metrics().Snapshot()
	if m["sent"].(int64) != 0 || m["send_lost"].(int64) != 200 {
		t.Fatalf("metrics = %v", m)
	}
}

func TestZeroLossRunsAreIdentical(t *testing.T) {
	run := func() []Record {
		ct, st := NewMemoryPipe("client", "server")
		c, s := sim.NewClient(), sim.NewServer()
		rec := &captureRecorder{}
		cc := NewClientConn(ConnConfig{Latency: 40 * ms}, ct, c, Options{Recorder: rec})
		sc := NewServerConn(ConnConfig{Latency: 40 * ms}, st, s, Options{Recorder: rec})
		script := &sim.Autokey{}
		for i := 0; i < 300; i++ {
			now := time.Duration(i) * 10 * ms
			c.Input = script.Sample(now)
			c.Update(cc.Step())
			cc.Update(now)
			sc.Update(now)
		}
		return rec.records
	}
	a, b := run(), run()
	if len(a) == 0 {
		t.Fatalf("no releases recorded")
	}
	if len(a) != len(b) {
		t.Fatalf("runs diverged: %d vs %d records", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("record %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestEndpointDropsForeignAndMalformed(t *testing.T) {
	cc, _, c, _, ct, _ := newConnPair(0, 0, 0)

	good, err := Encode(&SyncCorrection{Step: 1, State: sim.RestingState()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	wrongKind, err := Encode(&InputReport{Step: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ct.Inject(good, MemAddr("intruder"))
	ct.Inject([]byte("garbage"), MemAddr("server"))
	ct.Inject(wrongKind, MemAddr("server"))
	for i := 0; i < 3; i++ {
		cc.Update(time.Duration(i) * ms)
	}
	if c.Corrections() != 0 {
		t.Fatalf("applied a rejected datagram")
	}
	m := cc.Metrics().Snapshot()
	if m["foreign"].(int64) != 1 || m["malformed"].(int64) != 2 || m["received"].(int64) != 0 {
		t.Fatalf("metrics = %v", m)
	}
}

func TestDegradedConnectionStillSteps(t *testing.T) {
	c := sim.NewClient()
	cc := NewClientConn(ConnConfig{}, nil, c, Options{})
	if !cc.Degraded() {
		t.Fatalf("expected degraded connection")
	}
	for i := 0; i < 3; i++ {
		cc.Update(time.Duration(i) * ms)
	}
	if cc.Step() != 3 {
		t.Fatalf("step = %d, want 3", cc.Step())
	}
	if err := cc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sc := NewServerConn(ConnConfig{}, nil, sim.NewServer(), Options{})
	sc.Update(0)
	if !sc.Degraded() {
		t.Fatalf("expected degraded server")
	}
}

func TestOpenClientBindFailureIsDegraded(t *testing.T) {
	busy, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("udp unavailable: %v", err)
	}
	defer busy.Close()

	cc, err := OpenClient(ConnConfig{}, busy.LocalAddr().String(), "127.0.0.1:9", sim.NewClient(), Options{})
	if err == nil {
		cc.Close()
		t.Fatalf("expected bind error")
	}
	if cc == nil || !cc.Degraded() {
		t.Fatalf("expected degraded connection on bind failure")
	}
	cc.Update(0)
}

func TestUDPTransportDeliversFromPeer(t *testing.T) {
	a, err := ListenUDP("127.0.0.1:0", "127.0.0.1:9")
	if err != nil {
		t.Skipf("udp unavailable: %v", err)
	}
	defer a.Close()
	b, err := ListenUDP("127.0.0.1:0", a.LocalAddr().String())
	if err != nil {
		t.Fatalf("listen b: %v", err)
	}
	defer b.Close()

	if err := b.Send([]byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}
	buf := make([]byte, 64)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, from, ok := a.TryReceive(buf)
		if !ok {
			time.Sleep(5 * ms)
			continue
		}
		if string(buf[:n]) != "ping" {
			t.Fatalf("payload = %q", buf[:n])
		}
		if from.String() != b.LocalAddr().String() {
			t.Fatalf("from = %v, want %v", from, b.LocalAddr())
		}
		return
	}
	t.Fatalf("timed out waiting for datagram")
}

func TestLongLatencyStillDeliversWithBoundedGate(t *testing.T) {
	const (
		frame   = 16 * ms
		latency = 200 * ms
		frames  = 300
	)
	ct, st := NewMemoryPipe("client", "server")
	c, s := sim.NewClient(), sim.NewServer()
	cfg := ConnConfig{Latency: latency, Policy: OverflowDropOldest, GateCapacity: DefaultGateCapacity, FrameInterval: frame}
	cc := NewClientConn(cfg, ct, c, Options{})
	sc := NewServerConn(cfg, st, s, Options{})
	if sc.GateCapacity() <= DefaultGateCapacity {
		t.Fatalf("gate capacity %d not grown for %v latency", sc.GateCapacity(), latency)
	}

	for i := 0; i < frames; i++ {
		now := time.Duration(i) * frame
		c.Update(cc.Step())
		cc.Update(now)
		sc.Update(now)
		// 第一条输入在到达后第一个满足延迟的帧放行
		if i == 12 && s.Updates() != 0 {
			t.Fatalf("input released before latency elapsed")
		}
		if i == 13 && s.Updates() != 1 {
			t.Fatalf("server updates at frame 13 = %d, want 1", s.Updates())
		}
	}

	// 每帧到达一条、放行一条：首条等待 13 帧后稳定放行
	if s.Updates() != frames-13 {
		t.Fatalf("server updates = %d, want %d", s.Updates(), frames-13)
	}
	if c.Corrections() == 0 {
		t.Fatalf("no correction reached the client")
	}
	for name, m := range map[string]*Metrics{"client": cc.Metrics(), "server": sc.Metrics()} {
		if ev := m.Snapshot()["evicted"].(int64); ev != 0 {
			t.Fatalf("%s evicted %d events", name, ev)
		}
	}
}

func TestSetLatencyResizesGate(t *testing.T) {
	cc := NewClientConn(ConnConfig{Latency: 50 * ms, Policy: OverflowDropOldest, GateCapacity: 8, FrameInterval: 10 * ms}, nil, sim.NewClient(), Options{})
	if cc.GateCapacity() != 8 {
		t.Fatalf("capacity = %d, want configured 8", cc.GateCapacity())
	}
	cc.SetLatency(300 * ms)
	if cc.GateCapacity() != 31 {
		t.Fatalf("capacity = %d, want 31 after raising latency", cc.GateCapacity())
	}
	cc.SetLatency(0)
	if cc.GateCapacity() != 8 {
		t.Fatalf("capacity = %d, want 8 after dropping latency", cc.GateCapacity())
	}
}

func TestMalformedDatagramWarningIsThrottled(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ct, _ := NewMemoryPipe("client", "server")
	cc := NewClientConn(ConnConfig{}, ct, sim.NewClient(), Options{Log: zap.New(core).Sugar()})

	for i := 0; i < 5; i++ {
		ct.Inject([]byte("garbage"), MemAddr("server"))
		cc.Update(time.Duration(i) * ms)
	}

	dropped := logs.FilterMessage("dropped malformed datagram")
	warns := dropped.Filter(func(e observer.LoggedEntry) bool { return e.Level == zapcore.WarnLevel })
	if warns.Len() != 1 || dropped.Len() != 5 {
		t.Fatalf("warn=%d total=%d, want 1 warning out of 5", warns.Len(), dropped.Len())
	}
	if got := cc.Metrics().Snapshot()["malformed"].(int64); got != 5 {
		t.Fatalf("malformed = %d, want 5", got)
	}
}

func TestUDPTransportTryReceiveDoesNotBlock(t *testing.T) {
	a, err := ListenUDP("127.0.0.1:0", "127.0.0.1:9")
	if err != nil {
		t.Skipf("udp unavailable: %v", err)
	}
	start := time.Now()
	for i := 0; i < 10; i++ {
		if _, _, ok := a.TryReceive(make([]byte, 64)); ok {
			t.Fatalf("received from an idle socket")
		}
	}
	if elapsed := time.Since(start); elapsed > 500*ms {
		t.Fatalf("empty polls took %v", elapsed)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, _, ok := a.TryReceive(make([]byte, 64)); ok {
		t.Fatalf("received after close")
	}
}

func TestNaNLossNeverDrops(t *testing.T) {
	ct, st := NewMemoryPipe("client", "server")
	cc := NewClientConn(ConnConfig{PacketLoss: math.NaN()}, ct, sim.NewClient(), Options{Loss: NewLossRoller(3)})
	for i := 0; i < 20; i++ {
		cc.Update(time.Duration(i) * ms)
	}
	if st.Pending() != 20 {
		t.Fatalf("delivered %d of 20 reports", st.Pending())
	}
}
