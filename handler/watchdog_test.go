package handler

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/guardmc/invguard/policy"
	"github.com/guardmc/invguard/session"
	"github.com/sandertv/gophertunnel/minecraft/protocol"
	"github.com/sandertv/gophertunnel/minecraft/protocol/login"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
	"github.com/sirupsen/logrus"
	uatomic "go.uber.org/atomic"
)

type fakeConn struct {
	mu       sync.Mutex
	identity login.IdentityData
	packets  []packet.Packet
	closed   bool
}

func newFakeConn(name, xuid string) *fakeConn {
	return &fakeConn{identity: login.IdentityData{DisplayName: name, XUID: xuid}}
}

func (c *fakeConn) IdentityData() login.IdentityData {
	return c.identity
}

func (c *fakeConn) WritePacket(pk packet.Packet) error {
	c.mu.Lock()
	c.packets = append(c.packets, pk)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) written() []packet.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]packet.Packet, len(c.packets))
	copy(out, c.packets)
	return out
}

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testEngine(pol policy.Policy) (*session.Validator, *session.Registry) {
	log := discardLogger()
	registry := session.NewRegistry(log)
	return session.NewValidator(log, uatomic.NewPointer(&pol), registry), registry
}

func testContents(size int) []protocol.ItemInstance {
	contents := make([]protocol.ItemInstance, size)
	for i := range contents {
		contents[i] = protocol.ItemInstance{
			StackNetworkID: 1,
			Stack: protocol.ItemStack{
				ItemType: protocol.ItemType{NetworkID: int32(i + 1)},
				Count:    4,
			},
		}
	}
	return contents
}

func TestWatchdogReapsStaleSessions(t *testing.T) {
	pol := policy.Normal()
	v, registry := testEngine(pol)

	start := time.Now()
	stale := newFakeConn("Idle", "xuid-idle")
	fresh := newFakeConn("Busy", "xuid-busy")
	registry.Register(session.New(stale, 100, testContents(27), pol.MaxClicksPerSecond, start))
	registry.Register(session.New(fresh, 101, testContents(27), pol.MaxClicksPerSecond, start.Add(pol.SessionTimeout)))

	var closed []string
	w := NewWatchdog(discardLogger(), v, registry)
	w.SetCloseFunc(func(s *session.Session) {
		closed = append(closed, s.XUID())
	})
	w.clock = func() time.Time { return start.Add(pol.SessionTimeout + time.Second) }

	w.Sweep()

	if _, ok := registry.Lookup("xuid-idle"); ok {
		t.Fatal("stale session survived the sweep")
	}
	if _, ok := registry.Lookup("xuid-busy"); !ok {
		t.Fatal("fresh session reaped")
	}
	if len(closed) != 1 || closed[0] != "xuid-idle" {
		t.Fatalf("close callbacks: %v", closed)
	}

	var gotClose, gotContent bool
	for _, pk := range stale.written() {
		switch p := pk.(type) {
		case *packet.ContainerClose:
			if !p.ServerSide || p.WindowID != 100 {
				t.Fatalf("bad container close: %+v", p)
			}
			gotClose = true
		case *packet.InventoryContent:
			gotContent = true
		}
	}
	if !gotClose {
		t.Fatal("no container close sent to the reaped client")
	}
	if !gotContent {
		t.Fatal("no resync sent before the forced close")
	}
	if len(fresh.written()) != 0 {
		t.Fatal("fresh session received packets from the sweep")
	}
}

func TestWatchdogRecordsStaleViolation(t *testing.T) {
	pol := policy.Normal()
	pol.ForceCloseOnTimeout = false
	v, registry := testEngine(pol)

	start := time.Now()
	conn := newFakeConn("Idle", "xuid-idle")
	s := session.New(conn, 100, testContents(27), pol.MaxClicksPerSecond, start)
	registry.Register(s)

	w := NewWatchdog(discardLogger(), v, registry)
	w.clock = func() time.Time { return start.Add(pol.SessionTimeout + time.Second) }
	w.Sweep()

	if s.Violations() < 1 {
		t.Fatal("stale session not flagged")
	}
	if _, ok := registry.Lookup("xuid-idle"); !ok {
		t.Fatal("session force-closed despite ForceCloseOnTimeout being off")
	}
}

func TestWatchdogTickCadence(t *testing.T) {
	pol := policy.Normal()
	pol.InactivityCheckInterval = time.Second
	v, registry := testEngine(pol)

	start := time.Now()
	conn := newFakeConn("Idle", "xuid-idle")
	registry.Register(session.New(conn, 100, testContents(27), pol.MaxClicksPerSecond, start))

	w := NewWatchdog(discardLogger(), v, registry)
	w.clock = func() time.Time { return start.Add(pol.SessionTimeout + time.Second) }

	// A one second check interval sweeps on every 20th tick.
	for i := 0; i < TicksPerSecond-1; i++ {
		w.OnTick()
	}
	if _, ok := registry.Lookup("xuid-idle"); !ok {
		t.Fatal("swept before the check interval elapsed")
	}
	w.OnTick()
	if _, ok := registry.Lookup("xuid-idle"); ok {
		t.Fatal("not swept once the check interval elapsed")
	}
}

func TestWatchdogZeroTimeoutReapsEverything(t *testing.T) {
	pol := policy.Normal().WithSessionTimeout(0)
	v, registry := testEngine(pol)

	start := time.Now()
	for i, xuid := range []string{"a", "b", "c"} {
		conn := newFakeConn(xuid, xuid)
		registry.Register(session.New(conn, uint32(100+i), testContents(9), pol.MaxClicksPerSecond, start))
	}

	w := NewWatchdog(discardLogger(), v, registry)
	w.clock = func() time.Time { return start.Add(time.Millisecond) }
	w.Sweep()

	if registry.Len() != 0 {
		t.Fatalf("%d sessions survived a zero timeout sweep", registry.Len())
	}
}

func TestWatchdogDisabled(t *testing.T) {
	pol := policy.Normal()
	pol.DetectStaleSessions = false
	pol.ForceCloseOnTimeout = false
	v, registry := testEngine(pol)

	start := time.Now()
	s := session.New(newFakeConn("Idle", "xuid-idle"), 100, testContents(27), pol.MaxClicksPerSecond, start)
	registry.Register(s)

	w := NewWatchdog(discardLogger(), v, registry)
	w.clock = func() time.Time { return start.Add(time.Hour) }
	for i := 0; i < 1000; i++ {
		w.OnTick()
	}

	if _, ok := registry.Lookup("xuid-idle"); !ok {
		t.Fatal("session reaped with the watchdog disabled")
	}
	if s.Violations() != 0 {
		t.Fatal("violations recorded with the watchdog disabled")
	}
}
