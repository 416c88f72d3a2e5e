package handler

import (
	"testing"
	"time"

	"github.com/guardmc/invguard/exploit"
	"github.com/guardmc/invguard/policy"
	"github.com/guardmc/invguard/session"
	"github.com/sandertv/gophertunnel/minecraft/protocol"
	"github.com/sandertv/gophertunnel/minecraft/protocol/login"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
)

func menuTransaction(windowID uint32, slot int, old, new protocol.ItemInstance) *packet.InventoryTransaction {
	return &packet.InventoryTransaction{
		Actions: []protocol.InventoryAction{{
			SourceType:    protocol.InventoryActionSourceContainer,
			WindowID:      int32(windowID),
			InventorySlot: uint32(slot),
			OldItem:       old,
			NewItem:       new,
		}, {
			SourceType:    protocol.InventoryActionSourceContainer,
			WindowID:      protocol.WindowIDUI,
			InventorySlot: 0,
			OldItem:       protocol.ItemInstance{},
			NewItem:       old,
		}},
	}
}

func TestInterceptionConsumesMenuClicks(t *testing.T) {
	pol := policy.Normal()
	v, registry := testEngine(pol)

	conn := newFakeConn("Steve", "xuid-1")
	contents := testContents(27)
	s := session.New(conn, 100, contents, pol.MaxClicksPerSecond, time.Now())
	registry.Register(s)

	var clicks []session.ClickDescriptor
	h := NewInterception(discardLogger(), v, registry)
	h.SetInteractionFunc(func(_ *session.Session, desc session.ClickDescriptor) {
		clicks = append(clicks, desc)
	})

	taken := contents[3]
	left := taken
	left.Stack.Count--
	pk := menuTransaction(100, 3, taken, left)

	if forward := h.HandleClientPacket(pk, conn); forward {
		t.Fatal("accepted menu click forwarded downstream")
	}
	if len(clicks) != 1 {
		t.Fatalf("expected 1 routed click, got %d", len(clicks))
	}
	if clicks[0].Slot != 3 || clicks[0].Kind != session.ClickTake || clicks[0].Count != 1 {
		t.Fatalf("decoded click: %+v", clicks[0])
	}
}

func TestInterceptionRejectsInvalidSlot(t *testing.T) {
	pol := policy.Normal()
	v, registry := testEngine(pol)

	conn := newFakeConn("Steve", "xuid-1")
	s := session.New(conn, 100, testContents(27), pol.MaxClicksPerSecond, time.Now())
	registry.Register(s)

	routed := 0
	h := NewInterception(discardLogger(), v, registry)
	h.SetInteractionFunc(func(*session.Session, session.ClickDescriptor) { routed++ })

	pk := menuTransaction(100, 40, testContents(1)[0], protocol.ItemInstance{})
	if forward := h.HandleClientPacket(pk, conn); forward {
		t.Fatal("rejected click forwarded downstream")
	}
	if routed != 0 {
		t.Fatal("rejected click routed to the menu layer")
	}
	if s.Violations() != 1 {
		t.Fatalf("violations = %v, want 1", s.Violations())
	}
}

func TestInterceptionPassesUnrelatedTraffic(t *testing.T) {
	pol := policy.Normal()
	v, registry := testEngine(pol)
	h := NewInterception(discardLogger(), v, registry)

	conn := newFakeConn("Steve", "xuid-1")

	// No session at all: everything passes.
	if !h.HandleClientPacket(menuTransaction(100, 0, protocol.ItemInstance{}, protocol.ItemInstance{}), conn) {
		t.Fatal("transaction vetoed for a client without a session")
	}

	// With a session, transactions not touching the menu window still pass.
	s := session.New(conn, 100, testContents(27), pol.MaxClicksPerSecond, time.Now())
	registry.Register(s)
	foreign := &packet.InventoryTransaction{
		Actions: []protocol.InventoryAction{{
			SourceType:    protocol.InventoryActionSourceContainer,
			WindowID:      7,
			InventorySlot: 0,
		}},
	}
	if !h.HandleClientPacket(foreign, conn) {
		t.Fatal("transaction on a foreign window vetoed")
	}
	if !h.HandleClientPacket(&packet.Animate{}, conn) {
		t.Fatal("unrelated packet type vetoed")
	}
}

func TestInterceptionLevelNoneStillRoutes(t *testing.T) {
	pol := policy.Normal().WithLevel(policy.LevelNone)
	v, registry := testEngine(pol)

	conn := newFakeConn("Steve", "xuid-1")
	s := session.New(conn, 100, testContents(27), pol.MaxClicksPerSecond, time.Now())
	registry.Register(s)

	routed := 0
	h := NewInterception(discardLogger(), v, registry)
	h.SetInteractionFunc(func(*session.Session, session.ClickDescriptor) { routed++ })

	// Turning validation off must not leak menu clicks downstream: the
	// virtual window does not exist there, so the packet is still consumed
	// and the menu layer still hears about it.
	taken := testContents(27)[3]
	if h.HandleClientPacket(menuTransaction(100, 3, taken, protocol.ItemInstance{}), conn) {
		t.Fatal("menu click forwarded downstream with validation off")
	}
	if routed != 1 {
		t.Fatalf("routed clicks = %d, want 1", routed)
	}

	// Even clicks the checks would reject pass through unjudged.
	if h.HandleClientPacket(menuTransaction(100, 40, protocol.ItemInstance{}, protocol.ItemInstance{}), conn) {
		t.Fatal("out-of-range click forwarded downstream with validation off")
	}
	if s.Violations() != 0 {
		t.Fatalf("violations = %v, want 0", s.Violations())
	}
}

func cursorTransaction(windowID uint32, slot int, menuOld, menuNew, cursorOld protocol.ItemInstance) *packet.InventoryTransaction {
	return &packet.InventoryTransaction{
		Actions: []protocol.InventoryAction{{
			SourceType:    protocol.InventoryActionSourceContainer,
			WindowID:      int32(windowID),
			InventorySlot: uint32(slot),
			OldItem:       menuOld,
			NewItem:       menuNew,
		}, {
			SourceType:    protocol.InventoryActionSourceContainer,
			WindowID:      protocol.WindowIDUI,
			InventorySlot: 0,
			OldItem:       cursorOld,
		}},
	}
}

func TestInterceptionCursorGrowthIsDuplication(t *testing.T) {
	pol := policy.Normal().WithMinClickDelay(0)
	v, registry := testEngine(pol)

	var caught []exploit.Type
	v.RegisterViolationHandler(func(_ login.IdentityData, typ exploit.Type) {
		caught = append(caught, typ)
	})

	conn := newFakeConn("Steve", "xuid-1")
	contents := testContents(27)
	s := session.New(conn, 100, contents, pol.MaxClicksPerSecond, time.Now())
	registry.Register(s)

	h := NewInterception(discardLogger(), v, registry)

	held := protocol.ItemInstance{
		StackNetworkID: 2,
		Stack:          protocol.ItemStack{ItemType: protocol.ItemType{NetworkID: 500}, Count: 5},
	}
	if h.HandleClientPacket(cursorTransaction(100, 3, contents[3], contents[3], held), conn) {
		t.Fatal("menu click forwarded downstream")
	}
	if len(caught) != 0 {
		t.Fatalf("honest click flagged: %v", caught)
	}

	// The same held stack, grown with no accepted interaction explaining
	// it, is inflation of the item the client already holds, not a swap
	// for a different one.
	grown := held
	grown.Stack.Count = 9
	if h.HandleClientPacket(cursorTransaction(100, 4, contents[4], contents[4], grown), conn) {
		t.Fatal("menu click forwarded downstream")
	}
	if len(caught) != 1 || caught[0] != exploit.CursorDuplication {
		t.Fatalf("caught = %v, want [%v]", caught, exploit.CursorDuplication)
	}
}

func TestInterceptionStackRequest(t *testing.T) {
	pol := policy.Normal()
	v, registry := testEngine(pol)

	conn := newFakeConn("Steve", "xuid-1")
	s := session.New(conn, 100, testContents(27), pol.MaxClicksPerSecond, time.Now())
	registry.Register(s)

	var clicks []session.ClickDescriptor
	h := NewInterception(discardLogger(), v, registry)
	h.SetInteractionFunc(func(_ *session.Session, desc session.ClickDescriptor) {
		clicks = append(clicks, desc)
	})

	take := &protocol.TakeStackRequestAction{}
	take.Count = 2
	take.Source = protocol.StackRequestSlotInfo{
		Container: protocol.FullContainerName{ContainerID: protocol.ContainerLevelEntity},
		Slot:      5,
	}
	take.Destination = protocol.StackRequestSlotInfo{
		Container: protocol.FullContainerName{ContainerID: protocol.ContainerCursor},
	}
	pk := &packet.ItemStackRequest{Requests: []protocol.ItemStackRequest{{
		RequestID: -3,
		Actions:   []protocol.StackRequestAction{take},
	}}}

	if forward := h.HandleClientPacket(pk, conn); forward {
		t.Fatal("accepted stack request forwarded downstream")
	}
	if len(clicks) != 1 {
		t.Fatalf("expected 1 routed click, got %d", len(clicks))
	}
	if clicks[0].Slot != 5 || clicks[0].Kind != session.ClickTake || clicks[0].Count != 2 {
		t.Fatalf("decoded click: %+v", clicks[0])
	}
	if clicks[0].WindowID != 100 {
		t.Fatalf("window id = %d, want 100", clicks[0].WindowID)
	}
}

func TestInterceptionStackRequestAnswered(t *testing.T) {
	pol := policy.Normal()
	v, registry := testEngine(pol)

	conn := newFakeConn("Steve", "xuid-1")
	s := session.New(conn, 100, testContents(27), pol.MaxClicksPerSecond, time.Now())
	registry.Register(s)

	h := NewInterception(discardLogger(), v, registry)

	take := &protocol.TakeStackRequestAction{}
	take.Count = 1
	take.Source = protocol.StackRequestSlotInfo{
		Container: protocol.FullContainerName{ContainerID: protocol.ContainerLevelEntity},
		Slot:      2,
	}
	pk := &packet.ItemStackRequest{Requests: []protocol.ItemStackRequest{{
		RequestID: -7,
		Actions:   []protocol.StackRequestAction{take},
	}}}

	if h.HandleClientPacket(pk, conn) {
		t.Fatal("accepted stack request forwarded downstream")
	}

	// The downstream server never sees the request, so the client's answer
	// has to come from us or its prediction sticks.
	var resp *packet.ItemStackResponse
	for _, w := range conn.written() {
		if r, ok := w.(*packet.ItemStackResponse); ok {
			resp = r
		}
	}
	if resp == nil {
		t.Fatal("no item stack response written for the accepted request")
	}
	if len(resp.Responses) != 1 || resp.Responses[0].RequestID != -7 {
		t.Fatalf("bad response: %+v", resp)
	}
	if resp.Responses[0].Status != protocol.ItemStackResponseStatusOK {
		t.Fatal("accepted request not answered with an ok status")
	}
}

func TestInterceptionStackRequestMixedForwarding(t *testing.T) {
	pol := policy.Normal()
	v, registry := testEngine(pol)

	conn := newFakeConn("Steve", "xuid-1")
	s := session.New(conn, 100, testContents(27), pol.MaxClicksPerSecond, time.Now())
	registry.Register(s)

	routed := 0
	h := NewInterception(discardLogger(), v, registry)
	h.SetInteractionFunc(func(*session.Session, session.ClickDescriptor) { routed++ })

	menuTake := &protocol.TakeStackRequestAction{}
	menuTake.Count = 1
	menuTake.Source = protocol.StackRequestSlotInfo{
		Container: protocol.FullContainerName{ContainerID: protocol.ContainerLevelEntity},
		Slot:      1,
	}
	foreignTake := &protocol.TakeStackRequestAction{}
	foreignTake.Count = 1
	foreignTake.Source = protocol.StackRequestSlotInfo{
		Container: protocol.FullContainerName{ContainerID: protocol.ContainerCombinedHotBarAndInventory},
		Slot:      0,
	}
	pk := &packet.ItemStackRequest{Requests: []protocol.ItemStackRequest{{
		RequestID: -9,
		Actions:   []protocol.StackRequestAction{menuTake},
	}, {
		RequestID: -11,
		Actions:   []protocol.StackRequestAction{foreignTake},
	}}}

	// The packet mixes a menu request with one for the client's own
	// inventory. The menu request is answered here; the rest of the packet
	// still travels downstream without it.
	if !h.HandleClientPacket(pk, conn) {
		t.Fatal("packet with a non-menu request withheld from downstream")
	}
	if routed != 1 {
		t.Fatalf("routed clicks = %d, want 1", routed)
	}
	if len(pk.Requests) != 1 || pk.Requests[0].RequestID != -11 {
		t.Fatalf("forwarded requests: %+v", pk.Requests)
	}
}

func TestInterceptionStackRequestRejection(t *testing.T) {
	pol := policy.Normal()
	v, registry := testEngine(pol)

	conn := newFakeConn("Steve", "xuid-1")
	s := session.New(conn, 100, testContents(27), pol.MaxClicksPerSecond, time.Now())
	registry.Register(s)

	h := NewInterception(discardLogger(), v, registry)

	take := &protocol.TakeStackRequestAction{}
	take.Count = 1
	take.Source = protocol.StackRequestSlotInfo{
		Container: protocol.FullContainerName{ContainerID: protocol.ContainerLevelEntity},
		Slot:      200,
	}
	pk := &packet.ItemStackRequest{Requests: []protocol.ItemStackRequest{{
		RequestID: -5,
		Actions:   []protocol.StackRequestAction{take},
	}}}

	if forward := h.HandleClientPacket(pk, conn); forward {
		t.Fatal("rejected stack request forwarded downstream")
	}
	if s.Violations() != 1 {
		t.Fatalf("violations = %v, want 1", s.Violations())
	}

	// The consumed request still gets an explicit error response.
	responded := false
	for _, w := range conn.written() {
		if resp, ok := w.(*packet.ItemStackResponse); ok {
			if len(resp.Responses) != 1 || resp.Responses[0].RequestID != -5 {
				t.Fatalf("bad response: %+v", resp)
			}
			if resp.Responses[0].Status != protocol.ItemStackResponseStatusError {
				t.Fatal("response status is not an error")
			}
			responded = true
		}
	}
	if !responded {
		t.Fatal("no item stack response written for the rejected request")
	}
}

func TestInterceptionCloseLifecycle(t *testing.T) {
	pol := policy.Normal()
	v, registry := testEngine(pol)

	conn := newFakeConn("Steve", "xuid-1")
	s := session.New(conn, 100, testContents(27), pol.MaxClicksPerSecond, time.Now())
	registry.Register(s)

	var closed []string
	h := NewInterception(discardLogger(), v, registry)
	h.SetCloseFunc(func(s *session.Session) { closed = append(closed, s.XUID()) })

	// A close for another window passes untouched.
	if !h.HandleClientPacket(&packet.ContainerClose{WindowID: 9}, conn) {
		t.Fatal("foreign window close vetoed")
	}

	if h.HandleClientPacket(&packet.ContainerClose{WindowID: 100}, conn) {
		t.Fatal("menu close forwarded downstream")
	}
	if !s.Closed() {
		t.Fatal("session not retired by an accepted close")
	}
	if _, ok := registry.Lookup("xuid-1"); ok {
		t.Fatal("closed session still registered")
	}
	if len(closed) != 1 || closed[0] != "xuid-1" {
		t.Fatalf("close callbacks: %v", closed)
	}
}

func TestInterceptionServerTruthUpdates(t *testing.T) {
	pol := policy.Normal()
	v, registry := testEngine(pol)

	conn := newFakeConn("Steve", "xuid-1")
	s := session.New(conn, 100, testContents(27), pol.MaxClicksPerSecond, time.Now())
	registry.Register(s)

	h := NewInterception(discardLogger(), v, registry)

	replacement := protocol.ItemInstance{
		StackNetworkID: 1,
		Stack:          protocol.ItemStack{ItemType: protocol.ItemType{NetworkID: 777}, Count: 1},
	}
	if !h.HandleServerPacket(&packet.InventorySlot{WindowID: 100, Slot: 4, NewItem: replacement}, conn) {
		t.Fatal("server slot push vetoed")
	}
	got, _ := s.Slot(4)
	if got.Stack.NetworkID != 777 {
		t.Fatalf("truth slot 4 network id = %d, want 777", got.Stack.NetworkID)
	}

	// Pushes for other windows do not touch the session.
	h.HandleServerPacket(&packet.InventorySlot{WindowID: 3, Slot: 4, NewItem: protocol.ItemInstance{}}, conn)
	got, _ = s.Slot(4)
	if got.Stack.NetworkID != 777 {
		t.Fatal("foreign window push applied to the session")
	}

	// A server-side close retires the session outright.
	if !h.HandleServerPacket(&packet.ContainerClose{WindowID: 100, ServerSide: true}, conn) {
		t.Fatal("server close vetoed")
	}
	if !s.Closed() {
		t.Fatal("session survived a server-side close")
	}
}
