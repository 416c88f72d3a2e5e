package session

import (
	"sync"
	"time"

	"github.com/guardmc/invguard/utils"
	"github.com/sandertv/gophertunnel/minecraft/protocol"
	"github.com/sandertv/gophertunnel/minecraft/protocol/login"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
	"go.uber.org/atomic"
)

// Conn is the subset of a client connection the validation engine needs: a
// stable identity, a way to push correction packets and a way to terminate
// the connection. *minecraft.Conn satisfies it.
type Conn interface {
	IdentityData() login.IdentityData
	WritePacket(pk packet.Packet) error
	Close() error
}

// clickRingCapacity is the floor for the click timestamp ring. The ring must
// hold at least a full second of clicks under any policy the session may run
// under, including one swapped in after the session was created.
const clickRingCapacity = 256

// State is the lifecycle state of a session.
type State uint8

const (
	// StateOpen means the session was created and initial truth has been
	// pushed, but no interaction has been accepted yet.
	StateOpen State = iota
	// StateActive means at least one interaction has been accepted.
	StateActive
	// StateClosing means a close was accepted or a server-initiated close is
	// in progress.
	StateClosing
	// StateClosed is terminal. A closed session is removed from the registry
	// and never reused.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type cursorRecord struct {
	fingerprint uint64
	count       int
	set         bool
}

type shiftKey struct {
	slot      int
	networkID int32
}

// expectation is the precomputed post-click state for strict-level transaction
// verification. It is set by ValidateClick on accept and consumed by
// ConfirmClick.
type expectation struct {
	slot  int
	item  protocol.ItemInstance
	valid bool
}

// Session is the server-side authoritative record of one client's currently
// open validated menu. It is owned by the Registry for its entire lifecycle;
// other components reference it only through the registry's lookup.
type Session struct {
	mu sync.Mutex

	conn     Conn
	identity login.IdentityData
	windowID uint32

	truth      []protocol.ItemInstance
	clientView []protocol.ItemInstance
	desynced   bool

	cursor cursorRecord

	created         time.Time
	lastInteraction time.Time
	clicks          *utils.Ring[time.Time]
	shiftClicks     map[shiftKey]*utils.Ring[time.Time]

	pending expectation

	violations float64
	state      State
	closed     *atomic.Bool
}

// New creates a session for the given connection, menu window and initial
// truth contents. The session starts in StateOpen with the current time as
// its last interaction, so a client that never clicks still times out.
func New(conn Conn, windowID uint32, contents []protocol.ItemInstance, maxClicksPerSecond int, now time.Time) *Session {
	truth := make([]protocol.ItemInstance, len(contents))
	copy(truth, contents)
	view := make([]protocol.ItemInstance, len(contents))
	copy(view, contents)

	return &Session{
		conn:            conn,
		identity:        conn.IdentityData(),
		windowID:        windowID,
		truth:           truth,
		clientView:      view,
		created:         now,
		lastInteraction: now,
		clicks:          utils.NewRing[time.Time](max(maxClicksPerSecond+1, clickRingCapacity)),
		shiftClicks:     make(map[shiftKey]*utils.Ring[time.Time]),
		state:           StateOpen,
		closed:          atomic.NewBool(false),
	}
}

// Conn returns the client connection owning this session.
func (s *Session) Conn() Conn {
	return s.conn
}

// Identity returns the identity data of the owning client.
func (s *Session) Identity() login.IdentityData {
	return s.identity
}

// XUID returns the stable identity key the registry maps this session under.
func (s *Session) XUID() string {
	return s.identity.XUID
}

// WindowID returns the container window this session validates.
func (s *Session) WindowID() uint32 {
	return s.windowID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Violations returns the cumulative violation count.
func (s *Session) Violations() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.violations
}

// LastInteraction returns the timestamp of the last accepted interaction, or
// the creation time if none was accepted yet.
func (s *Session) LastInteraction() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInteraction
}

// Size returns the number of slots the session's menu has.
func (s *Session) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.truth)
}

// Slot returns the truth state for a single slot. The boolean is false when
// the slot is out of range.
func (s *Session) Slot(slot int) (protocol.ItemInstance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < 0 || slot >= len(s.truth) {
		return protocol.ItemInstance{}, false
	}
	return s.truth[slot], true
}

// SetSlot overwrites the truth state for a single slot. Out of range slots
// are ignored. The client view is not touched; callers that changed what the
// client sees must push the slot themselves or force a resync.
func (s *Session) SetSlot(slot int, i protocol.ItemInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < 0 || slot >= len(s.truth) {
		return
	}
	s.truth[slot] = i
}

// ApplyServerSlot records a server-driven slot change. The client receives
// the same packet, so truth and the client view move together.
func (s *Session) ApplyServerSlot(slot int, i protocol.ItemInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < 0 || slot >= len(s.truth) {
		return
	}
	s.truth[slot] = i
	s.clientView[slot] = i
}

// ApplyServerContent records a server-driven refresh of the full window.
func (s *Session) ApplyServerContent(contents []protocol.ItemInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for slot, i := range contents {
		if slot >= len(s.truth) {
			break
		}
		s.truth[slot] = i
		s.clientView[slot] = i
	}
	s.desynced = false
}

// Truth returns a copy of the authoritative menu contents.
func (s *Session) Truth() []protocol.ItemInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	contents := make([]protocol.ItemInstance, len(s.truth))
	copy(contents, s.truth)
	return contents
}

// TruthDigest returns the digest of the authoritative contents.
func (s *Session) TruthDigest() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return utils.InventoryDigest(s.truth)
}

// Desynced reports whether the client's view is known to differ from truth.
func (s *Session) Desynced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desynced
}

// BeginClose moves the session into StateClosing. It is a no-op for sessions
// already closing or closed.
func (s *Session) BeginClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateOpen || s.state == StateActive {
		s.state = StateClosing
	}
}

// FinishClose moves the session into its terminal state.
func (s *Session) FinishClose() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.closed.Store(true)
}

// Closed reports whether the session reached its terminal state.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// markInteraction records an accepted interaction: the session becomes
// active, the timing floor and the rate window advance, and the client's
// claimed cursor becomes the last known cursor. Callers hold s.mu.
func (s *Session) markInteraction(now time.Time, claim CursorClaim) {
	s.lastInteraction = now
	s.clicks.Push(now)
	if s.state == StateOpen {
		s.state = StateActive
	}
	if claim.Present {
		s.cursor = cursorRecord{fingerprint: claim.Fingerprint, count: claim.Count, set: true}
	}
}

// clicksWithin counts rate-window entries at or after cutoff, evicting older
// entries as a side effect. Callers hold s.mu.
func (s *Session) clicksWithin(cutoff time.Time) int {
	for {
		oldest, ok := s.clicks.Oldest()
		if !ok || !oldest.Before(cutoff) {
			break
		}
		s.clicks.PopOldest()
	}
	return s.clicks.Len()
}
