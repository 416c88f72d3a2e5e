package menu

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/guardmc/invguard/session"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
)

// Menu is the capability every menu variant provides. The variant set is
// closed: a menu is either plain or validated, selected once when the menu is
// built, so no code ever has to inspect which one it got.
type Menu interface {
	// Open presents the menu to a client.
	Open(c session.Conn) error
	// HandleInteraction applies a click on a slot for a viewing client.
	HandleInteraction(c session.Conn, slot int, shift bool)
	// Cleanup releases per-viewer resources once the menu is closed.
	Cleanup()
}

// Options configure menu behavior shared by both variants.
type Options struct {
	// Title names the menu in logs and staff alerts.
	Title string
	// ClickSound plays a note sound to the viewer on every accepted click.
	ClickSound bool
}

// Validated is the packet-guarded menu variant. Every raw interaction with
// its window passes the anti-duplication engine before a button callback
// runs, and its truth state lives in the viewer's session.
type Validated struct {
	mgr    *Manager
	layout *Layout
	opts   Options

	mu       sync.Mutex
	sessions map[string]*session.Session
	anim     *Animator
}

// NewValidated builds a validated menu over a layout.
func NewValidated(mgr *Manager, layout *Layout, opts Options) *Validated {
	return &Validated{
		mgr:      mgr,
		layout:   layout,
		opts:     opts,
		sessions: make(map[string]*session.Session),
	}
}

// SetAnimator attaches a slot animator driven by the manager's tick.
func (m *Validated) SetAnimator(a *Animator) {
	m.mu.Lock()
	m.anim = a
	m.mu.Unlock()
}

// Open opens the menu for a client, registering a validated session as the
// client's sole active one.
func (m *Validated) Open(c session.Conn) error {
	xuid := c.IdentityData().XUID
	s, err := m.mgr.guard.OpenSession(c, m.layout.Render(), func() {
		m.mu.Lock()
		delete(m.sessions, xuid)
		m.mu.Unlock()
		m.mgr.menuClosed(xuid)
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sessions[xuid] = s
	m.mu.Unlock()
	return nil
}

// HandleInteraction runs the clicked button's callback. Menu buttons never
// actually move: the clicked slot is pushed back to the client afterwards so
// any locally predicted pickup is undone immediately.
func (m *Validated) HandleInteraction(c session.Conn, slot int, shift bool) {
	xuid := c.IdentityData().XUID
	m.mu.Lock()
	s := m.sessions[xuid]
	m.mu.Unlock()
	if s == nil {
		return
	}

	if b, ok := m.layout.Button(slot); ok && b.OnClick != nil {
		b.OnClick(ClickContext{Conn: c, Slot: slot, Shift: shift})
	}

	if inst, ok := s.Slot(slot); ok {
		s.ApplyServerSlot(slot, inst)
		_ = c.WritePacket(&packet.InventorySlot{
			WindowID: s.WindowID(),
			Slot:     uint32(slot),
			NewItem:  inst,
		})
	}
	_ = m.mgr.guard.Validator().ConfirmClick(s, nil)

	if m.opts.ClickSound {
		_ = c.WritePacket(&packet.LevelSoundEvent{
			SoundType: packet.SoundEventNote,
			Position:  mgl32.Vec3{},
		})
	}
}

// Refresh replaces the menu contents a specific viewer sees, updating session
// truth first so the push is authoritative.
func (m *Validated) Refresh(c session.Conn, layout *Layout) error {
	xuid := c.IdentityData().XUID
	m.mu.Lock()
	s := m.sessions[xuid]
	m.mu.Unlock()
	if s == nil {
		return nil
	}

	contents := layout.Render()
	s.ApplyServerContent(contents)
	return c.WritePacket(&packet.InventoryContent{
		WindowID: s.WindowID(),
		Content:  contents,
	})
}

// Close dismisses the menu for a client through the guard.
func (m *Validated) Close(c session.Conn) error {
	return m.mgr.guard.CloseSession(c.IdentityData().XUID)
}

// Cleanup releases every remaining viewer entry. Sessions themselves are
// owned and retired by the registry.
func (m *Validated) Cleanup() {
	m.mu.Lock()
	m.sessions = make(map[string]*session.Session)
	m.mu.Unlock()
}

func (m *Validated) tick() {
	m.mu.Lock()
	anim := m.anim
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	if anim == nil {
		return
	}
	anim.apply(sessions)
}
