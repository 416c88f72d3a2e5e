package menu

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/guardmc/invguard/session"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
	uatomic "go.uber.org/atomic"
)

// plainWindowCounter allocates window IDs for unvalidated menus, in a range
// that never collides with the guard's validated windows.
var plainWindowCounter = uatomic.NewUint32(0)

const (
	plainWindowBase  uint32 = 200
	plainWindowRange uint32 = 50
)

// Plain is the unvalidated menu variant: no session, no interception, zero
// validation overhead. The host delivers interactions itself through
// HandleInteraction; nothing protects it from forged packets. Use it for
// menus where duplication is impossible, such as pure navigation screens on
// a trusted event source.
type Plain struct {
	layout *Layout
	opts   Options

	mu      sync.Mutex
	windows map[string]uint32
}

// NewPlain builds a plain menu over a layout.
func NewPlain(layout *Layout, opts Options) *Plain {
	return &Plain{
		layout:  layout,
		opts:    opts,
		windows: make(map[string]uint32),
	}
}

// Open presents the menu to a client without registering any session.
func (m *Plain) Open(c session.Conn) error {
	windowID := plainWindowBase + plainWindowCounter.Inc()%plainWindowRange

	m.mu.Lock()
	m.windows[c.IdentityData().XUID] = windowID
	m.mu.Unlock()

	if err := c.WritePacket(&packet.ContainerOpen{
		WindowID: byte(windowID),
	}); err != nil {
		return err
	}
	return c.WritePacket(&packet.InventoryContent{
		WindowID: windowID,
		Content:  m.layout.Render(),
	})
}

// HandleInteraction runs the clicked button's callback directly.
func (m *Plain) HandleInteraction(c session.Conn, slot int, shift bool) {
	if b, ok := m.layout.Button(slot); ok && b.OnClick != nil {
		b.OnClick(ClickContext{Conn: c, Slot: slot, Shift: shift})
	}
	if m.opts.ClickSound {
		_ = c.WritePacket(&packet.LevelSoundEvent{
			SoundType: packet.SoundEventNote,
			Position:  mgl32.Vec3{},
		})
	}
}

// Close dismisses the menu for a client.
func (m *Plain) Close(c session.Conn) error {
	m.mu.Lock()
	windowID, ok := m.windows[c.IdentityData().XUID]
	delete(m.windows, c.IdentityData().XUID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return c.WritePacket(&packet.ContainerClose{
		WindowID:   byte(windowID),
		ServerSide: true,
	})
}

// Cleanup drops every viewer entry.
func (m *Plain) Cleanup() {
	m.mu.Lock()
	m.windows = make(map[string]uint32)
	m.mu.Unlock()
}
