package menu

import (
	"sync"

	"github.com/guardmc/invguard"
	"github.com/guardmc/invguard/session"
)

// Manager routes accepted, validated interactions from the guard to the menu
// each viewer has open, and drives menu animations off the server tick. One
// manager serves one guard.
type Manager struct {
	guard *invguard.Guard

	mu   sync.Mutex
	open map[string]Menu
}

func NewManager(g *invguard.Guard) *Manager {
	m := &Manager{guard: g, open: make(map[string]Menu)}
	g.SetInteractionFunc(m.handleInteraction)
	return m
}

// Guard returns the guard this manager routes for.
func (m *Manager) Guard() *invguard.Guard {
	return m.guard
}

// Open presents a menu to a client and records it as the client's open menu.
func (m *Manager) Open(menu Menu, c session.Conn) error {
	if err := menu.Open(c); err != nil {
		return err
	}
	m.mu.Lock()
	m.open[c.IdentityData().XUID] = menu
	m.mu.Unlock()
	return nil
}

// OnTick advances the guard's periodic work and every open menu's animation.
func (m *Manager) OnTick() {
	m.guard.OnTick()

	// A menu open for several viewers still ticks once.
	m.mu.Lock()
	seen := make(map[Menu]struct{}, len(m.open))
	menus := make([]Menu, 0, len(m.open))
	for _, menu := range m.open {
		if _, ok := seen[menu]; ok {
			continue
		}
		seen[menu] = struct{}{}
		menus = append(menus, menu)
	}
	m.mu.Unlock()

	for _, menu := range menus {
		if t, ok := menu.(interface{ tick() }); ok {
			t.tick()
		}
	}
}

func (m *Manager) handleInteraction(s *session.Session, desc session.ClickDescriptor) {
	m.mu.Lock()
	menu := m.open[s.XUID()]
	m.mu.Unlock()
	if menu == nil {
		return
	}
	menu.HandleInteraction(s.Conn(), desc.Slot, desc.Kind == session.ClickShiftMove)
}

// menuClosed clears the open-menu record for a client whose session closed.
func (m *Manager) menuClosed(xuid string) {
	m.mu.Lock()
	delete(m.open, xuid)
	m.mu.Unlock()
}
