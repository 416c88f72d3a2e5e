package invguard

import (
	"sync"
	"time"

	"github.com/guardmc/invguard/exploit"
	"github.com/guardmc/invguard/gerror"
	"github.com/guardmc/invguard/handler"
	"github.com/guardmc/invguard/policy"
	"github.com/guardmc/invguard/session"
	"github.com/sandertv/gophertunnel/minecraft/protocol"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
	"github.com/sirupsen/logrus"
	uatomic "go.uber.org/atomic"
)

// containerTypeContainer is the generic chest container type used for virtual
// menu windows.
const containerTypeContainer byte = 0

// windowIDBase..windowIDBase+windowIDRange is the window ID space allocated
// to virtual menus. It stays clear of the reserved client windows below 100
// and fits in the byte window ID of ContainerClose.
const (
	windowIDBase  uint32 = 100
	windowIDRange uint32 = 100
)

// Guard is an instance of the validated-menu framework. It owns the session
// registry, the validator and the packet handler chain, and is the only
// surface the menu layer and the hosting proxy interact with.
type Guard struct {
	log *logrus.Logger
	pol *uatomic.Pointer[policy.Policy]

	registry  *session.Registry
	validator *session.Validator

	interception *handler.Interception
	watchdog     *handler.Watchdog
	handlers     []handler.Handler
	issued       *uatomic.Bool

	windowCounter *uatomic.Uint32
	closed        *uatomic.Bool

	cleanupMu sync.Mutex
	cleanups  map[string]func()
}

// New creates a guard with the given policy. The logger is shared by every
// component; violations are logged through it as structured records.
func New(log *logrus.Logger, pol policy.Policy) *Guard {
	p := uatomic.NewPointer(&pol)
	registry := session.NewRegistry(log)
	validator := session.NewValidator(log, p, registry)
	handlers := handler.Register(log, validator, registry)

	g := &Guard{
		log:           log,
		pol:           p,
		registry:      registry,
		validator:     validator,
		interception:  handlers[0].(*handler.Interception),
		watchdog:      handlers[1].(*handler.Watchdog),
		handlers:      handlers,
		issued:        uatomic.NewBool(false),
		windowCounter: uatomic.NewUint32(0),
		closed:        uatomic.NewBool(false),
		cleanups:      make(map[string]func()),
	}
	g.interception.SetCloseFunc(g.dispatchCleanup)
	g.watchdog.SetCloseFunc(g.dispatchCleanup)
	return g
}

// Handlers returns the packet handler chain the hosting proxy must run, in
// order. The interception handler comes first and must stay first. Calling
// Handlers more than once is a configuration mistake; the repeated call is
// logged and returns the same chain.
func (g *Guard) Handlers() []handler.Handler {
	if !g.issued.CompareAndSwap(false, true) {
		g.log.Warn("guard handlers requested more than once; returning the existing chain")
	}
	return g.handlers
}

// OnTick drives the handler chain's periodic work. The hosting proxy calls it
// once per server tick.
func (g *Guard) OnTick() {
	for _, h := range g.handlers {
		h.OnTick()
	}
}

// Policy returns the currently effective policy.
func (g *Guard) Policy() policy.Policy {
	return *g.pol.Load()
}

// SetPolicy atomically replaces the effective policy.
func (g *Guard) SetPolicy(pol policy.Policy) {
	g.pol.Store(&pol)
}

// ValidationLevel returns the effective validation level.
func (g *Guard) ValidationLevel() policy.Level {
	return g.Policy().Level
}

// SetValidationLevel changes only the validation level, keeping every other
// policy field.
func (g *Guard) SetValidationLevel(l policy.Level) {
	pol := g.Policy().WithLevel(l)
	g.pol.Store(&pol)
}

// Registry exposes the session registry for lookups.
func (g *Guard) Registry() *session.Registry {
	return g.registry
}

// Validator exposes the anti-duplication engine.
func (g *Guard) Validator() *session.Validator {
	return g.validator
}

// RegisterViolationHandler adds a callback invoked synchronously with the
// client identity and exploit type of every rejection.
func (g *Guard) RegisterViolationHandler(h session.ViolationHandler) {
	g.validator.RegisterViolationHandler(h)
}

// SetRemoteEventFunc sets the sink for violation and resync remote events.
func (g *Guard) SetRemoteEventFunc(f session.RemoteEventFunc) {
	g.validator.SetRemoteEventFunc(f)
}

// SetInteractionFunc sets the consumer for accepted clicks. The menu layer
// registers itself here so validated interactions reach button callbacks.
func (g *Guard) SetInteractionFunc(f func(s *session.Session, desc session.ClickDescriptor)) {
	g.interception.SetInteractionFunc(f)
}

// OpenSession opens a validated menu window for a client: it allocates a
// window ID, installs the session as the client's sole active one, and pushes
// the window and its initial truth contents. cleanup, if non-nil, runs once
// when the session closes for any reason.
func (g *Guard) OpenSession(c session.Conn, contents []protocol.ItemInstance, cleanup func()) (*session.Session, error) {
	if g.closed.Load() {
		return nil, gerror.New("guard is closed")
	}

	pol := g.Policy()
	windowID := windowIDBase + g.windowCounter.Inc()%windowIDRange
	s := session.New(c, windowID, contents, pol.MaxClicksPerSecond, time.Now())
	if !g.registry.Register(s) {
		return nil, gerror.New("client %s already has an open validated session", c.IdentityData().DisplayName)
	}

	if cleanup != nil {
		g.cleanupMu.Lock()
		g.cleanups[s.XUID()] = cleanup
		g.cleanupMu.Unlock()
	}

	if err := c.WritePacket(&packet.ContainerOpen{
		WindowID:      byte(windowID),
		ContainerType: containerTypeContainer,
	}); err != nil {
		g.teardown(s)
		return nil, gerror.New("failed opening menu window: %v", err)
	}
	if err := c.WritePacket(&packet.InventoryContent{
		WindowID: windowID,
		Content:  s.Truth(),
	}); err != nil {
		g.teardown(s)
		return nil, gerror.New("failed pushing menu contents: %v", err)
	}
	return s, nil
}

// CloseSession closes a client's validated session server-side, telling the
// client to dismiss the window.
func (g *Guard) CloseSession(xuid string) error {
	s, ok := g.registry.Remove(xuid)
	if !ok {
		return gerror.New("no active session for %s", xuid)
	}
	s.BeginClose()
	err := s.Conn().WritePacket(&packet.ContainerClose{
		WindowID:   byte(s.WindowID()),
		ServerSide: true,
	})
	s.FinishClose()
	g.dispatchCleanup(s)
	return err
}

// HandleDisconnect retires a client's session when its connection drops. The
// session closes immediately without a resync; there is no client left to
// correct. A session abandoned in an open state is recorded as a withheld
// close.
func (g *Guard) HandleDisconnect(xuid string) {
	s, ok := g.registry.Remove(xuid)
	if !ok {
		return
	}
	if st := s.State(); st == session.StateOpen || st == session.StateActive {
		g.validator.RecordViolation(s, exploit.WithheldClose)
	}
	s.FinishClose()
	g.dispatchCleanup(s)
}

// ForceResync pushes the authoritative contents of a client's session back to
// the client.
func (g *Guard) ForceResync(xuid string) error {
	s, ok := g.registry.Lookup(xuid)
	if !ok {
		return gerror.New("no active session for %s", xuid)
	}
	return g.validator.ForceResync(s)
}

// IsSynced compares a client-reported digest against the session's truth
// without mutating anything. A client without a session is trivially synced.
func (g *Guard) IsSynced(xuid string, digest uint64) bool {
	s, ok := g.registry.Lookup(xuid)
	if !ok {
		return true
	}
	return g.validator.Synced(s, digest)
}

// Close shuts the guard down, removing every session. Menus are not resynced
// or closed client-side; the hosting proxy is expected to be going away with
// us.
func (g *Guard) Close() {
	if !g.closed.CompareAndSwap(false, true) {
		return
	}
	g.registry.ClearAll()
	g.cleanupMu.Lock()
	g.cleanups = make(map[string]func())
	g.cleanupMu.Unlock()
}

func (g *Guard) teardown(s *session.Session) {
	g.registry.Remove(s.XUID())
	s.FinishClose()
	g.cleanupMu.Lock()
	delete(g.cleanups, s.XUID())
	g.cleanupMu.Unlock()
}

// dispatchCleanup runs and clears the cleanup registered for a session's
// client. Safe to call more than once per session.
func (g *Guard) dispatchCleanup(s *session.Session) {
	g.cleanupMu.Lock()
	cleanup := g.cleanups[s.XUID()]
	delete(g.cleanups, s.XUID())
	g.cleanupMu.Unlock()
	if cleanup != nil {
		cleanup()
	}
}
