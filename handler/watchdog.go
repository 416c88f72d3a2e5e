package handler

import (
	"time"

	"github.com/guardmc/invguard/exploit"
	"github.com/guardmc/invguard/session"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
	"github.com/sirupsen/logrus"
)

const HandlerIDWatchdog = "invguard:watchdog"

// TicksPerSecond is the fixed tick rate of the game server driving OnTick.
const TicksPerSecond = 20

// Watchdog periodically sweeps the session registry and reaps sessions that
// have been inactive past the configured timeout. It defeats clients that
// withhold their close message to keep a session open indefinitely.
type Watchdog struct {
	log       *logrus.Logger
	validator *session.Validator
	registry  *session.Registry

	clock func() time.Time
	tick  int64

	onClose func(s *session.Session)
}

func NewWatchdog(log *logrus.Logger, v *session.Validator, registry *session.Registry) *Watchdog {
	return &Watchdog{log: log, validator: v, registry: registry, clock: time.Now}
}

func (*Watchdog) ID() string {
	return HandlerIDWatchdog
}

// SetCloseFunc sets the callback run when a force-closed session is retired.
func (w *Watchdog) SetCloseFunc(f func(s *session.Session)) {
	w.onClose = f
}

func (*Watchdog) HandleClientPacket(pk packet.Packet, c session.Conn) bool {
	return true
}

func (*Watchdog) HandleServerPacket(pk packet.Packet, c session.Conn) bool {
	return true
}

func (w *Watchdog) OnTick() {
	w.tick++
	pol := w.validator.Policy()
	if !pol.DetectStaleSessions && !pol.ForceCloseOnTimeout {
		return
	}

	interval := int64(pol.InactivityCheckInterval / (time.Second / TicksPerSecond))
	if interval < 1 {
		interval = 1
	}
	if w.tick%interval != 0 {
		return
	}
	w.Sweep()
}

// Sweep checks every active session against the inactivity timeout once. It
// is driven by OnTick but exported so shutdown paths can run a final sweep.
func (w *Watchdog) Sweep() {
	pol := w.validator.Policy()
	now := w.clock()

	for _, s := range w.registry.All() {
		if now.Sub(s.LastInteraction()) <= pol.SessionTimeout {
			continue
		}

		if pol.DetectStaleSessions {
			w.validator.RecordViolation(s, exploit.StaleSession)
		}
		if !pol.ForceCloseOnTimeout || s.Closed() {
			continue
		}

		// Resync before tearing the window down so a still-connected client
		// is left looking at truth, not at whatever it drifted to.
		s.BeginClose()
		_ = w.validator.ForceResync(s)
		_ = s.Conn().WritePacket(&packet.ContainerClose{
			WindowID:   byte(s.WindowID()),
			ServerSide: true,
		})
		w.registry.Remove(s.XUID())
		s.FinishClose()
		if w.onClose != nil {
			w.onClose(s)
		}

		w.log.Debugf("watchdog reaped stale session of %s (window %d)", s.Identity().DisplayName, s.WindowID())
	}
}
