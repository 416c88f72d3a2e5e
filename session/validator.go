package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/elliotchance/orderedmap/v2"
	"github.com/guardmc/invguard/event"
	"github.com/guardmc/invguard/exploit"
	"github.com/guardmc/invguard/policy"
	"github.com/guardmc/invguard/utils"
	"github.com/sandertv/gophertunnel/minecraft/protocol"
	"github.com/sandertv/gophertunnel/minecraft/protocol/login"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
	"github.com/sandertv/gophertunnel/minecraft/text"
	"github.com/sirupsen/logrus"
	uatomic "go.uber.org/atomic"
)

// KickMessage is shown to clients removed for reaching the violation
// threshold.
var KickMessage = text.Colourf("<red><bold>Suspicious Inventory Activity</bold></red>\n" +
	"<red>Your inventory interactions were repeatedly rejected by the server</red>\n" +
	"<red>and you have been removed to protect the economy.</red>\n" +
	"<yellow>If you believe this is a mistake, contact the server staff.</yellow>")

// ViolationHandler is invoked synchronously whenever an interaction is
// rejected, with the offending client's identity and the matched exploit
// pattern.
type ViolationHandler func(identity login.IdentityData, t exploit.Type)

// RemoteEventFunc forwards violation and resync events to an external
// consumer.
type RemoteEventFunc func(ev event.RemoteEvent)

// SlotChange describes the result the menu layer produced for one slot after
// an accepted click was applied.
type SlotChange struct {
	Slot int
	Item protocol.ItemInstance
}

// Validator is the anti-duplication engine proper: it evaluates every
// intercepted interaction against a session's server-truth state and the
// configured policy, and executes the violation response on rejection.
//
// Validators are safe for concurrent use across sessions. Validation for a
// single session is serialized by the session's lock.
type Validator struct {
	log      *logrus.Logger
	pol      *uatomic.Pointer[policy.Policy]
	registry *Registry

	clock func() time.Time

	handlerMu   sync.Mutex
	handlers    []ViolationHandler
	remoteEvent RemoteEventFunc
}

// NewValidator creates a validator reading its tunables from pol. The policy
// pointer is shared with the facade so level changes apply immediately.
func NewValidator(log *logrus.Logger, pol *uatomic.Pointer[policy.Policy], registry *Registry) *Validator {
	return &Validator{
		log:      log,
		pol:      pol,
		registry: registry,
		clock:    time.Now,
	}
}

// Policy returns the currently effective policy.
func (v *Validator) Policy() policy.Policy {
	return *v.pol.Load()
}

// RegisterViolationHandler adds a callback fired synchronously at the point
// of every rejection.
func (v *Validator) RegisterViolationHandler(h ViolationHandler) {
	v.handlerMu.Lock()
	v.handlers = append(v.handlers, h)
	v.handlerMu.Unlock()
}

// SetRemoteEventFunc sets the sink for violation and resync events. Passing
// nil disables remote events.
func (v *Validator) SetRemoteEventFunc(f RemoteEventFunc) {
	v.handlerMu.Lock()
	v.remoteEvent = f
	v.handlerMu.Unlock()
}

// ValidateClick evaluates an intercepted inventory click against the
// session's truth state. The checks run in a fixed order and short-circuit on
// the first failure. On accept, the session's timing floor, rate window and
// cursor record advance; the caller must apply the interaction and report the
// resulting truth state through ConfirmClick.
func (v *Validator) ValidateClick(s *Session, c ClickDescriptor) Verdict {
	pol := v.Policy()
	now := v.clock()

	s.mu.Lock()

	// A click racing a disconnect or close is accepted and discarded: the
	// mutation is moot, there is no client left to observe it.
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return accept()
	}

	if pol.Level == policy.LevelNone {
		s.markInteraction(now, c.Cursor)
		s.mu.Unlock()
		return accept()
	}

	if c.Slot < 0 || c.Slot >= len(s.truth) {
		detail := orderedmap.NewOrderedMap[string, any]()
		detail.Set("slot", c.Slot)
		detail.Set("menu_size", len(s.truth))
		s.mu.Unlock()
		return v.fail(s, exploit.InvalidSlotIndex, detail)
	}

	// The first interaction of a session has no timing floor; lastInteraction
	// still holds the creation time at that point.
	if s.state != StateOpen {
		if delay := now.Sub(s.lastInteraction); delay < pol.MinClickDelay {
			detail := orderedmap.NewOrderedMap[string, any]()
			detail.Set("delay", delay.String())
			detail.Set("min_delay", pol.MinClickDelay.String())
			s.mu.Unlock()
			return v.fail(s, exploit.ClickTooFast, detail)
		}
	}

	if n := s.clicksWithin(now.Add(-time.Second)); n >= pol.MaxClicksPerSecond {
		detail := orderedmap.NewOrderedMap[string, any]()
		detail.Set("clicks_in_window", n+1)
		detail.Set("max_cps", pol.MaxClicksPerSecond)
		s.mu.Unlock()
		return v.fail(s, exploit.ClickRateExceeded, detail)
	}

	if c.Cursor.Present && s.cursor.set {
		if c.Cursor.Fingerprint == s.cursor.fingerprint {
			if c.Cursor.Count > s.cursor.count {
				detail := orderedmap.NewOrderedMap[string, any]()
				detail.Set("claimed_count", c.Cursor.Count)
				detail.Set("known_count", s.cursor.count)
				s.mu.Unlock()
				return v.fail(s, exploit.CursorDuplication, detail)
			}
		} else if c.Cursor.Fingerprint != 0 && s.cursor.fingerprint != 0 {
			detail := orderedmap.NewOrderedMap[string, any]()
			detail.Set("claimed_fingerprint", c.Cursor.Fingerprint)
			detail.Set("known_fingerprint", s.cursor.fingerprint)
			s.mu.Unlock()
			return v.fail(s, exploit.CursorSwap, detail)
		}
	}

	if pol.Level >= policy.LevelStrict && c.HasClaimed {
		truthFP := utils.InstanceFingerprint(s.truth[c.Slot])
		claimedFP := utils.InstanceFingerprint(c.Claimed)
		if truthFP != claimedFP {
			detail := orderedmap.NewOrderedMap[string, any]()
			detail.Set("slot", c.Slot)
			detail.Set("truth_fingerprint", truthFP)
			detail.Set("claimed_fingerprint", claimedFP)
			s.mu.Unlock()
			return v.fail(s, exploit.TamperedItemFingerprint, detail)
		}
	}

	if pol.Level >= policy.LevelStrict && c.Kind == ClickShiftMove {
		key := shiftKey{slot: c.Slot, networkID: s.truth[c.Slot].Stack.NetworkID}
		ring, ok := s.shiftClicks[key]
		if !ok {
			ring = utils.NewRing[time.Time](pol.MaxShiftClicksPerWindow + 1)
			s.shiftClicks[key] = ring
		}
		for {
			oldest, ok := ring.Oldest()
			if !ok || !oldest.Before(now.Add(-pol.ShiftClickWindow)) {
				break
			}
			ring.PopOldest()
		}
		ring.Push(now)
		if ring.Len() > pol.MaxShiftClicksPerWindow {
			detail := orderedmap.NewOrderedMap[string, any]()
			detail.Set("slot", c.Slot)
			detail.Set("shift_clicks", ring.Len())
			detail.Set("window", pol.ShiftClickWindow.String())
			s.mu.Unlock()
			return v.fail(s, exploit.RepeatedShiftClickLoop, detail)
		}
	}

	s.markInteraction(now, c.Cursor)
	if pol.Level >= policy.LevelStrict {
		s.pending = computeExpectation(s, c)
	}
	s.mu.Unlock()
	return accept()
}

// ConfirmClick reports the truth-state change the menu layer produced for an
// accepted click. At strict level the produced state is verified against the
// expectation recorded by ValidateClick; a mismatch cannot prevent the
// already-applied mutation, so it is rejected after the fact and triggers an
// immediate rollback.
func (v *Validator) ConfirmClick(s *Session, changes []SlotChange) Verdict {
	pol := v.Policy()

	s.mu.Lock()
	for _, change := range changes {
		if change.Slot < 0 || change.Slot >= len(s.truth) {
			continue
		}
		s.truth[change.Slot] = change.Item
		s.clientView[change.Slot] = change.Item
	}
	pending := s.pending
	s.pending = expectation{}
	s.mu.Unlock()

	if pol.Level < policy.LevelStrict || !pending.valid {
		return accept()
	}

	for _, change := range changes {
		if change.Slot != pending.slot {
			continue
		}
		producedFP := utils.InstanceFingerprint(change.Item)
		expectedFP := utils.InstanceFingerprint(pending.item)
		if producedFP == expectedFP {
			return accept()
		}
		detail := orderedmap.NewOrderedMap[string, any]()
		detail.Set("slot", pending.slot)
		detail.Set("expected_fingerprint", expectedFP)
		detail.Set("produced_fingerprint", producedFP)
		verdict := v.fail(s, exploit.PostClickStateMismatch, detail)
		// The mutation already happened; roll it back regardless of the
		// auto-rollback setting.
		if !pol.AutoRollbackOnViolation {
			_ = v.ForceResync(s)
		}
		return verdict
	}
	return accept()
}

// ValidateClose evaluates an intercepted menu close. A close from a client
// whose view is known to differ from server truth is rejected: the close is
// vetoed and a resync forced rather than letting the client keep phantom
// items after the menu disappears.
func (v *Validator) ValidateClose(s *Session, c CloseDescriptor) Verdict {
	pol := v.Policy()

	s.mu.Lock()
	if c.ServerSide || pol.Level == policy.LevelNone || s.state == StateClosing || s.state == StateClosed {
		if s.state == StateOpen || s.state == StateActive {
			s.state = StateClosing
		}
		s.mu.Unlock()
		return accept()
	}

	desynced := s.desynced
	digestMismatch := c.HasDigest && c.Digest != utils.InventoryDigest(s.truth)
	if desynced || digestMismatch {
		detail := orderedmap.NewOrderedMap[string, any]()
		detail.Set("tracked_desync", desynced)
		detail.Set("digest_mismatch", digestMismatch)
		s.mu.Unlock()

		verdict := v.fail(s, exploit.CloseWithDesync, detail)
		// Always push truth back on a rejected close, even when the policy
		// does not auto-roll-back ordinary violations.
		if !pol.AutoRollbackOnViolation {
			_ = v.ForceResync(s)
		}
		return verdict
	}

	s.state = StateClosing
	s.mu.Unlock()
	return accept()
}

// RecordViolation records a violation that was not produced by the click or
// close chain, such as the watchdog's stale-session flag or a withheld close
// observed at disconnect.
func (v *Validator) RecordViolation(s *Session, t exploit.Type) {
	detail := orderedmap.NewOrderedMap[string, any]()
	detail.Set("state", s.State().String())
	_ = v.fail(s, t, detail)
}

// fail executes the violation response: it bumps the session's violation
// count, emits the structured record and remote event, runs registered
// handlers, optionally rolls back, and escalates to a kick at the threshold.
func (v *Validator) fail(s *Session, t exploit.Type, detail *orderedmap.OrderedMap[string, any]) Verdict {
	pol := v.Policy()

	weight := 1.0
	if pol.WeightBySeverity {
		weight = float64(math32.Min(float32(exploit.Severity(t)), 5))
	}

	s.mu.Lock()
	s.violations += weight
	violations := s.violations
	// A vetoed interaction the client already rendered locally leaves the
	// client's view ahead of truth until the next resync.
	s.desynced = true
	s.mu.Unlock()

	if detail == nil {
		detail = orderedmap.NewOrderedMap[string, any]()
	}
	detail.Set("severity", exploit.Severity(t))
	detail.Set("violations", violations)

	if pol.LogViolations {
		v.log.WithFields(logrus.Fields{
			"player":     s.identity.DisplayName,
			"xuid":       s.identity.XUID,
			"exploit":    string(t),
			"severity":   exploit.Severity(t),
			"violations": violations,
		}).Warnf("rejected inventory interaction: %s", exploit.Description(t))
	}

	v.handlerMu.Lock()
	handlers := make([]ViolationHandler, len(v.handlers))
	copy(handlers, v.handlers)
	remote := v.remoteEvent
	v.handlerMu.Unlock()

	for _, h := range handlers {
		h(s.identity, t)
	}
	if remote != nil {
		remote(event.NewViolationEvent(s.identity.DisplayName, string(t), exploit.Severity(t), violations, detailString(detail)))
	}

	if pol.AutoRollbackOnViolation && !s.Closed() {
		_ = v.ForceResync(s)
	}

	if pol.KickOnViolation && violations >= pol.ViolationKickThreshold {
		v.kick(s, t)
	}
	return reject(t, detail)
}

// kick terminates the offending client's connection and retires the session.
// It only ever affects the one session; the registry stays consistent for
// everyone else.
func (v *Validator) kick(s *Session, t exploit.Type) {
	if s.Closed() {
		return
	}
	v.registry.Remove(s.XUID())
	_ = s.conn.WritePacket(&packet.Disconnect{Message: KickMessage})
	_ = s.conn.Close()
	s.FinishClose()

	v.log.WithFields(logrus.Fields{
		"player":  s.identity.DisplayName,
		"xuid":    s.identity.XUID,
		"exploit": string(t),
	}).Warnf("%s was disconnected for reaching the violation threshold", s.identity.DisplayName)
}

// computeExpectation derives the post-click truth state for the clicked slot
// from the current truth and the decoded interaction. Callers hold s.mu.
func computeExpectation(s *Session, c ClickDescriptor) expectation {
	current := s.truth[c.Slot]
	switch c.Kind {
	case ClickTake, ClickDrop, ClickDestroy, ClickShiftMove:
		return expectation{slot: c.Slot, item: instanceGrown(current, -c.Count), valid: true}
	case ClickPlace:
		return expectation{slot: c.Slot, item: instanceGrown(current, c.Count), valid: true}
	}
	// Swaps and unknown shapes carry no verifiable claim: the item landing in
	// the slot comes from the cursor, of which only a fingerprint is known.
	return expectation{}
}

// instanceGrown returns a copy of an instance with its count adjusted,
// clamping at empty.
func instanceGrown(i protocol.ItemInstance, delta int) protocol.ItemInstance {
	count := int(i.Stack.Count) + delta
	if count <= 0 || i.Stack.NetworkID == 0 {
		return protocol.ItemInstance{}
	}
	out := i
	out.Stack.Count = uint16(count)
	return out
}

func detailString(detail *orderedmap.OrderedMap[string, any]) string {
	parts := make([]string, 0, detail.Len())
	for _, key := range detail.Keys() {
		val, _ := detail.Get(key)
		parts = append(parts, fmt.Sprintf("%s=%v", key, val))
	}
	return "[" + strings.Join(parts, " ") + "]"
}
