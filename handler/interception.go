package handler

import (
	"github.com/getsentry/sentry-go"
	"github.com/guardmc/invguard/session"
	"github.com/guardmc/invguard/utils"
	"github.com/sandertv/gophertunnel/minecraft/protocol"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
	"github.com/sirupsen/logrus"
)

const HandlerIDInterception = "invguard:interception"

// Interception hooks the raw inbound packet stream for the two message kinds
// that matter (inventory click, inventory close) and routes them to the
// owning session's validator before anything else processes them. It must be
// registered ahead of every other consumer of the same stream, otherwise the
// exploit has already happened by the time validation runs.
type Interception struct {
	log       *logrus.Logger
	validator *session.Validator
	registry  *session.Registry

	// onInteraction receives every accepted click so the menu layer can apply
	// it. Accepted interactions on validated sessions are consumed: the menu
	// window only exists here, never downstream.
	onInteraction func(s *session.Session, desc session.ClickDescriptor)
	// onClose is invoked after a close is accepted or a session is kicked
	// mid-click, so the menu layer can release its resources.
	onClose func(s *session.Session)
}

func NewInterception(log *logrus.Logger, v *session.Validator, registry *session.Registry) *Interception {
	return &Interception{log: log, validator: v, registry: registry}
}

func (*Interception) ID() string {
	return HandlerIDInterception
}

// SetInteractionFunc sets the callback run for every accepted click.
func (h *Interception) SetInteractionFunc(f func(s *session.Session, desc session.ClickDescriptor)) {
	h.onInteraction = f
}

// SetCloseFunc sets the callback run when an accepted close retires a session.
func (h *Interception) SetCloseFunc(f func(s *session.Session)) {
	h.onClose = f
}

func (h *Interception) HandleClientPacket(pk packet.Packet, c session.Conn) (forward bool) {
	// A malformed packet the codec accepted must never take the whole
	// connection down with it; it passes through unvalidated instead.
	defer func() {
		if v := recover(); v != nil {
			sentry.CurrentHub().Recover(v)
			h.log.Errorf("panic while intercepting %T: %v", pk, v)
			forward = true
		}
	}()

	switch pk := pk.(type) {
	case *packet.InventoryTransaction:
		return h.handleTransaction(pk, c)
	case *packet.ItemStackRequest:
		return h.handleStackRequest(pk, c)
	case *packet.ContainerClose:
		return h.handleClose(pk, c)
	}
	return true
}

// HandleServerPacket keeps session truth aligned with server-driven content
// changes: slot pushes and content refreshes for the session's window are the
// authoritative state by definition.
func (h *Interception) HandleServerPacket(pk packet.Packet, c session.Conn) bool {
	s, ok := h.registry.Lookup(c.IdentityData().XUID)
	if !ok {
		return true
	}

	switch pk := pk.(type) {
	case *packet.InventorySlot:
		if pk.WindowID == s.WindowID() {
			s.ApplyServerSlot(int(pk.Slot), pk.NewItem)
		}
	case *packet.InventoryContent:
		if pk.WindowID == s.WindowID() {
			s.ApplyServerContent(pk.Content)
		}
	case *packet.ContainerClose:
		// A server-initiated close always succeeds; the session is retired
		// before the client even sees the window disappear.
		if uint32(pk.WindowID) == s.WindowID() {
			s.BeginClose()
			h.registry.Remove(s.XUID())
			s.FinishClose()
			if h.onClose != nil {
				h.onClose(s)
			}
		}
	}
	return true
}

func (*Interception) OnTick() {}

// handleTransaction validates a legacy inventory transaction. These carry the
// client's claimed old and new item stacks per slot, so the full check chain
// runs.
func (h *Interception) handleTransaction(pk *packet.InventoryTransaction, c session.Conn) bool {
	s, ok := h.registry.Lookup(c.IdentityData().XUID)
	if !ok {
		// Not a validated menu; unvalidated traffic passes through.
		return true
	}

	desc, ok := decodeTransaction(pk, s.WindowID())
	if !ok {
		return true
	}

	verdict := h.validator.ValidateClick(s, desc)
	if !verdict.Accepted {
		if s.Closed() && h.onClose != nil {
			h.onClose(s)
		}
		return false
	}
	if h.onInteraction != nil {
		h.onInteraction(s, desc)
	}
	// The virtual window does not exist downstream; the accepted interaction
	// was applied by the menu layer above.
	return false
}

// handleStackRequest validates a modern item stack request. Requests carry
// only stack network IDs, not item content, so content claims are absent and
// the structural checks run.
func (h *Interception) handleStackRequest(pk *packet.ItemStackRequest, c session.Conn) bool {
	s, ok := h.registry.Lookup(c.IdentityData().XUID)
	if !ok {
		return true
	}

	var (
		remaining []protocol.ItemStackRequest
		responses []protocol.ItemStackResponse
	)
	for _, req := range pk.Requests {
		desc, ok := decodeStackRequest(req)
		if !ok {
			// Not aimed at the virtual menu; leave it for downstream.
			remaining = append(remaining, req)
			continue
		}
		desc.WindowID = s.WindowID()
		verdict := h.validator.ValidateClick(s, desc)
		if verdict.Accepted {
			if h.onInteraction != nil {
				h.onInteraction(s, desc)
			}
			responses = append(responses, protocol.ItemStackResponse{
				Status:    protocol.ItemStackResponseStatusOK,
				RequestID: req.RequestID,
			})
			continue
		}
		responses = append(responses, protocol.ItemStackResponse{
			Status:    protocol.ItemStackResponseStatusError,
			RequestID: req.RequestID,
		})
	}
	if len(responses) == 0 {
		return true
	}

	// Consumed requests never reach the downstream server, so the client
	// still needs its answers from us.
	_ = c.WritePacket(&packet.ItemStackResponse{Responses: responses})
	if s.Closed() && h.onClose != nil {
		h.onClose(s)
	}
	if len(remaining) > 0 {
		pk.Requests = remaining
		return true
	}
	return false
}

func (h *Interception) handleClose(pk *packet.ContainerClose, c session.Conn) bool {
	s, ok := h.registry.Lookup(c.IdentityData().XUID)
	if !ok {
		return true
	}
	if uint32(pk.WindowID) != s.WindowID() {
		return true
	}

	verdict := h.validator.ValidateClose(s, session.CloseDescriptor{
		WindowID:   uint32(pk.WindowID),
		ServerSide: pk.ServerSide,
	})
	if !verdict.Accepted {
		return false
	}

	h.registry.Remove(s.XUID())
	s.FinishClose()
	if h.onClose != nil {
		h.onClose(s)
	}
	// The window was ours; downstream never opened it.
	return false
}

// decodeTransaction extracts a click descriptor from a legacy transaction
// touching the given menu window. ok is false when the transaction does not
// involve the menu at all.
func decodeTransaction(pk *packet.InventoryTransaction, windowID uint32) (session.ClickDescriptor, bool) {
	var (
		menuAction   *protocol.InventoryAction
		cursorAction *protocol.InventoryAction
		otherWindow  bool
	)
	for i, action := range pk.Actions {
		if action.SourceType != protocol.InventoryActionSourceContainer {
			continue
		}
		switch action.WindowID {
		case int32(windowID):
			if menuAction == nil {
				menuAction = &pk.Actions[i]
			}
		case protocol.WindowIDUI:
			if action.InventorySlot == 0 {
				cursorAction = &pk.Actions[i]
			}
		case protocol.WindowIDInventory:
			otherWindow = true
		}
	}
	if menuAction == nil {
		return session.ClickDescriptor{}, false
	}

	desc := session.ClickDescriptor{
		RequestID:  pk.LegacyRequestID,
		WindowID:   windowID,
		Slot:       int(menuAction.InventorySlot),
		Claimed:    menuAction.OldItem,
		HasClaimed: true,
	}

	oldCount, newCount := int(menuAction.OldItem.Stack.Count), int(menuAction.NewItem.Stack.Count)
	desc.Count = oldCount - newCount
	if desc.Count < 0 {
		desc.Count = -desc.Count
	}

	switch {
	case otherWindow:
		desc.Kind = session.ClickShiftMove
	case cursorAction != nil:
		switch {
		case menuAction.OldItem.Stack.NetworkID != 0 && menuAction.NewItem.Stack.NetworkID != 0 &&
			menuAction.OldItem.Stack.NetworkID != menuAction.NewItem.Stack.NetworkID:
			desc.Kind = session.ClickSwap
		case newCount > oldCount:
			desc.Kind = session.ClickPlace
		default:
			desc.Kind = session.ClickTake
		}
	default:
		desc.Kind = session.ClickUnknown
	}

	if cursorAction != nil {
		desc.Cursor = session.CursorClaim{
			Present:     true,
			Fingerprint: utils.IdentityFingerprint(cursorAction.OldItem),
			Count:       int(cursorAction.OldItem.Stack.Count),
		}
	}
	return desc, true
}

// decodeStackRequest extracts a click descriptor from a modern stack request.
// Requests reference slots by container, not by window, so the menu is
// identified by the level-entity container that virtual menus occupy.
func decodeStackRequest(req protocol.ItemStackRequest) (session.ClickDescriptor, bool) {
	for _, action := range req.Actions {
		switch action := action.(type) {
		case *protocol.TakeStackRequestAction:
			if desc, ok := transferDescriptor(req.RequestID, action.Source, action.Destination, int(action.Count)); ok {
				return desc, true
			}
		case *protocol.PlaceStackRequestAction:
			if desc, ok := transferDescriptor(req.RequestID, action.Source, action.Destination, int(action.Count)); ok {
				return desc, true
			}
		case *protocol.SwapStackRequestAction:
			if slot, ok := menuSlot(action.Source); ok {
				return session.ClickDescriptor{RequestID: req.RequestID, Slot: slot, Kind: session.ClickSwap}, true
			}
			if slot, ok := menuSlot(action.Destination); ok {
				return session.ClickDescriptor{RequestID: req.RequestID, Slot: slot, Kind: session.ClickSwap}, true
			}
		case *protocol.DropStackRequestAction:
			if slot, ok := menuSlot(action.Source); ok {
				return session.ClickDescriptor{RequestID: req.RequestID, Slot: slot, Kind: session.ClickDrop, Count: int(action.Count)}, true
			}
		case *protocol.DestroyStackRequestAction:
			if slot, ok := menuSlot(action.Source); ok {
				return session.ClickDescriptor{RequestID: req.RequestID, Slot: slot, Kind: session.ClickDestroy, Count: int(action.Count)}, true
			}
		}
	}
	return session.ClickDescriptor{}, false
}

func transferDescriptor(requestID int32, src, dst protocol.StackRequestSlotInfo, count int) (session.ClickDescriptor, bool) {
	if slot, ok := menuSlot(src); ok {
		kind := session.ClickTake
		if dst.Container.ContainerID == protocol.ContainerCombinedHotBarAndInventory {
			kind = session.ClickShiftMove
		}
		return session.ClickDescriptor{RequestID: requestID, Slot: slot, Kind: kind, Count: count}, true
	}
	if slot, ok := menuSlot(dst); ok {
		kind := session.ClickPlace
		if src.Container.ContainerID == protocol.ContainerCombinedHotBarAndInventory {
			kind = session.ClickShiftMove
		}
		return session.ClickDescriptor{RequestID: requestID, Slot: slot, Kind: kind, Count: count}, true
	}
	return session.ClickDescriptor{}, false
}

func menuSlot(info protocol.StackRequestSlotInfo) (int, bool) {
	if info.Container.ContainerID == protocol.ContainerLevelEntity {
		return int(info.Slot), true
	}
	return 0, false
}
