package session

import "github.com/sandertv/gophertunnel/minecraft/protocol"

// ClickKind is the interaction category decoded from a raw inventory packet.
type ClickKind uint8

const (
	// ClickTake moves items from a menu slot onto the cursor.
	ClickTake ClickKind = iota
	// ClickPlace moves items from the cursor into a menu slot.
	ClickPlace
	// ClickSwap exchanges the cursor item with a menu slot.
	ClickSwap
	// ClickShiftMove moves a stack between the menu and the player inventory
	// in one action.
	ClickShiftMove
	// ClickDrop throws items from a menu slot out of the menu.
	ClickDrop
	// ClickDestroy voids items (creative only).
	ClickDestroy
	// ClickUnknown is an action shape the decoder does not model. It still
	// runs the timing and rate checks but carries no claims to verify.
	ClickUnknown
)

func (k ClickKind) String() string {
	switch k {
	case ClickTake:
		return "take"
	case ClickPlace:
		return "place"
	case ClickSwap:
		return "swap"
	case ClickShiftMove:
		return "shift_move"
	case ClickDrop:
		return "drop"
	case ClickDestroy:
		return "destroy"
	}
	return "unknown"
}

// CursorClaim is the cursor state the client asserts alongside a click.
type CursorClaim struct {
	// Present is false when the packet carried no cursor information, in
	// which case cursor consistency cannot be checked.
	Present bool
	// Fingerprint is the identity hash of the claimed cursor item, computed
	// without the stack count so quantity growth on an identical item stays
	// distinguishable from holding a different item.
	Fingerprint uint64
	// Count is the claimed cursor stack size.
	Count int
}

// ClickDescriptor is the decoded form of an intercepted inventory click.
type ClickDescriptor struct {
	RequestID int32
	WindowID  uint32
	Slot      int
	Kind      ClickKind
	// Count is the number of items the interaction claims to move.
	Count int
	// Cursor is the client's claimed cursor state before the click.
	Cursor CursorClaim
	// Claimed is the network stack the client asserts occupies the clicked
	// slot. Zero value when the packet carried none.
	Claimed protocol.ItemInstance
	// HasClaimed reports whether Claimed was present in the packet.
	HasClaimed bool
}

// CloseDescriptor is the decoded form of an intercepted menu close.
type CloseDescriptor struct {
	WindowID uint32
	// ServerSide is true when the close confirms a server-initiated close
	// rather than a client request.
	ServerSide bool
	// Digest is the client's claimed final inventory digest, when the
	// protocol supplies one. HasDigest is false otherwise and the validator
	// falls back to its own desync tracking.
	Digest    uint64
	HasDigest bool
}
