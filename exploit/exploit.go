package exploit

// Type identifies a single category of inventory exploit that the validation
// engine can reject an interaction for.
type Type string

const (
	ClickTooFast            Type = "click_too_fast"
	ClickRateExceeded       Type = "click_rate_exceeded"
	CloseWithDesync         Type = "close_with_desync"
	CursorDuplication       Type = "cursor_duplication"
	CursorSwap              Type = "cursor_swap"
	TamperedItemFingerprint Type = "tampered_item_fingerprint"
	RepeatedShiftClickLoop  Type = "repeated_shift_click_loop"
	InvalidSlotIndex        Type = "invalid_slot_index"
	PostClickStateMismatch  Type = "post_click_state_mismatch"
	WithheldClose           Type = "withheld_close"
	StaleSession            Type = "stale_session"
)

var severities = map[Type]int{
	ClickTooFast:            1,
	ClickRateExceeded:       2,
	CloseWithDesync:         4,
	CursorDuplication:       5,
	CursorSwap:              4,
	TamperedItemFingerprint: 5,
	RepeatedShiftClickLoop:  4,
	InvalidSlotIndex:        2,
	PostClickStateMismatch:  5,
	WithheldClose:           2,
	StaleSession:            1,
}

var descriptions = map[Type]string{
	ClickTooFast:            "Clicked before the minimum inter-click delay elapsed",
	ClickRateExceeded:       "Exceeded the maximum amount of clicks per second",
	CloseWithDesync:         "Closed a menu while the client view differed from server truth",
	CursorDuplication:       "Claimed more items on the cursor than the server last recorded",
	CursorSwap:              "Claimed a cursor item that does not match the server's record",
	TamperedItemFingerprint: "Clicked item content does not match server truth for the slot",
	RepeatedShiftClickLoop:  "Shift-clicked the same slot and item in a tight loop",
	InvalidSlotIndex:        "Clicked a slot outside the menu's valid range",
	PostClickStateMismatch:  "Post-click inventory state differs from the expected result",
	WithheldClose:           "Disconnected or abandoned a menu without ever closing it",
	StaleSession:            "Session exceeded the inactivity timeout",
}

// Severity returns the fixed severity of an exploit type on a 1-5 scale.
// Unknown types report the lowest severity.
func Severity(t Type) int {
	if s, ok := severities[t]; ok {
		return s
	}
	return 1
}

// Description returns a human readable description of the exploit type.
func Description(t Type) string {
	return descriptions[t]
}

// All returns every exploit type known to the taxonomy.
func All() []Type {
	all := make([]Type, 0, len(severities))
	for t := range severities {
		all = append(all, t)
	}
	return all
}
