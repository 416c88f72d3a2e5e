package event

// RemoteEvent is an event that may be forwarded to an external consumer, such
// as a staff-alert channel or the downstream server.
type RemoteEvent interface {
	ID() string
}

// ViolationEvent is emitted whenever a session interaction is rejected.
type ViolationEvent struct {
	Player     string  `json:"player"`
	Exploit    string  `json:"exploit"`
	Severity   int     `json:"severity"`
	Violations float64 `json:"violations"`
	ExtraData  string  `json:"extraData"`
}

func NewViolationEvent(player, exploitType string, severity int, violations float64, extraData string) *ViolationEvent {
	return &ViolationEvent{
		Player:     player,
		Exploit:    exploitType,
		Severity:   severity,
		Violations: violations,
		ExtraData:  extraData,
	}
}

func (e *ViolationEvent) ID() string {
	return "invguard:violation"
}

// ResyncEvent is emitted whenever server truth is pushed back to a desynced
// client.
type ResyncEvent struct {
	Player   string `json:"player"`
	WindowID uint32 `json:"window_id"`
	Slots    int    `json:"slots"`
}

func NewResyncEvent(player string, windowID uint32, slots int) *ResyncEvent {
	return &ResyncEvent{Player: player, WindowID: windowID, Slots: slots}
}

func (e *ResyncEvent) ID() string {
	return "invguard:resync"
}
