package policy

import "time"

// Level determines how much of the validation check chain runs for a session.
type Level uint8

const (
	// LevelNone disables packet interception entirely. Interactions are only
	// seen by the generic menu layer, with zero validation overhead.
	LevelNone Level = iota
	// LevelStandard enables slot bounds, timing, rate and cursor consistency
	// checks.
	LevelStandard
	// LevelStrict enables everything LevelStandard does, plus item content
	// fingerprinting, shift-click loop detection and post-click transaction
	// verification.
	LevelStrict
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelStandard:
		return "standard"
	case LevelStrict:
		return "strict"
	}
	return "unknown"
}

// Policy contains all tunables of the validation engine. It is a pure
// configuration object read by the session validator and the stale-session
// watchdog. No combination of fields is rejected; a zero SessionTimeout is
// legal and means "reap on the next sweep".
type Policy struct {
	// Level gates which checks run for validated sessions.
	Level Level
	// MinClickDelay is the floor for the inter-click timing check.
	MinClickDelay time.Duration
	// MaxClicksPerSecond is the ceiling for the trailing 1-second rate window.
	MaxClicksPerSecond int

	// AutoRollbackOnViolation triggers a resync of server truth to the client
	// on every rejected interaction.
	AutoRollbackOnViolation bool
	// LogViolations emits a structured record for every rejected interaction.
	LogViolations bool

	// KickOnViolation terminates the client connection once the session's
	// violation count reaches ViolationKickThreshold.
	KickOnViolation        bool
	ViolationKickThreshold float64
	// WeightBySeverity makes each violation count its exploit severity (1-5)
	// toward the kick threshold instead of a flat 1.
	WeightBySeverity bool

	// DetectStaleSessions records a stale-session violation for sessions that
	// exceed SessionTimeout without an accepted interaction.
	DetectStaleSessions bool
	SessionTimeout      time.Duration
	// InactivityCheckInterval is the watchdog sweep period.
	InactivityCheckInterval time.Duration
	// ForceCloseOnTimeout forcibly closes timed out sessions instead of only
	// flagging them.
	ForceCloseOnTimeout bool

	// MaxShiftClicksPerWindow and ShiftClickWindow bound the strict-level
	// repeated shift-click check: more than MaxShiftClicksPerWindow shift
	// clicks on the same (slot, item) pair within ShiftClickWindow rejects.
	MaxShiftClicksPerWindow int
	ShiftClickWindow        time.Duration
}

// Default returns the policy used when none is specified. It is identical to
// Normal.
func Default() Policy {
	return Normal()
}

// Lenient is a preset that favors throughput over strictness: timing
// thresholds are low and violations never escalate to a kick.
func Lenient() Policy {
	return Policy{
		Level:                   LevelStandard,
		MinClickDelay:           25 * time.Millisecond,
		MaxClicksPerSecond:      30,
		AutoRollbackOnViolation: true,
		LogViolations:           true,
		KickOnViolation:         false,
		ViolationKickThreshold:  20,
		DetectStaleSessions:     true,
		SessionTimeout:          5 * time.Minute,
		InactivityCheckInterval: 30 * time.Second,
		ForceCloseOnTimeout:     false,
		MaxShiftClicksPerWindow: 8,
		ShiftClickWindow:        2 * time.Second,
	}
}

// Normal is the preset most servers should run.
func Normal() Policy {
	return Policy{
		Level:                   LevelStandard,
		MinClickDelay:           50 * time.Millisecond,
		MaxClicksPerSecond:      20,
		AutoRollbackOnViolation: true,
		LogViolations:           true,
		KickOnViolation:         false,
		ViolationKickThreshold:  10,
		DetectStaleSessions:     true,
		SessionTimeout:          2 * time.Minute,
		InactivityCheckInterval: 15 * time.Second,
		ForceCloseOnTimeout:     true,
		MaxShiftClicksPerWindow: 6,
		ShiftClickWindow:        2 * time.Second,
	}
}

// Strict is a preset for servers under active duplication attack. It enables
// content fingerprinting and post-click verification and kicks quickly.
func Strict() Policy {
	return Policy{
		Level:                   LevelStrict,
		MinClickDelay:           75 * time.Millisecond,
		MaxClicksPerSecond:      12,
		AutoRollbackOnViolation: true,
		LogViolations:           true,
		KickOnViolation:         true,
		ViolationKickThreshold:  3,
		DetectStaleSessions:     true,
		SessionTimeout:          time.Minute,
		InactivityCheckInterval: 10 * time.Second,
		ForceCloseOnTimeout:     true,
		MaxShiftClicksPerWindow: 4,
		ShiftClickWindow:        2 * time.Second,
	}
}

// WithLevel returns a copy of the policy with the validation level replaced.
func (p Policy) WithLevel(l Level) Policy {
	p.Level = l
	return p
}

// WithMinClickDelay returns a copy of the policy with the inter-click delay
// floor replaced.
func (p Policy) WithMinClickDelay(d time.Duration) Policy {
	p.MinClickDelay = d
	return p
}

// WithMaxClicksPerSecond returns a copy of the policy with the click rate
// ceiling replaced.
func (p Policy) WithMaxClicksPerSecond(n int) Policy {
	p.MaxClicksPerSecond = n
	return p
}

// WithKick returns a copy of the policy with the disconnect escalation
// replaced.
func (p Policy) WithKick(kick bool, threshold float64) Policy {
	p.KickOnViolation = kick
	p.ViolationKickThreshold = threshold
	return p
}

// WithSessionTimeout returns a copy of the policy with the watchdog timeout
// replaced.
func (p Policy) WithSessionTimeout(d time.Duration) Policy {
	p.SessionTimeout = d
	return p
}

// WithAutoRollback returns a copy of the policy with the rollback-on-violation
// behavior replaced.
func (p Policy) WithAutoRollback(rollback bool) Policy {
	p.AutoRollbackOnViolation = rollback
	return p
}
