package handler

import (
	"github.com/guardmc/invguard/session"
	"github.com/sirupsen/logrus"
)

// Register builds the handler chain for a guard. Handlers run in slice order,
// so interception comes first: it must see every raw message before any other
// consumer, or validation provides no protection.
func Register(log *logrus.Logger, v *session.Validator, registry *session.Registry) []Handler {
	return []Handler{
		NewInterception(log, v, registry),
		NewWatchdog(log, v, registry),
	}
}
