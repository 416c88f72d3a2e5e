package session

import (
	"github.com/elliotchance/orderedmap/v2"
	"github.com/guardmc/invguard/exploit"
)

// Verdict is the outcome of validating a single interaction.
type Verdict struct {
	// Accepted is true when the interaction may be applied.
	Accepted bool
	// Exploit names the attack pattern a rejected interaction matched.
	Exploit exploit.Type
	// Detail carries structured context for logging and violation handlers,
	// in insertion order.
	Detail *orderedmap.OrderedMap[string, any]
}

func accept() Verdict {
	return Verdict{Accepted: true}
}

func reject(t exploit.Type, detail *orderedmap.OrderedMap[string, any]) Verdict {
	if detail == nil {
		detail = orderedmap.NewOrderedMap[string, any]()
	}
	return Verdict{Exploit: t, Detail: detail}
}
