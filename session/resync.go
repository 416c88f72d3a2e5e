package session

import (
	"github.com/guardmc/invguard/event"
	"github.com/guardmc/invguard/utils"
	"github.com/sandertv/gophertunnel/minecraft/protocol"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
)

// ForceResync recomputes and re-sends the full authoritative slot contents
// for the session's menu, overwriting whatever the client believes it has.
// The client's view is considered in sync again afterwards.
func (v *Validator) ForceResync(s *Session) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	contents := make([]protocol.ItemInstance, len(s.truth))
	copy(contents, s.truth)
	copy(s.clientView, s.truth)
	s.desynced = false
	windowID := s.windowID
	s.mu.Unlock()

	err := s.conn.WritePacket(&packet.InventoryContent{
		WindowID: windowID,
		Content:  contents,
	})
	if err != nil {
		return err
	}

	v.handlerMu.Lock()
	remote := v.remoteEvent
	v.handlerMu.Unlock()
	if remote != nil {
		remote(event.NewResyncEvent(s.identity.DisplayName, windowID, len(contents)))
	}
	return nil
}

// Synced compares a client-reported digest against server truth without
// mutating anything.
func (v *Validator) Synced(s *Session, digest uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return digest == utils.InventoryDigest(s.truth)
}
