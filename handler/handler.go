package handler

import (
	"github.com/guardmc/invguard/session"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
)

// Handler observes the raw packet streams of a single proxied connection.
type Handler interface {
	// ID returns a string that identifies the handler.
	ID() string

	// HandleClientPacket handles a packet sent by the client. It returns true
	// if the packet should be forwarded to the server and false if it should
	// be vetoed.
	HandleClientPacket(pk packet.Packet, c session.Conn) bool
	// HandleServerPacket handles a packet sent by the server. It returns true
	// if the packet should be forwarded to the client and false if it should
	// be dropped.
	HandleServerPacket(pk packet.Packet, c session.Conn) bool
	// OnTick is called every server tick (20 per second).
	OnTick()
}
