package utils

import (
	_ "unsafe"

	"github.com/df-mc/dragonfly/server/block"
	"github.com/df-mc/dragonfly/server/item"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/sandertv/gophertunnel/minecraft/protocol"
)

// noinspection ALL
//
//go:linkname ReadItem github.com/df-mc/dragonfly/server/internal/nbtconv.Item
func ReadItem(data map[string]any, s *item.Stack) item.Stack

// noinspection ALL
//
//go:linkname WriteItem github.com/df-mc/dragonfly/server/internal/nbtconv.WriteItem
func WriteItem(s item.Stack, disk bool) map[string]any

// InstanceFromStack converts a dragonfly item stack into the network form
// pushed to clients in menu contents and resync payloads.
func InstanceFromStack(s item.Stack) protocol.ItemInstance {
	if s.Empty() {
		return protocol.ItemInstance{}
	}
	rid, meta, ok := world.ItemRuntimeID(s.Item())
	if !ok {
		return protocol.ItemInstance{}
	}
	return protocol.ItemInstance{
		StackNetworkID: 0,
		Stack: protocol.ItemStack{
			ItemType: protocol.ItemType{
				NetworkID:     rid,
				MetadataValue: uint32(meta),
			},
			Count:   uint16(s.Count()),
			NBTData: WriteItem(s, false),
		},
	}
}

// StackFromInstance converts a network item instance back into a dragonfly
// item stack. Unknown runtime IDs decode as air.
func StackFromInstance(i protocol.ItemInstance) item.Stack {
	if i.Stack.NetworkID == 0 {
		return item.NewStack(block.Air{}, 0)
	}
	it, ok := world.ItemByRuntimeID(i.Stack.NetworkID, int16(i.Stack.MetadataValue))
	if !ok {
		return item.NewStack(block.Air{}, 0)
	}
	s := item.NewStack(it, int(i.Stack.Count))
	return ReadItem(i.Stack.NBTData, &s)
}

// Air reports whether an instance holds no item.
func Air(i protocol.ItemInstance) bool {
	return i.Stack.NetworkID == 0 || i.Stack.Count == 0
}
