package utils

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/guardmc/invguard/internal"
	"github.com/sandertv/gophertunnel/minecraft/protocol"
	"github.com/zeebo/xxh3"
)

// InstanceFingerprint returns a hash over the full attribute set of a network
// item instance: runtime ID, metadata, count, block runtime ID and NBT. Two
// instances with equal fingerprints are considered the same item content by
// the validator.
func InstanceFingerprint(i protocol.ItemInstance) uint64 {
	if i.Stack.NetworkID == 0 {
		return 0
	}

	buf := internal.BufferPool.Get()
	defer internal.BufferPool.Put(buf)

	writeIdentity(buf, i)
	_ = binary.Write(buf, binary.LittleEndian, uint16(i.Stack.Count))
	return xxh3.Hash(buf.Bytes())
}

// IdentityFingerprint hashes what an item is rather than how many are held:
// runtime ID, metadata, block runtime ID, NBT and the can-place/can-break
// lists, with the stack count excluded. Cursor tracking compares identities,
// so a grown stack of the same item reads as growth, not as a different item.
func IdentityFingerprint(i protocol.ItemInstance) uint64 {
	if i.Stack.NetworkID == 0 {
		return 0
	}

	buf := internal.BufferPool.Get()
	defer internal.BufferPool.Put(buf)

	writeIdentity(buf, i)
	return xxh3.Hash(buf.Bytes())
}

func writeIdentity(buf *bytes.Buffer, i protocol.ItemInstance) {
	_ = binary.Write(buf, binary.LittleEndian, i.Stack.NetworkID)
	_ = binary.Write(buf, binary.LittleEndian, i.Stack.MetadataValue)
	_ = binary.Write(buf, binary.LittleEndian, i.Stack.BlockRuntimeID)
	writeCanonicalNBT(buf, i.Stack.NBTData)
	for _, s := range i.Stack.CanBePlacedOn {
		buf.WriteString(s)
		buf.WriteByte(0)
	}
	for _, s := range i.Stack.CanBreak {
		buf.WriteString(s)
		buf.WriteByte(0)
	}
}

// InventoryDigest folds the fingerprints of every slot of an inventory into a
// single digest. Slot order is significant.
func InventoryDigest(contents []protocol.ItemInstance) uint64 {
	buf := internal.BufferPool.Get()
	defer internal.BufferPool.Put(buf)

	var scratch [8]byte
	for _, i := range contents {
		binary.LittleEndian.PutUint64(scratch[:], InstanceFingerprint(i))
		buf.Write(scratch[:])
	}
	return xxh3.Hash(buf.Bytes())
}

// writeCanonicalNBT writes NBT data in a deterministic order so that two
// equal maps always hash identically. fmt prints nested maps with sorted
// keys, so only the top level needs explicit ordering.
func writeCanonicalNBT(buf *bytes.Buffer, nbt map[string]any) {
	if len(nbt) == 0 {
		return
	}
	keys := make([]string, 0, len(nbt))
	for k := range nbt {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = buf.WriteString(fmt.Sprintf("%s=%v;", k, nbt[k]))
	}
}
