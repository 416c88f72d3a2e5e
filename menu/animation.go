package menu

import (
	"github.com/df-mc/dragonfly/server/item"
	"github.com/guardmc/invguard/session"
	"github.com/guardmc/invguard/utils"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
)

// Frame is a sequence of item stacks cycled through a single slot.
type Frame struct {
	Slot   int
	Stacks []item.Stack
}

// Animator cycles item frames in designated slots of a validated menu.
// Frames advance once every interval ticks and are pushed to every open
// session fire-and-forget; a dropped write only delays the next frame.
type Animator struct {
	frames   []Frame
	interval int64

	tick  int64
	index int
}

// NewAnimator creates an animator advancing every interval ticks. Intervals
// below one tick are clamped to one.
func NewAnimator(interval int64, frames ...Frame) *Animator {
	if interval < 1 {
		interval = 1
	}
	return &Animator{frames: frames, interval: interval}
}

// apply advances the animation clock and, on frame boundaries, writes the
// next frame of every animated slot to the given sessions.
func (a *Animator) apply(sessions []*session.Session) {
	a.tick++
	if a.tick%a.interval != 0 || len(a.frames) == 0 {
		return
	}
	a.index++

	for _, f := range a.frames {
		if len(f.Stacks) == 0 {
			continue
		}
		inst := utils.InstanceFromStack(f.Stacks[a.index%len(f.Stacks)])
		for _, s := range sessions {
			if f.Slot < 0 || f.Slot >= s.Size() {
				continue
			}
			s.ApplyServerSlot(f.Slot, inst)
			_ = s.Conn().WritePacket(&packet.InventorySlot{
				WindowID: s.WindowID(),
				Slot:     uint32(f.Slot),
				NewItem:  inst,
			})
		}
	}
}
