package menu

import (
	"github.com/df-mc/dragonfly/server/item"
	"github.com/guardmc/invguard/gerror"
	"github.com/guardmc/invguard/session"
	"github.com/guardmc/invguard/utils"
	"github.com/sandertv/gophertunnel/minecraft/protocol"
)

// Columns is the width of every menu row.
const Columns = 9

// ClickContext carries what a button callback needs to know about the click.
type ClickContext struct {
	Conn  session.Conn
	Slot  int
	Shift bool
}

// Button is a clickable menu element: an icon and a callback.
type Button struct {
	Item    item.Stack
	OnClick func(ctx ClickContext)
}

// Layout is a rows-by-nine grid of buttons describing a menu's contents.
// Layouts are built once and rendered into network form when a menu opens.
type Layout struct {
	rows    int
	buttons map[int]Button
}

// NewLayout creates a layout with the given number of rows, between 1 and 6.
func NewLayout(rows int) (*Layout, error) {
	if rows < 1 || rows > 6 {
		return nil, gerror.New("layout rows must be between 1 and 6, got %d", rows)
	}
	return &Layout{rows: rows, buttons: make(map[int]Button)}, nil
}

// MustLayout is NewLayout for statically known row counts.
func MustLayout(rows int) *Layout {
	l, err := NewLayout(rows)
	if err != nil {
		panic(err)
	}
	return l
}

// Rows returns the number of rows.
func (l *Layout) Rows() int {
	return l.rows
}

// Size returns the number of slots.
func (l *Layout) Size() int {
	return l.rows * Columns
}

// Set places a button at a slot.
func (l *Layout) Set(slot int, b Button) error {
	if slot < 0 || slot >= l.Size() {
		return gerror.New("slot %d is out of range for a %d-row layout", slot, l.rows)
	}
	l.buttons[slot] = b
	return nil
}

// Button returns the button at a slot, if one was set.
func (l *Layout) Button(slot int) (Button, bool) {
	b, ok := l.buttons[slot]
	return b, ok
}

// Fill places a button in every empty slot.
func (l *Layout) Fill(b Button) {
	for slot := 0; slot < l.Size(); slot++ {
		if _, ok := l.buttons[slot]; !ok {
			l.buttons[slot] = b
		}
	}
}

// Border places a button along the outer edge of the layout.
func (l *Layout) Border(b Button) {
	for slot := 0; slot < l.Size(); slot++ {
		row, col := slot/Columns, slot%Columns
		if row == 0 || row == l.rows-1 || col == 0 || col == Columns-1 {
			l.buttons[slot] = b
		}
	}
}

// Render converts the layout into the network contents pushed to a client.
func (l *Layout) Render() []protocol.ItemInstance {
	contents := make([]protocol.ItemInstance, l.Size())
	for slot, b := range l.buttons {
		contents[slot] = utils.InstanceFromStack(b.Item)
	}
	return contents
}
