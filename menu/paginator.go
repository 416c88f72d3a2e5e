package menu

import (
	"fmt"
	"sync"

	"github.com/df-mc/dragonfly/server/item"
)

// Paginator slices a list of buttons into pages rendered into a validated
// menu, with previous/next navigation on the bottom row.
type Paginator struct {
	rows     int
	buttons  []Button
	prevIcon item.Stack
	nextIcon item.Stack

	mu    sync.Mutex
	menu  *Validated
	pages map[string]int
}

// NewPaginator builds a paginator over rows-high pages. The bottom row is
// reserved for navigation, so each page holds (rows-1)*9 buttons.
func NewPaginator(rows int, buttons []Button, prevIcon, nextIcon item.Stack) *Paginator {
	if rows < 2 {
		rows = 2
	}
	return &Paginator{
		rows:     rows,
		buttons:  buttons,
		prevIcon: prevIcon,
		nextIcon: nextIcon,
		pages:    make(map[string]int),
	}
}

// Attach binds the paginator to the validated menu it paginates. The menu
// should have been built from Page(0).
func (p *Paginator) Attach(m *Validated) {
	p.mu.Lock()
	p.menu = m
	p.mu.Unlock()
}

// PerPage returns the number of content slots per page.
func (p *Paginator) PerPage() int {
	return (p.rows - 1) * Columns
}

// Pages returns the total page count, at least 1.
func (p *Paginator) Pages() int {
	per := p.PerPage()
	n := (len(p.buttons) + per - 1) / per
	if n < 1 {
		n = 1
	}
	return n
}

// Page builds the layout for a page index, clamped into range.
func (p *Paginator) Page(index int) *Layout {
	if index < 0 {
		index = 0
	}
	if index >= p.Pages() {
		index = p.Pages() - 1
	}

	l := MustLayout(p.rows)
	per := p.PerPage()
	start := index * per
	for i := 0; i < per && start+i < len(p.buttons); i++ {
		_ = l.Set(i, p.buttons[start+i])
	}

	navRow := (p.rows - 1) * Columns
	if index > 0 {
		target := index - 1
		_ = l.Set(navRow, Button{Item: p.prevIcon, OnClick: func(ctx ClickContext) {
			p.turnTo(ctx, target)
		}})
	}
	if index < p.Pages()-1 {
		target := index + 1
		_ = l.Set(navRow+Columns-1, Button{Item: p.nextIcon, OnClick: func(ctx ClickContext) {
			p.turnTo(ctx, target)
		}})
	}
	return l
}

// CurrentPage returns the page a viewer is on.
func (p *Paginator) CurrentPage(xuid string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pages[xuid]
}

func (p *Paginator) turnTo(ctx ClickContext, index int) {
	p.mu.Lock()
	menu := p.menu
	p.pages[ctx.Conn.IdentityData().XUID] = index
	p.mu.Unlock()
	if menu == nil {
		return
	}
	_ = menu.Refresh(ctx.Conn, p.Page(index))
}

// PageTitle is a convenience for titling paged menus consistently.
func PageTitle(base string, index, total int) string {
	return fmt.Sprintf("%s (%d/%d)", base, index+1, total)
}
