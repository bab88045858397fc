package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/zulandar/tutorline/internal/chat"
)

// SnapshotMsg carries a session change into the update loop.
type SnapshotMsg chat.Snapshot

// Bridge forwards session changes to a running program. Changes published
// before a program is attached are dropped; the model reads the current
// snapshot when it starts.
type Bridge struct {
	mu sync.Mutex
	p  *tea.Program
}

// Attach routes future changes to p.
func (b *Bridge) Attach(p *tea.Program) {
	b.mu.Lock()
	b.p = p
	b.mu.Unlock()
}

// Publish is a chat.Opts.OnChange callback. It may be called from inside
// the update loop, so the send never blocks the caller; the model orders
// snapshots by revision.
func (b *Bridge) Publish(s chat.Snapshot) {
	b.mu.Lock()
	p := b.p
	b.mu.Unlock()
	if p != nil {
		go p.Send(SnapshotMsg(s))
	}
}
