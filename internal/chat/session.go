// Package chat tracks the active tutoring conversation: which topic and
// server-side chat a message belongs to, and the transcript shown to the user.
package chat

import "fmt"

// Sender identifies who produced a transcript entry.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	// SenderSystem marks client-side notices. They are never sent to or
	// received from the backend.
	SenderSystem Sender = "system"
)

// Origin records whether the server has acknowledged an entry.
type Origin string

const (
	OriginOptimistic Origin = "optimistic"
	OriginConfirmed  Origin = "confirmed"
)

// Message is one transcript entry. ID is a client-side key for rendering and
// carries no meaning for the backend.
type Message struct {
	ID      string
	Sender  Sender
	Content string
	Origin  Origin
}

// State is the position of the session in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateTopicSelected
	StateAwaitingFirstReply
	StateActive
	// StateErroring is reported only in the snapshot published right after a
	// failure note is appended. The stored state is Active.
	StateErroring
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTopicSelected:
		return "topic-selected"
	case StateAwaitingFirstReply:
		return "awaiting-first-reply"
	case StateActive:
		return "active"
	case StateErroring:
		return "erroring"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Snapshot is a copy of the session at one point in time. Revision increases
// with every change, so observers can drop snapshots that arrive late.
type Snapshot struct {
	State      State
	TopicID    string // "" means general discussion
	ChatID     string // "" until the first exchange succeeds
	Transcript []Message
	InFlight   int // sends awaiting a result
	Revision   uint64
}

// Pending reports whether any send is still waiting on the backend.
func (s Snapshot) Pending() bool {
	return s.InFlight > 0
}
