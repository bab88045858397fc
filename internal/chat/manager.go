package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/zulandar/tutorline/internal/api"
	"github.com/zulandar/tutorline/internal/gateway"
	"go.uber.org/zap"
)

// Backend exchanges messages with the tutoring service.
type Backend interface {
	// SendChat posts a message. Empty ids are sent as null; the backend
	// allocates a chat when chatID is empty.
	SendChat(ctx context.Context, topicID, chatID, message string) (*api.ChatReply, error)
	// ChatHistory returns the confirmed messages of a chat.
	ChatHistory(ctx context.Context, chatID string) ([]api.HistoryMessage, error)
}

// Catalog reloads the topic selector.
type Catalog interface {
	ForSelector(ctx context.Context) ([]api.Topic, error)
}

// Opts holds parameters for creating a Manager.
type Opts struct {
	Backend Backend
	Catalog Catalog
	// OnChange is called after every change to the transcript or session ids,
	// outside the manager's lock, with a private copy of the session.
	OnChange func(Snapshot)
	Logger   *zap.Logger
}

// Manager owns one chat session. It is safe for concurrent use; its lock is
// never held across a backend call.
//
// Sends are not serialized. Every reset (topic change, resume, new chat,
// logout) starts a new epoch, and a backend result from an older epoch is
// dropped without touching the session. Within an epoch the first chat id
// returned by the backend is kept; a different id from a concurrent first
// send is logged as orphaned.
type Manager struct {
	backend  Backend
	catalog  Catalog
	onChange func(Snapshot)
	log      *zap.Logger

	mu         sync.Mutex
	state      State
	topicID    string
	chatID     string
	transcript []Message
	epoch      uint64
	inflight   int // sends of the current epoch awaiting a result
	revision   uint64
}

// NewManager creates a Manager in the Idle state.
func NewManager(opts Opts) (*Manager, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("chat: backend is required")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("chat: catalog is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		backend:  opts.Backend,
		catalog:  opts.Catalog,
		onChange: opts.OnChange,
		log:      log.Named("chat"),
		state:    StateIdle,
	}, nil
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(m.state)
}

// State returns the stored session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SelectTopic starts a fresh conversation scoped to topicID ("" for general
// discussion). It always clears the chat id and transcript, even when the
// same topic is selected again.
func (m *Manager) SelectTopic(topicID string) {
	m.mu.Lock()
	m.resetLocked(StateTopicSelected)
	m.topicID = topicID
	snap := m.changedLocked(m.state)
	m.mu.Unlock()

	m.log.Debug("topic selected", zap.String("topic_id", topicID))
	m.notify(snap)
}

// ResumeChat switches to an existing chat and replaces the transcript with
// its confirmed history. Entries from before the resume are discarded, never
// merged; messages sent while the history loads stay after it. If the
// history cannot be loaded a single system note takes its place and the
// error is returned; a lost credential is returned as a login redirect.
func (m *Manager) ResumeChat(ctx context.Context, chatID, topicID string) error {
	if chatID == "" {
		return fmt.Errorf("chat: resume: chat id is required")
	}

	m.mu.Lock()
	m.resetLocked(StateActive)
	m.topicID = topicID
	m.chatID = chatID
	epoch := m.epoch
	base := len(m.transcript)
	snap := m.changedLocked(m.state)
	m.mu.Unlock()
	m.notify(snap)

	history, err := m.backend.ChatHistory(ctx, chatID)

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		m.log.Debug("discarding stale history", zap.String("chat_id", chatID))
		return nil
	}
	if err != nil {
		note := newMessage(SenderSystem, gateway.Describe(err, api.FallbackChatHistory), OriginConfirmed)
		m.transcript = append([]Message{note}, m.transcript[base:]...)
		snap = m.changedLocked(StateErroring)
		m.mu.Unlock()

		m.log.Warn("load chat history failed", zap.String("chat_id", chatID), zap.Error(err))
		m.notify(snap)
		return gateway.RedirectUnauthenticated(fmt.Errorf("chat: resume %s: %w", chatID, err))
	}

	later := m.transcript[base:]
	transcript := make([]Message, 0, len(history)+len(later))
	for _, h := range history {
		sender := SenderAssistant
		if h.IsUser {
			sender = SenderUser
		}
		transcript = append(transcript, newMessage(sender, h.Content, OriginConfirmed))
	}
	m.transcript = append(transcript, later...)
	snap = m.changedLocked(m.state)
	m.mu.Unlock()

	m.log.Debug("chat resumed", zap.String("chat_id", chatID), zap.Int("messages", len(history)))
	m.notify(snap)
	return nil
}

// SendMessage appends text as an optimistic user entry, publishes it, then
// exchanges it with the backend. Blank text is ignored. A failed exchange
// keeps the user entry and appends one system note; the chat id is left
// unchanged. The returned error is informational, as the failure is already
// recorded in the transcript. A result arriving after the session was reset
// is dropped and nil is returned.
func (m *Manager) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	m.mu.Lock()
	entry := newMessage(SenderUser, text, OriginOptimistic)
	m.transcript = append(m.transcript, entry)
	if m.chatID == "" {
		m.state = StateAwaitingFirstReply
	}
	m.inflight++
	epoch := m.epoch
	topicID, chatID := m.topicID, m.chatID
	snap := m.changedLocked(m.state)
	m.mu.Unlock()
	m.notify(snap)

	reply, err := m.backend.SendChat(ctx, topicID, chatID, text)

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		m.log.Debug("discarding reply for a reset session", zap.String("chat_id", chatID), zap.Error(err))
		return nil
	}
	m.inflight--

	if err != nil {
		m.transcript = append(m.transcript, newMessage(SenderSystem, gateway.Describe(err, api.FallbackChatSend), OriginConfirmed))
		m.state = m.settledStateLocked()
		snap = m.changedLocked(StateErroring)
		m.mu.Unlock()

		m.log.Warn("chat send failed", zap.String("chat_id", chatID), zap.Error(err))
		m.notify(snap)
		return fmt.Errorf("chat: send: %w", err)
	}

	got := reply.ChatID.String()
	switch {
	case m.chatID == "" && got != "":
		m.chatID = got
		m.log.Debug("chat created", zap.String("chat_id", got))
	case got != "" && got != m.chatID:
		m.log.Warn("orphaned chat: reply carries a different chat id",
			zap.String("chat_id", m.chatID), zap.String("orphan_chat_id", got))
	}
	m.confirmLocked(entry.ID)
	m.transcript = append(m.transcript, newMessage(SenderAssistant, reply.Reply, OriginConfirmed))
	m.state = m.settledStateLocked()
	snap = m.changedLocked(m.state)
	m.mu.Unlock()

	m.notify(snap)
	return nil
}

// NewChat forgets the current chat and topic, then reloads the topic catalog
// since the available topics may have changed. The session is cleared even
// when the reload fails.
func (m *Manager) NewChat(ctx context.Context) ([]api.Topic, error) {
	m.Reset()
	return m.catalog.ForSelector(ctx)
}

// Reset clears the session without reloading anything, as on logout.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.resetLocked(StateIdle)
	snap := m.changedLocked(m.state)
	m.mu.Unlock()

	m.notify(snap)
}

func (m *Manager) resetLocked(next State) {
	m.epoch++
	m.state = next
	m.topicID = ""
	m.chatID = ""
	m.transcript = nil
	m.inflight = 0
}

// settledStateLocked is the state once a send has resolved. Without a chat
// id the session still waits on any other first send in flight.
func (m *Manager) settledStateLocked() State {
	if m.chatID == "" && m.inflight > 0 {
		return StateAwaitingFirstReply
	}
	return StateActive
}

func (m *Manager) confirmLocked(id string) {
	for i := range m.transcript {
		if m.transcript[i].ID == id {
			m.transcript[i].Origin = OriginConfirmed
			return
		}
	}
}

func (m *Manager) changedLocked(reported State) Snapshot {
	m.revision++
	return m.snapshotLocked(reported)
}

func (m *Manager) snapshotLocked(reported State) Snapshot {
	transcript := make([]Message, len(m.transcript))
	copy(transcript, m.transcript)
	return Snapshot{
		State:      reported,
		TopicID:    m.topicID,
		ChatID:     m.chatID,
		Transcript: transcript,
		InFlight:   m.inflight,
		Revision:   m.revision,
	}
}

func (m *Manager) notify(s Snapshot) {
	if m.onChange != nil {
		m.onChange(s)
	}
}

func newMessage(sender Sender, content string, origin Origin) Message {
	return Message{
		ID:      uuid.NewString(),
		Sender:  sender,
		Content: content,
		Origin:  origin,
	}
}
