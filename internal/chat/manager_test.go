package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/zulandar/tutorline/internal/api"
	"github.com/zulandar/tutorline/internal/gateway"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type sendCall struct {
	TopicID string
	ChatID  string
	Message string
}

type fakeBackend struct {
	mu    sync.Mutex
	sends []sendCall
	loads []string

	sendFn    func(call sendCall) (*api.ChatReply, error)
	historyFn func(chatID string) ([]api.HistoryMessage, error)
}

func (f *fakeBackend) SendChat(_ context.Context, topicID, chatID, message string) (*api.ChatReply, error) {
	call := sendCall{TopicID: topicID, ChatID: chatID, Message: message}
	f.mu.Lock()
	f.sends = append(f.sends, call)
	fn := f.sendFn
	f.mu.Unlock()
	if fn == nil {
		return &api.ChatReply{ChatID: "c1", Reply: "R"}, nil
	}
	return fn(call)
}

func (f *fakeBackend) ChatHistory(_ context.Context, chatID string) ([]api.HistoryMessage, error) {
	f.mu.Lock()
	f.loads = append(f.loads, chatID)
	fn := f.historyFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(chatID)
}

func (f *fakeBackend) sendCalls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.sends...)
}

type fakeCatalog struct {
	topics []api.Topic
	err    error
	calls  int
}

func (f *fakeCatalog) ForSelector(context.Context) ([]api.Topic, error) {
	f.calls++
	return f.topics, f.err
}

// recorder collects every published snapshot.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) record(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func (r *recorder) last(t *testing.T) Snapshot {
	t.Helper()
	all := r.all()
	if len(all) == 0 {
		t.Fatal("no snapshot published")
	}
	return all[len(all)-1]
}

type harness struct {
	backend *fakeBackend
	catalog *fakeCatalog
	rec     *recorder
	m       *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{backend: &fakeBackend{}, catalog: &fakeCatalog{}, rec: &recorder{}}
	m, err := NewManager(Opts{Backend: h.backend, Catalog: h.catalog, OnChange: h.rec.record})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h.m = m
	return h
}

type entry struct {
	Sender  Sender
	Content string
}

func entries(msgs []Message) []entry {
	out := make([]entry, len(msgs))
	for i, m := range msgs {
		out[i] = entry{m.Sender, m.Content}
	}
	return out
}

func assertTranscript(t *testing.T, got []Message, want ...entry) {
	t.Helper()
	g := entries(got)
	if len(g) != len(want) {
		t.Fatalf("transcript = %+v, want %+v", g, want)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Errorf("transcript[%d] = %+v, want %+v", i, g[i], want[i])
		}
	}
}

// gatedSends makes SendChat block per message until released.
type gatedSends struct {
	mu      sync.Mutex
	started chan string
	gates   map[string]chan struct{}
	replies map[string]*api.ChatReply
	errs    map[string]error
}

func newGatedSends() *gatedSends {
	return &gatedSends{
		started: make(chan string, 8),
		gates:   make(map[string]chan struct{}),
		replies: make(map[string]*api.ChatReply),
		errs:    make(map[string]error),
	}
}

func (g *gatedSends) expect(msg string, reply *api.ChatReply, err error) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan struct{})
	g.gates[msg] = ch
	g.replies[msg] = reply
	g.errs[msg] = err
	return ch
}

func (g *gatedSends) send(call sendCall) (*api.ChatReply, error) {
	g.mu.Lock()
	gate := g.gates[call.Message]
	reply, err := g.replies[call.Message], g.errs[call.Message]
	g.mu.Unlock()
	g.started <- call.Message
	<-gate
	return reply, err
}

// goSend runs SendMessage in the background and returns a channel closed when
// it returns.
func goSend(m *Manager, text string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.SendMessage(context.Background(), text)
	}()
	return done
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewManager_RequiredFields(t *testing.T) {
	if _, err := NewManager(Opts{Catalog: &fakeCatalog{}}); err == nil {
		t.Error("expected error for missing backend")
	}
	if _, err := NewManager(Opts{Backend: &fakeBackend{}}); err == nil {
		t.Error("expected error for missing catalog")
	}
}

func TestNewManager_StartsIdle(t *testing.T) {
	h := newHarness(t)
	s := h.m.Snapshot()
	if s.State != StateIdle || s.TopicID != "" || s.ChatID != "" || len(s.Transcript) != 0 {
		t.Errorf("initial snapshot = %+v", s)
	}
}

// ---------------------------------------------------------------------------
// SendMessage
// ---------------------------------------------------------------------------

func TestSendMessage_BlankIsIgnored(t *testing.T) {
	h := newHarness(t)
	for _, text := range []string{"", "   ", "\t\n"} {
		if err := h.m.SendMessage(context.Background(), text); err != nil {
			t.Errorf("SendMessage(%q) = %v", text, err)
		}
	}
	if n := len(h.backend.sendCalls()); n != 0 {
		t.Errorf("backend calls = %d, want 0", n)
	}
	if n := len(h.rec.all()); n != 0 {
		t.Errorf("published snapshots = %d, want 0", n)
	}
	if n := len(h.m.Snapshot().Transcript); n != 0 {
		t.Errorf("transcript length = %d, want 0", n)
	}
}

func TestSendMessage_FirstExchangeCapturesChatID(t *testing.T) {
	h := newHarness(t)
	h.backend.sendFn = func(sendCall) (*api.ChatReply, error) {
		return &api.ChatReply{ChatID: "c1", Reply: "R"}, nil
	}

	if err := h.m.SendMessage(context.Background(), "msg"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	s := h.m.Snapshot()
	if s.ChatID != "c1" {
		t.Errorf("ChatID = %q, want c1", s.ChatID)
	}
	assertTranscript(t, s.Transcript, entry{SenderUser, "msg"}, entry{SenderAssistant, "R"})
	if s.Transcript[0].Origin != OriginConfirmed || s.Transcript[1].Origin != OriginConfirmed {
		t.Errorf("origins = %s/%s, want both confirmed", s.Transcript[0].Origin, s.Transcript[1].Origin)
	}
	if s.State != StateActive {
		t.Errorf("State = %s, want active", s.State)
	}

	calls := h.backend.sendCalls()
	if len(calls) != 1 || calls[0] != (sendCall{Message: "msg"}) {
		t.Errorf("calls = %+v, want one call with null ids", calls)
	}
}

func TestSendMessage_TrimsText(t *testing.T) {
	h := newHarness(t)
	h.m.SendMessage(context.Background(), "  hello  ")
	if calls := h.backend.sendCalls(); len(calls) != 1 || calls[0].Message != "hello" {
		t.Errorf("calls = %+v, want trimmed message", calls)
	}
}

func TestSendMessage_ChatIDAssignedAtMostOnce(t *testing.T) {
	h := newHarness(t)
	n := 0
	h.backend.sendFn = func(sendCall) (*api.ChatReply, error) {
		n++
		ids := []api.ID{"c1", "c2", "c3"}
		return &api.ChatReply{ChatID: ids[n-1], Reply: "r"}, nil
	}
	h.m.SelectTopic("t1")

	ctx := context.Background()
	for _, text := range []string{"a", "b", "c"} {
		h.m.SendMessage(ctx, text)
	}

	if got := h.m.Snapshot().ChatID; got != "c1" {
		t.Errorf("ChatID = %q, want c1", got)
	}
	calls := h.backend.sendCalls()
	want := []sendCall{
		{TopicID: "t1", ChatID: "", Message: "a"},
		{TopicID: "t1", ChatID: "c1", Message: "b"},
		{TopicID: "t1", ChatID: "c1", Message: "c"},
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call[%d] = %+v, want %+v", i, calls[i], want[i])
		}
	}

	// Every chat id ever published moves from empty to c1 exactly once.
	transitions := 0
	prev := ""
	for _, s := range h.rec.all() {
		if prev == "" && s.ChatID != "" {
			transitions++
		}
		if prev != "" && s.ChatID != prev && s.ChatID != "" {
			t.Errorf("chat id changed from %q to %q without a reset", prev, s.ChatID)
		}
		prev = s.ChatID
	}
	if transitions != 1 {
		t.Errorf("null to non-null transitions = %d, want 1", transitions)
	}
}

func TestSendMessage_OptimisticEntryPublishedBeforeNetwork(t *testing.T) {
	h := newHarness(t)
	var seen Snapshot
	h.backend.sendFn = func(sendCall) (*api.ChatReply, error) {
		seen = h.rec.last(t)
		return &api.ChatReply{ChatID: "c1", Reply: "R"}, nil
	}

	h.m.SendMessage(context.Background(), "hi")

	assertTranscript(t, seen.Transcript, entry{SenderUser, "hi"})
	if seen.Transcript[0].Origin != OriginOptimistic {
		t.Errorf("Origin = %s, want optimistic", seen.Transcript[0].Origin)
	}
	if seen.State != StateAwaitingFirstReply {
		t.Errorf("State = %s, want awaiting-first-reply", seen.State)
	}
	if !seen.Pending() {
		t.Error("Pending() = false while the send is in flight")
	}
}

func TestSendMessage_Failure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		note string
	}{
		{"plain error", errors.New("boom"), api.FallbackChatSend},
		{"unreachable", &gateway.UnreachableError{Endpoint: api.PathChatSend, Err: errors.New("refused")}, "Server unreachable"},
		{"rejected with text", &gateway.RejectedError{Status: 500, Message: "model overloaded"}, "model overloaded"},
		{"unauthenticated", gateway.ErrUnauthenticated, "Please log in first!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.backend.sendFn = func(sendCall) (*api.ChatReply, error) { return nil, tt.err }

			err := h.m.SendMessage(context.Background(), "msg")
			if !errors.Is(err, tt.err) {
				t.Errorf("error = %v, want wrapping %v", err, tt.err)
			}
			s := h.m.Snapshot()
			assertTranscript(t, s.Transcript, entry{SenderUser, "msg"}, entry{SenderSystem, tt.note})
			if s.Transcript[0].Origin != OriginOptimistic {
				t.Errorf("user entry origin = %s, want optimistic (not retracted)", s.Transcript[0].Origin)
			}
			if s.ChatID != "" {
				t.Errorf("ChatID = %q, want unchanged", s.ChatID)
			}
		})
	}
}

func TestSendMessage_FailureKeepsExistingChatID(t *testing.T) {
	h := newHarness(t)
	fail := false
	h.backend.sendFn = func(sendCall) (*api.ChatReply, error) {
		if fail {
			return nil, errors.New("down")
		}
		return &api.ChatReply{ChatID: "c1", Reply: "R"}, nil
	}
	ctx := context.Background()
	h.m.SendMessage(ctx, "one")
	fail = true
	h.m.SendMessage(ctx, "two")

	s := h.m.Snapshot()
	if s.ChatID != "c1" {
		t.Errorf("ChatID = %q, want c1", s.ChatID)
	}
	assertTranscript(t, s.Transcript,
		entry{SenderUser, "one"}, entry{SenderAssistant, "R"},
		entry{SenderUser, "two"}, entry{SenderSystem, api.FallbackChatSend})
}

func TestSendMessage_RetryAfterFailureCapturesID(t *testing.T) {
	h := newHarness(t)
	fail := true
	h.backend.sendFn = func(sendCall) (*api.ChatReply, error) {
		if fail {
			return nil, errors.New("down")
		}
		return &api.ChatReply{ChatID: "c9", Reply: "R"}, nil
	}
	ctx := context.Background()
	h.m.SendMessage(ctx, "one")
	fail = false
	h.m.SendMessage(ctx, "one again")

	if got := h.m.Snapshot().ChatID; got != "c9" {
		t.Errorf("ChatID = %q, want c9", got)
	}
	calls := h.backend.sendCalls()
	if calls[1].ChatID != "" {
		t.Errorf("retry ChatID = %q, want null", calls[1].ChatID)
	}
}

func TestSendMessage_ErroringIsTransient(t *testing.T) {
	h := newHarness(t)
	h.backend.sendFn = func(sendCall) (*api.ChatReply, error) { return nil, errors.New("down") }

	h.m.SendMessage(context.Background(), "msg")

	if got := h.rec.last(t).State; got != StateErroring {
		t.Errorf("published State = %s, want erroring", got)
	}
	if got := h.m.State(); got != StateActive {
		t.Errorf("stored State = %s, want active", got)
	}
}

// ---------------------------------------------------------------------------
// SelectTopic
// ---------------------------------------------------------------------------

func TestSelectTopic_AlwaysClears(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.backend.historyFn = func(string) ([]api.HistoryMessage, error) {
		return []api.HistoryMessage{{Role: "user", Content: "q", IsUser: true}}, nil
	}

	prior := []struct {
		name  string
		setup func()
	}{
		{"idle", func() {}},
		{"after send", func() { h.m.SendMessage(ctx, "hello") }},
		{"after resume", func() { h.m.ResumeChat(ctx, "c7", "t2") }},
		{"same topic with transcript", func() {
			h.m.SelectTopic("t1")
			h.m.SendMessage(ctx, "hello")
		}},
		{"same topic empty", func() { h.m.SelectTopic("t1") }},
	}
	for _, p := range prior {
		t.Run(p.name, func(t *testing.T) {
			p.setup()
			h.m.SelectTopic("t1")
			s := h.m.Snapshot()
			if s.ChatID != "" || len(s.Transcript) != 0 {
				t.Errorf("after SelectTopic: ChatID=%q transcript=%d, want empty", s.ChatID, len(s.Transcript))
			}
			if s.TopicID != "t1" || s.State != StateTopicSelected {
				t.Errorf("after SelectTopic: %+v", s)
			}
		})
	}
}

func TestSelectTopic_GeneralDiscussion(t *testing.T) {
	h := newHarness(t)
	h.m.SelectTopic("")
	h.m.SendMessage(context.Background(), "hi")
	calls := h.backend.sendCalls()
	if len(calls) != 1 || calls[0].TopicID != "" || calls[0].ChatID != "" {
		t.Errorf("calls = %+v, want null topic and chat", calls)
	}
}

// ---------------------------------------------------------------------------
// ResumeChat
// ---------------------------------------------------------------------------

func TestResumeChat_ReplacesTranscriptWholesale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.backend.sendFn = func(sendCall) (*api.ChatReply, error) { return nil, errors.New("down") }
	h.m.SendMessage(ctx, "local only")

	h.backend.historyFn = func(string) ([]api.HistoryMessage, error) {
		return []api.HistoryMessage{
			{Role: "user", Content: "q1", IsUser: true},
			{Role: "assistant", Content: "a1"},
		}, nil
	}
	if err := h.m.ResumeChat(ctx, "c5", "t3"); err != nil {
		t.Fatalf("ResumeChat: %v", err)
	}

	s := h.m.Snapshot()
	assertTranscript(t, s.Transcript, entry{SenderUser, "q1"}, entry{SenderAssistant, "a1"})
	for _, m := range s.Transcript {
		if m.Origin != OriginConfirmed {
			t.Errorf("origin = %s, want confirmed", m.Origin)
		}
	}
	if s.ChatID != "c5" || s.TopicID != "t3" || s.State != StateActive {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestResumeChat_KeepsMessagesSentWhileLoading(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	h.backend.historyFn = func(string) ([]api.HistoryMessage, error) {
		close(started)
		<-release
		return []api.HistoryMessage{
			{Role: "user", Content: "old q", IsUser: true},
			{Role: "assistant", Content: "old a"},
		}, nil
	}

	done := make(chan error, 1)
	go func() { done <- h.m.ResumeChat(context.Background(), "c9", "t1") }()
	<-started
	if err := h.m.SendMessage(context.Background(), "new question"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("ResumeChat: %v", err)
	}

	calls := h.backend.sendCalls()
	if len(calls) != 1 || calls[0].ChatID != "c9" || calls[0].TopicID != "t1" {
		t.Errorf("calls = %+v, want the resumed ids", calls)
	}
	s := h.m.Snapshot()
	assertTranscript(t, s.Transcript,
		entry{SenderUser, "old q"},
		entry{SenderAssistant, "old a"},
		entry{SenderUser, "new question"},
		entry{SenderAssistant, "R"},
	)
	if s.ChatID != "c9" {
		t.Errorf("ChatID = %q, want c9", s.ChatID)
	}
}

func TestResumeChat_FailureKeepsMessagesSentWhileLoading(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	h.backend.historyFn = func(string) ([]api.HistoryMessage, error) {
		close(started)
		<-release
		return nil, &gateway.RejectedError{Status: 500}
	}

	done := make(chan error, 1)
	go func() { done <- h.m.ResumeChat(context.Background(), "c9", "t1") }()
	<-started
	h.m.SendMessage(context.Background(), "new question")
	close(release)
	if err := <-done; err == nil {
		t.Fatal("expected history error")
	}

	assertTranscript(t, h.m.Snapshot().Transcript,
		entry{SenderSystem, api.FallbackChatHistory},
		entry{SenderUser, "new question"},
		entry{SenderAssistant, "R"},
	)
}

func TestResumeChat_ThenSendReusesChatID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.m.ResumeChat(ctx, "c5", "t3")
	h.m.SendMessage(ctx, "next")

	calls := h.backend.sendCalls()
	if len(calls) != 1 || calls[0].ChatID != "c5" || calls[0].TopicID != "t3" {
		t.Errorf("calls = %+v, want resumed ids", calls)
	}
	if got := h.m.Snapshot().ChatID; got != "c5" {
		t.Errorf("ChatID = %q, want c5 kept", got)
	}
}

func TestResumeChat_Failure(t *testing.T) {
	h := newHarness(t)
	h.backend.historyFn = func(string) ([]api.HistoryMessage, error) {
		return nil, &gateway.RejectedError{Status: 500}
	}
	err := h.m.ResumeChat(context.Background(), "c5", "t3")
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := gateway.AsNavigation(err); ok {
		t.Errorf("server failure should not navigate: %v", err)
	}
	s := h.m.Snapshot()
	assertTranscript(t, s.Transcript, entry{SenderSystem, api.FallbackChatHistory})
	if s.ChatID != "c5" {
		t.Errorf("ChatID = %q, want c5", s.ChatID)
	}
}

func TestResumeChat_Unauthenticated(t *testing.T) {
	h := newHarness(t)
	h.backend.historyFn = func(string) ([]api.HistoryMessage, error) { return nil, gateway.ErrUnauthenticated }

	err := h.m.ResumeChat(context.Background(), "c5", "")
	nav, ok := gateway.AsNavigation(err)
	if !ok || nav.Target != gateway.DestinationLogin {
		t.Errorf("error = %v, want login redirect", err)
	}
}

func TestResumeChat_RequiresChatID(t *testing.T) {
	h := newHarness(t)
	if err := h.m.ResumeChat(context.Background(), "", "t1"); err == nil {
		t.Fatal("expected error for empty chat id")
	}
	if len(h.rec.all()) != 0 {
		t.Error("session changed on invalid resume")
	}
}

// ---------------------------------------------------------------------------
// NewChat and Reset
// ---------------------------------------------------------------------------

func TestNewChat_ClearsAndReloadsTopics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.catalog.topics = []api.Topic{{ID: "1", Label: "Optics"}}
	h.m.SelectTopic("1")
	h.m.SendMessage(ctx, "hi")

	topics, err := h.m.NewChat(ctx)
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if len(topics) != 1 || h.catalog.calls != 1 {
		t.Errorf("topics = %+v calls = %d", topics, h.catalog.calls)
	}
	s := h.m.Snapshot()
	if s.State != StateIdle || s.TopicID != "" || s.ChatID != "" || len(s.Transcript) != 0 {
		t.Errorf("after NewChat: %+v", s)
	}
}

func TestNewChat_ReloadFailureStillClears(t *testing.T) {
	h := newHarness(t)
	h.catalog.err = gateway.Redirect(gateway.DestinationDashboard, errors.New("down"))
	h.m.SendMessage(context.Background(), "hi")

	_, err := h.m.NewChat(context.Background())
	if nav, ok := gateway.AsNavigation(err); !ok || nav.Target != gateway.DestinationDashboard {
		t.Errorf("error = %v, want dashboard redirect", err)
	}
	if s := h.m.Snapshot(); s.ChatID != "" || len(s.Transcript) != 0 {
		t.Errorf("session not cleared: %+v", s)
	}
}

func TestReset(t *testing.T) {
	h := newHarness(t)
	h.m.SendMessage(context.Background(), "hi")
	h.m.Reset()

	s := h.m.Snapshot()
	if s.State != StateIdle || s.ChatID != "" || len(s.Transcript) != 0 {
		t.Errorf("after Reset: %+v", s)
	}
	if h.catalog.calls != 0 {
		t.Error("Reset reloaded the catalog")
	}
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestConcurrentFirstSends_FirstResolvedIDWins(t *testing.T) {
	h := newHarness(t)
	g := newGatedSends()
	h.backend.sendFn = g.send
	release1 := g.expect("one", &api.ChatReply{ChatID: "c1", Reply: "R1"}, nil)
	release2 := g.expect("two", &api.ChatReply{ChatID: "c2", Reply: "R2"}, nil)

	done1 := goSend(h.m, "one")
	<-g.started
	done2 := goSend(h.m, "two")
	<-g.started

	// Both optimistic entries render in issue order before any reply.
	assertTranscript(t, h.m.Snapshot().Transcript, entry{SenderUser, "one"}, entry{SenderUser, "two"})

	close(release2)
	<-done2
	if s := h.m.Snapshot(); s.State != StateActive || s.ChatID != "c2" {
		t.Errorf("after first resolution: state=%s chat=%q", s.State, s.ChatID)
	}
	close(release1)
	<-done1

	s := h.m.Snapshot()
	if s.ChatID != "c2" {
		t.Errorf("ChatID = %q, want first resolved id c2", s.ChatID)
	}
	assertTranscript(t, s.Transcript,
		entry{SenderUser, "one"}, entry{SenderUser, "two"},
		entry{SenderAssistant, "R2"}, entry{SenderAssistant, "R1"})
	if s.Pending() {
		t.Error("Pending() = true after all sends resolved")
	}
}

func TestConcurrentFirstSends_StateWaitsForAll(t *testing.T) {
	h := newHarness(t)
	g := newGatedSends()
	h.backend.sendFn = g.send
	release1 := g.expect("one", nil, errors.New("down"))
	release2 := g.expect("two", &api.ChatReply{ChatID: "c2", Reply: "R2"}, nil)

	done1 := goSend(h.m, "one")
	<-g.started
	done2 := goSend(h.m, "two")
	<-g.started

	close(release1)
	<-done1
	if got := h.m.State(); got != StateAwaitingFirstReply {
		t.Errorf("State = %s, want awaiting-first-reply while another first send is pending", got)
	}
	close(release2)
	<-done2
	if got := h.m.State(); got != StateActive {
		t.Errorf("State = %s, want active", got)
	}
}

func TestStaleReply_AfterTopicChangeIsDiscarded(t *testing.T) {
	h := newHarness(t)
	g := newGatedSends()
	h.backend.sendFn = g.send
	release := g.expect("old", &api.ChatReply{ChatID: "c-old", Reply: "late"}, nil)

	h.m.SelectTopic("t1")
	done := goSend(h.m, "old")
	<-g.started

	h.m.SelectTopic("t2")
	before := h.m.Snapshot()

	close(release)
	<-done

	s := h.m.Snapshot()
	if s.ChatID != "" {
		t.Errorf("ChatID = %q, want stale id ignored", s.ChatID)
	}
	if len(s.Transcript) != 0 {
		t.Errorf("transcript = %+v, want stale reply dropped", entries(s.Transcript))
	}
	if s.Revision != before.Revision || s.TopicID != "t2" {
		t.Errorf("session changed by stale reply: before %+v after %+v", before, s)
	}
}

func TestStaleFailure_AfterResetIsDiscarded(t *testing.T) {
	h := newHarness(t)
	g := newGatedSends()
	h.backend.sendFn = g.send
	release := g.expect("old", nil, errors.New("down"))

	done := goSend(h.m, "old")
	<-g.started
	h.m.Reset()
	close(release)
	<-done

	if s := h.m.Snapshot(); len(s.Transcript) != 0 || s.State != StateIdle {
		t.Errorf("snapshot = %+v, want untouched idle session", s)
	}
}

func TestStaleHistory_AfterNewSelectionIsDiscarded(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	h.backend.historyFn = func(string) ([]api.HistoryMessage, error) {
		close(started)
		<-release
		return []api.HistoryMessage{{Content: "old", IsUser: true}}, nil
	}

	done := make(chan error, 1)
	go func() { done <- h.m.ResumeChat(context.Background(), "c-old", "t1") }()
	<-started
	h.m.SelectTopic("t2")
	close(release)
	if err := <-done; err != nil {
		t.Errorf("ResumeChat = %v, want nil for discarded result", err)
	}

	s := h.m.Snapshot()
	if s.TopicID != "t2" || s.ChatID != "" || len(s.Transcript) != 0 {
		t.Errorf("snapshot = %+v, want stale history dropped", s)
	}
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

func TestSnapshots_AreCopies(t *testing.T) {
	h := newHarness(t)
	h.m.SendMessage(context.Background(), "hi")

	s := h.m.Snapshot()
	s.Transcript[0].Content = "mutated"
	if got := h.m.Snapshot().Transcript[0].Content; got != "hi" {
		t.Errorf("Content = %q, snapshot mutation leaked into the manager", got)
	}
}

func TestSnapshots_RevisionIncreases(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.m.SelectTopic("t1")
	h.m.SendMessage(ctx, "a")
	h.m.ResumeChat(ctx, "c2", "t1")
	h.m.Reset()

	var prev uint64
	for i, s := range h.rec.all() {
		if s.Revision <= prev {
			t.Errorf("snapshot %d revision %d not above %d", i, s.Revision, prev)
		}
		prev = s.Revision
	}
}

func TestMessageIDs_Unique(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.m.SendMessage(ctx, "a")
	h.m.SendMessage(ctx, "b")

	seen := make(map[string]bool)
	for _, m := range h.m.Snapshot().Transcript {
		if m.ID == "" || seen[m.ID] {
			t.Errorf("duplicate or empty id %q", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateIdle:               "idle",
		StateTopicSelected:      "topic-selected",
		StateAwaitingFirstReply: "awaiting-first-reply",
		StateActive:             "active",
		StateErroring:           "erroring",
		State(42):               "state(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
