// Package tui is the interactive chat shell. Backend calls run as tea.Cmds
// and session changes arrive as messages on the update loop.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/zulandar/tutorline/internal/api"
	"github.com/zulandar/tutorline/internal/chat"
	"github.com/zulandar/tutorline/internal/gateway"
	"github.com/zulandar/tutorline/internal/render"
)

// Session is the chat session the shell drives.
type Session interface {
	SelectTopic(topicID string)
	ResumeChat(ctx context.Context, chatID, topicID string) error
	SendMessage(ctx context.Context, text string) error
	NewChat(ctx context.Context) ([]api.Topic, error)
	Snapshot() chat.Snapshot
}

// Catalog lists topics for the selector.
type Catalog interface {
	ForSelector(ctx context.Context) ([]api.Topic, error)
}

// Opts holds parameters for creating a Model.
type Opts struct {
	Context  context.Context
	Session  Session
	Catalog  Catalog
	Renderer *render.Renderer
}

type (
	topicsMsg struct {
		topics []api.Topic
		err    error
	}
	resultMsg struct {
		op  string
		err error
	}
)

const chromeHeight = 3 // header, status and input lines

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))
)

// Model is the bubbletea model of the chat shell.
type Model struct {
	ctx      context.Context
	session  Session
	catalog  Catalog
	renderer *render.Renderer

	snap       chat.Snapshot
	topics     []api.Topic
	showTopics bool
	showHelp   bool
	status     string
	statusErr  bool
	nav        *gateway.NavigationRequired

	input    textinput.Model
	viewport viewport.Model
	width    int
	height   int
}

// NewModel creates the shell model.
func NewModel(opts Opts) (Model, error) {
	if opts.Session == nil {
		return Model{}, fmt.Errorf("tui: session is required")
	}
	if opts.Catalog == nil {
		return Model{}, fmt.Errorf("tui: catalog is required")
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	r := opts.Renderer
	if r == nil {
		r = render.New(render.Opts{Width: 80})
	}

	in := textinput.New()
	in.Placeholder = "Type your message..."
	in.CharLimit = 4000
	in.Focus()

	m := Model{
		ctx:      ctx,
		session:  opts.Session,
		catalog:  opts.Catalog,
		renderer: r,
		snap:     opts.Session.Snapshot(),
		input:    in,
		viewport: viewport.New(80, 20),
		width:    80,
		height:   24,
	}
	m.refresh()
	return m, nil
}

// Navigation returns the redirect that ended the session, if any.
func (m Model) Navigation() *gateway.NavigationRequired {
	return m.nav
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.loadTopics())
}

func (m Model) loadTopics() tea.Cmd {
	return func() tea.Msg {
		topics, err := m.catalog.ForSelector(m.ctx)
		return topicsMsg{topics: topics, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(1, msg.Height-chromeHeight)
		m.input.Width = max(10, msg.Width-4)
		m.renderer.SetWidth(msg.Width)
		m.refresh()
		return m, nil

	case SnapshotMsg:
		if msg.Revision >= m.snap.Revision {
			m.snap = chat.Snapshot(msg)
			m.refresh()
		}
		return m, nil

	case topicsMsg:
		if nav, ok := gateway.AsNavigation(msg.err); ok {
			m.nav = nav
			return m, tea.Quit
		}
		if msg.err != nil {
			m.setStatus(gateway.Describe(msg.err, "Failed to load topics"), true)
			return m, nil
		}
		m.topics = msg.topics
		m.showTopics = true
		m.setStatus(fmt.Sprintf("%d topic(s)", len(msg.topics)), false)
		m.refresh()
		return m, nil

	case resultMsg:
		m.snap = m.session.Snapshot()
		if nav, ok := gateway.AsNavigation(msg.err); ok {
			m.nav = nav
			return m, tea.Quit
		}
		if msg.err != nil {
			// The transcript already carries the failure note.
			m.setStatus(msg.op+" failed", true)
		} else {
			m.setStatus("", false)
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	line := m.input.Value()
	m.input.Reset()

	c, err := ParseCommand(line)
	if err != nil {
		m.setStatus(err.Error(), true)
		return m, nil
	}
	m.showHelp = false

	switch c.Kind {
	case CmdSend:
		if c.Text == "" {
			return m, nil
		}
		m.showTopics = false
		session, ctx, text := m.session, m.ctx, c.Text
		return m, func() tea.Msg {
			return resultMsg{op: "send", err: session.SendMessage(ctx, text)}
		}

	case CmdTopic:
		m.session.SelectTopic(c.TopicID)
		m.snap = m.session.Snapshot()
		m.showTopics = false
		m.setStatus("topic: "+m.topicLabel(c.TopicID), false)
		m.refresh()
		return m, nil

	case CmdNew:
		session, ctx := m.session, m.ctx
		m.setStatus("new chat", false)
		return m, func() tea.Msg {
			topics, err := session.NewChat(ctx)
			return topicsMsg{topics: topics, err: err}
		}

	case CmdResume:
		m.showTopics = false
		session, ctx, chatID, topicID := m.session, m.ctx, c.ChatID, c.TopicID
		m.setStatus("loading chat "+chatID, false)
		return m, func() tea.Msg {
			return resultMsg{op: "resume", err: session.ResumeChat(ctx, chatID, topicID)}
		}

	case CmdTopics:
		return m, m.loadTopics()

	case CmdHelp:
		m.showHelp = true
		m.refresh()
		return m, nil

	case CmdQuit:
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

func (m Model) topicLabel(id string) string {
	if id == "" {
		return "general discussion"
	}
	for _, t := range m.topics {
		if t.ID.String() == id {
			return t.Label
		}
	}
	return id
}

// refresh re-renders the scrollback from the current snapshot.
func (m *Model) refresh() {
	var b strings.Builder
	if m.showHelp {
		b.WriteString(Help)
		b.WriteString("\n\n")
	}
	if m.showTopics {
		b.WriteString(m.renderer.Topics(m.topics))
		b.WriteString("\n")
	}
	b.WriteString(m.renderer.Transcript(m.snap.Transcript))
	if m.snap.Pending() {
		b.WriteString(statusStyle.Render("AI Tutor is typing..."))
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m Model) header() string {
	chatID := m.snap.ChatID
	if chatID == "" {
		chatID = "new"
	}
	return headerStyle.Render(fmt.Sprintf("Topic: %s  Chat: %s  [%s]",
		m.topicLabel(m.snap.TopicID), chatID, m.snap.State))
}

func (m Model) View() string {
	status := statusStyle.Render(m.status)
	if m.statusErr {
		status = errorStyle.Render(m.status)
	}
	return strings.Join([]string{
		m.header(),
		m.viewport.View(),
		status,
		m.input.View(),
	}, "\n")
}

// Run starts the shell on the terminal and returns the final model. The
// bridge, when given, is attached so session changes reach the program.
func Run(ctx context.Context, m Model, bridge *Bridge, opts ...tea.ProgramOption) (Model, error) {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(m, opts...)
	if bridge != nil {
		bridge.Attach(p)
	}
	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return m, fmt.Errorf("tui: %w", err)
	}
	if fm, ok := final.(Model); ok {
		return fm, nil
	}
	return m, nil
}
