// Package render turns session state into text. It never fetches or
// mutates anything.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"github.com/zulandar/tutorline/internal/api"
	"github.com/zulandar/tutorline/internal/catalog"
	"github.com/zulandar/tutorline/internal/chat"
)

// Empty-state texts.
const (
	EmptyCatalog      = "No content yet. Upload a document to get started!"
	NoChatsNoTopics   = "No chats yet. Upload a document to get started!"
	NoChats           = "No chats yet. Start a conversation!"
	GeneralDiscussion = "Start general discussion"
)

const indent = "  "

// Entry is the display form of one transcript message.
type Entry struct {
	Role    chat.Sender
	Label   string
	Text    string
	Pending bool // not yet acknowledged by the server
}

// Label returns the display name of a sender.
func Label(s chat.Sender) string {
	switch s {
	case chat.SenderUser:
		return "You"
	case chat.SenderAssistant:
		return "AI Tutor"
	default:
		return "System"
	}
}

// Project maps a transcript to display entries, one per message, in order.
func Project(transcript []chat.Message) []Entry {
	entries := make([]Entry, len(transcript))
	for i, m := range transcript {
		entries[i] = Entry{
			Role:    m.Sender,
			Label:   Label(m.Sender),
			Text:    m.Content,
			Pending: m.Origin == chat.OriginOptimistic,
		}
	}
	return entries
}

// Opts configures a Renderer.
type Opts struct {
	Width int  // wrap width; 0 disables wrapping
	Plain bool // no colors or text attributes
}

// Renderer formats transcripts and lists for the terminal.
type Renderer struct {
	width  int
	plain  bool
	styles map[chat.Sender]lipgloss.Style
	dim    lipgloss.Style
	title  lipgloss.Style
}

var (
	userLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	assistantLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39"))

	systemLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("220"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("69"))
)

// New creates a Renderer.
func New(opts Opts) *Renderer {
	r := &Renderer{
		width: opts.Width,
		plain: opts.Plain,
		styles: map[chat.Sender]lipgloss.Style{
			chat.SenderUser:      userLabelStyle,
			chat.SenderAssistant: assistantLabelStyle,
			chat.SenderSystem:    systemLabelStyle,
		},
		dim:   dimStyle,
		title: titleStyle,
	}
	return r
}

// Width returns the wrap width.
func (r *Renderer) Width() int { return r.width }

// SetWidth changes the wrap width, e.g. after a terminal resize.
func (r *Renderer) SetWidth(w int) { r.width = w }

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if r.plain {
		return text
	}
	return s.Render(text)
}

func (r *Renderer) wrap(text string) string {
	text = strings.ReplaceAll(strings.TrimRight(text, "\n"), "\r", "")
	if r.width > len(indent) {
		text = wordwrap.String(text, r.width-len(indent))
	}
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = indent + lines[i]
	}
	return strings.Join(lines, "\n")
}

// Transcript renders every message as a labelled block, in order.
func (r *Renderer) Transcript(transcript []chat.Message) string {
	var b strings.Builder
	for i, e := range Project(transcript) {
		if i > 0 {
			b.WriteString("\n")
		}
		label := r.style(r.styles[e.Role], e.Label)
		if e.Pending && e.Role == chat.SenderUser {
			label += " " + r.style(r.dim, "(unconfirmed)")
		}
		b.WriteString(label)
		b.WriteString("\n")
		b.WriteString(r.wrap(e.Text))
		b.WriteString("\n")
	}
	return b.String()
}

// Topics renders the topic selector: a general discussion choice numbered 0
// followed by each topic. An empty catalog shows the no-content affordance.
func (r *Renderer) Topics(topics []api.Topic) string {
	var b strings.Builder
	b.WriteString(r.style(r.title, "Select Topic:"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s0) %s\n", indent, GeneralDiscussion)
	if len(topics) == 0 {
		b.WriteString(r.style(r.dim, EmptyCatalog))
		b.WriteString("\n")
		return b.String()
	}
	for i, t := range topics {
		fmt.Fprintf(&b, "%s%d) %s %s\n", indent, i+1, t.Label, r.style(r.dim, "["+t.ID.String()+"]"))
	}
	return b.String()
}

// Chats renders the sidebar index. topicCount distinguishes "nothing
// uploaded" from "nothing discussed yet".
func (r *Renderer) Chats(entries []catalog.ChatEntry, topicCount int) string {
	if topicCount == 0 {
		return r.style(r.dim, NoChatsNoTopics) + "\n"
	}
	if len(entries) == 0 {
		return r.style(r.dim, NoChats) + "\n"
	}

	labelWidth := 0
	for _, e := range entries {
		if w := lipgloss.Width(e.TopicLabel); w > labelWidth {
			labelWidth = w
		}
	}
	var b strings.Builder
	for _, e := range entries {
		pad := strings.Repeat(" ", labelWidth-lipgloss.Width(e.TopicLabel))
		fmt.Fprintf(&b, "%s%s%s  %s %s\n", indent, r.style(r.title, e.TopicLabel), pad, e.ChatID, r.style(r.dim, "[topic "+e.TopicID+"]"))
	}
	return b.String()
}
