package tui

import (
	"fmt"
	"strings"
)

// CommandKind is what a line of chat input asks for.
type CommandKind int

const (
	CmdSend CommandKind = iota
	CmdTopic
	CmdNew
	CmdResume
	CmdTopics
	CmdHelp
	CmdQuit
)

// Command is one parsed line of chat input.
type Command struct {
	Kind    CommandKind
	Text    string // message text for CmdSend
	TopicID string // "" selects general discussion
	ChatID  string
}

// Help lists the slash commands.
const Help = `/topic <id|general>     start a fresh chat on a topic
/new                    forget the current chat and reload topics
/resume <chat> [topic]  continue an existing chat
/topics                 list topics
/help                   show this help
/quit                   leave`

// ParseCommand interprets a line of input. Lines not starting with "/" are
// messages; a leading "//" sends a literal slash.
func ParseCommand(line string) (Command, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return Command{Kind: CmdSend, Text: trimmed}, nil
	}
	if strings.HasPrefix(trimmed, "//") {
		return Command{Kind: CmdSend, Text: trimmed[1:]}, nil
	}

	fields := strings.Fields(trimmed)
	name, args := fields[0], fields[1:]
	switch name {
	case "/topic":
		if len(args) != 1 {
			return Command{}, fmt.Errorf("usage: /topic <id|general>")
		}
		id := args[0]
		if strings.EqualFold(id, "general") {
			id = ""
		}
		return Command{Kind: CmdTopic, TopicID: id}, nil
	case "/new":
		return Command{Kind: CmdNew}, nil
	case "/resume":
		if len(args) < 1 || len(args) > 2 {
			return Command{}, fmt.Errorf("usage: /resume <chat-id> [topic-id]")
		}
		cmd := Command{Kind: CmdResume, ChatID: args[0]}
		if len(args) == 2 {
			cmd.TopicID = args[1]
		}
		return cmd, nil
	case "/topics":
		return Command{Kind: CmdTopics}, nil
	case "/help", "/?":
		return Command{Kind: CmdHelp}, nil
	case "/quit", "/exit":
		return Command{Kind: CmdQuit}, nil
	default:
		return Command{}, fmt.Errorf("unknown command %s (try /help)", name)
	}
}
