package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/tutorline/internal/api"
	"github.com/zulandar/tutorline/internal/chat"
	"github.com/zulandar/tutorline/internal/config"
	"github.com/zulandar/tutorline/internal/gateway"
	"github.com/zulandar/tutorline/internal/render"
	"github.com/zulandar/tutorline/internal/tui"
	"golang.org/x/term"
)

// chatOpts holds the flags of `tutor chat`.
type chatOpts struct {
	topicID  string
	topicSet bool
	resumeID string
	plain    bool
}

func newChatCmd() *cobra.Command {
	var (
		configPath string
		opts       chatOpts
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the tutor",
		Long: "Opens an interactive chat session. Use --topic to start on a topic (or\n" +
			"\"general\"), --resume to continue an existing chat. --plain, or a\n" +
			"non-terminal stdin, switches to a line mode driven by slash commands.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.topicSet = cmd.Flags().Changed("topic")
			if opts.topicID == "general" {
				opts.topicID = ""
			}
			return runChat(cmd, configPath, opts)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to tutor config file")
	cmd.Flags().StringVarP(&opts.topicID, "topic", "t", "", "topic id to chat about (\"general\" for general discussion)")
	cmd.Flags().StringVarP(&opts.resumeID, "resume", "r", "", "chat id to resume")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "line mode without the full-screen interface")
	return cmd
}

func runChat(cmd *cobra.Command, configPath string, opts chatOpts) error {
	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		interactive := cmd.InOrStdin() == os.Stdin && term.IsTerminal(int(os.Stdin.Fd()))
		if opts.plain || !interactive {
			lc := &lineChat{
				out:     cmd.OutOrStdout(),
				catalog: a.catalog,
				r:       render.New(render.Opts{Width: terminalWidth(a.cfg.UI), Plain: true}),
			}
			m, err := chat.NewManager(chat.Opts{
				Backend:  a.client,
				Catalog:  a.catalog,
				OnChange: lc.show,
				Logger:   a.log,
			})
			if err != nil {
				return err
			}
			lc.m = m
			return lc.run(ctx, cmd.InOrStdin(), opts)
		}

		bridge := &tui.Bridge{}
		m, err := chat.NewManager(chat.Opts{
			Backend:  a.client,
			Catalog:  a.catalog,
			OnChange: bridge.Publish,
			Logger:   a.log,
		})
		if err != nil {
			return err
		}
		if err := startSession(ctx, m, opts); err != nil {
			return err
		}

		model, err := tui.NewModel(tui.Opts{
			Context:  ctx,
			Session:  m,
			Catalog:  a.catalog,
			Renderer: render.New(render.Opts{Width: terminalWidth(a.cfg.UI)}),
		})
		if err != nil {
			return err
		}
		final, err := tui.Run(ctx, model, bridge)
		if err != nil {
			return err
		}
		if nav := final.Navigation(); nav != nil {
			return nav
		}
		return nil
	})
}

// startSession applies --topic and --resume. Only a login redirect is fatal;
// other resume failures are already noted in the transcript.
func startSession(ctx context.Context, m *chat.Manager, opts chatOpts) error {
	if opts.resumeID != "" {
		if err := m.ResumeChat(ctx, opts.resumeID, opts.topicID); needsLogin(err) {
			return err
		}
		return nil
	}
	if opts.topicSet {
		m.SelectTopic(opts.topicID)
	}
	return nil
}

func needsLogin(err error) bool {
	nav, ok := gateway.AsNavigation(err)
	return ok && nav.Target == gateway.DestinationLogin
}

// lineChat drives a Manager from newline-delimited input and prints every
// session change as it is published.
type lineChat struct {
	out     io.Writer
	m       *chat.Manager
	catalog tui.Catalog
	r       *render.Renderer
	topics  []api.Topic
	printed int    // transcript entries already written
	chatID  string // last chat id announced
}

func (lc *lineChat) run(ctx context.Context, in io.Reader, opts chatOpts) error {
	out := lc.out
	if err := lc.listTopics(ctx); err != nil {
		return err
	}
	if err := startSession(ctx, lc.m, opts); err != nil {
		return err
	}
	fmt.Fprintln(out, "Type a message, or /help for commands.")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		c, err := tui.ParseCommand(scanner.Text())
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		quit, err := lc.handle(ctx, c)
		if err != nil || quit {
			return err
		}
	}
}

// handle runs one command. Only a login redirect is returned as an error;
// every other failure is shown inline and the session continues.
func (lc *lineChat) handle(ctx context.Context, c tui.Command) (bool, error) {
	switch c.Kind {
	case tui.CmdSend:
		if c.Text == "" {
			return false, nil
		}
		// Failures are recorded in the transcript as a system note.
		_ = lc.m.SendMessage(ctx, c.Text)

	case tui.CmdTopic:
		lc.m.SelectTopic(c.TopicID)
		fmt.Fprintf(lc.out, "Topic: %s\n", lc.topicLabel(c.TopicID))

	case tui.CmdNew:
		topics, err := lc.m.NewChat(ctx)
		if needsLogin(err) {
			return false, err
		}
		if err != nil {
			fmt.Fprintln(lc.out, gateway.Describe(err, "Failed to load topics"))
			return false, nil
		}
		lc.topics = topics
		fmt.Fprint(lc.out, lc.r.Topics(topics))

	case tui.CmdResume:
		if err := lc.m.ResumeChat(ctx, c.ChatID, c.TopicID); needsLogin(err) {
			return false, err
		}

	case tui.CmdTopics:
		if err := lc.listTopics(ctx); err != nil {
			return false, err
		}

	case tui.CmdHelp:
		fmt.Fprintln(lc.out, tui.Help)

	case tui.CmdQuit:
		return true, nil
	}
	return false, nil
}

func (lc *lineChat) listTopics(ctx context.Context) error {
	topics, err := lc.catalog.ForSelector(ctx)
	if err != nil {
		if needsLogin(err) {
			return err
		}
		fmt.Fprintln(lc.out, gateway.Describe(err, "Failed to load topics"))
		return nil
	}
	lc.topics = topics
	fmt.Fprint(lc.out, lc.r.Topics(topics))
	return nil
}

// show is the manager's OnChange callback. It writes the transcript entries
// not printed yet, starting over after a reset, and announces a newly
// assigned chat id so the chat can be resumed later. Line mode drives the
// manager from one goroutine, so show runs on it too.
func (lc *lineChat) show(snap chat.Snapshot) {
	if lc.printed > len(snap.Transcript) {
		lc.printed = 0
	}
	if lc.printed < len(snap.Transcript) {
		fmt.Fprint(lc.out, lc.r.Transcript(snap.Transcript[lc.printed:]))
		fmt.Fprintln(lc.out)
		lc.printed = len(snap.Transcript)
	}
	switch {
	case snap.ChatID == "":
		lc.chatID = ""
	case snap.ChatID != lc.chatID:
		lc.chatID = snap.ChatID
		fmt.Fprintf(lc.out, "Chat: %s\n", snap.ChatID)
	}
}

func (lc *lineChat) topicLabel(id string) string {
	if id == "" {
		return "general discussion"
	}
	for _, t := range lc.topics {
		if t.ID.String() == id {
			return t.Label
		}
	}
	return id
}
