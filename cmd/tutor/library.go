package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/tutorline/internal/chat"
	"github.com/zulandar/tutorline/internal/config"
	"github.com/zulandar/tutorline/internal/render"
	"golang.org/x/term"
)

// previewLen bounds the document excerpt shown by `topics --documents`.
const previewLen = 60

// newRenderer styles output only when it goes straight to a terminal.
func newRenderer(cmd *cobra.Command, a *app) *render.Renderer {
	plain := cmd.OutOrStdout() != os.Stdout || !term.IsTerminal(int(os.Stdout.Fd()))
	return render.New(render.Opts{Width: terminalWidth(a.cfg.UI), Plain: plain})
}

func newUploadCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a document to create a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to tutor config file")
	return cmd
}

func runUpload(cmd *cobra.Command, configPath, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		res, err := a.client.Upload(ctx, filepath.Base(path), f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (topic: %s)\n", filepath.Base(path), res.Topic)
		return nil
	})
}

func newTopicsCmd() *cobra.Command {
	var (
		configPath string
		documents  bool
	)

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "List the topics extracted from your documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopics(cmd, configPath, documents)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to tutor config file")
	cmd.Flags().BoolVar(&documents, "documents", false, "show each topic with an excerpt of its document")
	return cmd
}

func runTopics(cmd *cobra.Command, configPath string, documents bool) error {
	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		out := cmd.OutOrStdout()
		if documents {
			docs, err := a.client.TopicDocuments(ctx)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				fmt.Fprintln(out, render.EmptyCatalog)
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TOPIC\tCONTENT")
			for _, d := range docs {
				fmt.Fprintf(w, "%s\t%s\n", d.Topic, excerpt(d.Content, previewLen))
			}
			return w.Flush()
		}

		topics, err := a.catalog.Load(ctx)
		if err != nil {
			return err
		}
		if len(topics) == 0 {
			fmt.Fprintln(out, render.EmptyCatalog)
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTOPIC")
		for _, t := range topics {
			fmt.Fprintf(w, "%s\t%s\n", t.ID, t.Label)
		}
		return w.Flush()
	})
}

// excerpt collapses whitespace and truncates s to n runes.
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func newChatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List every chat, grouped by topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
				idx, err := a.catalog.Chats(ctx)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), newRenderer(cmd, a).Chats(idx.Entries, idx.TopicCount))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to tutor config file")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "history <chat-id>",
		Short: "Print the transcript of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to tutor config file")
	return cmd
}

func runHistory(cmd *cobra.Command, configPath, chatID string) error {
	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		m, err := chat.NewManager(chat.Opts{Backend: a.client, Catalog: a.catalog, Logger: a.log})
		if err != nil {
			return err
		}
		if err := m.ResumeChat(ctx, chatID, ""); err != nil {
			return err
		}
		transcript := m.Snapshot().Transcript
		if len(transcript) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No messages yet.")
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), newRenderer(cmd, a).Transcript(transcript))
		return nil
	})
}

func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage the web sources the tutor may cite",
	}

	cmd.AddCommand(newSourcesListCmd())
	cmd.AddCommand(newSourcesAddCmd())
	cmd.AddCommand(newSourcesRemoveCmd())
	return cmd
}

func newSourcesListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List allowed source domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
				sources, err := a.client.Sources(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(sources) == 0 {
					fmt.Fprintln(out, "No sources configured.")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tDOMAIN")
				for _, s := range sources {
					fmt.Fprintf(w, "%s\t%s\n", s.ID, s.Domain)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to tutor config file")
	return cmd
}

func newSourcesAddCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "add <domain>",
		Short: "Allow a source domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
				if err := a.client.AddSource(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added source %s\n", strings.ToLower(strings.TrimSpace(args[0])))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to tutor config file")
	return cmd
}

func newSourcesRemoveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an allowed source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
				if err := a.client.DeleteSource(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed source %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to tutor config file")
	return cmd
}
