// Package catalog loads the user's topic catalog and the views derived from
// it. The loader itself has no failure policy; each entry point applies the
// policy of the context it serves.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/tutorline/internal/api"
	"github.com/zulandar/tutorline/internal/gateway"
	"go.uber.org/zap"
)

// Source is the subset of the backend API the catalog reads.
type Source interface {
	Topics(ctx context.Context) ([]api.Topic, error)
	TopicDocuments(ctx context.Context) ([]api.TopicDocument, error)
	ListChats(ctx context.Context, topicID string) ([]api.ID, error)
	Stats(ctx context.Context) (*api.Stats, error)
}

// Opts holds parameters for creating a Loader.
type Opts struct {
	Source Source
	Logger *zap.Logger
}

// Loader fetches topics for the current user.
type Loader struct {
	src Source
	log *zap.Logger
}

// New creates a Loader.
func New(opts Opts) (*Loader, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("catalog: source is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{src: opts.Source, log: log.Named("catalog")}, nil
}

// Load returns the topics in server order. An empty catalog is a valid,
// non-nil result.
func (l *Loader) Load(ctx context.Context) ([]api.Topic, error) {
	topics, err := l.src.Topics(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: load topics: %w", err)
	}
	if topics == nil {
		topics = []api.Topic{}
	}
	return topics, nil
}

// ForSelector loads topics for the chat topic selector, where any failure is
// fatal: a missing credential requires login, anything else sends the user
// back to the dashboard.
func (l *Loader) ForSelector(ctx context.Context) ([]api.Topic, error) {
	topics, err := l.Load(ctx)
	if err == nil {
		return topics, nil
	}
	l.log.Warn("topic selector load failed", zap.Error(err))
	if errors.Is(err, gateway.ErrUnauthenticated) {
		return nil, gateway.Redirect(gateway.DestinationLogin, err)
	}
	return nil, gateway.Redirect(gateway.DestinationDashboard, err)
}

// Summary is the dashboard overview. Counts whose request failed are zero.
type Summary struct {
	Topics    int
	Documents int
	Chats     int
	Week      int
	// Degraded is set when at least one count could not be loaded.
	Degraded bool
}

// Summary loads the dashboard counts. Individual failures are logged and
// reported as zero; only a missing credential is returned, as a login
// redirect.
func (l *Loader) Summary(ctx context.Context) (Summary, error) {
	var s Summary

	topics, err := l.Load(ctx)
	switch {
	case errors.Is(err, gateway.ErrUnauthenticated):
		return Summary{}, gateway.Redirect(gateway.DestinationLogin, err)
	case err != nil:
		l.log.Warn("summary: topics unavailable", zap.Error(err))
		s.Degraded = true
	default:
		s.Topics = len(topics)
	}

	docs, err := l.src.TopicDocuments(ctx)
	if err != nil {
		l.log.Warn("summary: documents unavailable", zap.Error(err))
		s.Degraded = true
	} else {
		s.Documents = len(docs)
	}

	stats, err := l.src.Stats(ctx)
	if err != nil || stats == nil {
		l.log.Warn("summary: stats unavailable", zap.Error(err))
		s.Degraded = true
	} else {
		s.Chats = stats.ChatCount
		s.Week = stats.WeekCount
	}
	return s, nil
}

// ChatEntry is one resumable chat in the sidebar index.
type ChatEntry struct {
	TopicID    string
	TopicLabel string
	ChatID     string
}

// Index is the sidebar listing of every chat grouped by topic.
type Index struct {
	TopicCount int
	Entries    []ChatEntry
}

// Chats builds the sidebar index: the topics, then the chats under each.
// A topic whose chat list fails is skipped; losing the credential at any
// point requires login.
func (l *Loader) Chats(ctx context.Context) (Index, error) {
	topics, err := l.Load(ctx)
	if err != nil {
		if errors.Is(err, gateway.ErrUnauthenticated) {
			return Index{}, gateway.Redirect(gateway.DestinationLogin, err)
		}
		return Index{}, err
	}

	idx := Index{TopicCount: len(topics)}
	for _, t := range topics {
		ids, err := l.src.ListChats(ctx, t.ID.String())
		if err != nil {
			if errors.Is(err, gateway.ErrUnauthenticated) {
				return Index{}, gateway.Redirect(gateway.DestinationLogin, err)
			}
			l.log.Warn("chat list failed, skipping topic",
				zap.String("topic_id", t.ID.String()), zap.Error(err))
			continue
		}
		for _, id := range ids {
			idx.Entries = append(idx.Entries, ChatEntry{
				TopicID:    t.ID.String(),
				TopicLabel: t.Label,
				ChatID:     id.String(),
			})
		}
	}
	return idx, nil
}
