// Package stub is an in-memory implementation of the tutoring backend API.
// It backs the client tests and the hidden `tutor stub-server` command.
package stub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const ctxUserKey = "stub_user"

type user struct {
	id          string
	email       string
	password    string
	displayName string
}

type document struct {
	id      int
	userID  string
	topic   string
	content string
}

type chatMessage struct {
	userID    string
	topicID   string
	chatID    string
	role      string
	content   string
	createdAt time.Time
}

type source struct {
	id     int
	userID string
	domain string
}

type failure struct {
	status int
	body   string
}

// ReplyFunc produces the assistant reply for a message sent under a topic
// ("" for general discussion).
type ReplyFunc func(topicLabel, message string) string

// Server holds all backend state in memory.
type Server struct {
	mu       sync.Mutex
	users    map[string]*user  // key: email
	tokens   map[string]string // token -> user id
	docs     []document
	messages []chatMessage
	sources  []source
	nextID   int
	failures map[string][]failure // key: path prefix
	hits     map[string]int
	reply    ReplyFunc
	now      func() time.Time

	engine *gin.Engine
}

// New creates an empty stub backend.
func New() *Server {
	s := &Server{
		users:    make(map[string]*user),
		tokens:   make(map[string]string),
		failures: make(map[string][]failure),
		hits:     make(map[string]int),
		reply:    defaultReply,
		now:      time.Now,
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, s)
	s.engine = router
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func defaultReply(topic, message string) string {
	if topic == "" {
		return "Tutor: " + message
	}
	return fmt.Sprintf("Tutor (%s): %s", topic, message)
}

// SetReply replaces the assistant reply generator.
func (s *Server) SetReply(fn ReplyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply = fn
}

// SeedUser registers a user and returns a valid access token for it.
func (s *Server) SeedUser(email, username, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.createUserLocked(email, username, password)
	return s.issueTokenLocked(u)
}

// SeedDocument stores a document for the user owning token and returns the
// topic id.
func (s *Server) SeedDocument(token, topic, content string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprint(s.addDocumentLocked(s.tokens[token], topic, content))
}

// RevokeTokens invalidates every issued token.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]string)
}

// FailNext makes the next request whose path starts with prefix answer with
// status and body instead of being handled. Calls queue up.
func (s *Server) FailNext(prefix string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[prefix] = append(s.failures[prefix], failure{status: status, body: body})
}

// Hits returns how many requests reached path, including injected failures.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *Server) createUserLocked(email, username, password string) *user {
	u := &user{
		id:          uuid.NewString(),
		email:       email,
		password:    password,
		displayName: username,
	}
	s.users[email] = u
	return u
}

func (s *Server) issueTokenLocked(u *user) string {
	tok := uuid.NewString()
	s.tokens[tok] = u.id
	return tok
}

func (s *Server) addDocumentLocked(userID, topic, content string) int {
	s.nextID++
	s.docs = append(s.docs, document{id: s.nextID, userID: userID, topic: topic, content: content})
	return s.nextID
}

func (s *Server) userByID(id string) *user {
	for _, u := range s.users {
		if u.id == id {
			return u
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func (s *Server) track() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		s.mu.Lock()
		s.hits[path]++
		var injected *failure
		for prefix, queue := range s.failures {
			if len(queue) > 0 && strings.HasPrefix(path, prefix) {
				f := queue[0]
				s.failures[prefix] = queue[1:]
				injected = &f
				break
			}
		}
		s.mu.Unlock()

		if injected != nil {
			c.Data(injected.status, "application/json", []byte(injected.body))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Missing token"})
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		s.mu.Lock()
		userID, ok := s.tokens[token]
		s.mu.Unlock()
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid token"})
			return
		}
		c.Set(ctxUserKey, userID)
		c.Next()
	}
}

// ---------------------------------------------------------------------------
// Server lifecycle
// ---------------------------------------------------------------------------

// StartOpts holds configuration for a standalone stub server.
type StartOpts struct {
	Port int
	Out  io.Writer
}

// Start serves s until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: s.engine,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Stub backend running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("stub: %w", err)
	}
	return nil
}

// sortedChatIDs returns unique chat ids, most recently active first.
func sortedChatIDs(msgs []chatMessage) []string {
	last := make(map[string]time.Time)
	for _, m := range msgs {
		if m.createdAt.After(last[m.chatID]) || last[m.chatID].IsZero() {
			last[m.chatID] = m.createdAt
		}
	}
	ids := make([]string, 0, len(last))
	for id := range last {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if last[ids[i]].Equal(last[ids[j]]) {
			return ids[i] < ids[j]
		}
		return last[ids[i]].After(last[ids[j]])
	})
	return ids
}
