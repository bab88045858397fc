package stub

import (
	"bufio"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// maxTopicLength bounds the topic label extracted from an upload.
const maxTopicLength = 60

type credentialsBody struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type chatBody struct {
	TopicID *string `json:"topic_id"`
	ChatID  *string `json:"chat_id"`
	Message string  `json:"message"`
}

func registerRoutes(router *gin.Engine, s *Server) {
	router.Use(s.track())

	router.POST("/api/login", s.handleLogin)
	router.POST("/api/signup", s.handleSignup)

	authed := router.Group("/api", s.requireUser())
	authed.GET("/me", s.handleMe)
	authed.POST("/update-profile", s.handleUpdateProfile)
	authed.POST("/upload", s.handleUpload)
	authed.GET("/chat/topics", s.handleTopics)
	authed.GET("/get_topics", s.handleTopicDocuments)
	authed.GET("/chat/list/:topic_id", s.handleListChats)
	authed.POST("/chat/send", s.handleSend)
	authed.GET("/chat/history/:chat_id", s.handleHistory)
	authed.GET("/dashboard/stats", s.handleStats)
	authed.GET("/sources", s.handleSources)
	authed.POST("/sources", s.handleAddSource)
	authed.DELETE("/sources/:source_id", s.handleDeleteSource)
}

func currentUser(c *gin.Context) string {
	return c.GetString(ctxUserKey)
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func (s *Server) handleLogin(c *gin.Context) {
	var body credentialsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid request body"})
		return
	}
	if len(body.Password) < 6 {
		c.JSON(http.StatusOK, gin.H{"error": "Password must be at least 6 characters"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[body.Email]
	if !ok || u.password != body.Password {
		c.JSON(http.StatusOK, gin.H{"error": "Invalid username/password"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "logged_in",
		"user_id":      u.id,
		"email":        u.email,
		"display_name": u.displayName,
		"access_token": s.issueTokenLocked(u),
	})
}

func (s *Server) handleSignup(c *gin.Context) {
	var body credentialsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid request body"})
		return
	}
	if len(body.Password) < 6 {
		c.JSON(http.StatusOK, gin.H{"error": "Password must be at least 6 characters"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[body.Email]; exists {
		c.JSON(http.StatusOK, gin.H{"error": "User already registered"})
		return
	}
	u := s.createUserLocked(body.Email, body.Username, body.Password)
	c.JSON(http.StatusOK, gin.H{
		"status":       "signed_up",
		"user_id":      u.id,
		"email":        u.email,
		"display_name": u.displayName,
		"access_token": s.issueTokenLocked(u),
	})
}

// ---------------------------------------------------------------------------
// Profile
// ---------------------------------------------------------------------------

func (s *Server) handleMe(c *gin.Context) {
	s.mu.Lock()
	u := s.userByID(currentUser(c))
	s.mu.Unlock()
	if u == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid token"})
		return
	}
	name := u.displayName
	if name == "" {
		name, _, _ = strings.Cut(u.email, "@")
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":      u.id,
		"email":        u.email,
		"display_name": name,
	})
}

func (s *Server) handleUpdateProfile(c *gin.Context) {
	var body struct {
		DisplayName string `json:"display_name"`
	}
	_ = c.ShouldBindJSON(&body)
	name := strings.TrimSpace(body.DisplayName)
	if name == "" {
		c.JSON(http.StatusOK, gin.H{"error": "Display name cannot be empty"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userByID(currentUser(c))
	if u == nil {
		c.JSON(http.StatusOK, gin.H{"error": "Session expired. Please log out and log in again."})
		return
	}
	u.displayName = name
	c.JSON(http.StatusOK, gin.H{"success": true, "display_name": name})
}

// ---------------------------------------------------------------------------
// Documents and topics
// ---------------------------------------------------------------------------

func (s *Server) handleUpload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Missing file"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Unreadable file"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Unreadable file"})
		return
	}

	content := string(data)
	topic := extractTopic(content, fh.Filename)
	userID := currentUser(c)

	s.mu.Lock()
	s.addDocumentLocked(userID, topic, content)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"message":     "File uploaded successfully",
		"topic":       topic,
		"user_id":     userID,
		"saved_to_db": true,
	})
}

// extractTopic labels a document by its first non-blank line, falling back
// to the file name without extension.
func extractTopic(content, filename string) string {
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimLeft(sc.Text(), "# "))
		if line == "" {
			continue
		}
		if len(line) > maxTopicLength {
			line = strings.TrimSpace(line[:maxTopicLength])
		}
		return line
	}
	if i := strings.LastIndex(filename, "."); i > 0 {
		return filename[:i]
	}
	return filename
}

func (s *Server) handleTopics(c *gin.Context) {
	userID := currentUser(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := make([]gin.H, 0)
	for _, d := range s.docs {
		if d.userID == userID {
			topics = append(topics, gin.H{"id": d.id, "topic": d.topic})
		}
	}
	c.JSON(http.StatusOK, gin.H{"topics": topics})
}

func (s *Server) handleTopicDocuments(c *gin.Context) {
	userID := currentUser(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := make([]gin.H, 0)
	content := make([]gin.H, 0)
	for _, d := range s.docs {
		if d.userID == userID {
			topics = append(topics, gin.H{"topic": d.topic})
			content = append(content, gin.H{"content": d.content})
		}
	}
	c.JSON(http.StatusOK, gin.H{"result_topics": topics, "result_content": content})
}

func (s *Server) topicLabelLocked(userID, topicID string) string {
	for _, d := range s.docs {
		if d.userID == userID && strconv.Itoa(d.id) == topicID {
			return d.topic
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// Chats
// ---------------------------------------------------------------------------

func (s *Server) handleListChats(c *gin.Context) {
	userID := currentUser(c)
	topicID := c.Param("topic_id")
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []chatMessage
	for _, m := range s.messages {
		if m.userID == userID && m.topicID == topicID {
			msgs = append(msgs, m)
		}
	}
	c.JSON(http.StatusOK, gin.H{"chats": sortedChatIDs(msgs)})
}

func (s *Server) handleSend(c *gin.Context) {
	var body chatBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid request body"})
		return
	}
	userID := currentUser(c)
	topicID := ""
	if body.TopicID != nil {
		topicID = *body.TopicID
	}
	chatID := ""
	if body.ChatID != nil {
		chatID = *body.ChatID
	}
	if chatID == "" {
		chatID = uuid.NewString()
	}

	s.mu.Lock()
	reply := s.reply
	label := s.topicLabelLocked(userID, topicID)
	s.mu.Unlock()

	// The reply generator may block; it runs without the lock.
	text := reply(label, body.Message)

	s.mu.Lock()
	now := s.now()
	s.messages = append(s.messages,
		chatMessage{userID: userID, topicID: topicID, chatID: chatID, role: "user", content: body.Message, createdAt: now},
		chatMessage{userID: userID, topicID: topicID, chatID: chatID, role: "assistant", content: text, createdAt: now.Add(time.Nanosecond)},
	)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "ai_response": text})
}

func (s *Server) handleHistory(c *gin.Context) {
	userID := currentUser(c)
	chatID := c.Param("chat_id")
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := make([]gin.H, 0)
	for _, m := range s.messages {
		if m.userID == userID && m.chatID == chatID {
			messages = append(messages, gin.H{
				"role":    m.role,
				"content": m.content,
				"is_user": m.role == "user",
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *Server) handleStats(c *gin.Context) {
	userID := currentUser(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	weekAgo := s.now().Add(-7 * 24 * time.Hour)
	chats := make(map[string]struct{})
	week := 0
	for _, m := range s.messages {
		if m.userID != userID {
			continue
		}
		chats[m.chatID] = struct{}{}
		if !m.createdAt.Before(weekAgo) {
			week++
		}
	}
	c.JSON(http.StatusOK, gin.H{"chat_count": len(chats), "week_count": week})
}

// ---------------------------------------------------------------------------
// Sources
// ---------------------------------------------------------------------------

func (s *Server) handleSources(c *gin.Context) {
	userID := currentUser(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	sources := make([]gin.H, 0)
	for _, src := range s.sources {
		if src.userID == userID {
			sources = append(sources, gin.H{"id": src.id, "domain": src.domain})
		}
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources})
}

func (s *Server) handleAddSource(c *gin.Context) {
	var body struct {
		Domain string `json:"domain"`
	}
	_ = c.ShouldBindJSON(&body)
	domain := strings.ToLower(strings.TrimSpace(body.Domain))
	if domain == "" || !strings.Contains(domain, ".") {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid domain"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.sources = append(s.sources, source{id: s.nextID, userID: currentUser(c), domain: domain})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleDeleteSource(c *gin.Context) {
	userID := currentUser(c)
	id := c.Param("source_id")
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.sources[:0]
	for _, src := range s.sources {
		if src.userID == userID && strconv.Itoa(src.id) == id {
			continue
		}
		kept = append(kept, src)
	}
	s.sources = kept
	c.JSON(http.StatusOK, gin.H{"success": true})
}
