// Package api is the typed surface of the tutoring backend, layered on the
// request gateway.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/zulandar/tutorline/internal/gateway"
)

// Backend endpoint paths.
const (
	PathLogin         = "/api/login"
	PathSignup        = "/api/signup"
	PathMe            = "/api/me"
	PathUpdateProfile = "/api/update-profile"
	PathUpload        = "/api/upload"
	PathTopics        = "/api/chat/topics"
	PathTopicDocs     = "/api/get_topics"
	PathChatList      = "/api/chat/list/"
	PathChatSend      = "/api/chat/send"
	PathChatHistory   = "/api/chat/history/"
	PathStats         = "/api/dashboard/stats"
	PathSources       = "/api/sources"
)

// Fallback messages used when the backend rejects a chat call without text.
const (
	FallbackChatSend    = "Error: failed to get AI response."
	FallbackChatHistory = "Error: failed to load chat history."
)

// Client calls the backend endpoints through a Gateway.
type Client struct {
	gw *gateway.Gateway
}

// New creates a Client.
func New(gw *gateway.Gateway) (*Client, error) {
	if gw == nil {
		return nil, fmt.Errorf("api: gateway is required")
	}
	return &Client{gw: gw}, nil
}

// Login exchanges credentials for a bearer token and stores it.
func (c *Client) Login(ctx context.Context, creds Credentials) (*AuthResult, error) {
	if err := creds.validate("Please fill in all fields"); err != nil {
		return nil, err
	}
	return c.authenticate(ctx, PathLogin, creds, "Invalid username/password")
}

// Signup creates an account and stores the returned bearer token.
func (c *Client) Signup(ctx context.Context, creds Credentials) (*AuthResult, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	creds.Username = strings.TrimSpace(creds.Username)
	if err := creds.validate("All fields are required"); err != nil {
		return nil, err
	}
	return c.authenticate(ctx, PathSignup, creds, "Signup failed")
}

func (c *Client) authenticate(ctx context.Context, path string, creds Credentials, fallback string) (*AuthResult, error) {
	raw, err := c.gw.CallPublic(ctx, gateway.Request{
		Method:   http.MethodPost,
		Endpoint: path,
		Body:     creds,
		Fallback: fallback,
	})
	if err != nil {
		return nil, err
	}
	var res AuthResult
	if err := decode(raw, &res); err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		return nil, &gateway.RejectedError{Endpoint: path, Status: http.StatusOK, Message: fallback}
	}
	if err := c.gw.Store().Set(res.AccessToken); err != nil {
		return nil, fmt.Errorf("api: store access token: %w", err)
	}
	return &res, nil
}

// Logout forgets the stored token. There is no server-side logout.
func (c *Client) Logout() error {
	return c.gw.Store().Clear()
}

// Me fetches the current user's profile.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.get(ctx, PathMe, "Failed to load profile", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProfile changes the display name and returns the stored value.
func (c *Client) UpdateProfile(ctx context.Context, displayName string) (string, error) {
	if strings.TrimSpace(displayName) == "" {
		return "", &ValidationError{Message: "Display name cannot be empty"}
	}
	raw, err := c.gw.Call(ctx, gateway.Request{
		Method:   http.MethodPost,
		Endpoint: PathUpdateProfile,
		Body:     map[string]string{"display_name": displayName},
		Fallback: "Update failed",
	})
	if err != nil {
		return "", err
	}
	var res struct {
		DisplayName string `json:"display_name"`
	}
	if err := decode(raw, &res); err != nil {
		return "", err
	}
	if res.DisplayName == "" {
		res.DisplayName = strings.TrimSpace(displayName)
	}
	return res.DisplayName, nil
}

// Upload submits a document and returns the topic the backend extracted.
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader) (*UploadResult, error) {
	raw, err := c.gw.Upload(ctx, PathUpload, filename, content, "Upload failed")
	if err != nil {
		return nil, err
	}
	var res UploadResult
	if err := decode(raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Topics lists the user's topics in server order.
func (c *Client) Topics(ctx context.Context) ([]Topic, error) {
	var res struct {
		Topics []Topic `json:"topics"`
	}
	if err := c.get(ctx, PathTopics, "Failed to load topics", &res); err != nil {
		return nil, err
	}
	if res.Topics == nil {
		res.Topics = []Topic{}
	}
	return res.Topics, nil
}

// TopicDocuments lists topics with their extracted document text. The
// backend returns two parallel arrays; missing content pairs with "".
func (c *Client) TopicDocuments(ctx context.Context) ([]TopicDocument, error) {
	var res struct {
		Topics []struct {
			Topic string `json:"topic"`
		} `json:"result_topics"`
		Content []struct {
			Content string `json:"content"`
		} `json:"result_content"`
	}
	if err := c.get(ctx, PathTopicDocs, "Failed to load topics", &res); err != nil {
		return nil, err
	}
	docs := make([]TopicDocument, 0, len(res.Topics))
	for i, t := range res.Topics {
		doc := TopicDocument{Topic: t.Topic}
		if i < len(res.Content) {
			doc.Content = res.Content[i].Content
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ListChats returns the chat identifiers recorded under a topic.
func (c *Client) ListChats(ctx context.Context, topicID string) ([]ID, error) {
	var res struct {
		Chats []ID `json:"chats"`
	}
	if err := c.get(ctx, PathChatList+url.PathEscape(topicID), "Failed to load chats", &res); err != nil {
		return nil, err
	}
	return res.Chats, nil
}

// SendChat posts one user message. Empty topicID or chatID are sent as null;
// the backend allocates a chat when chatID is null.
func (c *Client) SendChat(ctx context.Context, topicID, chatID, message string) (*ChatReply, error) {
	raw, err := c.gw.Call(ctx, gateway.Request{
		Method:   http.MethodPost,
		Endpoint: PathChatSend,
		Body: ChatRequest{
			TopicID: optional(topicID),
			ChatID:  optional(chatID),
			Message: message,
		},
		Fallback: FallbackChatSend,
	})
	if err != nil {
		return nil, err
	}
	var res ChatReply
	if err := decode(raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ChatHistory returns the persisted messages of a chat in conversation order.
func (c *Client) ChatHistory(ctx context.Context, chatID string) ([]HistoryMessage, error) {
	var res struct {
		Messages []HistoryMessage `json:"messages"`
	}
	if err := c.get(ctx, PathChatHistory+url.PathEscape(chatID), FallbackChatHistory, &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// Stats returns the dashboard aggregate counts.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	if err := c.get(ctx, PathStats, "Failed to load stats", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Sources lists the allowed web source domains.
func (c *Client) Sources(ctx context.Context) ([]Source, error) {
	var res struct {
		Sources []Source `json:"sources"`
	}
	if err := c.get(ctx, PathSources, "Failed to load sources", &res); err != nil {
		return nil, err
	}
	return res.Sources, nil
}

// AddSource allows a new web source domain.
func (c *Client) AddSource(ctx context.Context, domain string) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || !strings.Contains(domain, ".") {
		return &ValidationError{Message: "Invalid domain"}
	}
	_, err := c.gw.Call(ctx, gateway.Request{
		Method:   http.MethodPost,
		Endpoint: PathSources,
		Body:     map[string]string{"domain": domain},
		Fallback: "Failed to add source",
	})
	return err
}

// DeleteSource removes an allowed web source.
func (c *Client) DeleteSource(ctx context.Context, id string) error {
	_, err := c.gw.Call(ctx, gateway.Request{
		Method:   http.MethodDelete,
		Endpoint: PathSources + "/" + url.PathEscape(id),
		Fallback: "Failed to remove source",
	})
	return err
}

func (c *Client) get(ctx context.Context, path, fallback string, out any) error {
	raw, err := c.gw.Call(ctx, gateway.Request{
		Method:   http.MethodGet,
		Endpoint: path,
		Fallback: fallback,
	})
	if err != nil {
		return err
	}
	return decode(raw, out)
}

func decode(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
