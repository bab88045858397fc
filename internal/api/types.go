package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ID is a server-assigned identifier. The backend emits some identifiers as
// JSON strings and others as numbers; both decode to their textual form.
type ID string

// UnmarshalJSON accepts a JSON string, number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("api: id %s is neither string nor number", data)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Topic is one entry of the topic catalog: an uploaded document's subject.
type Topic struct {
	ID    ID     `json:"id"`
	Label string `json:"topic"`
}

// TopicDocument is a topic together with the text extracted from its document.
type TopicDocument struct {
	Topic   string
	Content string
}

// Credentials are the fields of the login and signup forms.
type Credentials struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// MinPasswordLength is the shortest password the backend accepts.
const MinPasswordLength = 6

// ValidationError is a client-side form validation failure. No request is
// sent when one is returned.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (c Credentials) validate(missing string) error {
	if strings.TrimSpace(c.Email) == "" || strings.TrimSpace(c.Username) == "" || strings.TrimSpace(c.Password) == "" {
		return &ValidationError{Message: missing}
	}
	if len(c.Password) < MinPasswordLength {
		return &ValidationError{Message: fmt.Sprintf("Password must be at least %d characters", MinPasswordLength)}
	}
	return nil
}

// AuthResult is returned by login and signup.
type AuthResult struct {
	Status      string `json:"status"`
	UserID      ID     `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AccessToken string `json:"access_token"`
}

// Profile is the current user's display profile.
type Profile struct {
	UserID      ID     `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// UploadResult reports the topic extracted from an uploaded document.
type UploadResult struct {
	Message   string `json:"message"`
	Topic     string `json:"topic"`
	UserID    ID     `json:"user_id"`
	SavedToDB bool   `json:"saved_to_db"`
}

// ChatRequest is the body of the chat-send endpoint. Nil identifiers are
// sent as JSON null.
type ChatRequest struct {
	TopicID *string `json:"topic_id"`
	ChatID  *string `json:"chat_id"`
	Message string  `json:"message"`
}

// ChatReply is the chat-send response.
type ChatReply struct {
	ChatID ID     `json:"chat_id"`
	Reply  string `json:"ai_response"`
}

// HistoryMessage is one persisted message of a chat.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	IsUser  bool   `json:"is_user"`
}

// Stats are the dashboard aggregate counts.
type Stats struct {
	ChatCount int `json:"chat_count"`
	WeekCount int `json:"week_count"`
}

// Source is an allowed web domain the tutor may consult.
type Source struct {
	ID     ID     `json:"id"`
	Domain string `json:"domain"`
}
