package room

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"collab-service/internal/models"
)

// Client-side errors.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrAlreadyReacted   = errors.New("already reacted with this emoji")
	ErrEmptyMessage     = errors.New("message cannot be empty")
	ErrClosed           = errors.New("room closed")
)

// APIError is a store rejection surfaced verbatim.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

func statusError(status int, msg string) error {
	switch status {
	case http.StatusUnauthorized:
		return ErrNotAuthenticated
	case http.StatusConflict:
		if strings.Contains(strings.ToLower(msg), "already reacted") {
			return ErrAlreadyReacted
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Message: msg}
}

func readErrorBody(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return ""
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}

// ImageUpload is an image attached to a message.
type ImageUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Backend is the durable side of a room: fetches and mutations.
type Backend interface {
	ListMessages(ctx context.Context, sessionID string) ([]models.Message, error)
	ListParticipants(ctx context.Context, sessionID string) ([]models.ParticipantWithProfile, error)
	ListReactions(ctx context.Context, sessionID string, messageIDs []string) ([]models.Reaction, error)
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
	SendMessage(ctx context.Context, sessionID, content, clientID string) (models.Message, error)
	SendImage(ctx context.Context, sessionID, content, clientID string, img ImageUpload) (models.Message, error)
	AddReaction(ctx context.Context, sessionID, messageID, emoji string) (models.Reaction, error)
	RemoveReaction(ctx context.Context, sessionID, messageID, emoji string) error
}

// HTTPBackend talks to the collab-service HTTP API.
type HTTPBackend struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPBackend creates a backend for baseURL authenticated with token.
func NewHTTPBackend(baseURL, token string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPBackend{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	if b.token == "" {
		return ErrNotAuthenticated
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp.StatusCode, readErrorBody(resp.Body))
	}
	if out == nil {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if env.Error != "" {
		return &APIError{Status: resp.StatusCode, Message: env.Error}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", path, err)
	}
	return nil
}

func (b *HTTPBackend) doJSON(ctx context.Context, method, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return b.do(ctx, method, path, bytes.NewReader(data), "application/json", out)
}

func sessionPath(sessionID string) string {
	return "/sessions/" + url.PathEscape(sessionID)
}

func (b *HTTPBackend) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	var msgs []models.Message
	if err := b.do(ctx, http.MethodGet, sessionPath(sessionID)+"/messages", nil, "", &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (b *HTTPBackend) ListParticipants(ctx context.Context, sessionID string) ([]models.ParticipantWithProfile, error) {
	var parts []models.ParticipantWithProfile
	if err := b.do(ctx, http.MethodGet, sessionPath(sessionID)+"/participants", nil, "", &parts); err != nil {
		return nil, err
	}
	return parts, nil
}

func (b *HTTPBackend) ListReactions(ctx context.Context, sessionID string, messageIDs []string) ([]models.Reaction, error) {
	if len(messageIDs) == 0 {
		return []models.Reaction{}, nil
	}
	q := url.Values{}
	for _, id := range messageIDs {
		q.Add("message_id", id)
	}
	var reactions []models.Reaction
	if err := b.do(ctx, http.MethodGet, sessionPath(sessionID)+"/reactions?"+q.Encode(), nil, "", &reactions); err != nil {
		return nil, err
	}
	return reactions, nil
}

func (b *HTTPBackend) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	var profile models.Profile
	err := b.do(ctx, http.MethodGet, "/profiles/"+url.PathEscape(userID), nil, "", &profile)
	return profile, err
}

func (b *HTTPBackend) SendMessage(ctx context.Context, sessionID, content, clientID string) (models.Message, error) {
	var msg models.Message
	err := b.doJSON(ctx, http.MethodPost, sessionPath(sessionID)+"/messages", map[string]string{
		"content":   content,
		"client_id": clientID,
	}, &msg)
	return msg, err
}

func (b *HTTPBackend) SendImage(ctx context.Context, sessionID, content, clientID string, img ImageUpload) (models.Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if content != "" {
		if err := w.WriteField("content", content); err != nil {
			return models.Message{}, err
		}
	}
	if clientID != "" {
		if err := w.WriteField("client_id", clientID); err != nil {
			return models.Message{}, err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, img.Filename))
	h.Set("Content-Type", img.ContentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return models.Message{}, err
	}
	if _, err := io.Copy(part, img.Body); err != nil {
		return models.Message{}, fmt.Errorf("read image: %w", err)
	}
	if err := w.Close(); err != nil {
		return models.Message{}, err
	}

	var msg models.Message
	err = b.do(ctx, http.MethodPost, sessionPath(sessionID)+"/messages/image", &buf, w.FormDataContentType(), &msg)
	return msg, err
}

func (b *HTTPBackend) AddReaction(ctx context.Context, sessionID, messageID, emoji string) (models.Reaction, error) {
	var reaction models.Reaction
	err := b.doJSON(ctx, http.MethodPost, sessionPath(sessionID)+"/messages/"+url.PathEscape(messageID)+"/reactions",
		map[string]string{"emoji": emoji}, &reaction)
	return reaction, err
}

func (b *HTTPBackend) RemoveReaction(ctx context.Context, sessionID, messageID, emoji string) error {
	path := sessionPath(sessionID) + "/messages/" + url.PathEscape(messageID) + "/reactions?emoji=" + url.QueryEscape(emoji)
	return b.do(ctx, http.MethodDelete, path, nil, "", nil)
}
