// Package rest is the client for the backend's conversation and message
// endpoints, used for sync fetches and as the fallback send path.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/emberapp/ember/internal/model"
	"github.com/emberapp/ember/internal/wire"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTPError is a non-2xx response from the backend.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// Permanent reports whether retrying the same request cannot succeed.
func (e *HTTPError) Permanent() bool {
	return e.Status >= 400 && e.Status < 500 &&
		e.Status != http.StatusRequestTimeout && e.Status != http.StatusTooManyRequests
}

type apiError struct {
	Error string `json:"error"`
}

// ConversationSummary is one entry of GET /conversations.
type ConversationSummary struct {
	ID             string    `json:"id"`
	PeerID         string    `json:"peerId"`
	PeerName       string    `json:"peerName"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	UnreadCount    int       `json:"unreadCount"`
	LastPreview    string    `json:"lastMessagePreview"`
}

func (s ConversationSummary) toModel() model.Conversation {
	return model.Conversation{
		ID:             s.ID,
		PeerID:         s.PeerID,
		PeerName:       s.PeerName,
		LastActivityAt: s.LastActivityAt,
		UnreadCount:    s.UnreadCount,
		LastPreview:    s.LastPreview,
	}
}

type conversationList struct {
	Conversations []ConversationSummary `json:"conversations"`
}

type messageList struct {
	Messages []wire.InboundMessage `json:"messages"`
}

type markRead struct {
	MessageIDs []string `json:"messageIds,omitempty"`
}

// Client talks to the REST API.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// New creates a client for baseURL authenticating with a bearer token.
// Idempotent GETs are retried on transport errors and 5xx responses.
func New(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	hc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || r.StatusCode() >= 500
		})
	if token != "" {
		hc.SetAuthToken(token)
	}
	return &Client{http: hc, logger: logger.Named("rest")}
}

// ListConversations returns every conversation of the user.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var out conversationList
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiError{}).
		Get("/conversations")
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	convs := make([]model.Conversation, 0, len(out.Conversations))
	for _, s := range out.Conversations {
		convs = append(convs, s.toModel())
	}
	return convs, nil
}

// FetchMessages returns the messages of a conversation newer than since, or
// the full history when since is zero.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, since time.Time) ([]model.Message, error) {
	var out messageList
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("id", conversationID).
		SetResult(&out).
		SetError(&apiError{})
	if !since.IsZero() {
		req.SetQueryParam("since", strconv.FormatInt(since.UnixMilli(), 10))
	}
	resp, err := req.Get("/conversations/{id}/messages")
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("fetch messages %s: %w", conversationID, err)
	}
	msgs := make([]model.Message, 0, len(out.Messages))
	for _, in := range out.Messages {
		if in.ConversationID == "" {
			in.ConversationID = conversationID
		}
		msgs = append(msgs, *in.ToModel())
	}
	c.logger.Debug("fetched messages", zap.String("conversation", conversationID), zap.Int("count", len(msgs)))
	return msgs, nil
}

// SendMessage posts m as the fallback send path. The idempotency token rides
// in the Idempotency-Key header so a retried post cannot duplicate the
// message. A permanent rejection is returned as *model.SendFailure.
func (c *Client) SendMessage(ctx context.Context, m *model.Message) (wire.MessageAck, error) {
	var ack wire.MessageAck
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", m.ConversationID).
		SetHeader("Idempotency-Key", m.ClientID).
		SetBody(wire.NewMessage(m).Payload).
		SetResult(&ack).
		SetError(&apiError{}).
		Post("/conversations/{id}/messages")
	if err := check(resp, err); err != nil {
		var he *HTTPError
		if errors.As(err, &he) && he.Permanent() {
			return ack, &model.SendFailure{ClientID: m.ClientID, Reason: he.Message, Err: he}
		}
		return ack, fmt.Errorf("send message %s: %w", m.ClientID, err)
	}
	if ack.ClientMessageID == "" {
		ack.ClientMessageID = m.ClientID
	}
	if ack.ConversationID == "" {
		ack.ConversationID = m.ConversationID
	}
	return ack, nil
}

// MarkRead marks messages of a conversation read in bulk. No ids marks the
// whole conversation.
func (c *Client) MarkRead(ctx context.Context, conversationID string, ids []string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", conversationID).
		SetBody(markRead{MessageIDs: ids}).
		SetError(&apiError{}).
		Post("/conversations/{id}/read")
	if err := check(resp, err); err != nil {
		return fmt.Errorf("mark read %s: %w", conversationID, err)
	}
	return nil
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsError() {
		return nil
	}
	he := &HTTPError{Status: resp.StatusCode()}
	if ae, ok := resp.Error().(*apiError); ok && ae.Error != "" {
		he.Message = ae.Error
	} else {
		he.Message = http.StatusText(resp.StatusCode())
	}
	return he
}
