package client

import (
	"context"
	"fmt"
	"time"

	"github.com/emberapp/ember/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Status(ctx context.Context) (*api.SessionStatus, error) {
	return api.Invoke[api.Empty, api.SessionStatus](ctx, c.conn, api.SessionServiceName, "GetStatus", &api.Empty{})
}

func (c *Client) Connect(ctx context.Context) (*api.Ack, error) {
	return api.Invoke[api.Empty, api.Ack](ctx, c.conn, api.SessionServiceName, "Connect", &api.Empty{})
}

func (c *Client) Disconnect(ctx context.Context) (*api.Ack, error) {
	return api.Invoke[api.Empty, api.Ack](ctx, c.conn, api.SessionServiceName, "Disconnect", &api.Empty{})
}

func (c *Client) Foreground(ctx context.Context) (*api.Ack, error) {
	return api.Invoke[api.Empty, api.Ack](ctx, c.conn, api.SessionServiceName, "Foreground", &api.Empty{})
}

func (c *Client) Stats(ctx context.Context) (*api.Stats, error) {
	return api.Invoke[api.Empty, api.Stats](ctx, c.conn, api.SyncServiceName, "GetStats", &api.Empty{})
}

func (c *Client) SyncConversation(ctx context.Context, conversationID string, force bool) (*api.Ack, error) {
	return api.Invoke[api.SyncConversationRequest, api.Ack](ctx, c.conn, api.SyncServiceName, "SyncConversation",
		&api.SyncConversationRequest{ConversationID: conversationID, Force: force})
}

func (c *Client) SyncAll(ctx context.Context) (*api.Ack, error) {
	return api.Invoke[api.Empty, api.Ack](ctx, c.conn, api.SyncServiceName, "SyncAll", &api.Empty{})
}

func (c *Client) Conflicts(ctx context.Context, conversationID string) ([]api.Conflict, error) {
	resp, err := api.Invoke[api.ListConflictsRequest, api.ConflictList](ctx, c.conn, api.SyncServiceName, "ListConflicts",
		&api.ListConflictsRequest{ConversationID: conversationID})
	if err != nil {
		return nil, err
	}
	return resp.Conflicts, nil
}

func (c *Client) ResolveConflict(ctx context.Context, messageID, resolution string) (*api.Ack, error) {
	return api.Invoke[api.ResolveConflictRequest, api.Ack](ctx, c.conn, api.SyncServiceName, "ResolveConflict",
		&api.ResolveConflictRequest{MessageID: messageID, Resolution: resolution})
}

func (c *Client) Conversations(ctx context.Context, limit, offset int) (*api.ConversationList, error) {
	return api.Invoke[api.ListConversationsRequest, api.ConversationList](ctx, c.conn, api.ConversationServiceName, "ListConversations",
		&api.ListConversationsRequest{Limit: limit, Offset: offset})
}

func (c *Client) Conversation(ctx context.Context, conversationID string) (*api.Conversation, error) {
	return api.Invoke[api.ConversationRequest, api.Conversation](ctx, c.conn, api.ConversationServiceName, "GetConversation",
		&api.ConversationRequest{ConversationID: conversationID})
}

func (c *Client) RemoveConversation(ctx context.Context, conversationID string) (*api.Ack, error) {
	return api.Invoke[api.ConversationRequest, api.Ack](ctx, c.conn, api.ConversationServiceName, "RemoveConversation",
		&api.ConversationRequest{ConversationID: conversationID})
}

func (c *Client) Messages(ctx context.Context, conversationID string, before time.Time, limit int) (*api.MessageList, error) {
	return api.Invoke[api.ListMessagesRequest, api.MessageList](ctx, c.conn, api.MessageServiceName, "ListMessages",
		&api.ListMessagesRequest{ConversationID: conversationID, Before: before, Limit: limit})
}

func (c *Client) Search(ctx context.Context, query, conversationID string, limit int) (*api.SearchResults, error) {
	return api.Invoke[api.SearchRequest, api.SearchResults](ctx, c.conn, api.MessageServiceName, "Search",
		&api.SearchRequest{Query: query, ConversationID: conversationID, Limit: limit})
}

func (c *Client) Send(ctx context.Context, conversationID, to, content string) (*api.Message, error) {
	return api.Invoke[api.SendMessageRequest, api.Message](ctx, c.conn, api.MessageServiceName, "SendMessage",
		&api.SendMessageRequest{ConversationID: conversationID, To: to, Content: content})
}

func (c *Client) Retry(ctx context.Context, messageID string) (*api.Message, error) {
	return api.Invoke[api.MessageRequest, api.Message](ctx, c.conn, api.MessageServiceName, "RetryMessage",
		&api.MessageRequest{MessageID: messageID})
}

func (c *Client) MarkRead(ctx context.Context, conversationID string, ids []string) (int, error) {
	resp, err := api.Invoke[api.MarkReadRequest, api.MarkReadResponse](ctx, c.conn, api.MessageServiceName, "MarkRead",
		&api.MarkReadRequest{ConversationID: conversationID, MessageIDs: ids})
	if err != nil {
		return 0, err
	}
	return resp.Marked, nil
}

func (c *Client) NotifyTyping(ctx context.Context, conversationID string, stopped bool) error {
	_, err := api.Invoke[api.NotifyTypingRequest, api.Ack](ctx, c.conn, api.MessageServiceName, "NotifyTyping",
		&api.NotifyTypingRequest{ConversationID: conversationID, Stopped: stopped})
	return err
}

func (c *Client) TypingUsers(ctx context.Context, conversationID string) ([]string, error) {
	resp, err := api.Invoke[api.ConversationRequest, api.TypingUsers](ctx, c.conn, api.MessageServiceName, "TypingUsers",
		&api.ConversationRequest{ConversationID: conversationID})
	if err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// Watch streams daemon events in the namespace to fn until ctx is done.
func (c *Client) Watch(ctx context.Context, namespace string, fn func(api.Event)) error {
	return api.WatchEvents(ctx, c.conn, namespace, fn)
}
