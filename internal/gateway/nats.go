package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/groupguard/mod-engine/internal/messaging"
)

// sendCommand is the request payload for gateway.send / gateway.send_photo.
type sendCommand struct {
	ChatID  int64  `json:"chat_id"`
	Text    string `json:"text,omitempty"`
	Image   string `json:"image,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// sendReply is the transport's reply to a send command.
type sendReply struct {
	MessageID int64  `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// memberCommand is the payload for delete/ban/kick commands.
type memberCommand struct {
	ChatID    int64 `json:"chat_id"`
	UserID    int64 `json:"user_id,omitempty"`
	MessageID int64 `json:"message_id,omitempty"`
}

// NATSGateway implements Gateway over the NATS command channel consumed by
// the chat transport service. Sends use request/reply because the engine
// needs the resulting message ID for later cleanup; delete, ban, and kick
// are fire-and-forget publishes.
type NATSGateway struct {
	client  *messaging.NATSClient
	timeout time.Duration
}

// NewNATSGateway creates a gateway speaking over the given NATS client.
func NewNATSGateway(client *messaging.NATSClient, requestTimeout time.Duration) *NATSGateway {
	return &NATSGateway{client: client, timeout: requestTimeout}
}

func (g *NATSGateway) request(subject string, cmd sendCommand) (int64, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return 0, fmt.Errorf("gateway: marshal %s: %w", subject, err)
	}

	raw, err := g.client.Request(subject, data, g.timeout)
	if err != nil {
		return 0, err
	}

	var reply sendReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return 0, fmt.Errorf("gateway: decode %s reply: %w", subject, err)
	}
	if reply.Error != "" {
		return 0, fmt.Errorf("gateway: %s: %s", subject, reply.Error)
	}
	return reply.MessageID, nil
}

func (g *NATSGateway) publish(subject string, cmd memberCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("gateway: marshal %s: %w", subject, err)
	}
	return g.client.Publish(subject, data)
}

// SendMessage posts text to the chat and returns the new message ID.
func (g *NATSGateway) SendMessage(_ context.Context, chatID int64, text string) (int64, error) {
	return g.request(messaging.SubjectGatewaySend, sendCommand{ChatID: chatID, Text: text})
}

// SendPhoto posts an image asset with a caption and returns the new message ID.
func (g *NATSGateway) SendPhoto(_ context.Context, chatID int64, imageAsset string, caption string) (int64, error) {
	return g.request(messaging.SubjectGatewaySendPhoto, sendCommand{ChatID: chatID, Image: imageAsset, Caption: caption})
}

// DeleteMessage removes a message from the chat.
func (g *NATSGateway) DeleteMessage(_ context.Context, chatID int64, messageID int64) error {
	return g.publish(messaging.SubjectGatewayDelete, memberCommand{ChatID: chatID, MessageID: messageID})
}

// BanMember blacklists a user in the chat.
func (g *NATSGateway) BanMember(_ context.Context, chatID int64, userID int64) error {
	return g.publish(messaging.SubjectGatewayBan, memberCommand{ChatID: chatID, UserID: userID})
}

// KickMember removes a user from the chat.
func (g *NATSGateway) KickMember(_ context.Context, chatID int64, userID int64) error {
	return g.publish(messaging.SubjectGatewayKick, memberCommand{ChatID: chatID, UserID: userID})
}
