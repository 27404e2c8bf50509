package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"pomelo/internal/channel"
	"pomelo/internal/model"
	"pomelo/internal/repository"
)

// messageStore subset of MessageRepo used by the message service
type messageStore interface {
	Insert(ctx context.Context, msg *model.Message) error
	FindByProviderID(ctx context.Context, tenantID, sessionID, providerID string) (*model.Message, error)
	UpdateStatus(ctx context.Context, tenantID, sessionID, providerID string, status model.MessageStatus) (bool, error)
	MarkFailed(ctx context.Context, id primitive.ObjectID) error
	SetProviderID(ctx context.Context, id primitive.ObjectID, providerID string) error
	ListInboundSince(ctx context.Context, conversationID primitive.ObjectID, since time.Time) ([]*model.Message, error)
	ListByConversation(ctx context.Context, tenantID string, conversationID primitive.ObjectID, limit, offset int64) ([]*model.Message, error)
}

// conversationToucher activity updates the message service applies alongside
// each persisted message
type conversationToucher interface {
	FindByID(ctx context.Context, tenantID string, id primitive.ObjectID) (*model.Conversation, error)
	TouchIncoming(ctx context.Context, id primitive.ObjectID, at time.Time) error
	TouchOutgoing(ctx context.Context, id primitive.ObjectID, at time.Time) error
}

// MessageService idempotent message persistence plus outbound delivery
type MessageService struct {
	messages      messageStore
	conversations conversationToucher
	sender        channel.Sender
}

// NewMessageService creates the message service
func NewMessageService(messages messageStore, conversations conversationToucher, sender channel.Sender) *MessageService {
	return &MessageService{
		messages:      messages,
		conversations: conversations,
		sender:        sender,
	}
}

// CreateIncoming persists one message event. A re-delivered provider id is a
// no-op signal (created=false), not an error. Events flagged fromMe are the
// session owner's own messages echoed back by the channel: they are stored
// as outgoing, carry no sender metadata and clear the unread counter instead
// of bumping it. History imports never touch the counter.
func (s *MessageService) CreateIncoming(ctx context.Context, tenantID string, conv *model.Conversation, evt *model.MessageEvent) (*model.Message, bool, error) {
	msg := &model.Message{
		TenantID:       tenantID,
		SessionID:      conv.SessionID,
		ConversationID: conv.ID,
		ProviderID:     evt.MessageID,
		Direction:      model.DirectionIn,
		Type:           evt.Type,
		Content:        evt.Content(),
		MediaRef:       evt.MediaURL,
		Status:         model.MessageDelivered,
		IsHistory:      evt.IsHistory,
		Timestamp:      eventTime(evt),
	}
	if evt.FromMe {
		msg.Direction = model.DirectionOut
		msg.Status = model.MessageSent
	} else {
		msg.SenderName = evt.SenderName
		msg.SenderPhone = evt.SenderPhone
	}
	if evt.Caption != "" && msg.Content == "" {
		msg.Content = evt.Caption
	}

	if err := s.messages.Insert(ctx, msg); err != nil {
		if repository.IsDuplicate(err) {
			existing, qerr := s.messages.FindByProviderID(ctx, tenantID, conv.SessionID, evt.MessageID)
			if qerr != nil {
				return nil, false, qerr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	if !evt.IsHistory {
		touch := s.conversations.TouchIncoming
		if evt.FromMe {
			touch = s.conversations.TouchOutgoing
		}
		if err := touch(ctx, conv.ID, msg.Timestamp); err != nil {
			log.Error().Err(err).Str("conversation_id", conv.ID.Hex()).Msg("failed to touch conversation activity")
		}
	}
	return msg, true, nil
}

// CreateOutgoing persists a locally-originated message (user-composed or
// AI-composed). The provider id stays empty until the send is acknowledged.
func (s *MessageService) CreateOutgoing(ctx context.Context, tenantID string, conv *model.Conversation, msgType, content string) (*model.Message, error) {
	now := time.Now()
	msg := &model.Message{
		TenantID:       tenantID,
		SessionID:      conv.SessionID,
		ConversationID: conv.ID,
		Direction:      model.DirectionOut,
		Type:           msgType,
		Content:        content,
		Status:         model.MessagePending,
		Timestamp:      now,
	}
	if err := s.messages.Insert(ctx, msg); err != nil {
		return nil, err
	}

	if err := s.conversations.TouchOutgoing(ctx, conv.ID, now); err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID.Hex()).Msg("failed to touch conversation activity")
	}
	return msg, nil
}

// SendText delivers text to a conversation and persists the outgoing record,
// correlating it with the provider's message id on ack
func (s *MessageService) SendText(ctx context.Context, tenantID string, conv *model.Conversation, text string) (*model.Message, error) {
	to, err := recipientOf(conv)
	if err != nil {
		return nil, err
	}

	msg, err := s.CreateOutgoing(ctx, tenantID, conv, "chat", text)
	if err != nil {
		return nil, err
	}

	providerID, err := s.sender.SendText(ctx, conv.SessionID, to, text)
	if err != nil {
		if serr := s.messages.MarkFailed(ctx, msg.ID); serr != nil {
			log.Error().Err(serr).Msg("failed to mark outgoing message failed")
		}
		return nil, err
	}

	if err := s.messages.SetProviderID(ctx, msg.ID, providerID); err != nil {
		log.Error().Err(err).Str("provider_id", providerID).Msg("failed to correlate outgoing message")
	}
	msg.ProviderID = providerID
	msg.Status = model.MessageSent
	return msg, nil
}

// SendMedia delivers a media payload to a conversation
func (s *MessageService) SendMedia(ctx context.Context, tenantID string, conv *model.Conversation, req *channel.MediaRequest) (*model.Message, error) {
	to, err := recipientOf(conv)
	if err != nil {
		return nil, err
	}

	msg, err := s.CreateOutgoing(ctx, tenantID, conv, req.Type, req.Caption)
	if err != nil {
		return nil, err
	}
	msg.MediaRef = req.Filename

	req.SessionID = conv.SessionID
	req.To = to
	providerID, err := s.sender.SendMedia(ctx, req)
	if err != nil {
		if serr := s.messages.MarkFailed(ctx, msg.ID); serr != nil {
			log.Error().Err(serr).Msg("failed to mark outgoing message failed")
		}
		return nil, err
	}

	if err := s.messages.SetProviderID(ctx, msg.ID, providerID); err != nil {
		log.Error().Err(err).Str("provider_id", providerID).Msg("failed to correlate outgoing message")
	}
	msg.ProviderID = providerID
	msg.Status = model.MessageSent
	return msg, nil
}

// UpdateStatus applies a delivery receipt; unknown provider ids and replayed
// receipts are no-ops
func (s *MessageService) UpdateStatus(ctx context.Context, tenantID, sessionID string, evt *model.StatusEvent) error {
	status, ok := model.ParseMessageStatus(evt.Status)
	if !ok {
		log.Debug().Str("status", evt.Status).Msg("ignoring unknown message status")
		return nil
	}

	changed, err := s.messages.UpdateStatus(ctx, tenantID, sessionID, evt.MessageID, status)
	if err != nil {
		return err
	}
	if !changed {
		log.Debug().
			Str("message_id", evt.MessageID).
			Str("status", string(status)).
			Msg("status update matched no message, ignoring")
	}
	return nil
}

// ListMessages returns a page of a conversation's history
func (s *MessageService) ListMessages(ctx context.Context, tenantID string, conversationID primitive.ObjectID, limit, offset int64) ([]*model.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.messages.ListByConversation(ctx, tenantID, conversationID, limit, offset)
}

// recipientOf picks the send target. An ephemeral-only identity with no
// usable phone number cannot be addressed; that fails explicitly rather than
// silently dropping the message.
func recipientOf(conv *model.Conversation) (string, error) {
	if !model.IsEphemeralID(conv.ChatID) {
		return conv.ChatID, nil
	}
	if conv.Phone != "" {
		return conv.Phone, nil
	}
	return "", channel.ErrUnresolvableRecipient
}
