package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"pomelo/internal/model"
	"pomelo/internal/pkg/textnorm"
	"pomelo/internal/repository"
)

// conversationStore subset of ConversationRepo used by the resolver
type conversationStore interface {
	Insert(ctx context.Context, conv *model.Conversation) error
	FindByID(ctx context.Context, tenantID string, id primitive.ObjectID) (*model.Conversation, error)
	FindByChatID(ctx context.Context, tenantID, sessionID, chatID string) (*model.Conversation, error)
	FindByLid(ctx context.Context, tenantID, sessionID, lidJID string) (*model.Conversation, error)
	FindByPhone(ctx context.Context, tenantID, sessionID, phone string) (*model.Conversation, error)
	Restore(ctx context.Context, id primitive.ObjectID) error
	MigrateChatID(ctx context.Context, id primitive.ObjectID, stableChatID, lidJID, phone string) error
}

// ResolverService finds or creates the conversation an inbound event belongs
// to, resolving ephemeral contact identifiers against stable ones
type ResolverService struct {
	conversations conversationStore
}

// NewResolverService creates the identity resolver
func NewResolverService(conversations conversationStore) *ResolverService {
	return &ResolverService{conversations: conversations}
}

// Resolve maps one inbound message event to its conversation.
//
// Groups always key on the group's channel identifier; for direct chats the
// lookup ladder is: exact chat id, ephemeral-id cross-reference, migration of
// an ephemeral-keyed row onto its resolved stable id, plausible-phone match,
// and finally creation. A removed row found along the way is restored rather
// than duplicated, and a lost insert race is recovered by re-query.
func (s *ResolverService) Resolve(ctx context.Context, tenantID, sessionID string, evt *model.MessageEvent) (*model.Conversation, error) {
	if evt.IsGroup || model.IsGroupID(evt.From) {
		return s.resolveGroup(ctx, tenantID, sessionID, evt)
	}

	phone := eventPhone(evt)

	// exact match on the current identifier, any lifecycle
	conv, err := s.conversations.FindByChatID(ctx, tenantID, sessionID, evt.From)
	if err != nil && err != repository.ErrNotFound {
		return nil, err
	}
	if conv != nil {
		return s.reuse(ctx, conv)
	}

	// the sender is still anonymized; a prior message may have tagged a
	// conversation with this ephemeral id
	if model.IsEphemeralID(evt.From) {
		conv, err = s.conversations.FindByLid(ctx, tenantID, sessionID, evt.From)
		if err != nil && err != repository.ErrNotFound {
			return nil, err
		}
		if conv != nil {
			return conv, nil
		}
	}

	// the channel resolved an earlier ephemeral id to this stable one:
	// migrate the old row instead of opening a second thread
	if evt.OriginalLidJID != "" && !model.IsEphemeralID(evt.From) {
		conv, err = s.conversations.FindByChatID(ctx, tenantID, sessionID, evt.OriginalLidJID)
		if err != nil && err != repository.ErrNotFound {
			return nil, err
		}
		if conv != nil {
			if err := s.conversations.MigrateChatID(ctx, conv.ID, evt.From, evt.OriginalLidJID, phone); err != nil {
				return nil, err
			}
			log.Info().
				Str("conversation_id", conv.ID.Hex()).
				Str("lid", evt.OriginalLidJID).
				Str("chat_id", evt.From).
				Msg("migrated conversation from ephemeral to stable identifier")
			conv.ChatID = evt.From
			conv.LidJID = evt.OriginalLidJID
			if phone != "" {
				conv.Phone = phone
			}
			return s.reuse(ctx, conv)
		}
	}

	// phone fallback, only when the number looks real
	if phone != "" {
		conv, err = s.conversations.FindByPhone(ctx, tenantID, sessionID, phone)
		if err != nil && err != repository.ErrNotFound {
			return nil, err
		}
		if conv != nil {
			return conv, nil
		}
	}

	return s.create(ctx, tenantID, sessionID, evt, phone)
}

// resolveGroup groups are never subject to ephemeral-id resolution; the
// sender metadata travels on the messages, not the conversation
func (s *ResolverService) resolveGroup(ctx context.Context, tenantID, sessionID string, evt *model.MessageEvent) (*model.Conversation, error) {
	conv, err := s.conversations.FindByChatID(ctx, tenantID, sessionID, evt.From)
	if err != nil && err != repository.ErrNotFound {
		return nil, err
	}
	if conv != nil {
		return s.reuse(ctx, conv)
	}

	conv = &model.Conversation{
		TenantID:  tenantID,
		SessionID: sessionID,
		ChatID:    evt.From,
		Name:      evt.SenderName,
		IsGroup:   true,
	}
	return s.insert(ctx, tenantID, sessionID, conv)
}

// reuse restores a removed row before handing it back; restoration takes
// precedence over creating a duplicate
func (s *ResolverService) reuse(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	if conv.Removed() {
		if err := s.conversations.Restore(ctx, conv.ID); err != nil {
			return nil, err
		}
		conv.Lifecycle = model.LifecycleActive
	}
	return conv, nil
}

func (s *ResolverService) create(ctx context.Context, tenantID, sessionID string, evt *model.MessageEvent, phone string) (*model.Conversation, error) {
	conv := &model.Conversation{
		TenantID:  tenantID,
		SessionID: sessionID,
		ChatID:    evt.From,
		Phone:     phone,
		Name:      evt.SenderName,
	}
	if model.IsEphemeralID(evt.From) {
		conv.LidJID = evt.From
	}
	return s.insert(ctx, tenantID, sessionID, conv)
}

// insert attempts creation and recovers from a lost first-contact race by
// treating the now-visible row as authoritative
func (s *ResolverService) insert(ctx context.Context, tenantID, sessionID string, conv *model.Conversation) (*model.Conversation, error) {
	err := s.conversations.Insert(ctx, conv)
	if err == nil {
		return conv, nil
	}
	if !repository.IsDuplicate(err) {
		return nil, err
	}

	existing, qerr := s.conversations.FindByChatID(ctx, tenantID, sessionID, conv.ChatID)
	if qerr != nil {
		return nil, qerr
	}
	return existing, nil
}

// eventPhone extracts a usable phone number from the event: the explicit
// sender phone when present, else the digits of a stable chat identifier
func eventPhone(evt *model.MessageEvent) string {
	if digits := textnorm.DigitsOnly(evt.SenderPhone); textnorm.PlausiblePhone(digits) {
		return digits
	}
	if model.IsEphemeralID(evt.From) || model.IsGroupID(evt.From) {
		return ""
	}
	prefix, _, _ := strings.Cut(evt.From, "@")
	if digits := textnorm.DigitsOnly(prefix); textnorm.PlausiblePhone(digits) {
		return digits
	}
	return ""
}

// eventTime converts the event's unix timestamp, defaulting to now when the
// channel omitted it
func eventTime(evt *model.MessageEvent) time.Time {
	if evt.Timestamp > 0 {
		return time.Unix(evt.Timestamp, 0)
	}
	return time.Now()
}
