package service

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/rs/zerolog/log"

	"pomelo/internal/model"
	"pomelo/internal/repository"
)

// webhook auth failures, mapped to 401/404 by the handler
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrBadWebhookToken = errors.New("invalid webhook token")
)

// sessionStore subset of SessionRepo used by the ingestor
type sessionStore interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	UpdateStatus(ctx context.Context, id string, from, to model.SessionStatus) (bool, error)
}

// identityResolver maps an inbound message event to its conversation
type identityResolver interface {
	Resolve(ctx context.Context, tenantID, sessionID string, evt *model.MessageEvent) (*model.Conversation, error)
}

// inboundStore message-store operations the ingestor drives
type inboundStore interface {
	CreateIncoming(ctx context.Context, tenantID string, conv *model.Conversation, evt *model.MessageEvent) (*model.Message, bool, error)
	UpdateStatus(ctx context.Context, tenantID, sessionID string, evt *model.StatusEvent) error
}

// autoResponder the orchestrator entry point
type autoResponder interface {
	Respond(ctx context.Context, tenantID string, conv *model.Conversation, evt *model.MessageEvent) (*RespondOutcome, error)
}

// WebhookService receives provider events and dispatches them by type to the
// session state machine, the resolver, the message store and the responder
type WebhookService struct {
	sessions  sessionStore
	resolver  identityResolver
	messages  inboundStore
	responder autoResponder
}

// NewWebhookService creates the webhook ingestor
func NewWebhookService(sessions sessionStore, resolver identityResolver, messages inboundStore, responder autoResponder) *WebhookService {
	return &WebhookService{
		sessions:  sessions,
		resolver:  resolver,
		messages:  messages,
		responder: responder,
	}
}

// Authorize loads the session addressed by a webhook call and verifies its
// token. Removed sessions still authorize: their events are acknowledged and
// discarded in Process, not rejected here, so the channel stops retrying.
func (s *WebhookService) Authorize(ctx context.Context, sessionID, token string) (*model.Session, error) {
	sess, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(sess.WebhookToken), []byte(token)) != 1 {
		return nil, ErrBadWebhookToken
	}
	return sess, nil
}

// Process handles one decoded webhook event for an authorized session
func (s *WebhookService) Process(ctx context.Context, sess *model.Session, evt *model.WebhookEvent) error {
	switch evt.Type {
	case model.EventQRCode, model.EventConnected, model.EventDisconnected, model.EventLoggedOut, model.EventFailed:
		return s.applyStatus(ctx, sess, evt.Type)

	case model.EventMessage:
		return s.handleMessage(ctx, sess, evt.Message)

	case model.EventMessageStatus:
		return s.messages.UpdateStatus(ctx, sess.TenantID, sess.ID, evt.Status)

	default:
		// unknown types are logged and dropped, never fatal
		log.Warn().Str("event", string(evt.Type)).Str("session_id", sess.ID).Msg("dropping unknown webhook event")
		return nil
	}
}

// applyStatus runs the session state machine for a connection event; an
// illegal transition is dropped with a log line
func (s *WebhookService) applyStatus(ctx context.Context, sess *model.Session, event model.EventType) error {
	to, ok := model.StatusForEvent(event)
	if !ok {
		return nil
	}
	if !model.CanTransition(sess.Status, to) {
		log.Warn().
			Str("session_id", sess.ID).
			Str("from", string(sess.Status)).
			Str("to", string(to)).
			Msg("dropping illegal session transition")
		return nil
	}

	changed, err := s.sessions.UpdateStatus(ctx, sess.ID, sess.Status, to)
	if err != nil {
		return err
	}
	if !changed {
		// a concurrent event won; the stored status moved under us
		log.Debug().Str("session_id", sess.ID).Str("to", string(to)).Msg("session status already advanced")
		return nil
	}
	sess.Status = to
	return nil
}

// handleMessage persists an inbound message and, when eligible, hands it to
// the responder. The responder's gates and provider failures never fail the
// webhook; the channel must not retry delivery over them.
func (s *WebhookService) handleMessage(ctx context.Context, sess *model.Session, evt *model.MessageEvent) error {
	// events for removed sessions are acknowledged and discarded so a stale
	// channel cannot resurrect them
	if sess.Removed() {
		log.Debug().Str("session_id", sess.ID).Msg("discarding message for removed session")
		return nil
	}
	if evt.IsProtocol() {
		log.Debug().Str("session_id", sess.ID).Str("type", evt.Type).Msg("filtering protocol message")
		return nil
	}

	conv, err := s.resolver.Resolve(ctx, sess.TenantID, sess.ID, evt)
	if err != nil {
		return err
	}

	_, created, err := s.messages.CreateIncoming(ctx, sess.TenantID, conv, evt)
	if err != nil {
		return err
	}
	if !created {
		// re-delivered provider id, already persisted
		return nil
	}

	if evt.FromMe || evt.IsHistory {
		return nil
	}

	outcome, err := s.responder.Respond(ctx, sess.TenantID, conv, evt)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID.Hex()).Msg("responder failed, message was persisted")
		return nil
	}
	if outcome.Replied {
		log.Info().
			Str("conversation_id", conv.ID.Hex()).
			Str("source", outcome.Source).
			Msg("AI reply sent")
	} else if outcome.SkipReason != "" {
		log.Debug().
			Str("conversation_id", conv.ID.Hex()).
			Str("reason", outcome.SkipReason).
			Msg("AI reply skipped")
	}
	return nil
}
