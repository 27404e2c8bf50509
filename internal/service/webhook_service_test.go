package service

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"pomelo/internal/model"
	"pomelo/internal/repository"
)

type fakeSessionStore struct {
	sessions map[string]*model.Session
	updates  []string
}

func newFakeSessionStore(sessions ...*model.Session) *fakeSessionStore {
	f := &fakeSessionStore{sessions: map[string]*model.Session{}}
	for _, s := range sessions {
		f.sessions[s.ID] = s
	}
	return f
}

func (f *fakeSessionStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return sess, nil
}

func (f *fakeSessionStore) UpdateStatus(ctx context.Context, id string, from, to model.SessionStatus) (bool, error) {
	sess, ok := f.sessions[id]
	if !ok || sess.Status != from {
		return false, nil
	}
	sess.Status = to
	f.updates = append(f.updates, string(to))
	return true, nil
}

type fakeResolver struct {
	conv  *model.Conversation
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, tenantID, sessionID string, evt *model.MessageEvent) (*model.Conversation, error) {
	f.calls++
	return f.conv, nil
}

type fakeInboundStore struct {
	created    int
	duplicate  bool
	statusEvts []*model.StatusEvent
}

func (f *fakeInboundStore) CreateIncoming(ctx context.Context, tenantID string, conv *model.Conversation, evt *model.MessageEvent) (*model.Message, bool, error) {
	if f.duplicate {
		return &model.Message{}, false, nil
	}
	f.created++
	return &model.Message{}, true, nil
}

func (f *fakeInboundStore) UpdateStatus(ctx context.Context, tenantID, sessionID string, evt *model.StatusEvent) error {
	f.statusEvts = append(f.statusEvts, evt)
	return nil
}

type fakeResponder struct {
	calls   int
	outcome *RespondOutcome
	err     error
}

func (f *fakeResponder) Respond(ctx context.Context, tenantID string, conv *model.Conversation, evt *model.MessageEvent) (*RespondOutcome, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

func connectedSession() *model.Session {
	return &model.Session{
		ID:           "sess-1",
		TenantID:     "t1",
		Name:         "loja",
		Status:       model.SessionConnected,
		Lifecycle:    model.LifecycleActive,
		WebhookToken: "tok-abc",
	}
}

func TestWebhookAuthorize(t *testing.T) {
	Convey("Authorize", t, func() {
		ctx := context.Background()
		sess := connectedSession()
		svc := NewWebhookService(newFakeSessionStore(sess), &fakeResolver{}, &fakeInboundStore{}, &fakeResponder{})

		Convey("accepts the provisioned token", func() {
			got, err := svc.Authorize(ctx, "sess-1", "tok-abc")
			So(err, ShouldBeNil)
			So(got.ID, ShouldEqual, "sess-1")
		})

		Convey("rejects a wrong token", func() {
			_, err := svc.Authorize(ctx, "sess-1", "tok-forged")
			So(err, ShouldEqual, ErrBadWebhookToken)
		})

		Convey("rejects an unknown session", func() {
			_, err := svc.Authorize(ctx, "sess-404", "tok-abc")
			So(err, ShouldEqual, ErrSessionNotFound)
		})

		Convey("still authorizes a removed session so its events can be acked", func() {
			sess.Lifecycle = model.LifecycleRemoved
			got, err := svc.Authorize(ctx, "sess-1", "tok-abc")
			So(err, ShouldBeNil)
			So(got.Removed(), ShouldBeTrue)
		})
	})
}

func TestWebhookStatusEvents(t *testing.T) {
	Convey("connection status events", t, func() {
		ctx := context.Background()
		sess := connectedSession()
		store := newFakeSessionStore(sess)
		svc := NewWebhookService(store, &fakeResolver{}, &fakeInboundStore{}, &fakeResponder{})

		Convey("a legal transition advances the session", func() {
			err := svc.Process(ctx, sess, &model.WebhookEvent{Type: model.EventDisconnected})
			So(err, ShouldBeNil)
			So(sess.Status, ShouldEqual, model.SessionDisconnected)
			So(store.updates, ShouldResemble, []string{"disconnected"})
		})

		Convey("an illegal transition is dropped, not applied", func() {
			sess.Status = model.SessionLoggedOut
			err := svc.Process(ctx, sess, &model.WebhookEvent{Type: model.EventDisconnected})
			So(err, ShouldBeNil)
			So(sess.Status, ShouldEqual, model.SessionLoggedOut)
			So(store.updates, ShouldBeEmpty)
		})

		Convey("failed is reachable from anywhere", func() {
			sess.Status = model.SessionQRCode
			err := svc.Process(ctx, sess, &model.WebhookEvent{Type: model.EventFailed})
			So(err, ShouldBeNil)
			So(sess.Status, ShouldEqual, model.SessionFailed)
		})

		Convey("an unknown event type is dropped without error", func() {
			err := svc.Process(ctx, sess, &model.WebhookEvent{Type: model.EventType("battery_low")})
			So(err, ShouldBeNil)
		})
	})
}

func TestWebhookMessageEvents(t *testing.T) {
	Convey("message events", t, func() {
		ctx := context.Background()
		sess := connectedSession()
		resolver := &fakeResolver{conv: directConversation()}
		inbound := &fakeInboundStore{}
		responder := &fakeResponder{outcome: &RespondOutcome{Replied: true, Source: SourceProvider}}
		svc := NewWebhookService(newFakeSessionStore(sess), resolver, inbound, responder)

		evt := &model.WebhookEvent{Type: model.EventMessage, Message: &model.MessageEvent{
			From: "5511999887766@s.whatsapp.net", Type: "chat", Text: "oi", MessageID: "M1",
		}}

		Convey("an inbound message is resolved, stored and answered", func() {
			err := svc.Process(ctx, sess, evt)
			So(err, ShouldBeNil)
			So(resolver.calls, ShouldEqual, 1)
			So(inbound.created, ShouldEqual, 1)
			So(responder.calls, ShouldEqual, 1)
		})

		Convey("a removed session's messages are acked and discarded", func() {
			sess.Lifecycle = model.LifecycleRemoved
			err := svc.Process(ctx, sess, evt)
			So(err, ShouldBeNil)
			So(resolver.calls, ShouldEqual, 0)
			So(inbound.created, ShouldEqual, 0)
		})

		Convey("protocol artifacts are filtered before resolution", func() {
			evt.Message.Type = "protocol"
			err := svc.Process(ctx, sess, evt)
			So(err, ShouldBeNil)
			So(resolver.calls, ShouldEqual, 0)
		})

		Convey("a re-delivered message never reaches the responder twice", func() {
			inbound.duplicate = true
			err := svc.Process(ctx, sess, evt)
			So(err, ShouldBeNil)
			So(responder.calls, ShouldEqual, 0)
		})

		Convey("own and history messages are stored but not answered", func() {
			evt.Message.FromMe = true
			So(svc.Process(ctx, sess, evt), ShouldBeNil)

			evt.Message.FromMe = false
			evt.Message.IsHistory = true
			evt.Message.MessageID = "M2"
			So(svc.Process(ctx, sess, evt), ShouldBeNil)

			So(inbound.created, ShouldEqual, 2)
			So(responder.calls, ShouldEqual, 0)
		})

		Convey("a responder failure never fails the webhook", func() {
			responder.err = errors.New("redis down")
			err := svc.Process(ctx, sess, evt)
			So(err, ShouldBeNil)
			So(inbound.created, ShouldEqual, 1)
		})

		Convey("delivery receipts route to the message store", func() {
			receipt := &model.WebhookEvent{Type: model.EventMessageStatus, Status: &model.StatusEvent{MessageID: "M1", Status: "read"}}
			err := svc.Process(ctx, sess, receipt)
			So(err, ShouldBeNil)
			So(len(inbound.statusEvts), ShouldEqual, 1)
		})
	})
}
