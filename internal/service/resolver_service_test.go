package service

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"pomelo/internal/model"
	"pomelo/internal/repository"
)

// fakeConversationStore in-memory conversationStore keyed the way the real
// repo indexes are
type fakeConversationStore struct {
	convs     []*model.Conversation
	insertErr error
	onInsert  func() // runs before insertErr is returned, simulates a racing writer
	restored  []primitive.ObjectID
	migrated  int
}

func (f *fakeConversationStore) add(conv *model.Conversation) *model.Conversation {
	if conv.ID.IsZero() {
		conv.ID = primitive.NewObjectID()
	}
	if conv.Lifecycle == "" {
		conv.Lifecycle = model.LifecycleActive
	}
	f.convs = append(f.convs, conv)
	return conv
}

func (f *fakeConversationStore) Insert(ctx context.Context, conv *model.Conversation) error {
	if f.insertErr != nil {
		err := f.insertErr
		f.insertErr = nil
		if f.onInsert != nil {
			f.onInsert()
		}
		return err
	}
	f.add(conv)
	return nil
}

func (f *fakeConversationStore) FindByID(ctx context.Context, tenantID string, id primitive.ObjectID) (*model.Conversation, error) {
	for _, c := range f.convs {
		if c.TenantID == tenantID && c.ID == id {
			return c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeConversationStore) FindByChatID(ctx context.Context, tenantID, sessionID, chatID string) (*model.Conversation, error) {
	for _, c := range f.convs {
		if c.TenantID == tenantID && c.SessionID == sessionID && c.ChatID == chatID {
			return c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeConversationStore) FindByLid(ctx context.Context, tenantID, sessionID, lidJID string) (*model.Conversation, error) {
	for _, c := range f.convs {
		if c.TenantID == tenantID && c.SessionID == sessionID && c.LidJID == lidJID && c.Lifecycle == model.LifecycleActive {
			return c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeConversationStore) FindByPhone(ctx context.Context, tenantID, sessionID, phone string) (*model.Conversation, error) {
	for _, c := range f.convs {
		if c.TenantID == tenantID && c.SessionID == sessionID && c.Phone == phone && c.Lifecycle == model.LifecycleActive {
			return c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeConversationStore) Restore(ctx context.Context, id primitive.ObjectID) error {
	f.restored = append(f.restored, id)
	for _, c := range f.convs {
		if c.ID == id {
			c.Lifecycle = model.LifecycleActive
		}
	}
	return nil
}

func (f *fakeConversationStore) MigrateChatID(ctx context.Context, id primitive.ObjectID, stableChatID, lidJID, phone string) error {
	f.migrated++
	for _, c := range f.convs {
		if c.ID == id {
			c.ChatID = stableChatID
			c.LidJID = lidJID
			if phone != "" {
				c.Phone = phone
			}
		}
	}
	return nil
}

func TestResolverResolve(t *testing.T) {
	Convey("Resolve", t, func() {
		ctx := context.Background()
		store := &fakeConversationStore{}
		r := NewResolverService(store)

		Convey("first contact from a stable identifier creates a conversation with its phone", func() {
			evt := &model.MessageEvent{From: "5511999887766@s.whatsapp.net", SenderName: "Maria"}

			conv, err := r.Resolve(ctx, "t1", "s1", evt)
			So(err, ShouldBeNil)
			So(conv.ChatID, ShouldEqual, "5511999887766@s.whatsapp.net")
			So(conv.Phone, ShouldEqual, "5511999887766")
			So(conv.LidJID, ShouldBeEmpty)
			So(conv.Name, ShouldEqual, "Maria")
			So(len(store.convs), ShouldEqual, 1)

			Convey("and a second message reuses it", func() {
				again, err := r.Resolve(ctx, "t1", "s1", evt)
				So(err, ShouldBeNil)
				So(again.ID, ShouldEqual, conv.ID)
				So(len(store.convs), ShouldEqual, 1)
			})
		})

		Convey("first contact from an ephemeral identifier records it as the lid cross-reference", func() {
			evt := &model.MessageEvent{From: "98765432101234@lid", IsLid: true}

			conv, err := r.Resolve(ctx, "t1", "s1", evt)
			So(err, ShouldBeNil)
			So(conv.ChatID, ShouldEqual, "98765432101234@lid")
			So(conv.LidJID, ShouldEqual, "98765432101234@lid")
			So(conv.Phone, ShouldBeEmpty)
		})

		Convey("an ephemeral sender matches a conversation tagged with that lid", func() {
			tagged := store.add(&model.Conversation{
				TenantID: "t1", SessionID: "s1",
				ChatID: "5511999887766@s.whatsapp.net",
				LidJID: "98765432101234@lid",
			})
			evt := &model.MessageEvent{From: "98765432101234@lid", IsLid: true}

			conv, err := r.Resolve(ctx, "t1", "s1", evt)
			So(err, ShouldBeNil)
			So(conv.ID, ShouldEqual, tagged.ID)
			So(len(store.convs), ShouldEqual, 1)
		})

		Convey("a resolved identity migrates the ephemeral-keyed conversation", func() {
			old := store.add(&model.Conversation{
				TenantID: "t1", SessionID: "s1",
				ChatID: "98765432101234@lid",
				LidJID: "98765432101234@lid",
			})
			evt := &model.MessageEvent{
				From:           "5511999887766@s.whatsapp.net",
				OriginalLidJID: "98765432101234@lid",
			}

			conv, err := r.Resolve(ctx, "t1", "s1", evt)
			So(err, ShouldBeNil)
			So(conv.ID, ShouldEqual, old.ID)
			So(conv.ChatID, ShouldEqual, "5511999887766@s.whatsapp.net")
			So(conv.LidJID, ShouldEqual, "98765432101234@lid")
			So(conv.Phone, ShouldEqual, "5511999887766")
			So(store.migrated, ShouldEqual, 1)
			So(len(store.convs), ShouldEqual, 1)
		})

		Convey("a changed chat id still lands on the conversation with the same phone", func() {
			existing := store.add(&model.Conversation{
				TenantID: "t1", SessionID: "s1",
				ChatID: "5511999887766@c.us",
				Phone:  "5511999887766",
			})
			evt := &model.MessageEvent{From: "5511999887766@s.whatsapp.net"}

			conv, err := r.Resolve(ctx, "t1", "s1", evt)
			So(err, ShouldBeNil)
			So(conv.ID, ShouldEqual, existing.ID)
		})

		Convey("a removed conversation is restored, not duplicated", func() {
			removed := store.add(&model.Conversation{
				TenantID: "t1", SessionID: "s1",
				ChatID:    "5511999887766@s.whatsapp.net",
				Lifecycle: model.LifecycleRemoved,
			})
			evt := &model.MessageEvent{From: "5511999887766@s.whatsapp.net"}

			conv, err := r.Resolve(ctx, "t1", "s1", evt)
			So(err, ShouldBeNil)
			So(conv.ID, ShouldEqual, removed.ID)
			So(conv.Lifecycle, ShouldEqual, model.LifecycleActive)
			So(store.restored, ShouldContain, removed.ID)
			So(len(store.convs), ShouldEqual, 1)
		})

		Convey("a lost insert race re-queries the winning row", func() {
			var winner *model.Conversation
			store.insertErr = mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000}}}
			store.onInsert = func() {
				winner = store.add(&model.Conversation{
					TenantID: "t1", SessionID: "s1",
					ChatID: "5511999887766@s.whatsapp.net",
				})
			}
			evt := &model.MessageEvent{From: "5511999887766@s.whatsapp.net"}

			conv, err := r.Resolve(ctx, "t1", "s1", evt)
			So(err, ShouldBeNil)
			So(conv.ID, ShouldEqual, winner.ID)
			So(len(store.convs), ShouldEqual, 1)
		})

		Convey("group chats key on the group identifier", func() {
			evt := &model.MessageEvent{
				From:        "120363040404040404@g.us",
				IsGroup:     true,
				SenderName:  "Equipe Vendas",
				SenderPhone: "+55 11 99988-7766",
			}

			conv, err := r.Resolve(ctx, "t1", "s1", evt)
			So(err, ShouldBeNil)
			So(conv.IsGroup, ShouldBeTrue)
			So(conv.ChatID, ShouldEqual, "120363040404040404@g.us")
			So(conv.Phone, ShouldBeEmpty)

			Convey("and messages from other participants reuse the same thread", func() {
				evt2 := &model.MessageEvent{From: "120363040404040404@g.us", IsGroup: true, SenderName: "Outro"}
				again, err := r.Resolve(ctx, "t1", "s1", evt2)
				So(err, ShouldBeNil)
				So(again.ID, ShouldEqual, conv.ID)
			})
		})

		Convey("conversations are isolated per session", func() {
			other := store.add(&model.Conversation{
				TenantID: "t1", SessionID: "s1",
				ChatID: "5511999887766@s.whatsapp.net",
				Phone:  "5511999887766",
			})
			evt := &model.MessageEvent{From: "5511999887766@s.whatsapp.net"}

			conv, err := r.Resolve(ctx, "t1", "s2", evt)
			So(err, ShouldBeNil)
			So(conv.ID, ShouldNotEqual, other.ID)
			So(len(store.convs), ShouldEqual, 2)
		})
	})
}

func TestEventPhone(t *testing.T) {
	Convey("eventPhone", t, func() {
		Convey("prefers the explicit sender phone", func() {
			evt := &model.MessageEvent{From: "98765432101234@lid", SenderPhone: "+55 (11) 99988-7766"}
			So(eventPhone(evt), ShouldEqual, "5511999887766")
		})

		Convey("falls back to the stable chat id digits", func() {
			evt := &model.MessageEvent{From: "5511999887766@s.whatsapp.net"}
			So(eventPhone(evt), ShouldEqual, "5511999887766")
		})

		Convey("never derives a phone from ephemeral or group identifiers", func() {
			So(eventPhone(&model.MessageEvent{From: "98765432101234@lid"}), ShouldBeEmpty)
			So(eventPhone(&model.MessageEvent{From: "120363040404040404@g.us"}), ShouldBeEmpty)
		})

		Convey("rejects digit runs that cannot be a phone", func() {
			So(eventPhone(&model.MessageEvent{From: "123@s.whatsapp.net"}), ShouldBeEmpty)
		})
	})
}
