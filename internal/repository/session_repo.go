package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"pomelo/internal/model"
)

// ErrNotFound returned by repositories when no document matches
var ErrNotFound = errors.New("repository: not found")

// SessionRepo session store
type SessionRepo struct {
	collection *mongo.Collection
}

// NewSessionRepo creates a session repository
func NewSessionRepo(db *mongo.Database) *SessionRepo {
	return &SessionRepo{
		collection: db.Collection((&model.Session{}).Collection()),
	}
}

// Create inserts a session
func (r *SessionRepo) Create(ctx context.Context, sess *model.Session) error {
	sess.CreatedAt = time.Now()
	sess.UpdatedAt = sess.CreatedAt
	_, err := r.collection.InsertOne(ctx, sess)
	return err
}

// FindByID loads a session regardless of lifecycle; the caller decides how
// removed sessions are treated
func (r *SessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&sess)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// UpdateStatus moves a session to a new status. The filter repeats the
// expected current status so concurrent connection events cannot interleave
// an illegal transition.
func (r *SessionRepo) UpdateStatus(ctx context.Context, id string, from, to model.SessionStatus) (bool, error) {
	update := bson.M{"$set": bson.M{"status": to, "updated_at": time.Now()}}
	if to == model.SessionConnected {
		update["$set"].(bson.M)["connected_at"] = time.Now()
	}

	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id, "status": from}, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// SoftRemove marks a session removed; message events for it are acknowledged
// and discarded from then on
func (r *SessionRepo) SoftRemove(ctx context.Context, tenantID, id string) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "tenant_id": tenantID, "lifecycle": model.LifecycleActive},
		bson.M{"$set": bson.M{"lifecycle": model.LifecycleRemoved, "updated_at": time.Now()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByTenant lists active sessions for a tenant
func (r *SessionRepo) ListByTenant(ctx context.Context, tenantID string) ([]*model.Session, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"tenant_id": tenantID, "lifecycle": model.LifecycleActive})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []*model.Session
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}
