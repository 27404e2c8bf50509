package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pomelo/internal/model"
)

// UsageRepo tenant token counters. Boundary resets are conditional updates
// filtered on the stored boundary key, so exactly one of any number of
// concurrent callers performs the reset; usage recording is a store-level
// $inc, never read-modify-write.
type UsageRepo struct {
	collection *mongo.Collection
}

// NewUsageRepo creates a usage-counter repository
func NewUsageRepo(db *mongo.Database) *UsageRepo {
	return &UsageRepo{
		collection: db.Collection((&model.UsageCounter{}).Collection()),
	}
}

// Get loads the counter document, creating it on first use
func (r *UsageRepo) Get(ctx context.Context, tenantID, monthKey, dayKey string) (*model.UsageCounter, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	update := bson.M{
		"$setOnInsert": bson.M{
			"month":        monthKey,
			"day":          dayKey,
			"monthly_used": int64(0),
			"daily_used":   int64(0),
			"updated_at":   time.Now(),
		},
	}

	var counter model.UsageCounter
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": tenantID}, update, opts).Decode(&counter)
	if err != nil {
		return nil, err
	}
	return &counter, nil
}

// ResetMonthIfStale zeroes the monthly counter when the stored month key
// differs from monthKey. Idempotent under concurrency: the filter matches at
// most once per boundary crossing.
func (r *UsageRepo) ResetMonthIfStale(ctx context.Context, tenantID, monthKey string) (bool, error) {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": tenantID, "month": bson.M{"$ne": monthKey}},
		bson.M{"$set": bson.M{"month": monthKey, "monthly_used": int64(0), "updated_at": time.Now()}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// ResetDayIfStale zeroes the daily counter when the stored day key differs
// from dayKey
func (r *UsageRepo) ResetDayIfStale(ctx context.Context, tenantID, dayKey string) (bool, error) {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": tenantID, "day": bson.M{"$ne": dayKey}},
		bson.M{"$set": bson.M{"day": dayKey, "daily_used": int64(0), "updated_at": time.Now()}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// AddUsage atomically increments both counters after a successful provider
// call
func (r *UsageRepo) AddUsage(ctx context.Context, tenantID string, tokens int64) error {
	if tokens < 0 {
		return errors.New("usage increment must be non-negative")
	}
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": tenantID},
		bson.M{
			"$inc": bson.M{"monthly_used": tokens, "daily_used": tokens},
			"$set": bson.M{"updated_at": time.Now()},
		},
		options.Update().SetUpsert(true),
	)
	return err
}
