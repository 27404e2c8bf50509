package learning

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pomelo/internal/model"
	"pomelo/internal/repository"
)

// FAQRepo stores learned question/answer pairs keyed by normalized question hash
type FAQRepo struct {
	collection *mongo.Collection
}

// NewFAQRepo creates an FAQ repository
func NewFAQRepo(db *mongo.Database) *FAQRepo {
	return &FAQRepo{
		collection: db.Collection((&model.FAQEntry{}).Collection()),
	}
}

// FindByHash looks up an exact-hash entry and counts the ask in the same round trip
func (r *FAQRepo) FindByHash(ctx context.Context, tenantID, questionHash string) (*model.FAQEntry, error) {
	update := bson.M{
		"$inc": bson.M{"times_asked": 1},
		"$set": bson.M{"last_asked_at": time.Now()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var entry model.FAQEntry
	err := r.collection.FindOneAndUpdate(ctx, bson.M{
		"tenant_id":     tenantID,
		"question_hash": questionHash,
	}, update, opts).Decode(&entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// FindByKeywords fuzzy lookup: OR-keyword match at or above minHelpfulness,
// best-scored first
func (r *FAQRepo) FindByKeywords(ctx context.Context, tenantID string, keywords []string, minHelpfulness float64, limit int64) ([]*model.FAQEntry, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	opts := options.Find().
		SetSort(bson.D{
			bson.E{Key: "helpfulness", Value: -1},
			bson.E{Key: "times_asked", Value: -1},
		}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.M{
		"tenant_id":   tenantID,
		"keywords":    bson.M{"$in": keywords},
		"helpfulness": bson.M{"$gte": minHelpfulness},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []*model.FAQEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Upsert saves a learned answer keyed by (tenant, question hash). A re-learned
// answer replaces the text but keeps the accumulated counters.
func (r *FAQRepo) Upsert(ctx context.Context, entry *model.FAQEntry) error {
	filter := bson.M{
		"tenant_id":     entry.TenantID,
		"question_hash": entry.QuestionHash,
	}
	update := bson.M{
		"$set": bson.M{
			"question":   entry.Question,
			"answer":     entry.Answer,
			"keywords":   entry.Keywords,
			"updated_at": time.Now(),
		},
		"$setOnInsert": bson.M{
			"times_asked":   int64(0),
			"times_helpful": int64(0),
			"helpfulness":   0.0,
			"created_at":    time.Now(),
		},
	}
	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// RecordHelpful counts a helpful use and recomputes helpfulness store-side so
// concurrent feedback cannot lose increments
func (r *FAQRepo) RecordHelpful(ctx context.Context, tenantID, questionHash string) error {
	pipeline := mongo.Pipeline{
		bson.D{bson.E{Key: "$set", Value: bson.D{
			bson.E{Key: "times_helpful", Value: bson.D{
				bson.E{Key: "$add", Value: bson.A{"$times_helpful", 1}},
			}},
			bson.E{Key: "updated_at", Value: "$$NOW"},
		}}},
		bson.D{bson.E{Key: "$set", Value: bson.D{
			bson.E{Key: "helpfulness", Value: bson.D{
				bson.E{Key: "$cond", Value: bson.A{
					bson.D{bson.E{Key: "$gt", Value: bson.A{"$times_asked", 0}}},
					bson.D{bson.E{Key: "$min", Value: bson.A{
						1.0,
						bson.D{bson.E{Key: "$divide", Value: bson.A{"$times_helpful", "$times_asked"}}},
					}}},
					0.0,
				}},
			}},
		}}},
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{
		"tenant_id":     tenantID,
		"question_hash": questionHash,
	}, pipeline)
	return err
}
