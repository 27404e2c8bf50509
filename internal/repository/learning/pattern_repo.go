package learning

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pomelo/internal/model"
)

// PatternRepo stores observed intent patterns with a maintained success rate
type PatternRepo struct {
	collection *mongo.Collection
}

// NewPatternRepo creates a pattern repository
func NewPatternRepo(db *mongo.Database) *PatternRepo {
	return &PatternRepo{
		collection: db.Collection((&model.PatternEntry{}).Collection()),
	}
}

// Observe upserts a pattern occurrence. Counters and the derived success rate
// are computed in a single pipeline update so two observers never race.
func (r *PatternRepo) Observe(ctx context.Context, tenantID, intent string, keywords []string, successful bool) error {
	successInc := 0
	if successful {
		successInc = 1
	}

	filter := bson.M{
		"tenant_id":    tenantID,
		"intent":       intent,
		"keywords_key": model.KeywordsKey(keywords),
	}
	pipeline := mongo.Pipeline{
		bson.D{bson.E{Key: "$set", Value: bson.D{
			bson.E{Key: "tenant_id", Value: tenantID},
			bson.E{Key: "intent", Value: intent},
			bson.E{Key: "keywords", Value: keywords},
			bson.E{Key: "keywords_key", Value: model.KeywordsKey(keywords)},
			bson.E{Key: "times_used", Value: bson.D{
				bson.E{Key: "$add", Value: bson.A{
					bson.D{bson.E{Key: "$ifNull", Value: bson.A{"$times_used", 0}}},
					1,
				}},
			}},
			bson.E{Key: "times_successful", Value: bson.D{
				bson.E{Key: "$add", Value: bson.A{
					bson.D{bson.E{Key: "$ifNull", Value: bson.A{"$times_successful", 0}}},
					successInc,
				}},
			}},
			bson.E{Key: "created_at", Value: bson.D{
				bson.E{Key: "$ifNull", Value: bson.A{"$created_at", "$$NOW"}},
			}},
			bson.E{Key: "updated_at", Value: "$$NOW"},
		}}},
		bson.D{bson.E{Key: "$set", Value: bson.D{
			bson.E{Key: "success_rate", Value: bson.D{
				bson.E{Key: "$cond", Value: bson.A{
					bson.D{bson.E{Key: "$gt", Value: bson.A{"$times_used", 0}}},
					bson.D{bson.E{Key: "$divide", Value: bson.A{"$times_successful", "$times_used"}}},
					0.0,
				}},
			}},
		}}},
	}
	_, err := r.collection.UpdateOne(ctx, filter, pipeline, options.Update().SetUpsert(true))
	return err
}

// FindByIntent returns a tenant's patterns for an intent, best success rate first
func (r *PatternRepo) FindByIntent(ctx context.Context, tenantID, intent string, limit int64) ([]*model.PatternEntry, error) {
	opts := options.Find().
		SetSort(bson.D{
			bson.E{Key: "success_rate", Value: -1},
			bson.E{Key: "times_used", Value: -1},
		}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.M{
		"tenant_id": tenantID,
		"intent":    intent,
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []*model.PatternEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
