package model

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pomelo/internal/pkg/mongodb"
)

// MemoryEntry tenant-scoped keyword-indexed knowledge. Confidence only
// increases on positive feedback, capped at 1.0.
type MemoryEntry struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID   string             `bson:"tenant_id" json:"tenant_id"`
	Type       string             `bson:"type" json:"type"` // fact, preference, correction, ...
	Key        string             `bson:"key" json:"key"`
	Content    string             `bson:"content" json:"content"`
	Keywords   []string           `bson:"keywords" json:"keywords"`
	Confidence float64            `bson:"confidence" json:"confidence"`
	UsageCount int64              `bson:"usage_count" json:"usage_count"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time          `bson:"updated_at" json:"updated_at"`
}

// Collection implements mongodb.Model
func (*MemoryEntry) Collection() string { return "learning_memories" }

// EnsureIndexes implements mongodb.Model
func (m *MemoryEntry) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(m.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{bson.E{Key: "tenant_id", Value: 1}, bson.E{Key: "type", Value: 1}, bson.E{Key: "key", Value: 1}},
			Options: options.Index().SetName("uniq_tenant_type_key").SetUnique(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "tenant_id", Value: 1}, bson.E{Key: "keywords", Value: 1}},
			Options: options.Index().SetName("idx_tenant_keywords"),
		},
	}
	return mongodb.CreateIndexes(ctx, coll, indexes)
}

// FAQEntry previously successful question/answer pair, keyed by the hash of
// the normalized question. Helpfulness = times_helpful / times_asked,
// recomputed only when a positive signal lands.
type FAQEntry struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID     string             `bson:"tenant_id" json:"tenant_id"`
	QuestionHash string             `bson:"question_hash" json:"question_hash"`
	Question     string             `bson:"question" json:"question"`
	Answer       string             `bson:"answer" json:"answer"`
	Keywords     []string           `bson:"keywords" json:"keywords"`
	TimesAsked   int64              `bson:"times_asked" json:"times_asked"`
	TimesHelpful int64              `bson:"times_helpful" json:"times_helpful"`
	Helpfulness  float64            `bson:"helpfulness" json:"helpfulness"`
	LastAskedAt  time.Time          `bson:"last_asked_at" json:"last_asked_at"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

// Collection implements mongodb.Model
func (*FAQEntry) Collection() string { return "learning_faqs" }

// EnsureIndexes implements mongodb.Model
func (f *FAQEntry) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(f.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "tenant_id", Value: 1}, bson.E{Key: "question_hash", Value: 1}},
			Options: options.Index().SetName("uniq_tenant_hash").SetUnique(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "tenant_id", Value: 1}, bson.E{Key: "keywords", Value: 1}},
			Options: options.Index().SetName("idx_tenant_keywords"),
		},
	}
	return mongodb.CreateIndexes(ctx, coll, indexes)
}

// PatternEntry observed interaction pattern, deduplicated by
// (tenant, intent, exact trigger-keyword set)
type PatternEntry struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID        string             `bson:"tenant_id" json:"tenant_id"`
	Intent          string             `bson:"intent" json:"intent"`
	Keywords        []string           `bson:"keywords" json:"keywords"`
	KeywordsKey     string             `bson:"keywords_key" json:"keywords_key"` // sorted keywords joined, dedupe key
	TimesUsed       int64              `bson:"times_used" json:"times_used"`
	TimesSuccessful int64              `bson:"times_successful" json:"times_successful"`
	SuccessRate     float64            `bson:"success_rate" json:"success_rate"`
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updated_at"`
}

// KeywordsKey builds the dedupe key for a trigger-keyword set
func KeywordsKey(keywords []string) string {
	sorted := append([]string(nil), keywords...)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

// Collection implements mongodb.Model
func (*PatternEntry) Collection() string { return "learning_patterns" }

// EnsureIndexes implements mongodb.Model
func (p *PatternEntry) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(p.Collection())
	return mongodb.CreateIndex(ctx, coll, mongo.IndexModel{
		Keys: bson.D{
			bson.E{Key: "tenant_id", Value: 1},
			bson.E{Key: "intent", Value: 1},
			bson.E{Key: "keywords_key", Value: 1},
		},
		Options: options.Index().SetName("uniq_tenant_intent_keywords").SetUnique(true),
	})
}

// ConversationContext per-conversation accumulated state. Topics are merged
// as a capped union, sentiment is last-write-wins, counters are cumulative.
type ConversationContext struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID        string             `bson:"tenant_id" json:"tenant_id"`
	ConversationID  primitive.ObjectID `bson:"conversation_id" json:"conversation_id"`
	Topics          []string           `bson:"topics" json:"topics"`
	Sentiment       string             `bson:"sentiment,omitempty" json:"sentiment,omitempty"`
	MessageCount    int64              `bson:"message_count" json:"message_count"`
	AIResponseCount int64              `bson:"ai_response_count" json:"ai_response_count"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updated_at"`
}

// Collection implements mongodb.Model
func (*ConversationContext) Collection() string { return "learning_contexts" }

// EnsureIndexes implements mongodb.Model
func (c *ConversationContext) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(c.Collection())
	return mongodb.CreateIndex(ctx, coll, mongo.IndexModel{
		Keys:    bson.D{bson.E{Key: "tenant_id", Value: 1}, bson.E{Key: "conversation_id", Value: 1}},
		Options: options.Index().SetName("uniq_tenant_conversation").SetUnique(true),
	})
}
