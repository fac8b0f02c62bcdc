package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/99minutos/portal-auth/internal/core/domain"
	"github.com/99minutos/portal-auth/internal/core/ports"
)

const collectionAuthEvents = "auth_events"

// AuditRepository implements ports.AuditRepository using MongoDB.
type AuditRepository struct {
	col *mongo.Collection
}

var _ ports.AuditRepository = (*AuditRepository)(nil)

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *mongo.Database) *AuditRepository {
	return &AuditRepository{col: db.Collection(collectionAuthEvents)}
}

type mongoAuthEvent struct {
	EventID    string    `bson:"event_id"`
	UserID     string    `bson:"user_id,omitempty"`
	Email      string    `bson:"email,omitempty"`
	Event      string    `bson:"event"`
	SessionID  string    `bson:"session_id,omitempty"`
	OccurredAt time.Time `bson:"occurred_at"`
	RecordedAt time.Time `bson:"recorded_at"`
}

// EnsureIndexes creates the indexes ListRecent relies on. Safe to call on
// every start.
func (r *AuditRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "event_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "occurred_at", Value: -1}}},
		{Keys: bson.D{{Key: "occurred_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("ensure audit indexes: %w", err)
	}
	return nil
}

// InsertEvent persists an auth transition to the auth_events collection.
func (r *AuditRepository) InsertEvent(ctx context.Context, event *domain.AuthAuditEvent) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	doc := mongoAuthEvent{
		EventID:    event.ID,
		UserID:     event.UserID,
		Email:      event.Email,
		Event:      string(event.Event),
		SessionID:  event.SessionID,
		OccurredAt: event.OccurredAt.UTC(),
		RecordedAt: time.Now().UTC(),
	}

	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("insert auth event: %w", err)
	}
	return nil
}

// ListRecent returns up to limit events, newest first.
func (r *AuditRepository) ListRecent(ctx context.Context, userID string, limit int) ([]*domain.AuthAuditEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	filter := bson.M{}
	if userID != "" {
		filter["user_id"] = userID
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list auth events: %w", err)
	}
	defer cur.Close(ctx)

	var docs []mongoAuthEvent
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode auth events: %w", err)
	}

	out := make([]*domain.AuthAuditEvent, len(docs))
	for i, d := range docs {
		out[i] = toDomainEvent(d)
	}
	return out, nil
}

func toDomainEvent(d mongoAuthEvent) *domain.AuthAuditEvent {
	return &domain.AuthAuditEvent{
		ID:         d.EventID,
		UserID:     d.UserID,
		Email:      d.Email,
		Event:      domain.AuthChangeEvent(d.Event),
		SessionID:  d.SessionID,
		OccurredAt: d.OccurredAt.UTC(),
	}
}
