package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/relayhub/relay-service/internal/domain/event"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const latestCacheSize = 4096

// eventRecord is the single events table. The variant payload travels as a
// JSON column; the kind tag says which shape it holds. Schema management is
// out of scope here, the table is expected to exist.
type eventRecord struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Kind       string `gorm:"index"`
	OccurredAt time.Time
	ServerID   string
	ChannelID  string
	UserID     string
	ExternalID string `gorm:"index"` // versioning key, empty for unversioned kinds
	Payload    []byte `gorm:"type:jsonb"`
	Raw        []byte `gorm:"type:jsonb"`
	CreatedAt  time.Time
}

func (eventRecord) TableName() string { return "events" }

// PostgresStore persists normalized events through gorm. FindLatestVersion
// answers from an LRU cache when it can; a miss falls through to a
// max-id-per-external-id query.
type PostgresStore struct {
	db     *gorm.DB
	cache  *lru.Cache[string, *event.Event]
	logger *slog.Logger
}

// Connect opens and pings the database.
func Connect(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("storage: postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("storage: resolve sql handle: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}
	return db, nil
}

func NewPostgresStore(db *gorm.DB, logger *slog.Logger) (*PostgresStore, error) {
	cache, err := lru.New[string, *event.Event](latestCacheSize)
	if err != nil {
		return nil, fmt.Errorf("storage: latest-version cache: %w", err)
	}
	return &PostgresStore{db: db, cache: cache, logger: logger}, nil
}

func (s *PostgresStore) Save(ctx context.Context, ev *event.Event) (int64, error) {
	payload, err := json.Marshal(ev.Payload())
	if err != nil {
		return 0, fmt.Errorf("storage: marshal %s payload: %w", ev.Kind, err)
	}

	row := eventRecord{
		Kind:       string(ev.Kind),
		OccurredAt: ev.OccurredAt,
		ServerID:   ev.ServerID,
		ChannelID:  ev.ChannelID,
		UserID:     ev.UserID,
		ExternalID: externalID(ev),
		Payload:    payload,
		Raw:        []byte(ev.Raw),
		CreatedAt:  time.Now(),
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return 0, fmt.Errorf("storage: insert event (sqlstate %s): %w", pgErr.Code, err)
		}
		return 0, fmt.Errorf("storage: insert event: %w", err)
	}

	ev.ID = row.ID
	ev.CreatedAt = row.CreatedAt
	if row.ExternalID != "" {
		stored := *ev
		s.cache.Add(row.ExternalID, &stored)
	}
	return row.ID, nil
}

func (s *PostgresStore) FindLatestVersion(ctx context.Context, externalID string) (*event.Event, error) {
	if cached, ok := s.cache.Get(externalID); ok {
		copied := *cached
		return &copied, nil
	}

	var row eventRecord
	err := s.db.WithContext(ctx).
		Where("external_id = ?", externalID).
		Order("id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: latest version of %s: %w", externalID, err)
	}

	ev, err := recordToEvent(&row)
	if err != nil {
		return nil, err
	}
	s.cache.Add(externalID, ev)
	copied := *ev
	return &copied, nil
}

func recordToEvent(row *eventRecord) (*event.Event, error) {
	ev := &event.Event{
		ID:         row.ID,
		Kind:       event.Kind(row.Kind),
		OccurredAt: row.OccurredAt,
		ServerID:   row.ServerID,
		ChannelID:  row.ChannelID,
		UserID:     row.UserID,
		Raw:        json.RawMessage(row.Raw),
		CreatedAt:  row.CreatedAt,
	}

	var err error
	switch ev.Kind {
	case event.MessageCreate, event.MessageUpdate, event.MessageDelete:
		ev.Message, err = unmarshalPayload[event.MessagePayload](row.Payload)
	case event.ReactionAdd, event.ReactionRemove:
		ev.Reaction, err = unmarshalPayload[event.ReactionPayload](row.Payload)
	case event.VoiceState:
		ev.Voice, err = unmarshalPayload[event.VoicePayload](row.Payload)
	case event.CommandResult:
		ev.Command, err = unmarshalPayload[event.CommandPayload](row.Payload)
	case event.MetricSample:
		ev.Metric, err = unmarshalPayload[event.MetricPayload](row.Payload)
	case event.GuildChange:
		ev.Guild, err = unmarshalPayload[event.GuildPayload](row.Payload)
	default:
		return nil, fmt.Errorf("storage: row %d has unknown kind %q", row.ID, row.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: decode row %d payload: %w", row.ID, err)
	}
	return ev, nil
}

func unmarshalPayload[T any](raw []byte) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return v, nil
}
