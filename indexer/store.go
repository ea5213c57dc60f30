package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"auctionchain/core/events"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultListLimit = 100
	maxListLimit     = 1000
)

var ErrUnsupportedDriver = errors.New("indexer: unsupported driver")

// Query filters the archived event history.
type Query struct {
	// Type restricts results to one event type when set.
	Type string
	// After skips events with a sequence less than or equal to it.
	After uint64
	Limit int
}

// Store archives published events in a relational database. It implements
// events.Sink so it can be attached directly to the node's event bus.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("indexer: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Record stores envelopes. Sequences already present are skipped so replays
// after a restart are harmless.
func (s *Store) Record(ctx context.Context, envs []events.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	rows := make([]EventRecord, 0, len(envs))
	for _, env := range envs {
		attrs, err := json.Marshal(env.Attributes)
		if err != nil {
			return fmt.Errorf("indexer: encode attributes: %w", err)
		}
		rows = append(rows, EventRecord{
			Sequence:   env.Sequence,
			Type:       env.Type,
			Root:       env.Root,
			Timestamp:  env.Timestamp,
			Attributes: string(attrs),
		})
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "sequence"}}, DoNothing: true}).
		Create(&rows).Error
}

// List returns archived events in sequence order.
func (s *Store) List(ctx context.Context, q Query) ([]events.Envelope, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	tx := s.db.WithContext(ctx).Model(&EventRecord{}).Where("sequence > ?", q.After)
	if t := strings.TrimSpace(q.Type); t != "" {
		tx = tx.Where("type = ?", t)
	}
	var rows []EventRecord
	if err := tx.Order("sequence asc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("indexer: list events: %w", err)
	}
	out := make([]events.Envelope, 0, len(rows))
	for _, row := range rows {
		env, err := row.envelope()
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

// LastSequence returns the highest archived sequence, or zero when empty.
func (s *Store) LastSequence(ctx context.Context) (uint64, error) {
	var row EventRecord
	err := s.db.WithContext(ctx).Order("sequence desc").Limit(1).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("indexer: last sequence: %w", err)
	}
	return row.Sequence, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r EventRecord) envelope() (events.Envelope, error) {
	attrs := map[string]string{}
	if r.Attributes != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return events.Envelope{}, fmt.Errorf("indexer: decode attributes of %d: %w", r.Sequence, err)
		}
	}
	return events.Envelope{
		Sequence:   r.Sequence,
		Cursor:     strconv.FormatUint(r.Sequence, 10),
		Type:       r.Type,
		Attributes: attrs,
		Root:       r.Root,
		Timestamp:  r.Timestamp,
	}, nil
}
