package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/snehaltandel/process-map-agent/coach"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// sessionRow maps the coach_sessions table created by internal/migration.
type sessionRow struct {
	ID        string     `gorm:"primaryKey;size:64"`
	State     string     `gorm:"type:text;not null"`
	CreatedAt time.Time  `gorm:"not null"`
	UpdatedAt time.Time  `gorm:"not null;index:idx_coach_sessions_updated_at"`
	ExpiresAt *time.Time `gorm:"index:idx_coach_sessions_expires_at"`
}

// TableName implements gorm's tabler
func (sessionRow) TableName() string { return "coach_sessions" }

// SQLStore keeps sessions in a relational table through gorm.
type SQLStore struct {
	db    *gorm.DB
	opts  options
	close func() error
}

// SQLOption configures the SQL store
type SQLOption func(*SQLStore)

// WithCloser runs fn on Close, typically the pool manager's Close.
func WithCloser(fn func() error) SQLOption {
	return func(s *SQLStore) { s.close = fn }
}

// NewSQLStore wraps a gorm handle. When autoMigrate is set the table is
// created with gorm's AutoMigrate instead of the SQL migrations.
func NewSQLStore(db *gorm.DB, autoMigrate bool, opts []Option, sqlOpts ...SQLOption) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("session: sql store requires a database")
	}
	if autoMigrate {
		if err := db.AutoMigrate(&sessionRow{}); err != nil {
			return nil, fmt.Errorf("migrate coach_sessions: %w", err)
		}
	}
	s := &SQLStore{db: db, opts: buildOptions(opts)}
	for _, o := range sqlOpts {
		o(s)
	}
	return s, nil
}

// live restricts a query to unexpired rows
func (s *SQLStore) live(tx *gorm.DB) *gorm.DB {
	return tx.Where("expires_at IS NULL OR expires_at > ?", s.opts.now())
}

// Load implements Store
func (s *SQLStore) Load(ctx context.Context, id string) (*coach.State, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	var row sessionRow
	err := s.live(s.db.WithContext(ctx)).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeState([]byte(row.State))
}

// Save implements Store as an upsert on id
func (s *SQLStore) Save(ctx context.Context, id string, state *coach.State) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	now := s.opts.now()
	row := sessionRow{
		ID:        id,
		State:     string(data),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: s.opts.expiry(now),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at", "expires_at"}),
	}).Create(&row).Error
}

// Delete implements Store
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	var found int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.live(tx.Model(&sessionRow{})).Where("id = ?", id).Count(&found).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&sessionRow{}).Error
	})
	if err != nil {
		return err
	}
	if found == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Store
func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.live(s.db.WithContext(ctx).Model(&sessionRow{})).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Purge removes expired rows and reports how many were deleted.
func (s *SQLStore) Purge(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.opts.now()).
		Delete(&sessionRow{})
	return res.RowsAffected, res.Error
}

// Stats returns the connection pool statistics.
func (s *SQLStore) Stats() (sql.DBStats, error) {
	sqlDB, err := s.db.DB()
	if err != nil {
		return sql.DBStats{}, err
	}
	return sqlDB.Stats(), nil
}

// Ping implements Store
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close implements Store
func (s *SQLStore) Close() error {
	if s.close != nil {
		return s.close()
	}
	return nil
}
