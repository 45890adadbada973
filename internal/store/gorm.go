package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/live-chess-backend/internal/clock"
	"github.com/DoyleJ11/live-chess-backend/internal/engine"
	"github.com/DoyleJ11/live-chess-backend/internal/pairing"
)

type sessionRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	Status    string `gorm:"size:16;index"`
	White     string `gorm:"size:128;index"`
	Black     string `gorm:"size:128;index"`
	Revision  int64
	Data      []byte
	UpdatedAt time.Time
}

func (sessionRow) TableName() string { return "sessions" }

type resultRow struct {
	SessionID string `gorm:"primaryKey;size:64"`
	White     string `gorm:"size:128;index"`
	Black     string `gorm:"size:128;index"`
	Result    string `gorm:"size:16"`
	EndReason string `gorm:"size:32"`
	Winner    string `gorm:"size:8"`
	Moves     int
	EndedAt   time.Time
	CreatedAt time.Time
}

func (resultRow) TableName() string { return "session_results" }

// Open connects to Postgres.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the schema and returns a store over db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&sessionRow{}, &resultRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) Load(ctx context.Context, id string) (engine.Session, error) {
	var row sessionRow
	err := g.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Session{}, engine.ErrSessionNotFound
	}
	if err != nil {
		return engine.Session{}, unavailable("load", id, err)
	}
	var s engine.Session
	if err := json.Unmarshal(row.Data, &s); err != nil {
		return engine.Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return s, nil
}

func (g *GormStore) Save(ctx context.Context, s engine.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	row := sessionRow{
		ID:        s.ID,
		Status:    string(s.Status),
		White:     s.White.Principal,
		Black:     s.Black.Principal,
		Revision:  s.Clock.Revision,
		Data:      data,
		UpdatedAt: time.Now().UTC(),
	}
	err = g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "white", "black", "revision", "data", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "sessions.revision <= excluded.revision"},
		}},
	}).Create(&row).Error
	if err != nil {
		return unavailable("save", s.ID, err)
	}
	return nil
}

func (g *GormStore) ListActive(ctx context.Context) ([]engine.Session, error) {
	var rows []sessionRow
	err := g.db.WithContext(ctx).
		Where("status <> ?", string(engine.StatusFinished)).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, unavailable("list", "active", err)
	}
	out := make([]engine.Session, 0, len(rows))
	for _, row := range rows {
		var s engine.Session
		if err := json.Unmarshal(row.Data, &s); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", row.ID, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Report records r once; later reports for the same session are ignored.
func (g *GormStore) Report(ctx context.Context, r pairing.Result) error {
	row := resultRow{
		SessionID: r.SessionID,
		White:     r.White,
		Black:     r.Black,
		Result:    string(r.Result),
		EndReason: string(r.EndReason),
		Winner:    string(r.Winner),
		Moves:     r.Moves,
		EndedAt:   r.EndedAt,
	}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return unavailable("report", r.SessionID, err)
	}
	return nil
}

func (g *GormStore) Result(ctx context.Context, id string) (pairing.Result, error) {
	var row resultRow
	err := g.db.WithContext(ctx).Where("session_id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pairing.Result{}, engine.ErrSessionNotFound
	}
	if err != nil {
		return pairing.Result{}, unavailable("result", id, err)
	}
	return pairing.Result{
		SessionID: row.SessionID,
		White:     row.White,
		Black:     row.Black,
		Result:    engine.Result(row.Result),
		EndReason: engine.EndReason(row.EndReason),
		Winner:    clock.Side(row.Winner),
		Moves:     row.Moves,
		EndedAt:   row.EndedAt,
	}, nil
}

func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func unavailable(op, id string, err error) error {
	return fmt.Errorf("%s %s: %w", op, id, errors.Join(engine.ErrPersistenceUnavailable, err))
}
