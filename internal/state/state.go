// Package state сохраняет снимок позиции между перезапусками.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/skalibog/sigbot/internal/position"
	"github.com/skalibog/sigbot/pkg/logger"
	"go.uber.org/zap"
)

// Store хранилище снимков позиции
type Store interface {
	// Load возвращает сохраненный снимок; ok=false, если символ еще не торговался
	Load(ctx context.Context, symbol string) (snap position.Snapshot, ok bool, err error)
	Save(ctx context.Context, snap position.Snapshot) error
	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*Memory)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	symbol      TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	entry_price REAL NOT NULL DEFAULT 0,
	quantity    REAL NOT NULL DEFAULT 0,
	entered_at  DATETIME,
	updated_at  DATETIME NOT NULL
);
`

// SQLiteStore снимки позиции в SQLite
type SQLiteStore struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore открывает (или создает) базу состояния
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal=WAL&_sync=NORMAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы состояния: %w", err)
	}
	// :memory: живет в рамках одного соединения
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка создания схемы состояния: %w", err)
	}

	logger.Info("Открыта база состояния", zap.String("path", path))
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, symbol string) (position.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		snap      = position.Snapshot{Symbol: symbol}
		status    string
		enteredAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, entry_price, quantity, entered_at FROM positions WHERE symbol = ?`, symbol).
		Scan(&status, &snap.EntryPrice, &snap.Quantity, &enteredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return position.Snapshot{}, false, nil
	}
	if err != nil {
		return position.Snapshot{}, false, fmt.Errorf("ошибка чтения позиции %s: %w", symbol, err)
	}

	snap.Status = position.Status(status)
	if enteredAt.Valid {
		snap.EnteredAt = enteredAt.Time
	}
	return snap, true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, snap position.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var enteredAt any
	if !snap.EnteredAt.IsZero() {
		enteredAt = snap.EnteredAt.UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO positions (symbol, status, entry_price, quantity, entered_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(symbol) DO UPDATE SET
			status = excluded.status,
			entry_price = excluded.entry_price,
			quantity = excluded.quantity,
			entered_at = excluded.entered_at,
			updated_at = excluded.updated_at`,
		snap.Symbol,
		string(snap.Status),
		snap.EntryPrice,
		snap.Quantity,
		enteredAt,
		s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения позиции %s: %w", snap.Symbol, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Memory хранит снимки в памяти процесса
type Memory struct {
	mu    sync.Mutex
	snaps map[string]position.Snapshot
}

func NewMemory() *Memory {
	return &Memory{snaps: make(map[string]position.Snapshot)}
}

func (m *Memory) Load(ctx context.Context, symbol string) (position.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[symbol]
	return snap, ok, nil
}

func (m *Memory) Save(ctx context.Context, snap position.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.Symbol] = snap
	return nil
}

func (m *Memory) Close() error { return nil }

// Recover восстанавливает автомат позиции из хранилища. Отсутствующий
// снимок означает FLAT.
func Recover(ctx context.Context, store Store, symbol string) (*position.Machine, error) {
	snap, ok, err := store.Load(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !ok {
		return position.NewMachine(symbol), nil
	}

	m, err := position.Restore(snap)
	if err != nil {
		return nil, fmt.Errorf("поврежденное состояние позиции %s: %w", symbol, err)
	}

	logger.Info("Позиция восстановлена",
		zap.String("symbol", symbol),
		zap.String("status", string(snap.Status)),
		zap.Float64("entry_price", snap.EntryPrice),
		zap.Float64("quantity", snap.Quantity))
	return m, nil
}
