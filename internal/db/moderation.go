package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrBanNotFound is returned when removing a ban that does not exist.
var ErrBanNotFound = errors.New("ban not found")

// Report is one persisted cheat report.
type Report struct {
	ID           string    `json:"id"`
	ClientID     int32     `json:"client_id"`
	Name         string    `json:"name"`
	FriendCode   string    `json:"friend_code,omitempty"`
	Address      string    `json:"address,omitempty"`
	GameCode     string    `json:"game_code,omitempty"`
	Call         string    `json:"call"`
	Reason       string    `json:"reason"`
	Count        int       `json:"count"`
	Disconnected bool      `json:"disconnected"`
	CreatedAt    time.Time `json:"created_at"`
}

// Ban blocks a friend code or an address from registering.
type Ban struct {
	// Subject is a friend code or an IP address.
	Subject   string    `json:"subject"`
	Reason    string    `json:"reason"`
	By        string    `json:"by"`
	CreatedAt time.Time `json:"created_at"`
}

// ReportFilter narrows ListReports.
type ReportFilter struct {
	FriendCode string
	GameCode   string
	Limit      int
}

// ModerationStore persists reports and bans. Bans are mirrored in memory so
// IsBanned never touches the database.
type ModerationStore struct {
	db *Database

	mu     sync.RWMutex
	banned map[string]struct{}
}

// NewModerationStore opens the store at dbPath and migrates its schema.
func NewModerationStore(ctx context.Context, dbPath string) (*ModerationStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	s := &ModerationStore{db: database, banned: make(map[string]struct{})}
	if err := s.migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate moderation database: %w", err)
	}
	bans, err := s.ListBans(ctx)
	if err != nil {
		database.Close()
		return nil, err
	}
	for _, b := range bans {
		s.banned[b.Subject] = struct{}{}
	}
	return s, nil
}

func (s *ModerationStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS cheat_reports (
			id TEXT PRIMARY KEY,
			client_id INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			friend_code TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			game_code TEXT NOT NULL DEFAULT '',
			call TEXT NOT NULL,
			reason TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 1,
			disconnected INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS bans (
			subject TEXT PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_reports_friend_code ON cheat_reports(friend_code);
		CREATE INDEX IF NOT EXISTS idx_reports_created_at ON cheat_reports(created_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	log.Debug().Msg("moderation schema migrated")
	return nil
}

// InsertReport stores r.
func (s *ModerationStore) InsertReport(ctx context.Context, r Report) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cheat_reports
			(id, client_id, name, friend_code, address, game_code, call, reason, count, disconnected, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ClientID, r.Name, r.FriendCode, r.Address, r.GameCode,
		r.Call, r.Reason, r.Count, boolInt(r.Disconnected), r.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert report %s: %w", r.ID, err)
	}
	return nil
}

// ListReports returns reports newest first.
func (s *ModerationStore) ListReports(ctx context.Context, f ReportFilter) ([]Report, error) {
	var (
		where []string
		args  []any
	)
	if f.FriendCode != "" {
		where = append(where, "friend_code = ?")
		args = append(args, f.FriendCode)
	}
	if f.GameCode != "" {
		where = append(where, "game_code = ?")
		args = append(args, f.GameCode)
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT id, client_id, name, friend_code, address, game_code, call, reason, count, disconnected, created_at
		FROM cheat_reports`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	reports := []Report{}
	for rows.Next() {
		var (
			r            Report
			disconnected int
			created      int64
		)
		if err := rows.Scan(&r.ID, &r.ClientID, &r.Name, &r.FriendCode, &r.Address, &r.GameCode,
			&r.Call, &r.Reason, &r.Count, &disconnected, &created); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		r.Disconnected = disconnected != 0
		r.CreatedAt = time.UnixMilli(created)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// CountReports returns the number of stored reports.
func (s *ModerationStore) CountReports(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cheat_reports").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CleanOldReports removes reports older than days and returns how many went.
func (s *ModerationStore) CleanOldReports(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UnixMilli()
	res, err := s.db.ExecContext(ctx, "DELETE FROM cheat_reports WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean reports: %w", err)
	}
	return res.RowsAffected()
}

// AddBan bans a subject, replacing an existing ban of it.
func (s *ModerationStore) AddBan(ctx context.Context, b Ban) error {
	if strings.TrimSpace(b.Subject) == "" {
		return errors.New("ban subject is empty")
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO bans (subject, reason, created_by, created_at) VALUES (?, ?, ?, ?)",
		b.Subject, b.Reason, b.By, b.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to ban %s: %w", b.Subject, err)
	}
	s.mu.Lock()
	s.banned[b.Subject] = struct{}{}
	s.mu.Unlock()
	log.Info().Str("subject", b.Subject).Str("by", b.By).Msg("ban added")
	return nil
}

// RemoveBan lifts a ban.
func (s *ModerationStore) RemoveBan(ctx context.Context, subject string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM bans WHERE subject = ?", subject)
	if err != nil {
		return fmt.Errorf("failed to remove ban %s: %w", subject, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBanNotFound
	}
	s.mu.Lock()
	delete(s.banned, subject)
	s.mu.Unlock()
	log.Info().Str("subject", subject).Msg("ban removed")
	return nil
}

// IsBanned reports whether the friend code or the address is banned. It is
// answered from memory; the error is always nil.
func (s *ModerationStore) IsBanned(_ context.Context, friendCode, address string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, subject := range []string{friendCode, address} {
		if subject == "" {
			continue
		}
		if _, ok := s.banned[subject]; ok {
			return true, nil
		}
	}
	return false, nil
}

// ListBans returns every ban, oldest first.
func (s *ModerationStore) ListBans(ctx context.Context) ([]Ban, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT subject, reason, created_by, created_at FROM bans ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to list bans: %w", err)
	}
	defer rows.Close()

	bans := []Ban{}
	for rows.Next() {
		var (
			b       Ban
			created int64
		)
		if err := rows.Scan(&b.Subject, &b.Reason, &b.By, &created); err != nil {
			return nil, fmt.Errorf("failed to scan ban: %w", err)
		}
		b.CreatedAt = time.UnixMilli(created)
		bans = append(bans, b)
	}
	return bans, rows.Err()
}

// Close closes the database.
func (s *ModerationStore) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
