package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/castlegate/arena/internal/domain"
)

// PGStore is the Postgres-backed Store. Terminal commits and pair promotion
// run inside transactions; queue rows are locked FOR UPDATE so the promotion
// critical section is exactly "read two oldest, delete both, insert one".
type PGStore struct {
	db         *sql.DB
	initialElo int
}

func NewPGStore(databaseURL string, initialElo int) (*PGStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	s := &PGStore{db: db, initialElo: initialElo}
	if s.initialElo <= 0 {
		s.initialElo = 1200
	}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PGStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PGStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id            TEXT PRIMARY KEY,
			status        TEXT NOT NULL,
			fen           TEXT NOT NULL,
			white_id      TEXT NOT NULL,
			black_id      TEXT NOT NULL,
			white_clock   INTEGER NOT NULL,
			black_clock   INTEGER NOT NULL,
			draw_offer_by TEXT NOT NULL DEFAULT '',
			winner_id     TEXT NOT NULL DEFAULT '',
			reason        TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS sessions_white_active ON sessions (white_id) WHERE status = 'ACTIVE'`,
		`CREATE INDEX IF NOT EXISTS sessions_black_active ON sessions (black_id) WHERE status = 'ACTIVE'`,
		`CREATE TABLE IF NOT EXISTS moves (
			session_id TEXT NOT NULL REFERENCES sessions (id),
			seq        INTEGER NOT NULL,
			uci        TEXT NOT NULL,
			san        TEXT NOT NULL,
			played_by  TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS rating_entries (
			id             BIGSERIAL PRIMARY KEY,
			participant_id TEXT NOT NULL,
			session_id     TEXT NOT NULL DEFAULT '',
			rating         INTEGER NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS rating_entries_participant ON rating_entries (participant_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS queue (
			id             BIGSERIAL PRIMARY KEY,
			participant_id TEXT NOT NULL UNIQUE,
			joined_at      TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const sessionCols = `id, status, fen, white_id, black_id, white_clock, black_clock, draw_offer_by, winner_id, reason, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*domain.Session, error) {
	var g domain.Session
	var status, reason string
	err := row.Scan(&g.ID, &status, &g.FEN, &g.WhiteID, &g.BlackID, &g.WhiteClock, &g.BlackClock,
		&g.DrawOfferBy, &g.WinnerID, &reason, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	g.Status = domain.Status(status)
	g.Reason = domain.TerminationReason(reason)
	return &g, nil
}

func (s *PGStore) CreateSession(ctx context.Context, g *domain.Session) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// Entering a session withdraws both parties from the queue; rollback
		// restores the rows if the guard below rejects the insert.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM queue WHERE participant_id IN ($1,$2)`, g.WhiteID, g.BlackID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (`+sessionCols+`)
			SELECT $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
			WHERE NOT EXISTS (
				SELECT 1 FROM sessions
				WHERE status = 'ACTIVE' AND (white_id IN ($4,$5) OR black_id IN ($4,$5))
			)`,
			g.ID, string(g.Status), g.FEN, g.WhiteID, g.BlackID, g.WhiteClock, g.BlackClock,
			g.DrawOfferBy, g.WinnerID, string(g.Reason), g.CreatedAt, g.UpdatedAt)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrAlreadyInSession
		}
		return nil
	})
}

func (s *PGStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	g, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return g, err
}

func updateSessionTx(ctx context.Context, tx *sql.Tx, g *domain.Session, requireActive bool) error {
	q := `UPDATE sessions SET status=$2, fen=$3, white_clock=$4, black_clock=$5,
		draw_offer_by=$6, winner_id=$7, reason=$8, updated_at=$9 WHERE id=$1`
	if requireActive {
		q += ` AND status = 'ACTIVE'`
	}
	res, err := tx.ExecContext(ctx, q, g.ID, string(g.Status), g.FEN, g.WhiteClock, g.BlackClock,
		g.DrawOfferBy, g.WinnerID, string(g.Reason), g.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func insertMoveTx(ctx context.Context, tx *sql.Tx, mv *domain.MoveRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO moves (session_id, seq, uci, san, played_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		mv.SessionID, mv.Seq, mv.UCI, mv.SAN, string(mv.PlayedBy), mv.CreatedAt)
	return err
}

func (s *PGStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *PGStore) UpdateSession(ctx context.Context, g *domain.Session, move *domain.MoveRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateSessionTx(ctx, tx, g, true); err != nil {
			return err
		}
		if move != nil {
			return insertMoveTx(ctx, tx, move)
		}
		return nil
	})
}

func (s *PGStore) FinishSession(ctx context.Context, g *domain.Session, move *domain.MoveRecord, ratings []domain.RatingEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateSessionTx(ctx, tx, g, true); err != nil {
			return err
		}
		if move != nil {
			if err := insertMoveTx(ctx, tx, move); err != nil {
				return err
			}
		}
		for _, r := range ratings {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO rating_entries (participant_id, session_id, rating, created_at)
				VALUES ($1,$2,$3,$4)`,
				r.ParticipantID, r.SessionID, r.Rating, r.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PGStore) ActiveSessionByParticipant(ctx context.Context, pid string) (*domain.Session, error) {
	g, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionCols+` FROM sessions
		WHERE status = 'ACTIVE' AND (white_id = $1 OR black_id = $1)
		ORDER BY updated_at DESC LIMIT 1`, pid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return g, err
}

func (s *PGStore) ActiveSessionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE status = 'ACTIVE'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PGStore) MovesBySession(ctx context.Context, sessionID string) ([]domain.MoveRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq, uci, san, played_by, created_at
		FROM moves WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.MoveRecord
	for rows.Next() {
		var mv domain.MoveRecord
		var role string
		if err := rows.Scan(&mv.SessionID, &mv.Seq, &mv.UCI, &mv.SAN, &role, &mv.CreatedAt); err != nil {
			return nil, err
		}
		mv.PlayedBy = domain.Role(role)
		out = append(out, mv)
	}
	return out, rows.Err()
}

func (s *PGStore) MoveCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM moves WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}

func (s *PGStore) LatestRating(ctx context.Context, pid string) (domain.RatingEntry, error) {
	var e domain.RatingEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT participant_id, session_id, rating, created_at FROM rating_entries
		WHERE participant_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, pid).
		Scan(&e.ParticipantID, &e.SessionID, &e.Rating, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		seed := domain.RatingEntry{ParticipantID: pid, Rating: s.initialElo, CreatedAt: time.Now().UTC()}
		if _, ierr := s.db.ExecContext(ctx, `
			INSERT INTO rating_entries (participant_id, session_id, rating, created_at)
			VALUES ($1,'',$2,$3)`, seed.ParticipantID, seed.Rating, seed.CreatedAt); ierr != nil {
			return domain.RatingEntry{}, ierr
		}
		return seed, nil
	}
	return e, err
}

func (s *PGStore) RatingHistory(ctx context.Context, pid string, limit int) ([]domain.RatingEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT participant_id, session_id, rating, created_at FROM rating_entries
		WHERE participant_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, pid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.RatingEntry
	for rows.Next() {
		var e domain.RatingEntry
		if err := rows.Scan(&e.ParticipantID, &e.SessionID, &e.Rating, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	// oldest first, matching the append-only log order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (s *PGStore) Enqueue(ctx context.Context, pid string, at time.Time) error {
	// Single guarded insert, same shape as CreateSession: the busy check and
	// the row insert cannot interleave with a concurrent session commit.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO queue (participant_id, joined_at)
		SELECT $1, $2
		WHERE NOT EXISTS (
			SELECT 1 FROM sessions WHERE status = 'ACTIVE' AND (white_id = $1 OR black_id = $1)
		)
		ON CONFLICT (participant_id) DO NOTHING`, pid, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var queued bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM queue WHERE participant_id = $1)`, pid).Scan(&queued); err != nil {
		return err
	}
	if queued {
		return domain.ErrAlreadyQueued
	}
	return domain.ErrAlreadyInSession
}

func (s *PGStore) DequeueEntry(ctx context.Context, pid string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queue WHERE participant_id = $1`, pid)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotQueued
	}
	return nil
}

func (s *PGStore) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue`).Scan(&n)
	return n, err
}

func (s *PGStore) PromotePair(ctx context.Context, build func(first, second domain.QueueEntry) *domain.Session) (*domain.Session, error) {
	var created *domain.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT participant_id, joined_at FROM queue
			ORDER BY joined_at ASC, id ASC LIMIT 2 FOR UPDATE`)
		if err != nil {
			return err
		}
		var entries []domain.QueueEntry
		for rows.Next() {
			var e domain.QueueEntry
			if err := rows.Scan(&e.ParticipantID, &e.JoinedAt); err != nil {
				rows.Close()
				return err
			}
			entries = append(entries, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(entries) < 2 {
			return ErrNotEnoughWaiting
		}

		var busy bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM sessions WHERE status = 'ACTIVE'
				AND (white_id IN ($1,$2) OR black_id IN ($1,$2)))`,
			entries[0].ParticipantID, entries[1].ParticipantID).Scan(&busy); err != nil {
			return err
		}
		if busy {
			return domain.ErrAlreadyInSession
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM queue WHERE participant_id IN ($1,$2)`,
			entries[0].ParticipantID, entries[1].ParticipantID); err != nil {
			return err
		}

		g := build(entries[0], entries[1])
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (`+sessionCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			g.ID, string(g.Status), g.FEN, g.WhiteID, g.BlackID, g.WhiteClock, g.BlackClock,
			g.DrawOfferBy, g.WinnerID, string(g.Reason), g.CreatedAt, g.UpdatedAt); err != nil {
			return err
		}
		created = g
		return nil
	})
	return created, err
}
