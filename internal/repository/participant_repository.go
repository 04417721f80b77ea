package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/iliyamo/bazar-buzzer/internal/model"
)

// ParticipantRepo provides data access to the participants table.  Every
// write carries its own guard in the WHERE clause (lease ownership or the
// capacity count), so two requests racing on the same name are serialized
// by the database row rather than by application locks.  Timestamps are
// stored as UTC Unix microseconds, which keeps comparisons identical on
// MySQL and SQLite.
type ParticipantRepo struct {
	db *sql.DB
}

// NewParticipantRepo returns a new ParticipantRepo bound to the provided database.
func NewParticipantRepo(db *sql.DB) *ParticipantRepo { return &ParticipantRepo{db: db} }

// DB exposes the underlying connection pool.
func (r *ParticipantRepo) DB() *sql.DB { return r.db }

const participantColumns = `id, name, session_token, lease_expiry, registered_at, pressed_at, press_count, created_at`

// writableGuard matches rows whose lease is unset, expired or held by the
// caller.  Args: token, now (micros).
const writableGuard = `(session_token IS NULL OR session_token = ? OR lease_expiry IS NULL OR lease_expiry <= ?)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(s rowScanner) (model.Participant, error) {
	var (
		p            model.Participant
		id, count    int64
		token        sql.NullString
		expiry       sql.NullInt64
		registeredAt int64
		pressedAt    sql.NullInt64
		createdAt    int64
	)
	if err := s.Scan(&id, &p.Name, &token, &expiry, &registeredAt, &pressedAt, &count, &createdAt); err != nil {
		return model.Participant{}, err
	}
	p.ID = uint64(id)
	p.PressCount = uint64(count)
	if token.Valid {
		t := token.String
		p.SessionToken = &t
	}
	p.LeaseExpiry = fromNullMicros(expiry)
	p.RegisteredAt = fromMicros(registeredAt)
	p.PressedAt = fromNullMicros(pressedAt)
	p.CreatedAt = fromMicros(createdAt)
	return p, nil
}

func toMicros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func fromNullMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getByName(ctx context.Context, q querier, name string) (model.Participant, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE name = ?`, name)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Participant{}, ErrNotFound
	}
	if err != nil {
		return model.Participant{}, unavailable("get participant", err)
	}
	return p, nil
}

// GetByName returns the participant with the exact (case-sensitive) name,
// or ErrNotFound.
func (r *ParticipantRepo) GetByName(ctx context.Context, name string) (model.Participant, error) {
	return getByName(ctx, r.db, name)
}

// Count returns the number of participant rows.
func (r *ParticipantRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM participants`).Scan(&n); err != nil {
		return 0, unavailable("count participants", err)
	}
	return n, nil
}

// List returns every participant in creation order.
func (r *ParticipantRepo) List(ctx context.Context) ([]model.Participant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants ORDER BY id ASC`)
	if err != nil {
		return nil, unavailable("list participants", err)
	}
	defer rows.Close()
	out := []model.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, unavailable("scan participant", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list participants", err)
	}
	return out, nil
}

// guardedUpdate runs a single conditional UPDATE inside a transaction and
// reads the row back.  When the guard rejects the write it reports
// ErrNotFound for a missing row and ErrNameConflict for a row leased to
// another token.
func (r *ParticipantRepo) guardedUpdate(ctx context.Context, op, name, query string, args ...any) (model.Participant, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Participant{}, unavailable(op, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return model.Participant{}, unavailable(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return model.Participant{}, unavailable(op, err)
	}
	p, err := getByName(ctx, tx, name)
	if err != nil {
		return model.Participant{}, err
	}
	if affected == 0 {
		return model.Participant{}, ErrNameConflict
	}
	if err := tx.Commit(); err != nil {
		return model.Participant{}, unavailable(op, err)
	}
	committed = true
	return p, nil
}

// Renew claims or extends the lease on an existing name for token.  The
// write only applies when the lease is unset, expired or already held by
// token; registered_at is refreshed alongside the lease.  Press state is
// left untouched.
func (r *ParticipantRepo) Renew(ctx context.Context, name, token string, now, expiry time.Time) (model.Participant, error) {
	nowMicros := toMicros(now)
	return r.guardedUpdate(ctx, "renew lease", name,
		`UPDATE participants
            SET session_token = ?, lease_expiry = ?, registered_at = ?
          WHERE name = ? AND `+writableGuard,
		token, toMicros(expiry), nowMicros,
		name, token, nowMicros,
	)
}

// RecordPress stamps an accepted press for name on behalf of token.
// pressed_at never moves backwards for a participant and press_count
// increments by exactly one per accepted call.  The lease is not touched,
// so a press on an expired lease does not claim it.
func (r *ParticipantRepo) RecordPress(ctx context.Context, name, token string, now time.Time) (model.Participant, error) {
	nowMicros := toMicros(now)
	return r.guardedUpdate(ctx, "record press", name,
		`UPDATE participants
            SET pressed_at = CASE WHEN pressed_at IS NOT NULL AND pressed_at > ? THEN pressed_at ELSE ? END,
                press_count = press_count + 1
          WHERE name = ? AND `+writableGuard,
		nowMicros, nowMicros,
		name, token, nowMicros,
	)
}

// CreateWithinCapacity inserts a new participant holding a lease for token,
// provided fewer than capacity rows exist.  The count and the insert are one
// statement, so concurrent registrations can never overshoot capacity.  It
// returns ErrCapacityExceeded when the table is full and ErrDuplicateName
// when the name was created concurrently.
func (r *ParticipantRepo) CreateWithinCapacity(ctx context.Context, name, token string, now, expiry time.Time, capacity int) (model.Participant, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Participant{}, unavailable("create participant", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	nowMicros := toMicros(now)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO participants
            (name, session_token, lease_expiry, registered_at, pressed_at, press_count, created_at)
         SELECT ?, ?, ?, ?, NULL, 0, ?
           FROM (SELECT COUNT(*) AS n FROM participants) AS c
          WHERE c.n < ?`,
		name, token, toMicros(expiry), nowMicros, nowMicros, capacity,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return model.Participant{}, ErrDuplicateName
		}
		return model.Participant{}, unavailable("create participant", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return model.Participant{}, unavailable("create participant", err)
	}
	if affected == 0 {
		return model.Participant{}, ErrCapacityExceeded
	}
	p, err := getByName(ctx, tx, name)
	if err != nil {
		return model.Participant{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Participant{}, unavailable("create participant", err)
	}
	committed = true
	return p, nil
}

// Ranking returns up to limit participants that have pressed, ordered by
// pressed_at ascending with the creation id breaking ties.  Rank starts
// at 1.
func (r *ParticipantRepo) Ranking(ctx context.Context, limit int) ([]model.RankEntry, error) {
	if limit <= 0 {
		return []model.RankEntry{}, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, pressed_at, press_count
           FROM participants
          WHERE pressed_at IS NOT NULL
          ORDER BY pressed_at ASC, id ASC
          LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("ranking", err)
	}
	defer rows.Close()
	out := make([]model.RankEntry, 0, limit)
	for rows.Next() {
		var (
			id, count, pressedAt int64
			e                    model.RankEntry
		)
		if err := rows.Scan(&id, &e.Name, &pressedAt, &count); err != nil {
			return nil, unavailable("scan ranking", err)
		}
		e.ID = uint64(id)
		e.PressCount = uint64(count)
		e.PressedAt = fromMicros(pressedAt)
		e.Rank = len(out) + 1
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("ranking", err)
	}
	return out, nil
}

// ResetPresses clears pressed_at and press_count on every row, leaving
// names and leases in place.  It returns the number of rows touched.
func (r *ParticipantRepo) ResetPresses(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE participants SET pressed_at = NULL, press_count = 0`)
	if err != nil {
		return 0, unavailable("reset presses", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("reset presses", err)
	}
	return n, nil
}

// PurgeAll deletes every participant row and returns how many were removed.
func (r *ParticipantRepo) PurgeAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM participants`)
	if err != nil {
		return 0, unavailable("purge participants", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("purge participants", err)
	}
	return n, nil
}

// isDuplicateKey recognises a unique-index violation from either driver.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr *msqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
