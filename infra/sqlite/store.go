// Package sqlite implements ledger.Store on an embedded SQLite database.
// The pool holds a single connection so every transaction, and Claim in
// particular, runs serialised.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/kilianp07/movedispatch/core/factory"
	"github.com/kilianp07/movedispatch/core/ledger"
	"github.com/kilianp07/movedispatch/core/model"
)

// Config configures the SQLite store.
type Config struct {
	Path        string        `json:"path"`
	BusyTimeout time.Duration `json:"busy_timeout"`
}

func init() {
	_ = ledger.RegisterStore("sqlite", func(conf map[string]any) (ledger.Store, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return Open(c)
	})
}

// Store persists the ledger in SQLite.
type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dsn builds the connection string. Transactions take the write lock at
// BEGIN so a read-then-write claim never fails with a stale snapshot when
// another process holds the same file.
func dsn(cfg Config) string {
	return fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
}

// Open opens or creates the database at cfg.Path and ensures the schema.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreateMove(ctx context.Context, m model.Move) error {
	pickup, err := json.Marshal(m.Pickup)
	if err != nil {
		return err
	}
	dropoff, err := json.Marshal(m.Dropoff)
	if err != nil {
		return err
	}
	class, err := json.Marshal(m.Classification)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO moves
        (id, client_id, status, category, assigned_mover, pickup, dropoff, classification, price, currency, scheduled_at, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ClientID, string(m.Status), string(m.Category), nullString(m.AssignedMover),
		string(pickup), string(dropoff), string(class), m.Price.String(), m.Currency,
		nullTime(m.ScheduledAt), unix(m.CreatedAt), unix(m.UpdatedAt))
	if isConstraint(err) {
		return fmt.Errorf("%w: move %s already exists", model.ErrValidation, m.ID)
	}
	return err
}

func (s *Store) GetMove(ctx context.Context, id string) (model.Move, error) {
	return getMove(ctx, s.db, id)
}

func (s *Store) ActiveMove(ctx context.Context, moverID string) (model.Move, bool, error) {
	var active []any
	for _, p := range model.Phases() {
		if p.Active() {
			active = append(active, string(p))
		}
	}
	q := moveSelect + ` WHERE assigned_mover = ? AND status IN (` + placeholders(len(active)) + `) ORDER BY updated_at DESC LIMIT 1`
	m, err := scanMove(s.db.QueryRowContext(ctx, q, append([]any{moverID}, active...)...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Move{}, false, nil
	}
	if err != nil {
		return model.Move{}, false, err
	}
	return m, true, nil
}

func (s *Store) Transition(ctx context.Context, req ledger.TransitionRequest) (res ledger.TransitionResult, err error) {
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		m, err := getMove(ctx, tx, req.MoveID)
		if err != nil {
			return err
		}
		if err := ledger.CheckTransition(m, req); err != nil {
			return err
		}
		r, err := tx.ExecContext(ctx, `UPDATE moves SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(req.To), unix(req.At), req.MoveID, string(req.From))
		if err != nil {
			return err
		}
		if n, err := r.RowsAffected(); err != nil || n != 1 {
			return fmt.Errorf("%w: move %s", ledger.ErrStatusChanged, req.MoveID)
		}
		m.Status = req.To
		m.UpdatedAt = req.At
		entry, err := appendHistory(ctx, tx, m.ID, req.From, req.To, req.Actor, req.Note, req.At)
		if err != nil {
			return err
		}
		res = ledger.TransitionResult{Move: m, Entry: entry}
		if ledger.ClosesOffers(req) {
			res.Closed, err = closePending(ctx, tx, m.ID, "", req.At)
		}
		return err
	})
	return res, err
}

func (s *Store) History(ctx context.Context, moveID string) ([]model.Transition, error) {
	if _, err := s.GetMove(ctx, moveID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT seq, move_id, from_phase, to_phase, actor, note, at
        FROM move_history WHERE move_id = ? ORDER BY seq`, moveID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Transition
	for rows.Next() {
		var (
			tr       model.Transition
			from, to string
			at       int64
		)
		if err := rows.Scan(&tr.Seq, &tr.MoveID, &from, &to, &tr.Actor, &tr.Note, &at); err != nil {
			return nil, err
		}
		tr.From, tr.To, tr.At = model.Phase(from), model.Phase(to), fromUnix(at)
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (s *Store) InsertOffers(ctx context.Context, offers []model.Offer) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		checked := map[string]bool{}
		for _, o := range offers {
			if checked[o.MoveID] {
				continue
			}
			m, err := getMove(ctx, tx, o.MoveID)
			if err != nil {
				return err
			}
			if err := ledger.CheckDispatchable(m); err != nil {
				return err
			}
			checked[o.MoveID] = true
		}
		for _, o := range offers {
			_, err := tx.ExecContext(ctx, `INSERT INTO offers
                (id, move_id, mover_id, attempt, status, sent_at, responded_at, expires_at, close_reason)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				o.ID, o.MoveID, o.MoverID, o.Attempt, string(o.Status), unix(o.SentAt),
				nullTime(o.RespondedAt), unix(o.ExpiresAt), string(o.CloseReason))
			if isConstraint(err) {
				return fmt.Errorf("%w: offer %s already exists", model.ErrValidation, o.ID)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetOffer(ctx context.Context, id string) (model.Offer, error) {
	return getOffer(ctx, s.db, id)
}

func (s *Store) ListOffers(ctx context.Context, moveID string) ([]model.Offer, error) {
	return queryOffers(ctx, s.db, offerSelect+` WHERE move_id = ? ORDER BY sent_at, id`, moveID)
}

func (s *Store) ListOpenOffers(ctx context.Context, moverID string, now time.Time) ([]model.Offer, error) {
	return queryOffers(ctx, s.db, offerSelect+` WHERE mover_id = ? AND status = ? AND expires_at > ? ORDER BY sent_at DESC, id`,
		moverID, string(model.OfferPending), unix(now))
}

// Claim resolves an accept inside one transaction. The move update is
// conditional on the move still being requested and unassigned.
func (s *Store) Claim(ctx context.Context, offerID, moveID, moverID string, now time.Time) (res ledger.ClaimResult, err error) {
	var rejected error
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		o, err := getOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		m, err := getMove(ctx, tx, o.MoveID)
		if err != nil {
			return err
		}
		outcome, verr := ledger.EvaluateClaim(o, m, moveID, moverID, now)
		switch {
		case outcome == ledger.ClaimLazyExpire:
			rejected = verr
			return expireOffer(ctx, tx, o.ID)
		case verr != nil:
			return verr
		case outcome == ledger.ClaimReplay:
			res = ledger.ClaimResult{Move: m, Offer: o, Replayed: true}
			return nil
		}

		r, err := tx.ExecContext(ctx, `UPDATE moves SET assigned_mover = ?, status = ?, updated_at = ?
            WHERE id = ? AND assigned_mover IS NULL AND status = ?`,
			moverID, string(model.PhaseAssigned), unix(now), m.ID, string(model.PhaseRequested))
		if err != nil {
			return err
		}
		if n, err := r.RowsAffected(); err != nil || n != 1 {
			return fmt.Errorf("%w: move %s", model.ErrRaceLost, m.ID)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE offers SET status = ?, responded_at = ? WHERE id = ?`,
			string(model.OfferAccepted), unix(now), o.ID); err != nil {
			return err
		}
		declined, err := closePending(ctx, tx, m.ID, o.ID, now)
		if err != nil {
			return err
		}
		if _, err := appendHistory(ctx, tx, m.ID, model.PhaseRequested, model.PhaseAssigned, moverID, "offer "+o.ID+" accepted", now); err != nil {
			return err
		}
		m.AssignedMover, m.Status, m.UpdatedAt = moverID, model.PhaseAssigned, now
		o.Status, o.RespondedAt = model.OfferAccepted, &now
		res = ledger.ClaimResult{Move: m, Offer: o, Declined: declined}
		return nil
	})
	if err == nil && rejected != nil {
		return ledger.ClaimResult{}, rejected
	}
	return res, err
}

func (s *Store) DeclineOffer(ctx context.Context, offerID, moverID string, now time.Time) (out model.Offer, err error) {
	var rejected error
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		o, err := getOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		outcome, verr := ledger.EvaluateDecline(o, moverID, now)
		switch {
		case outcome == ledger.DeclineLazyExpire:
			rejected = verr
			return expireOffer(ctx, tx, o.ID)
		case verr != nil:
			return verr
		case outcome == ledger.DeclineNoop:
			out = o
			return nil
		}
		out = ledger.Settle(o, model.OfferDeclined, model.CloseByMover, now)
		_, err = tx.ExecContext(ctx, `UPDATE offers SET status = ?, close_reason = ?, responded_at = ? WHERE id = ? AND status = ?`,
			string(out.Status), string(out.CloseReason), unix(now), o.ID, string(model.OfferPending))
		return err
	})
	if err == nil && rejected != nil {
		return model.Offer{}, rejected
	}
	return out, err
}

func (s *Store) ExpireOffers(ctx context.Context, now time.Time) (out []model.Offer, err error) {
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		due, err := queryOffers(ctx, tx, offerSelect+` WHERE status = ? AND expires_at <= ? ORDER BY sent_at DESC, id`,
			string(model.OfferPending), unix(now))
		if err != nil {
			return err
		}
		for _, o := range due {
			if err := expireOffer(ctx, tx, o.ID); err != nil {
				return err
			}
			out = append(out, ledger.Settle(o, model.OfferExpired, model.CloseByExpiry, now))
		}
		return nil
	})
	return out, err
}

func (s *Store) UpsertLocation(ctx context.Context, smp model.LocationSample) (bool, error) {
	r, err := s.db.ExecContext(ctx, `INSERT INTO locations (mover_id, move_id, lat, lng, heading, speed, recorded_at, received_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (mover_id) DO UPDATE SET
            move_id = excluded.move_id, lat = excluded.lat, lng = excluded.lng,
            heading = excluded.heading, speed = excluded.speed,
            recorded_at = excluded.recorded_at, received_at = excluded.received_at
        WHERE excluded.recorded_at > locations.recorded_at`,
		smp.MoverID, smp.MoveID, smp.Lat, smp.Lng, nullFloat(smp.Heading), nullFloat(smp.Speed),
		unix(smp.RecordedAt), unix(smp.ReceivedAt))
	if err != nil {
		return false, err
	}
	n, err := r.RowsAffected()
	return n > 0, err
}

func (s *Store) LatestLocation(ctx context.Context, moverID string) (model.LocationSample, error) {
	var (
		smp            model.LocationSample
		heading, speed sql.NullFloat64
		rec, recv      int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT mover_id, move_id, lat, lng, heading, speed, recorded_at, received_at
        FROM locations WHERE mover_id = ?`, moverID).
		Scan(&smp.MoverID, &smp.MoveID, &smp.Lat, &smp.Lng, &heading, &speed, &rec, &recv)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LocationSample{}, fmt.Errorf("%w: no location for mover %s", model.ErrNotFound, moverID)
	}
	if err != nil {
		return model.LocationSample{}, err
	}
	smp.Heading, smp.Speed = floatPtr(heading), floatPtr(speed)
	smp.RecordedAt, smp.ReceivedAt = fromUnix(rec), fromUnix(recv)
	return smp, nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("rollback: %v (cause: %w)", rerr, err)
		}
		return err
	}
	return tx.Commit()
}

const moveSelect = `SELECT id, client_id, status, category, assigned_mover, pickup, dropoff, classification,
    price, currency, scheduled_at, created_at, updated_at FROM moves`

func getMove(ctx context.Context, q querier, id string) (model.Move, error) {
	m, err := scanMove(q.QueryRowContext(ctx, moveSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Move{}, fmt.Errorf("%w: move %s", model.ErrNotFound, id)
	}
	return m, err
}

func scanMove(row *sql.Row) (model.Move, error) {
	var (
		m                             model.Move
		status, category              string
		assigned                      sql.NullString
		pickup, dropoff, class, price string
		scheduled                     sql.NullInt64
		created, updated              int64
	)
	err := row.Scan(&m.ID, &m.ClientID, &status, &category, &assigned, &pickup, &dropoff, &class,
		&price, &m.Currency, &scheduled, &created, &updated)
	if err != nil {
		return model.Move{}, err
	}
	m.Status, m.Category, m.AssignedMover = model.Phase(status), model.Category(category), assigned.String
	if err := json.Unmarshal([]byte(pickup), &m.Pickup); err != nil {
		return model.Move{}, fmt.Errorf("decode pickup: %w", err)
	}
	if err := json.Unmarshal([]byte(dropoff), &m.Dropoff); err != nil {
		return model.Move{}, fmt.Errorf("decode dropoff: %w", err)
	}
	if err := json.Unmarshal([]byte(class), &m.Classification); err != nil {
		return model.Move{}, fmt.Errorf("decode classification: %w", err)
	}
	if m.Price, err = decimal.NewFromString(price); err != nil {
		return model.Move{}, fmt.Errorf("decode price: %w", err)
	}
	if scheduled.Valid {
		t := fromUnix(scheduled.Int64)
		m.ScheduledAt = &t
	}
	m.CreatedAt, m.UpdatedAt = fromUnix(created), fromUnix(updated)
	return m, nil
}

const offerSelect = `SELECT id, move_id, mover_id, attempt, status, sent_at, responded_at, expires_at, close_reason FROM offers`

type scanner interface {
	Scan(dest ...any) error
}

func scanOffer(row scanner) (model.Offer, error) {
	var (
		o              model.Offer
		status, reason string
		sent, expires  int64
		responded      sql.NullInt64
	)
	if err := row.Scan(&o.ID, &o.MoveID, &o.MoverID, &o.Attempt, &status, &sent, &responded, &expires, &reason); err != nil {
		return model.Offer{}, err
	}
	o.Status, o.CloseReason = model.OfferStatus(status), model.CloseReason(reason)
	o.SentAt, o.ExpiresAt = fromUnix(sent), fromUnix(expires)
	if responded.Valid {
		t := fromUnix(responded.Int64)
		o.RespondedAt = &t
	}
	return o, nil
}

func getOffer(ctx context.Context, q querier, id string) (model.Offer, error) {
	o, err := scanOffer(q.QueryRowContext(ctx, offerSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Offer{}, fmt.Errorf("%w: offer %s", model.ErrNotFound, id)
	}
	return o, err
}

func queryOffers(ctx context.Context, q querier, query string, args ...any) ([]model.Offer, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func expireOffer(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `UPDATE offers SET status = ?, close_reason = ? WHERE id = ? AND status = ?`,
		string(model.OfferExpired), string(model.CloseByExpiry), id, string(model.OfferPending))
	return err
}

// closePending declines the pending offers of a move except keep.
func closePending(ctx context.Context, tx *sql.Tx, moveID, keep string, now time.Time) ([]model.Offer, error) {
	pending, err := queryOffers(ctx, tx, offerSelect+` WHERE move_id = ? AND status = ? AND id != ? ORDER BY sent_at, id`,
		moveID, string(model.OfferPending), keep)
	if err != nil || len(pending) == 0 {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE offers SET status = ?, close_reason = ?, responded_at = ?
        WHERE move_id = ? AND status = ? AND id != ?`,
		string(model.OfferDeclined), string(model.CloseBySystem), unix(now), moveID, string(model.OfferPending), keep); err != nil {
		return nil, err
	}
	out := make([]model.Offer, 0, len(pending))
	for _, o := range pending {
		out = append(out, ledger.Settle(o, model.OfferDeclined, model.CloseBySystem, now))
	}
	return out, nil
}

func appendHistory(ctx context.Context, tx *sql.Tx, moveID string, from, to model.Phase, actor, note string, at time.Time) (model.Transition, error) {
	r, err := tx.ExecContext(ctx, `INSERT INTO move_history (move_id, from_phase, to_phase, actor, note, at) VALUES (?, ?, ?, ?, ?, ?)`,
		moveID, string(from), string(to), actor, note, unix(at))
	if err != nil {
		return model.Transition{}, err
	}
	seq, err := r.LastInsertId()
	if err != nil {
		return model.Transition{}, err
	}
	return model.Transition{Seq: seq, MoveID: moveID, From: from, To: to, Actor: actor, Note: note, At: at}, nil
}

func unix(t time.Time) int64 { return t.UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return unix(*t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
