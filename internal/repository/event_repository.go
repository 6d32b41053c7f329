// Package repository contains the data access logic of the booking service.
// EventRepo owns the events table: the catalog rows the booking engine reads
// and the available_tickets counter it adjusts.  BookingRepo owns bookings
// and their seat assignments.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/ticket-booking/internal/model"
)

// EventRepo manages persistence for events.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo constructs an EventRepo with the given DB handle.
func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{db: db}
}

// DB exposes the underlying sql.DB so callers can begin transactions
// spanning multiple repositories.
func (r *EventRepo) DB() *sql.DB {
	return r.db
}

const eventColumns = `id, venue_id, title, start_date_time, end_date_time, price, currency, capacity,
	   available_tickets, max_tickets_per_user, status, is_active, deleted_at, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*model.Event, error) {
	var e model.Event
	var deletedAt sql.NullTime
	if err := row.Scan(
		&e.ID, &e.VenueID, &e.Title, &e.StartsAt, &e.EndsAt, &e.Price, &e.Currency, &e.Capacity,
		&e.AvailableTickets, &e.MaxTicketsPerUser, (*string)(&e.Status), &e.IsActive, &deletedAt,
		&e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		e.DeletedAt = &t
	}
	return &e, nil
}

// FindEvent returns the event with the given ID, soft-deleted rows
// included.  It returns ErrNotFound if there is no matching row.
func (r *EventRepo) FindEvent(ctx context.Context, eventID uint64) (*model.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events WHERE id = ?`
	e, err := scanEvent(r.db.QueryRowContext(ctx, q, eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find event %d: %w", eventID, err)
	}
	return e, nil
}

// UpdateEventAvailability adds delta to available_tickets.  The guard is
// part of the UPDATE itself, so two concurrent decrements can never take
// the counter below zero or restores push it above capacity.  When the
// guard rejects the write ErrConflict is returned; a missing event yields
// ErrNotFound.
func (r *EventRepo) UpdateEventAvailability(ctx context.Context, eventID uint64, delta int) error {
	return updateAvailability(ctx, r.db, eventID, delta)
}

// execQueryer is satisfied by *sql.DB and *sql.Tx.
type execQueryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func updateAvailability(ctx context.Context, q execQueryer, eventID uint64, delta int) error {
	const stmt = `UPDATE events
			   SET available_tickets = available_tickets + ?
			   WHERE id = ? AND available_tickets + ? >= 0 AND available_tickets + ? <= capacity`
	res, err := q.ExecContext(ctx, stmt, delta, eventID, delta, delta)
	if err != nil {
		return fmt.Errorf("update availability of event %d: %w", eventID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Determine if it's "not found" or a guard rejection.
	var one int
	if err := q.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id = ? LIMIT 1`, eventID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("update availability of event %d: %w", eventID, err)
	}
	return ErrConflict
}

// RecomputeAvailability rewrites available_tickets as capacity minus the
// tickets held by active bookings.  The event row is locked for the
// duration of the transaction.  Running it twice gives the same result.
func (r *EventRepo) RecomputeAvailability(ctx context.Context, eventID uint64) (available int, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var capacity int
	err = tx.QueryRowContext(ctx, `SELECT capacity FROM events WHERE id = ? FOR UPDATE`, eventID).Scan(&capacity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("recompute availability of event %d: %w", eventID, err)
	}
	var held int
	const sumQ = `SELECT COALESCE(SUM(quantity), 0) FROM bookings
				  WHERE event_id = ? AND status IN ('pending', 'confirmed') AND deleted_at IS NULL`
	if err = tx.QueryRowContext(ctx, sumQ, eventID).Scan(&held); err != nil {
		return 0, fmt.Errorf("recompute availability of event %d: %w", eventID, err)
	}
	available = capacity - held
	if available < 0 {
		available = 0
	}
	if _, err = tx.ExecContext(ctx, `UPDATE events SET available_tickets = ? WHERE id = ?`, available, eventID); err != nil {
		return 0, fmt.Errorf("recompute availability of event %d: %w", eventID, err)
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return available, nil
}

// CreateEvent inserts a new event and assigns the generated ID back to e.
// A new event starts with all of its capacity available.  Status defaults
// to draft when empty.
func (r *EventRepo) CreateEvent(ctx context.Context, e *model.Event) error {
	if e.Status == "" {
		e.Status = model.EventDraft
	}
	const q = `INSERT INTO events (venue_id, title, start_date_time, end_date_time, price, currency, capacity,
								   available_tickets, max_tickets_per_user, status, is_active)
			   VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q,
		e.VenueID, e.Title, e.StartsAt.UTC(), e.EndsAt.UTC(), e.Price, e.Currency, e.Capacity,
		e.Capacity, e.MaxTicketsPerUser, string(e.Status), e.IsActive,
	)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	created, err := r.FindEvent(ctx, uint64(id))
	if err != nil {
		return err
	}
	*e = *created
	return nil
}

// UpdateEventStatus moves an event between draft, published and
// cancelled.  It returns ErrNotFound for unknown or soft-deleted events.
func (r *EventRepo) UpdateEventStatus(ctx context.Context, eventID uint64, status model.EventStatus) (*model.Event, error) {
	const q = `UPDATE events SET status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, q, string(status), time.Now().UTC(), eventID)
	if err != nil {
		return nil, fmt.Errorf("update status of event %d: %w", eventID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return r.FindEvent(ctx, eventID)
}
