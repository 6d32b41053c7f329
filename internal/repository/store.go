package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/ticket-booking/internal/model"
)

// Store is the MySQL implementation of the booking engine's store.  It
// combines the event and booking repositories over one connection pool.
type Store struct {
	*EventRepo
	*BookingRepo
}

// NewStore returns a Store bound to db.
func NewStore(db *sql.DB) *Store {
	return &Store{EventRepo: NewEventRepo(db), BookingRepo: NewBookingRepo(db)}
}

// DB returns the shared connection pool.
func (s *Store) DB() *sql.DB { return s.EventRepo.db }

// AdmitBooking decrements the event's availability by b.Quantity and
// inserts b with its seats in a single transaction.  The guarded UPDATE
// runs first, so the event row stays locked until commit and admissions
// of one event serialize in the database.  The user's per-event limit is
// checked again under that lock.  It returns ErrConflict when the event
// lacks capacity, ErrNotFound for an unknown event, a *QuotaError when
// the limit would be passed and the InsertBooking sentinels for duplicate
// keys; on any error nothing is written.
func (s *Store) AdmitBooking(ctx context.Context, b *model.Booking) (err error) {
	tx, err := s.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = updateAvailability(ctx, tx, b.EventID, -b.Quantity); err != nil {
		return err
	}
	if err = checkUserQuota(ctx, tx, b); err != nil {
		return err
	}
	id, err := insertBookingTx(ctx, tx, b)
	if err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	b.ID = id
	b.UpdatedAt = b.BookedAt
	return nil
}

// checkUserQuota must run after the event row is locked: the first
// consistent read of the transaction then sees every admission committed
// before the lock was granted.
func checkUserQuota(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	var limit int
	if err := tx.QueryRowContext(ctx, `SELECT max_tickets_per_user FROM events WHERE id = ?`, b.EventID).Scan(&limit); err != nil {
		return fmt.Errorf("load ticket limit of event %d: %w", b.EventID, err)
	}
	var held int
	const q = `SELECT COALESCE(SUM(quantity), 0) FROM bookings
			   WHERE user_id = ? AND event_id = ? AND status IN ('pending', 'confirmed') AND deleted_at IS NULL`
	if err := tx.QueryRowContext(ctx, q, b.UserID, b.EventID).Scan(&held); err != nil {
		return fmt.Errorf("sum tickets of user %d: %w", b.UserID, err)
	}
	if held+b.Quantity > limit {
		return &QuotaError{Held: held, Limit: limit}
	}
	return nil
}
