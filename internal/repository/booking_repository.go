package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/ticket-booking/internal/model"
)

// Unique keys of the bookings schema.  Duplicate-key errors are mapped to
// repository sentinels by key name.
const (
	keyBookingNumber = "uq_bookings_number"
	keyActiveSeat    = "uq_booking_seats_active"

	mysqlDuplicateEntry = 1062
)

// BookingRepo provides access to bookings and their seats.  Seats
// assigned to a booking are stored in booking_seats, one row per seat,
// with active = 1 while the booking holds them and NULL once it is
// cancelled.  The (event_id, seat_label, active) unique key therefore
// only applies to active bookings.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, booking_number, user_id, event_id, quantity, status, payment_status,
	   payment_method, payment_reference, total_amount, currency, customer_notes, cancel_reason,
	   booked_at, confirmed_at, cancelled_at, deleted_at, updated_at`

func scanBooking(row rowScanner) (*model.Booking, error) {
	var b model.Booking
	var method, ref, notes, reason sql.NullString
	var confirmedAt, cancelledAt, deletedAt sql.NullTime
	if err := row.Scan(
		&b.ID, &b.BookingNumber, &b.UserID, &b.EventID, &b.Quantity,
		(*string)(&b.Status), (*string)(&b.PaymentStatus),
		&method, &ref, &b.TotalAmount, &b.Currency, &notes, &reason,
		&b.BookedAt, &confirmedAt, &cancelledAt, &deletedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.PaymentMethod = nullString(method)
	b.PaymentRef = nullString(ref)
	b.CustomerNotes = nullString(notes)
	b.CancelReason = nullString(reason)
	b.ConfirmedAt = nullTime(confirmedAt)
	b.CancelledAt = nullTime(cancelledAt)
	b.DeletedAt = nullTime(deletedAt)
	return &b, nil
}

// InsertBooking stores a booking and its seats in one transaction and
// populates the generated ID.  A duplicate booking number yields
// ErrDuplicateBookingNumber; a seat already held by an active booking of
// the same event yields ErrSeatTaken.
func (r *BookingRepo) InsertBooking(ctx context.Context, b *model.Booking) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

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

// insertBookingTx inserts the booking row and its seats and returns the
// generated ID.  Duplicate keys are mapped to repository sentinels.
func insertBookingTx(ctx context.Context, tx *sql.Tx, b *model.Booking) (uint64, error) {
	const q = `INSERT INTO bookings (booking_number, user_id, event_id, quantity, status, payment_status,
									 total_amount, currency, customer_notes, booked_at, updated_at)
			   VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		b.BookingNumber, b.UserID, b.EventID, b.Quantity, string(b.Status), string(b.PaymentStatus),
		b.TotalAmount, b.Currency, b.CustomerNotes, b.BookedAt, b.BookedAt,
	)
	if err != nil {
		return 0, mapDuplicate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := insertSeatsTx(ctx, tx, uint64(id), b.EventID, b.SeatNumbers); err != nil {
		return 0, mapDuplicate(err)
	}
	return uint64(id), nil
}

// insertSeatsTx inserts all seat rows of a booking in a single statement.
// Passing an empty slice has no effect.
func insertSeatsTx(ctx context.Context, tx *sql.Tx, bookingID, eventID uint64, seats []string) error {
	if len(seats) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO booking_seats (booking_id, position, event_id, seat_label, active) VALUES `)
	args := make([]interface{}, 0, len(seats)*4)
	for i, s := range seats {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, 1)")
		args = append(args, bookingID, i, eventID, s)
	}
	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return err
}

func mapDuplicate(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
		switch {
		case strings.Contains(me.Message, keyActiveSeat):
			return ErrSeatTaken
		case strings.Contains(me.Message, keyBookingNumber):
			return ErrDuplicateBookingNumber
		}
	}
	return err
}

// BookingNumberExists reports whether a booking number is already used,
// by any booking including cancelled ones.
func (r *BookingRepo) BookingNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bookings WHERE booking_number = ?)`, number).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check booking number: %w", err)
	}
	return exists, nil
}

// GetBooking returns a live booking with its seats.  Soft-deleted
// bookings are reported as ErrNotFound.
func (r *BookingRepo) GetBooking(ctx context.Context, bookingID uint64) (*model.Booking, error) {
	b, err := getBooking(ctx, r.db, bookingID)
	if err != nil {
		return nil, err
	}
	if err := loadSeats(ctx, r.db, []*model.Booking{b}); err != nil {
		return nil, err
	}
	return b, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getBooking(ctx context.Context, q queryer, bookingID uint64) (*model.Booking, error) {
	b, err := scanBooking(q.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ? AND deleted_at IS NULL`, bookingID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get booking %d: %w", bookingID, err)
	}
	return b, nil
}

// loadSeats fills SeatNumbers of the given bookings in seat position
// order.
func loadSeats(ctx context.Context, q queryer, bookings []*model.Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	byID := make(map[uint64]*model.Booking, len(bookings))
	placeholders := make([]string, 0, len(bookings))
	args := make([]interface{}, 0, len(bookings))
	for _, b := range bookings {
		b.SeatNumbers = []string{}
		byID[b.ID] = b
		placeholders = append(placeholders, "?")
		args = append(args, b.ID)
	}
	query := `SELECT booking_id, seat_label FROM booking_seats WHERE booking_id IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY booking_id, position`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("load booking seats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uint64
		var label string
		if err := rows.Scan(&id, &label); err != nil {
			return err
		}
		if b, ok := byID[id]; ok {
			b.SeatNumbers = append(b.SeatNumbers, label)
		}
	}
	return rows.Err()
}

func (r *BookingRepo) list(ctx context.Context, where string, args ...interface{}) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE `+where+` ORDER BY booked_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	var ptrs []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ptrs = append(ptrs, b)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := loadSeats(ctx, r.db, ptrs); err != nil {
		return nil, err
	}
	out := make([]model.Booking, 0, len(ptrs))
	for _, b := range ptrs {
		out = append(out, *b)
	}
	return out, nil
}

// ListBookingsByUser returns the live bookings of a user, newest first.
func (r *BookingRepo) ListBookingsByUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
	return r.list(ctx, `user_id = ? AND deleted_at IS NULL`, userID)
}

// ListBookingsByEvent returns every booking of an event, cancelled and
// soft-deleted ones included, newest first.
func (r *BookingRepo) ListBookingsByEvent(ctx context.Context, eventID uint64) ([]model.Booking, error) {
	return r.list(ctx, `event_id = ?`, eventID)
}

// FindUserBookingsForEvent returns the active bookings a user holds for
// an event.  Seats are not loaded.
func (r *BookingRepo) FindUserBookingsForEvent(ctx context.Context, userID, eventID uint64) ([]model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings
			   WHERE user_id = ? AND event_id = ? AND status IN ('pending', 'confirmed') AND deleted_at IS NULL`
	rows, err := r.db.QueryContext(ctx, q, userID, eventID)
	if err != nil {
		return nil, fmt.Errorf("find user bookings: %w", err)
	}
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// FindActiveSeatHolders returns the seat ledger rows of an event: every
// seat held by a pending or confirmed booking.
func (r *BookingRepo) FindActiveSeatHolders(ctx context.Context, eventID uint64) ([]model.SeatHolder, error) {
	const q = `SELECT bs.booking_id, bs.seat_label
			   FROM booking_seats bs
			   JOIN bookings b ON b.id = bs.booking_id
			   WHERE bs.event_id = ? AND bs.active = 1 AND b.deleted_at IS NULL
			   ORDER BY bs.seat_label`
	rows, err := r.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, fmt.Errorf("find seat holders: %w", err)
	}
	defer rows.Close()
	var out []model.SeatHolder
	for rows.Next() {
		var h model.SeatHolder
		if err := rows.Scan(&h.BookingID, &h.SeatLabel); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// StatusUpdate carries the columns written by a lifecycle transition.
// Nil fields are left untouched.  confirmed_at or cancelled_at is stamped
// with At according to Status, and SoftDelete stamps deleted_at as well.
type StatusUpdate struct {
	Status        model.BookingStatus
	PaymentStatus *model.PaymentStatus
	PaymentMethod *string
	PaymentRef    *string
	CancelReason  *string
	At            time.Time
	SoftDelete    bool
}

// UpdateBookingStatus applies upd to a live booking whose current status
// is one of from.  The status check is part of the UPDATE, so two
// concurrent transitions cannot both succeed.  Cancelling releases the
// booking's seats in the same transaction.  It returns ErrStatusChanged
// when the booking exists in another status and ErrNotFound when it does
// not exist.
func (r *BookingRepo) UpdateBookingStatus(ctx context.Context, bookingID uint64, from []model.BookingStatus, upd StatusUpdate) (b *model.Booking, err error) {
	if len(from) == 0 {
		return nil, ErrStatusChanged
	}
	sets := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{string(upd.Status), upd.At}
	if upd.PaymentStatus != nil {
		sets = append(sets, "payment_status = ?")
		args = append(args, string(*upd.PaymentStatus))
	}
	if upd.PaymentMethod != nil {
		sets = append(sets, "payment_method = ?")
		args = append(args, *upd.PaymentMethod)
	}
	if upd.PaymentRef != nil {
		sets = append(sets, "payment_reference = ?")
		args = append(args, *upd.PaymentRef)
	}
	if upd.CancelReason != nil {
		sets = append(sets, "cancel_reason = ?")
		args = append(args, *upd.CancelReason)
	}
	switch upd.Status {
	case model.BookingConfirmed:
		sets = append(sets, "confirmed_at = ?")
		args = append(args, upd.At)
	case model.BookingCancelled:
		sets = append(sets, "cancelled_at = ?")
		args = append(args, upd.At)
	}
	if upd.SoftDelete {
		sets = append(sets, "deleted_at = ?")
		args = append(args, upd.At)
	}
	in := make([]string, 0, len(from))
	args = append(args, bookingID)
	for _, s := range from {
		in = append(in, "?")
		args = append(args, string(s))
	}
	q := `UPDATE bookings SET ` + strings.Join(sets, ", ") +
		` WHERE id = ? AND deleted_at IS NULL AND status IN (` + strings.Join(in, ", ") + `)`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("update booking %d: %w", bookingID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Determine if it's "not found" or a lost race on the status.
		if _, err = getBooking(ctx, tx, bookingID); err != nil {
			return nil, err
		}
		err = ErrStatusChanged
		return nil, err
	}
	if !upd.Status.Active() {
		if _, err = tx.ExecContext(ctx, `UPDATE booking_seats SET active = NULL WHERE booking_id = ?`, bookingID); err != nil {
			return nil, fmt.Errorf("release seats of booking %d: %w", bookingID, err)
		}
	}

	b, err = scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, bookingID))
	if err != nil {
		return nil, fmt.Errorf("update booking %d: %w", bookingID, err)
	}
	if err = loadSeats(ctx, tx, []*model.Booking{b}); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteBooking physically removes a booking and its seats.  It is only
// used to undo an admission whose inventory could not be reserved.
func (r *BookingRepo) DeleteBooking(ctx context.Context, bookingID uint64) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM booking_seats WHERE booking_id = ?`, bookingID); err != nil {
		return fmt.Errorf("delete booking %d: %w", bookingID, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, bookingID)
	if err != nil {
		return fmt.Errorf("delete booking %d: %w", bookingID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = ErrNotFound
		return err
	}
	return tx.Commit()
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
