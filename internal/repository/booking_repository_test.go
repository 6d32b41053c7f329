package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-booking/internal/model"
)

var bookingCols = []string{
	"id", "booking_number", "user_id", "event_id", "quantity", "status", "payment_status",
	"payment_method", "payment_reference", "total_amount", "currency", "customer_notes", "cancel_reason",
	"booked_at", "confirmed_at", "cancelled_at", "deleted_at", "updated_at",
}

func newBooking() *model.Booking {
	return &model.Booking{
		BookingNumber: "BOOK-20300101-ABC12",
		UserID:        11,
		EventID:       7,
		Quantity:      2,
		SeatNumbers:   []string{"A1", "A2"},
		Status:        model.BookingPending,
		PaymentStatus: model.PaymentPending,
		TotalAmount:   decimal.RequireFromString("51.00"),
		Currency:      "USD",
		BookedAt:      time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestBookingRepo_InsertBooking(t *testing.T) {
	db, mock := newMock(t)
	b := newBooking()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bookings")).
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO booking_seats (booking_id, position, event_id, seat_label, active) VALUES (?, ?, ?, ?, 1),(?, ?, ?, ?, 1)")).
		WithArgs(uint64(42), 0, uint64(7), "A1", uint64(42), 1, uint64(7), "A2").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, NewBookingRepo(db).InsertBooking(context.Background(), b))
	assert.Equal(t, uint64(42), b.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepo_InsertBooking_DuplicateKeys(t *testing.T) {
	cases := []struct {
		name    string
		onSeats bool
		key     string
		want    error
	}{
		{"booking number", false, "uq_bookings_number", ErrDuplicateBookingNumber},
		{"active seat", true, "uq_booking_seats_active", ErrSeatTaken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMock(t)
			dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key '" + tc.key + "'"}

			mock.ExpectBegin()
			if tc.onSeats {
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bookings")).WillReturnResult(sqlmock.NewResult(42, 1))
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO booking_seats")).WillReturnError(dup)
			} else {
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bookings")).WillReturnError(dup)
			}
			mock.ExpectRollback()

			err := NewBookingRepo(db).InsertBooking(context.Background(), newBooking())
			assert.ErrorIs(t, err, tc.want)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestBookingRepo_InsertBooking_OtherErrorPassesThrough(t *testing.T) {
	db, mock := newMock(t)
	boom := errors.New("connection reset")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bookings")).WillReturnError(boom)
	mock.ExpectRollback()

	err := NewBookingRepo(db).InsertBooking(context.Background(), newBooking())
	assert.ErrorIs(t, err, boom)
}

func TestBookingRepo_GetBooking(t *testing.T) {
	db, mock := newMock(t)
	at := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE id = ? AND deleted_at IS NULL")).
		WithArgs(uint64(42)).
		WillReturnRows(sqlmock.NewRows(bookingCols).AddRow(
			42, "BOOK-20300101-ABC12", 11, 7, 2, "confirmed", "paid",
			"card", "ref-1", "51.00", "USD", nil, nil,
			at, at, nil, nil, at,
		))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT booking_id, seat_label FROM booking_seats WHERE booking_id IN (?)")).
		WithArgs(uint64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"booking_id", "seat_label"}).
			AddRow(42, "A1").AddRow(42, "A2"))

	b, err := NewBookingRepo(db).GetBooking(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, b.Status)
	assert.Equal(t, model.PaymentPaid, b.PaymentStatus)
	require.NotNil(t, b.PaymentMethod)
	assert.Equal(t, "card", *b.PaymentMethod)
	assert.Nil(t, b.CustomerNotes)
	assert.NotNil(t, b.ConfirmedAt)
	assert.Equal(t, []string{"A1", "A2"}, b.SeatNumbers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepo_GetBooking_NotFound(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE id = ?")).WillReturnError(sql.ErrNoRows)

	_, err := NewBookingRepo(db).GetBooking(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBookingRepo_FindActiveSeatHolders(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE bs.event_id = ? AND bs.active = 1 AND b.deleted_at IS NULL")).
		WithArgs(uint64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"booking_id", "seat_label"}).
			AddRow(1, "A1").AddRow(2, "B4"))

	holders, err := NewBookingRepo(db).FindActiveSeatHolders(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []model.SeatHolder{{BookingID: 1, SeatLabel: "A1"}, {BookingID: 2, SeatLabel: "B4"}}, holders)
}

func TestBookingRepo_BookingNumberExists(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM bookings WHERE booking_number = ?)")).
		WithArgs("BOOK-20300101-ABC12").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := NewBookingRepo(db).BookingNumberExists(context.Background(), "BOOK-20300101-ABC12")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBookingRepo_UpdateBookingStatus_CancelReleasesSeats(t *testing.T) {
	db, mock := newMock(t)
	at := time.Date(2030, 1, 2, 10, 0, 0, 0, time.UTC)
	reason := "changed plans"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bookings SET status = ?, updated_at = ?, cancel_reason = ?, cancelled_at = ? WHERE id = ? AND deleted_at IS NULL AND status IN (?, ?)")).
		WithArgs("cancelled", at, reason, at, uint64(42), "pending", "confirmed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE booking_seats SET active = NULL WHERE booking_id = ?")).
		WithArgs(uint64(42)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE id = ?")).
		WithArgs(uint64(42)).
		WillReturnRows(sqlmock.NewRows(bookingCols).AddRow(
			42, "BOOK-20300101-ABC12", 11, 7, 2, "cancelled", "pending",
			nil, nil, "51.00", "USD", nil, reason,
			at, nil, at, nil, at,
		))
	mock.ExpectQuery(regexp.QuoteMeta("FROM booking_seats")).
		WithArgs(uint64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"booking_id", "seat_label"}).AddRow(42, "A1").AddRow(42, "A2"))
	mock.ExpectCommit()

	b, err := NewBookingRepo(db).UpdateBookingStatus(context.Background(), 42, model.ActiveBookingStatuses, StatusUpdate{
		Status:       model.BookingCancelled,
		CancelReason: &reason,
		At:           at,
	})
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, b.Status)
	require.NotNil(t, b.CancelReason)
	assert.Equal(t, reason, *b.CancelReason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepo_UpdateBookingStatus_LostRace(t *testing.T) {
	db, mock := newMock(t)
	at := time.Date(2030, 1, 2, 10, 0, 0, 0, time.UTC)
	paid := model.PaymentPaid

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bookings SET status = ?, updated_at = ?, payment_status = ?, confirmed_at = ?")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE id = ? AND deleted_at IS NULL")).
		WithArgs(uint64(42)).
		WillReturnRows(sqlmock.NewRows(bookingCols).AddRow(
			42, "BOOK-20300101-ABC12", 11, 7, 2, "cancelled", "pending",
			nil, nil, "51.00", "USD", nil, nil,
			at, nil, at, nil, at,
		))
	mock.ExpectRollback()

	_, err := NewBookingRepo(db).UpdateBookingStatus(context.Background(), 42,
		[]model.BookingStatus{model.BookingPending},
		StatusUpdate{Status: model.BookingConfirmed, PaymentStatus: &paid, At: at})
	assert.ErrorIs(t, err, ErrStatusChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepo_DeleteBooking(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM booking_seats WHERE booking_id = ?")).
		WithArgs(uint64(42)).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM bookings WHERE id = ?")).
		WithArgs(uint64(42)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, NewBookingRepo(db).DeleteBooking(context.Background(), 42))
	assert.NoError(t, mock.ExpectationsWereMet())
}
