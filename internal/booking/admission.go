package booking

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-booking/internal/metrics"
	"github.com/iliyamo/ticket-booking/internal/model"
	"github.com/iliyamo/ticket-booking/internal/repository"
)

// maxInsertAttempts bounds retries of the booking insert when the booking
// number unique key fires.
const maxInsertAttempts = 3

// Request is a reservation request.
type Request struct {
	UserID      uint64
	EventID     uint64
	Quantity    int
	SeatNumbers []string
	Notes       string
}

// CreateBooking admits a reservation.  Input shape is validated first,
// then the request is checked against the event, the user's quota, the
// availability and the seat ledger while holding the event lock.  When
// the store is an Admitter the booking and the decrement are committed
// together.  Otherwise the booking is inserted and the availability
// decremented afterwards; if the decrement fails the inserted booking is
// removed again before the error is returned.
func (s *Service) CreateBooking(ctx context.Context, req Request) (*model.Booking, error) {
	b, err := s.createBooking(ctx, req)
	if err != nil {
		metrics.TrackAdmission(outcomeOf(err))
		return nil, err
	}
	metrics.TrackAdmission("admitted")
	s.EventChanged(ctx, b.EventID)
	return b, nil
}

func (s *Service) createBooking(ctx context.Context, req Request) (*model.Booking, error) {
	if req.Quantity < 1 || req.Quantity > MaxQuantity {
		return nil, ErrInvalidQuantity
	}
	seats, err := NormalizeSeats(req.SeatNumbers)
	if err != nil {
		return nil, err
	}
	if len(seats) > 0 && len(seats) != req.Quantity {
		return nil, ErrSeatCountMismatch
	}

	log := s.log.With(zap.Uint64("event_id", req.EventID), zap.Uint64("user_id", req.UserID))

	unlock := s.lockEvent(ctx, req.EventID)
	defer unlock()

	ev, err := s.event(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if !ev.Bookable() {
		return nil, ErrEventUnavailable
	}
	if !ev.StartsAt.After(s.now()) {
		return nil, ErrEventAlreadyStarted
	}
	if req.Quantity > ev.MaxTicketsPerUser {
		return nil, perBookingLimitError(ev.MaxTicketsPerUser)
	}

	held, err := s.heldByUser(ctx, req.UserID, req.EventID)
	if err != nil {
		return nil, err
	}
	if held+req.Quantity > ev.MaxTicketsPerUser {
		return nil, quotaError(held, ev.MaxTicketsPerUser)
	}

	if ev.AvailableTickets < req.Quantity {
		return nil, ErrInsufficientTickets
	}

	if len(seats) > 0 {
		ledger, err := s.loadLedger(ctx, req.EventID)
		if err != nil {
			return nil, err
		}
		if conflicts := ledger.Conflicts(seats); len(conflicts) > 0 {
			return nil, seatConflictError(conflicts)
		}
	}

	b := &model.Booking{
		UserID:        req.UserID,
		EventID:       ev.ID,
		Quantity:      req.Quantity,
		SeatNumbers:   seats,
		Status:        model.BookingPending,
		PaymentStatus: model.PaymentPending,
		TotalAmount:   ev.Price.Mul(decimal.NewFromInt(int64(req.Quantity))),
		Currency:      ev.Currency,
		BookedAt:      s.now(),
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		b.CustomerNotes = &notes
	}

	if admitter, ok := s.store.(Admitter); ok {
		if err := s.insert(ctx, b, seats, admitter.AdmitBooking); err != nil {
			return nil, err
		}
		log.Info("booking admitted",
			zap.Uint64("booking_id", b.ID),
			zap.String("booking_number", b.BookingNumber),
			zap.Int("quantity", b.Quantity))
		return b, nil
	}

	if err := s.insert(ctx, b, seats, s.store.InsertBooking); err != nil {
		return nil, err
	}

	if err := s.store.UpdateEventAvailability(ctx, ev.ID, -req.Quantity); err != nil {
		s.compensate(ctx, log, b, err)
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrInsufficientTickets
		}
		return nil, newError(KindInventoryUpdate, ErrInventoryUpdate.Message, err)
	}

	log.Info("booking admitted",
		zap.Uint64("booking_id", b.ID),
		zap.String("booking_number", b.BookingNumber),
		zap.Int("quantity", b.Quantity))
	return b, nil
}

func (s *Service) heldByUser(ctx context.Context, userID, eventID uint64) (int, error) {
	existing, err := s.store.FindUserBookingsForEvent(ctx, userID, eventID)
	if err != nil {
		return 0, internalError("failed to load user bookings", err)
	}
	held := 0
	for _, eb := range existing {
		if eb.Status.Active() && eb.DeletedAt == nil {
			held += eb.Quantity
		}
	}
	return held, nil
}

// insert allocates a booking number and stores the booking with write.  A
// seat uniqueness violation is authoritative even when the ledger check
// passed: another admission won the race.  The same holds for capacity
// and per-user limit rejections from an atomic write.
func (s *Service) insert(ctx context.Context, b *model.Booking, seats []string, write func(context.Context, *model.Booking) error) error {
	for attempt := 0; attempt < maxInsertAttempts; attempt++ {
		number, err := s.numbers.Allocate(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return internalError("request cancelled", ctxErr)
			}
			s.log.Warn("booking number allocation exhausted, using timestamp fallback", zap.Error(err))
			metrics.TrackNumberFallback()
			number = FallbackBookingNumber(s.now(), s.numbers.random)
		}
		b.BookingNumber = number

		err = write(ctx, b)
		var quota *repository.QuotaError
		switch {
		case err == nil:
			return nil
		case errors.Is(err, repository.ErrDuplicateBookingNumber):
			continue
		case errors.Is(err, repository.ErrSeatTaken):
			return s.seatRace(ctx, b.EventID, seats)
		case errors.Is(err, repository.ErrConflict):
			return ErrInsufficientTickets
		case errors.Is(err, repository.ErrNotFound):
			return ErrEventUnavailable
		case errors.As(err, &quota):
			return quotaError(quota.Held, quota.Limit)
		default:
			return internalError("failed to create booking", err)
		}
	}
	return internalError("failed to create booking", repository.ErrDuplicateBookingNumber)
}

// seatRace names the seats that made the insert fail.  If the ledger
// cannot be read the requested seats are reported.
func (s *Service) seatRace(ctx context.Context, eventID uint64, seats []string) error {
	ledger, err := s.loadLedger(ctx, eventID)
	if err != nil {
		return seatConflictError(seats)
	}
	conflicts := ledger.Conflicts(seats)
	if len(conflicts) == 0 {
		conflicts = seats
	}
	return seatConflictError(conflicts)
}

// compensate removes a booking whose inventory could not be reserved.  It
// runs on a context detached from the request so that a cancelled or
// timed-out request still cleans up.  If the delete fails, the booking
// is cancelled and soft-deleted instead, which also releases its seats;
// if that fails as well an operator reconcile request is raised.
func (s *Service) compensate(ctx context.Context, log *zap.Logger, b *model.Booking, cause error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()

	log = log.With(zap.Uint64("booking_id", b.ID), zap.String("booking_number", b.BookingNumber))
	log.Warn("inventory decrement failed, compensating", zap.Error(cause))

	delErr := s.store.DeleteBooking(cctx, b.ID)
	if delErr == nil {
		metrics.TrackCompensation("deleted")
		return
	}

	reason := "admission compensation"
	_, invErr := s.store.UpdateBookingStatus(cctx, b.ID, model.ActiveBookingStatuses, StatusUpdate{
		Status:       model.BookingCancelled,
		CancelReason: &reason,
		At:           s.now(),
		SoftDelete:   true,
	})
	if invErr == nil {
		metrics.TrackCompensation("invalidated")
		log.Error("compensating delete failed, booking invalidated instead", zap.Error(delErr))
		return
	}

	metrics.TrackCompensation("failed")
	log.Error("compensation failed, booking left without reserved inventory",
		zap.NamedError("delete_error", delErr), zap.NamedError("invalidate_error", invErr))
	if err := s.notifier.ReconcileRequested(cctx, ReconcileRequest{
		EventID:   b.EventID,
		BookingID: b.ID,
		Quantity:  b.Quantity,
		Reason:    "orphaned booking after failed admission",
	}); err != nil {
		log.Error("failed to raise reconcile request", zap.Error(err))
	}
}

func outcomeOf(err error) string {
	var be *Error
	if errors.As(err, &be) {
		return string(be.Kind)
	}
	return string(KindInternal)
}
