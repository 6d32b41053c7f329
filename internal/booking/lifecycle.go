package booking

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/ticket-booking/internal/metrics"
	"github.com/iliyamo/ticket-booking/internal/model"
	"github.com/iliyamo/ticket-booking/internal/repository"
)

// DefaultCancelReason is recorded when a cancellation carries no reason.
const DefaultCancelReason = "cancelled by user"

// Payment carries the payment details recorded on confirmation.
type Payment struct {
	Method    string
	Reference string
}

// Confirm moves a pending booking to confirmed and marks it paid.
// Inventory is untouched: the tickets were reserved at admission.
func (s *Service) Confirm(ctx context.Context, bookingID uint64, p Payment) (*model.Booking, error) {
	b, err := s.confirm(ctx, bookingID, p)
	if err != nil {
		metrics.TrackTransition("confirm", outcomeOf(err))
		return nil, err
	}
	metrics.TrackTransition("confirm", "ok")
	return b, nil
}

func (s *Service) confirm(ctx context.Context, bookingID uint64, p Payment) (*model.Booking, error) {
	current, err := s.Booking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if current.Status != model.BookingPending {
		return nil, ErrBookingNotPending
	}

	paid := model.PaymentPaid
	upd := StatusUpdate{
		Status:        model.BookingConfirmed,
		PaymentStatus: &paid,
		At:            s.now(),
	}
	if m := strings.TrimSpace(p.Method); m != "" {
		upd.PaymentMethod = &m
	}
	if r := strings.TrimSpace(p.Reference); r != "" {
		upd.PaymentRef = &r
	}

	b, err := s.store.UpdateBookingStatus(ctx, bookingID, []model.BookingStatus{model.BookingPending}, upd)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStatusChanged):
			return nil, ErrBookingNotPending
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrBookingNotFound
		}
		return nil, internalError("failed to confirm booking", err)
	}

	log := s.log.With(zap.Uint64("booking_id", b.ID), zap.String("booking_number", b.BookingNumber))
	log.Info("booking confirmed")
	if err := s.notifier.BookingConfirmed(ctx, b); err != nil {
		log.Warn("failed to publish booking confirmation", zap.Error(err))
	}
	return b, nil
}

// Cancel cancels a pending or confirmed booking of an event that has not
// started and returns its tickets to the event.  The cancellation stands
// even if the tickets cannot be returned; that case is logged and
// reported for reconciliation.
func (s *Service) Cancel(ctx context.Context, bookingID uint64, reason string) (*model.Booking, error) {
	b, err := s.cancel(ctx, bookingID, reason)
	if err != nil {
		metrics.TrackTransition("cancel", outcomeOf(err))
		return nil, err
	}
	metrics.TrackTransition("cancel", "ok")
	s.EventChanged(ctx, b.EventID)
	return b, nil
}

func (s *Service) cancel(ctx context.Context, bookingID uint64, reason string) (*model.Booking, error) {
	current, err := s.Booking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockEvent(ctx, current.EventID)
	defer unlock()

	if !current.Status.Active() {
		return nil, ErrBookingNotActive
	}
	ev, err := s.store.FindEvent(ctx, current.EventID)
	if err != nil {
		return nil, internalError("failed to load event", err)
	}
	if !ev.StartsAt.After(s.now()) {
		return nil, ErrEventAlreadyStarted
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultCancelReason
	}
	b, err := s.store.UpdateBookingStatus(ctx, bookingID, model.ActiveBookingStatuses, StatusUpdate{
		Status:       model.BookingCancelled,
		CancelReason: &reason,
		At:           s.now(),
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStatusChanged):
			return nil, ErrBookingNotActive
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrBookingNotFound
		}
		return nil, internalError("failed to cancel booking", err)
	}

	log := s.log.With(
		zap.Uint64("booking_id", b.ID),
		zap.String("booking_number", b.BookingNumber),
		zap.Uint64("event_id", b.EventID))

	if err := s.store.UpdateEventAvailability(ctx, b.EventID, b.Quantity); err != nil {
		metrics.TrackRestoreFailure()
		log.Error("failed to restore event availability after cancellation",
			zap.Int("quantity", b.Quantity), zap.Error(err))
		if rerr := s.notifier.ReconcileRequested(context.WithoutCancel(ctx), ReconcileRequest{
			EventID:   b.EventID,
			BookingID: b.ID,
			Quantity:  b.Quantity,
			Reason:    "availability not restored after cancellation",
		}); rerr != nil {
			log.Error("failed to raise reconcile request", zap.Error(rerr))
		}
	}

	log.Info("booking cancelled", zap.String("reason", reason))
	if err := s.notifier.BookingCancelled(ctx, b); err != nil {
		log.Warn("failed to publish booking cancellation", zap.Error(err))
	}
	return b, nil
}
