package booking

import (
	"context"
	"sort"
	"strings"

	"github.com/iliyamo/ticket-booking/internal/model"
)

const maxSeatLabelLen = 16

// SeatLedger is the set of seats currently held by pending or confirmed
// bookings of one event.  It is always derived from the bookings and is
// never persisted on its own.
type SeatLedger struct {
	EventID uint64
	holders map[string]uint64
}

// NewSeatLedger builds a ledger from the active seat holders of an event.
func NewSeatLedger(eventID uint64, holders []model.SeatHolder) *SeatLedger {
	l := &SeatLedger{EventID: eventID, holders: make(map[string]uint64, len(holders))}
	for _, h := range holders {
		l.holders[h.SeatLabel] = h.BookingID
	}
	return l
}

// Occupied reports whether seat is held by an active booking.
func (l *SeatLedger) Occupied(seat string) bool {
	_, ok := l.holders[seat]
	return ok
}

// Holder returns the booking holding seat.
func (l *SeatLedger) Holder(seat string) (uint64, bool) {
	id, ok := l.holders[seat]
	return id, ok
}

// Conflicts returns the requested seats that are already occupied, in
// request order.
func (l *SeatLedger) Conflicts(seats []string) []string {
	var out []string
	for _, s := range seats {
		if l.Occupied(s) {
			out = append(out, s)
		}
	}
	return out
}

// Seats returns the occupied seats sorted by label.
func (l *SeatLedger) Seats() []string {
	out := make([]string, 0, len(l.holders))
	for s := range l.holders {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Len is the number of occupied seats.
func (l *SeatLedger) Len() int { return len(l.holders) }

// SeatLedger derives the current ledger of an event.
func (s *Service) SeatLedger(ctx context.Context, eventID uint64) (*SeatLedger, error) {
	if _, err := s.event(ctx, eventID); err != nil {
		return nil, err
	}
	return s.loadLedger(ctx, eventID)
}

func (s *Service) loadLedger(ctx context.Context, eventID uint64) (*SeatLedger, error) {
	holders, err := s.store.FindActiveSeatHolders(ctx, eventID)
	if err != nil {
		return nil, internalError("failed to load seat ledger", err)
	}
	return NewSeatLedger(eventID, holders), nil
}

// NormalizeSeats trims seat labels and rejects blank, overlong or repeated
// labels.  Labels are otherwise opaque: case is kept, so "a1" and "A1" are
// different seats.
func NormalizeSeats(seats []string) ([]string, error) {
	if len(seats) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(seats))
	seen := make(map[string]struct{}, len(seats))
	for _, raw := range seats {
		s := strings.TrimSpace(raw)
		if s == "" || len(s) > maxSeatLabelLen {
			return nil, ErrInvalidSeats
		}
		if _, dup := seen[s]; dup {
			return nil, ErrInvalidSeats
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}
