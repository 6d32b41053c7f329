package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/ticket-booking/internal/model"
)

// MemoryStore keeps events and bookings in process memory.  It enforces
// the same guards as the MySQL store: conditional availability updates,
// unique booking numbers, unique active seats per event and conditional
// status transitions.  It backs STORE_DRIVER=memory and the tests.
type MemoryStore struct {
	mu       sync.Mutex
	events   map[uint64]*model.Event
	bookings map[uint64]*model.Booking
	numbers  map[string]uint64
	nextEvt  uint64
	nextBkg  uint64
	now      func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   make(map[uint64]*model.Event),
		bookings: make(map[uint64]*model.Booking),
		numbers:  make(map[string]uint64),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func cloneEvent(e *model.Event) *model.Event {
	c := *e
	if e.DeletedAt != nil {
		t := *e.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

func cloneBooking(b *model.Booking) *model.Booking {
	c := *b
	c.SeatNumbers = append([]string{}, b.SeatNumbers...)
	return &c
}

// CreateEvent stores e with all of its capacity available.
func (m *MemoryStore) CreateEvent(_ context.Context, e *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEvt++
	c := cloneEvent(e)
	c.ID = m.nextEvt
	c.AvailableTickets = c.Capacity
	if c.Status == "" {
		c.Status = model.EventDraft
	}
	c.CreatedAt = m.now()
	c.UpdatedAt = c.CreatedAt
	m.events[c.ID] = c
	*e = *cloneEvent(c)
	return nil
}

// PutEvent stores e as is, keeping its ID and availability.  It is meant
// for seeding.
func (m *MemoryStore) PutEvent(e model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = cloneEvent(&e)
	if e.ID > m.nextEvt {
		m.nextEvt = e.ID
	}
}

// UpdateEventStatus changes the status of a live event.
func (m *MemoryStore) UpdateEventStatus(_ context.Context, eventID uint64, status model.EventStatus) (*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok || e.DeletedAt != nil {
		return nil, ErrNotFound
	}
	e.Status = status
	e.UpdatedAt = m.now()
	return cloneEvent(e), nil
}

func (m *MemoryStore) FindEvent(_ context.Context, eventID uint64) (*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEvent(e), nil
}

func (m *MemoryStore) UpdateEventAvailability(_ context.Context, eventID uint64, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return ErrNotFound
	}
	next := e.AvailableTickets + delta
	if next < 0 || next > e.Capacity {
		return ErrConflict
	}
	e.AvailableTickets = next
	return nil
}

func (m *MemoryStore) RecomputeAvailability(_ context.Context, eventID uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return 0, ErrNotFound
	}
	held := 0
	for _, b := range m.bookings {
		if b.EventID == eventID && holds(b) {
			held += b.Quantity
		}
	}
	e.AvailableTickets = e.Capacity - held
	if e.AvailableTickets < 0 {
		e.AvailableTickets = 0
	}
	return e.AvailableTickets, nil
}

// holds reports whether b counts against capacity and the seat ledger.
func holds(b *model.Booking) bool {
	return b.Status.Active() && b.DeletedAt == nil
}

func (m *MemoryStore) FindUserBookingsForEvent(_ context.Context, userID, eventID uint64) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Booking
	for _, b := range m.sorted() {
		if b.UserID == userID && b.EventID == eventID && holds(b) {
			out = append(out, *cloneBooking(b))
		}
	}
	return out, nil
}

func (m *MemoryStore) FindActiveSeatHolders(_ context.Context, eventID uint64) ([]model.SeatHolder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SeatHolder
	for _, b := range m.bookings {
		if b.EventID != eventID || !holds(b) {
			continue
		}
		for _, s := range b.SeatNumbers {
			out = append(out, model.SeatHolder{BookingID: b.ID, SeatLabel: s})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatLabel < out[j].SeatLabel })
	return out, nil
}

func (m *MemoryStore) BookingNumberExists(_ context.Context, number string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.numbers[number]
	return ok, nil
}

func (m *MemoryStore) InsertBooking(_ context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(b)
}

// AdmitBooking reserves b.Quantity tickets and inserts b as one atomic
// step, like Store.AdmitBooking.
func (m *MemoryStore) AdmitBooking(_ context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[b.EventID]
	if !ok {
		return ErrNotFound
	}
	if e.AvailableTickets < b.Quantity {
		return ErrConflict
	}
	held := 0
	for _, o := range m.bookings {
		if o.UserID == b.UserID && o.EventID == b.EventID && holds(o) {
			held += o.Quantity
		}
	}
	if held+b.Quantity > e.MaxTicketsPerUser {
		return &QuotaError{Held: held, Limit: e.MaxTicketsPerUser}
	}
	if err := m.insertLocked(b); err != nil {
		return err
	}
	e.AvailableTickets -= b.Quantity
	return nil
}

func (m *MemoryStore) insertLocked(b *model.Booking) error {
	if _, dup := m.numbers[b.BookingNumber]; dup {
		return ErrDuplicateBookingNumber
	}
	if len(b.SeatNumbers) > 0 {
		taken := make(map[string]bool)
		for _, o := range m.bookings {
			if o.EventID == b.EventID && holds(o) {
				for _, s := range o.SeatNumbers {
					taken[s] = true
				}
			}
		}
		for _, s := range b.SeatNumbers {
			if taken[s] {
				return ErrSeatTaken
			}
		}
	}
	m.nextBkg++
	b.ID = m.nextBkg
	b.UpdatedAt = b.BookedAt
	m.bookings[b.ID] = cloneBooking(b)
	m.numbers[b.BookingNumber] = b.ID
	return nil
}

func (m *MemoryStore) GetBooking(_ context.Context, bookingID uint64) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || b.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return cloneBooking(b), nil
}

func (m *MemoryStore) UpdateBookingStatus(_ context.Context, bookingID uint64, from []model.BookingStatus, upd StatusUpdate) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || b.DeletedAt != nil {
		return nil, ErrNotFound
	}
	allowed := false
	for _, s := range from {
		if b.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrStatusChanged
	}
	at := upd.At
	b.Status = upd.Status
	b.UpdatedAt = at
	if upd.PaymentStatus != nil {
		b.PaymentStatus = *upd.PaymentStatus
	}
	if upd.PaymentMethod != nil {
		v := *upd.PaymentMethod
		b.PaymentMethod = &v
	}
	if upd.PaymentRef != nil {
		v := *upd.PaymentRef
		b.PaymentRef = &v
	}
	if upd.CancelReason != nil {
		v := *upd.CancelReason
		b.CancelReason = &v
	}
	switch upd.Status {
	case model.BookingConfirmed:
		b.ConfirmedAt = &at
	case model.BookingCancelled:
		b.CancelledAt = &at
	}
	if upd.SoftDelete {
		b.DeletedAt = &at
	}
	return cloneBooking(b), nil
}

func (m *MemoryStore) DeleteBooking(_ context.Context, bookingID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return ErrNotFound
	}
	delete(m.numbers, b.BookingNumber)
	delete(m.bookings, bookingID)
	return nil
}

func (m *MemoryStore) ListBookingsByUser(_ context.Context, userID uint64) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Booking{}
	for _, b := range m.sorted() {
		if b.UserID == userID && b.DeletedAt == nil {
			out = append(out, *cloneBooking(b))
		}
	}
	return out, nil
}

func (m *MemoryStore) ListBookingsByEvent(_ context.Context, eventID uint64) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Booking{}
	for _, b := range m.sorted() {
		if b.EventID == eventID {
			out = append(out, *cloneBooking(b))
		}
	}
	return out, nil
}

// sorted returns the bookings newest first.  Callers hold m.mu.
func (m *MemoryStore) sorted() []*model.Booking {
	out := make([]*model.Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BookedAt.Equal(out[j].BookedAt) {
			return out[i].BookedAt.After(out[j].BookedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
