package booking

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberAllocator_Allocate(t *testing.T) {
	a := NewNumberAllocator(func(context.Context, string) (bool, error) { return false, nil })
	a.now = func() time.Time { return testNow }

	n, err := a.Allocate(context.Background())
	require.NoError(t, err)
	assert.Regexp(t, bookingNumberRE, n)
}

func TestNumberAllocator_RetriesCollisions(t *testing.T) {
	var seen []string
	a := NewNumberAllocator(func(_ context.Context, n string) (bool, error) {
		seen = append(seen, n)
		return len(seen) < 3, nil
	})

	n, err := a.Allocate(context.Background())
	require.NoError(t, err)
	assert.Len(t, seen, 3)
	assert.Equal(t, seen[2], n)
}

func TestNumberAllocator_ErrorsCountAsAttempts(t *testing.T) {
	calls := 0
	a := NewNumberAllocator(func(context.Context, string) (bool, error) {
		calls++
		return false, errors.New("db down")
	})

	_, err := a.Allocate(context.Background())
	assert.ErrorIs(t, err, ErrAllocationExhausted)
	assert.ErrorContains(t, err, "db down")
	assert.Equal(t, DefaultNumberAttempts, calls)
}

func TestNumberAllocator_Exhausted(t *testing.T) {
	a := NewNumberAllocator(func(context.Context, string) (bool, error) { return true, nil })
	a.maxAttempts = 2

	_, err := a.Allocate(context.Background())
	assert.ErrorIs(t, err, ErrAllocationExhausted)
}

func TestNumberAllocator_ContextCancelled(t *testing.T) {
	a := NewNumberAllocator(func(context.Context, string) (bool, error) { return true, nil })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Allocate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFallbackBookingNumber(t *testing.T) {
	now := time.UnixMilli(1894272000123).UTC()

	n := FallbackBookingNumber(now, bytes.NewReader([]byte{0, 1, 2, 35, 0, 0, 0, 0}))
	assert.Equal(t, "BOOK-72000123-ABC9", n)

	n = FallbackBookingNumber(now, iotest.ErrReader(errors.New("no entropy")))
	assert.Regexp(t, `^BOOK-72000123-[A-Z0-9]{4}$`, n)
}

func TestRandomString_RejectsBiasedBytes(t *testing.T) {
	// 252 and above would skew the distribution and must be skipped
	r := bytes.NewReader([]byte{255, 252, 0, 1, 0, 0})
	s, err := randomString(r, bookingNumberChars, 2)
	require.NoError(t, err)
	assert.Equal(t, "AB", s)
}
