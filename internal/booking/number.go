package booking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

const (
	bookingNumberPrefix  = "BOOK-"
	bookingNumberChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	bookingCodeLen       = 5
	fallbackSuffixLen    = 4
	fallbackMillisDigits = 8

	// DefaultNumberAttempts is how many checked numbers are generated
	// before giving up.
	DefaultNumberAttempts = 10
)

// ErrAllocationExhausted is returned by Allocate when every attempt
// collided with an existing booking number or could not be checked.
var ErrAllocationExhausted = errors.New("booking number allocation exhausted")

// NumberAllocator issues booking numbers of the form BOOK-YYYYMMDD-XXXXX,
// checking each candidate against the store.
type NumberAllocator struct {
	exists      func(ctx context.Context, number string) (bool, error)
	now         func() time.Time
	random      io.Reader
	maxAttempts int
}

// NewNumberAllocator returns an allocator that checks uniqueness with
// exists.
func NewNumberAllocator(exists func(ctx context.Context, number string) (bool, error)) *NumberAllocator {
	return &NumberAllocator{
		exists:      exists,
		now:         func() time.Time { return time.Now().UTC() },
		random:      rand.Reader,
		maxAttempts: DefaultNumberAttempts,
	}
}

// Allocate returns a booking number that did not exist when checked.  A
// failed existence check counts as a used attempt.
func (a *NumberAllocator) Allocate(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code, err := randomString(a.random, bookingNumberChars, bookingCodeLen)
		if err != nil {
			lastErr = err
			continue
		}
		number := bookingNumberPrefix + a.now().UTC().Format("20060102") + "-" + code
		taken, err := a.exists(ctx, number)
		if err != nil {
			lastErr = err
			continue
		}
		if !taken {
			return number, nil
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w: %v", ErrAllocationExhausted, lastErr)
	}
	return "", ErrAllocationExhausted
}

// FallbackBookingNumber builds BOOK-{last 8 digits of epoch millis}-{4
// base36 chars}.  It is not checked against the store: two numbers
// collide only when issued with the same millisecond tail and the same
// suffix (1 in 36^4 per shared tail).  The unique key on booking_number
// still rejects such a collision at insert time.
func FallbackBookingNumber(now time.Time, r io.Reader) string {
	millis := strconv.FormatInt(now.UnixMilli(), 10)
	if len(millis) > fallbackMillisDigits {
		millis = millis[len(millis)-fallbackMillisDigits:]
	}
	suffix, err := randomString(r, bookingNumberChars, fallbackSuffixLen)
	if err != nil {
		// nanoseconds still differ between concurrent callers
		suffix = strconv.FormatInt(int64(now.Nanosecond()%1679616), 36)
		for len(suffix) < fallbackSuffixLen {
			suffix = "0" + suffix
		}
		suffix = toUpperASCII(suffix)
	}
	return bookingNumberPrefix + millis + "-" + suffix
}

// randomString draws n characters from alphabet using rejection sampling
// so every character is equally likely.
func randomString(r io.Reader, alphabet string, n int) (string, error) {
	limit := 256 - 256%len(alphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

func toUpperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b)
}
