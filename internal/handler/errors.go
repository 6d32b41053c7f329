package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-booking/internal/booking"
)

const codeInvalidRequest = "INVALID_REQUEST"

// statusOf maps a booking error class to an HTTP status.
func statusOf(k booking.Kind) int {
	switch k.Class() {
	case booking.ClassValidation:
		return http.StatusBadRequest
	case booking.ClassNotFound:
		return http.StatusNotFound
	case booking.ClassRejected:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error", "code", ...details}.  Errors that
// are not a *booking.Error are treated as internal and never leak their
// message to the client.
func writeError(c echo.Context, log *zap.Logger, err error) error {
	var be *booking.Error
	if !errors.As(err, &be) {
		be = booking.ErrInternal
	}
	status := statusOf(be.Kind)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("route", c.Path()),
			zap.String("code", string(be.Kind)),
			zap.Error(err))
	}
	body := echo.Map{"error": be.Message, "code": be.Kind}
	if be.Kind == booking.KindUserQuotaExceeded {
		body["held"] = be.Held
		body["limit"] = be.Limit
	}
	if len(be.Seats) > 0 {
		body["seats"] = be.Seats
	}
	return c.JSON(status, body)
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id != 0
}
