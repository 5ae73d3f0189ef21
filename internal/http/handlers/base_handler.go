// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"zemi/internal/modules/credit"
	"zemi/internal/modules/driver"
	"zemi/internal/modules/ledger"
	"zemi/internal/modules/payment"
	"zemi/internal/modules/rating"
	"zemi/internal/modules/settlement"
	"zemi/internal/modules/trip"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// statusOf maps core errors to HTTP statuses. Unknown errors are 500.
func statusOf(err error) int {
	switch {
	case errors.Is(err, credit.ErrNoEligibleCredit),
		errors.Is(err, driver.ErrSubscriptionRequired),
		errors.Is(err, payment.ErrPaymentNotConfirmed),
		errors.Is(err, payment.ErrAmountMismatch):
		return http.StatusPaymentRequired
	case errors.Is(err, settlement.ErrInsufficientFunds),
		errors.Is(err, settlement.ErrNotCompleted),
		errors.Is(err, trip.ErrIllegalTransition),
		errors.Is(err, trip.ErrNoLongerAvailable),
		errors.Is(err, trip.ErrDriverBusy),
		errors.Is(err, trip.ErrConflict),
		errors.Is(err, rating.ErrAlreadyRated),
		errors.Is(err, rating.ErrTripNotCompleted),
		errors.Is(err, ledger.ErrDuplicatePurchase),
		errors.Is(err, driver.ErrDuplicateSubscription):
		return http.StatusConflict
	case errors.Is(err, trip.ErrForbidden),
		errors.Is(err, driver.ErrForbidden),
		errors.Is(err, credit.ErrForbidden),
		errors.Is(err, settlement.ErrForbidden),
		errors.Is(err, payment.ErrForbidden),
		errors.Is(err, payment.ErrPaymentNotOwned),
		errors.Is(err, rating.ErrNotAParty):
		return http.StatusForbidden
	case errors.Is(err, trip.ErrNotFound),
		errors.Is(err, driver.ErrNotFound),
		errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, trip.ErrBadRequest),
		errors.Is(err, driver.ErrBadRequest),
		errors.Is(err, ledger.ErrBadRequest),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, rating.ErrBadRequest),
		errors.Is(err, rating.ErrInvalidScore),
		errors.Is(err, payment.ErrBadRequest),
		errors.Is(err, payment.ErrUnknownPlan):
		return http.StatusBadRequest
	case errors.Is(err, payment.ErrDisabled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeServiceError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		writeError(c, status, "internal error")
		return
	}
	writeError(c, status, err.Error())
}

func queryLimit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
