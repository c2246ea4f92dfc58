package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/drfirst/rxchain/internal/api/middleware"
	"github.com/drfirst/rxchain/internal/domain/laboratory"
	"github.com/drfirst/rxchain/internal/domain/order"
	"github.com/drfirst/rxchain/internal/domain/prescription"
	"github.com/drfirst/rxchain/internal/domain/roles"
	"github.com/drfirst/rxchain/internal/infrastructure/leveldb"
	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/internal/node"
)

var (
	errNotFound     = errors.New("not found")
	errNotAvailable = errors.New("read model not configured")
)

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error { return &requestError{msg: msg} }

func unsupported(op string) error { return prescription.Unsupported(op) }

var forbidden = []error{
	prescription.ErrOnlyDoctorsMint,
	prescription.ErrOnlyPatientsReceive,
	prescription.ErrOnlyPatientsTransfer,
	prescription.ErrOnlyPharmacyDestination,
	laboratory.ErrOnlyPharmaciesMint,
	order.ErrOnlyPharmaciesPrepare,
	order.ErrPharmacyNotCaller,
	order.ErrOnlyPharmaciesReady,
	order.ErrOnlyPatients,
	order.ErrNotYourOrder,
}

var notFound = []error{
	errNotFound,
	prescription.ErrTokenDoesNotExist,
	order.ErrOrderDoesNotExist,
	leveldb.ErrNotFound,
	node.ErrNotWhitelist,
}

var invalid = []error{
	prescription.ErrInvalidOwner,
	laboratory.ErrArrayLengthMismatch,
	laboratory.ErrTooManyItems,
	laboratory.ErrEmptyName,
	order.ErrArrayLengthMismatch,
	node.ErrUnknownRole,
	ledger.ErrOverflow,
}

// statusFor maps a revert or request error onto an HTTP status. Anything
// not listed is a state conflict.
func statusFor(err error) int {
	var (
		reqErr       *requestError
		unauthorized *roles.UnauthorizedAccountError
		wrongOwner   *prescription.IncorrectOwnerError
		noApproval   *prescription.InsufficientApprovalError
		noLabAccess  *laboratory.MissingApprovalForAllError
		badOwner     *roles.InvalidOwnerError
		rxReceiver   *prescription.InvalidReceiverError
		labReceiver  *laboratory.InvalidReceiverError
		labSender    *laboratory.InvalidSenderError
		labOperator  *laboratory.InvalidOperatorError
		labLengths   *laboratory.InvalidArrayLengthError
	)
	switch {
	case errors.Is(err, errNoCaller):
		return http.StatusUnauthorized
	case errors.Is(err, prescription.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, errNotAvailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.As(err, &unauthorized), errors.As(err, &wrongOwner),
		errors.As(err, &noApproval), errors.As(err, &noLabAccess):
		return http.StatusForbidden
	case errors.As(err, &badOwner), errors.As(err, &rxReceiver), errors.As(err, &labReceiver),
		errors.As(err, &labSender), errors.As(err, &labOperator), errors.As(err, &labLengths):
		return http.StatusBadRequest
	}
	for _, target := range forbidden {
		if errors.Is(err, target) {
			return http.StatusForbidden
		}
	}
	for _, target := range notFound {
		if errors.Is(err, target) {
			return http.StatusNotFound
		}
	}
	for _, target := range invalid {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	return http.StatusConflict
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err),
		)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
