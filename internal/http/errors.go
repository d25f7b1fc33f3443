package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

// StatusClientClosedRequest is reported when the caller went away first.
const StatusClientClosedRequest = 499

// StatusFor maps an error kind to an HTTP status.
func StatusFor(kind qa.Kind) int {
	switch kind {
	case qa.KindInvalidInput:
		return http.StatusBadRequest
	case qa.KindNotFound, qa.KindNoLinkedChange:
		return http.StatusNotFound
	case qa.KindPartialWorkflowFailure:
		return http.StatusMultiStatus
	case qa.KindVerificationInconclusive:
		return http.StatusConflict
	case qa.KindTimedOut:
		return http.StatusGatewayTimeout
	case qa.KindPollFailure, qa.KindTransient:
		return http.StatusBadGateway
	case qa.KindCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// carriesDetails lists the kinds whose partial result is worth returning.
func carriesDetails(kind qa.Kind) bool {
	switch kind {
	case qa.KindPartialWorkflowFailure, qa.KindVerificationInconclusive, qa.KindTimedOut, qa.KindPollFailure:
		return true
	}
	return false
}

// respond writes out on success. On failure it writes an ErrorResponse, with
// out as details when the kind carries a partial result.
func respond[T any](c echo.Context, out T, err error) error {
	if err == nil {
		return c.JSON(http.StatusOK, out)
	}
	kind := qa.KindOf(err)
	resp := ErrorResponse{Kind: kind, Error: qa.Describe(err)}
	if carriesDetails(kind) {
		resp.Details = out
	}
	return c.JSON(StatusFor(kind), resp)
}
