//nolint:lll
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gashie/fundswitch/log"
)

// Error is the API's error envelope. Code and HTTPstatus are independent:
// Code identifies the condition to a calling institution's integration,
// HTTPstatus is whatever HTTP status fits the condition.
//
// Error codes in the 40001-49999 range return HTTP Status 400, 404 or 409
// for conditions the caller caused, except ErrGatewayUnreachable (40008),
// which returns 502. Codes 50001-59999 are this service's fault and return
// 500 or 503.
//
// NEVER change any of the current error codes, only append new ones after
// the current last 4XXX or 5XXX. If you notice a gap, don't fill it in --
// that code was retired, not reusable.
type Error struct {
	Code       int
	HTTPstatus int
	Err        error
}

func (e Error) Error() string {
	return e.Err.Error()
}

// With returns a copy of e with msg appended to its message.
func (e Error) With(msg string) Error {
	e.Err = fmt.Errorf("%w: %s", e.Err, msg)
	return e
}

// Withf is With with fmt.Sprintf formatting.
func (e Error) Withf(format string, args ...any) Error {
	return e.With(fmt.Sprintf(format, args...))
}

// WithErr returns a copy of e wrapping err.
func (e Error) WithErr(err error) Error {
	if err == nil {
		return e
	}
	e.Err = fmt.Errorf("%w: %v", e.Err, err)
	return e
}

// Write sends e as a JSON error envelope with its HTTP status.
func (e Error) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPstatus)
	body, err := json.Marshal(envelope{
		ResponseCode:    e.Code,
		ResponseMessage: e.Error(),
	})
	if err != nil {
		log.Errorw(err, "marshal error envelope")
		return
	}
	if _, err := w.Write(body); err != nil {
		log.Warnw("failed to write error response", "error", err)
	}
}

var (
	ErrResourceNotFound    = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedBody       = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrMissingField        = Error{Code: 40005, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("missing required field")}
	ErrTransactionNotFound = Error{Code: 40006, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("transaction not found")}
	ErrDuplicateReference  = Error{Code: 40007, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("duplicate reference number")}
	ErrGatewayUnreachable  = Error{Code: 40008, HTTPstatus: http.StatusBadGateway, Err: fmt.Errorf("gateway unreachable")}
	ErrNameEnquiryFailed   = Error{Code: 40009, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("name enquiry failed")}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
)
