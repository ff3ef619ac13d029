// Package apperr defines the error envelope shared by every HTTP route.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind string

const (
	KindConfig       Kind = "config"
	KindValidation   Kind = "validation"
	KindVendor       Kind = "vendor"
	KindStorage      Kind = "storage"
	KindNotFound     Kind = "not_found"
	KindRateLimited  Kind = "rate_limited"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindInternal     Kind = "internal"
)

// Error is a classified failure that knows its HTTP status.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Details string
	// Code is a vendor error code when the vendor supplied one.
	Code   string
	Vendor string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Details != "" {
		b.WriteString(" (")
		b.WriteString(e.Details)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Body is the JSON envelope written for an error.
type Body struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Kind    Kind   `json:"kind"`
	Code    string `json:"code,omitempty"`
	Vendor  string `json:"vendor,omitempty"`
}

func (e *Error) Body() Body {
	return Body{Error: e.Message, Details: e.Details, Kind: e.Kind, Code: e.Code, Vendor: e.Vendor}
}

// MissingConfig reports required environment variables that are unset.
func MissingConfig(message string, vars ...string) *Error {
	return &Error{
		Kind:    KindConfig,
		Status:  http.StatusInternalServerError,
		Message: message,
		Details: "missing environment variables: " + strings.Join(vars, ", "),
	}
}

func Validation(message, details string) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: message, Details: details}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: message}
}

func RateLimited(message string) *Error {
	return &Error{Kind: KindRateLimited, Status: http.StatusTooManyRequests, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Status: http.StatusUnauthorized, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Status: http.StatusForbidden, Message: message}
}

func Storage(message string, err error) *Error {
	return &Error{Kind: KindStorage, Status: http.StatusInternalServerError, Message: message, Err: err}
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Message: message, Err: err}
}

// VendorError is implemented by vendor client errors that carry the
// vendor's HTTP status and message.
type VendorError interface {
	error
	VendorName() string
	HTTPStatus() int
	VendorCode() string
	VendorMessage() string
}

// FromVendor wraps a vendor failure, passing the vendor status through.
// Transport failures without a status become 502.
func FromVendor(vendor string, err error) *Error {
	out := &Error{Kind: KindVendor, Status: http.StatusBadGateway, Vendor: vendor, Err: err}
	var ve VendorError
	if errors.As(err, &ve) {
		out.Vendor = ve.VendorName()
		out.Message = ve.VendorMessage()
		out.Code = ve.VendorCode()
		if s := ve.HTTPStatus(); s >= 400 && s <= 599 {
			out.Status = s
		}
	}
	if out.Message == "" {
		out.Message = fmt.Sprintf("%s request failed", vendor)
	}
	return out
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries an *Error of kind k.
func IsKind(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}
