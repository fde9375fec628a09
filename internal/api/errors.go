package api

import (
	"errors"
	"net/http"

	"github.com/jiangyanpeng/simple-nn/internal/status"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// httpStatus maps a backend error onto a response code.
func httpStatus(err error) (int, string) {
	if errors.Is(err, ErrInvalidRequest) {
		return http.StatusBadRequest, "invalid_request_error"
	}
	switch status.CodeOf(err) {
	case status.InvalidArgument:
		return http.StatusBadRequest, "invalid_request_error"
	case status.FileNotFound:
		return http.StatusNotFound, "not_found_error"
	case status.NotSupported:
		return http.StatusNotImplemented, "not_supported_error"
	case status.OutOfMemory:
		return http.StatusBadRequest, "out_of_range_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
