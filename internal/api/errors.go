package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/xisf/pkg/xisf"
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

// statusOf maps an error from the xisf package to an HTTP status and an
// error type.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, xisf.ErrInvalidIdentifier),
		errors.Is(err, xisf.ErrUnsupportedCodec),
		errors.Is(err, xisf.ErrUnsupportedChecksum),
		errors.Is(err, xisf.ErrUnsupportedFormat):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, xisf.ErrImageIndex),
		errors.Is(err, xisf.ErrPropertyNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, xisf.ErrNotXISF),
		errors.Is(err, xisf.ErrUnsupportedVersion),
		errors.Is(err, xisf.ErrCorruptFile),
		errors.Is(err, xisf.ErrInvalidHeader),
		errors.Is(err, xisf.ErrNoImages),
		errors.Is(err, xisf.ErrChecksumMismatch),
		errors.Is(err, xisf.ErrDecompression),
		errors.Is(err, xisf.ErrWarning):
		return http.StatusUnprocessableEntity, "invalid_unit_error"
	}
	var perr *xisf.ParseError
	if errors.As(err, &perr) {
		return http.StatusUnprocessableEntity, "invalid_unit_error"
	}
	return http.StatusInternalServerError, "server_error"
}
