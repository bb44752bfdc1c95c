package types

import (
	"errors"
	"net/http"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrElementNotFound    = errors.New("element not found")
	ErrSnapshotNotFound   = errors.New("snapshot not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrRoomFull           = errors.New("room is full")
	ErrAccessDenied       = errors.New("room access denied")
	ErrInvalidElementType = errors.New("invalid element type")
)

// HTTPStatus maps an error to the status code used to reject a request, unknown errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrElementNotFound), errors.Is(err, ErrSnapshotNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrRoomFull):
		return http.StatusConflict
	case errors.Is(err, ErrMalformedMessage), errors.Is(err, ErrInvalidElementType):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
