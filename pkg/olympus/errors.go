package olympus

import (
	"errors"
	"net/http"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
	"github.com/tartarus-sandbox/pythia/pkg/themis"
)

// HTTPError is an error with the status code it should be served with
type HTTPError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
}

func (e *HTTPError) Error() string {
	return e.Message
}

// toHTTPError maps domain and store errors to a status code
func toHTTPError(err error) *HTTPError {
	var he *HTTPError
	if errors.As(err, &he) {
		return he
	}

	status := http.StatusInternalServerError
	var (
		ih *domain.InsufficientHistoryError
		us *domain.UnknownSiteError
		it *domain.InvalidThresholdError
		nv *domain.NegativeVolumeError
		ic *domain.InvalidCapacityError
		do *domain.DuplicateObservationError
		ms *domain.MixedSiteHistoryError
	)
	switch {
	case errors.Is(err, ErrNoRun), errors.Is(err, ErrUnknownTable):
		status = http.StatusNotFound
	case errors.Is(err, themis.ErrVersionConflict):
		status = http.StatusConflict
	case errors.As(err, &it), errors.As(err, &nv), errors.As(err, &ic), errors.As(err, &do), errors.As(err, &ms):
		status = http.StatusBadRequest
	case errors.As(err, &ih), errors.As(err, &us), errors.Is(err, domain.ErrNoBacktestData):
		status = http.StatusUnprocessableEntity
	}
	return &HTTPError{Status: status, Message: err.Error()}
}

func badRequest(msg string) *HTTPError {
	return &HTTPError{Status: http.StatusBadRequest, Message: msg}
}
