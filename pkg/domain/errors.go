package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidHorizon indicates a forecast horizon below one day
	ErrInvalidHorizon = errors.New("forecast horizon must be at least one day")

	// ErrInvalidSeason indicates a season length below one day
	ErrInvalidSeason = errors.New("season length must be at least one day")

	// ErrInvalidWindow indicates a backtest window below one day
	ErrInvalidWindow = errors.New("backtest window must be at least one day")

	// ErrNoBacktestData indicates every site was excluded from a backtest
	ErrNoBacktestData = errors.New("backtest produced no comparisons")
)

// InsufficientHistoryError indicates a site has too little history to forecast or backtest.
type InsufficientHistoryError struct {
	SiteID    string
	Required  int // days
	Available int // days
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history for site %s: need %d days, have %d", e.SiteID, e.Required, e.Available)
}

// UnknownSiteError indicates a site has no capacity profile.
type UnknownSiteError struct {
	SiteID string
}

func (e *UnknownSiteError) Error() string {
	return fmt.Sprintf("no capacity profile for site %s", e.SiteID)
}

// InvalidThresholdError indicates a malformed risk tier configuration.
type InvalidThresholdError struct {
	GreenYellow float64
	YellowRed   float64
	Reason      string
}

func (e *InvalidThresholdError) Error() string {
	return fmt.Sprintf("invalid risk thresholds (green_yellow=%g, yellow_red=%g): %s", e.GreenYellow, e.YellowRed, e.Reason)
}

// NegativeVolumeError indicates a malformed input demand value.
type NegativeVolumeError struct {
	SiteID string
	Date   time.Time
	Volume float64
}

func (e *NegativeVolumeError) Error() string {
	return fmt.Sprintf("negative volume %g for site %s on %s", e.Volume, e.SiteID, e.Date.Format(DateLayout))
}

// InvalidCapacityError indicates a capacity profile that is not positive.
type InvalidCapacityError struct {
	SiteID   string
	Capacity float64
}

func (e *InvalidCapacityError) Error() string {
	return fmt.Sprintf("capacity for site %s must be positive, got %g", e.SiteID, e.Capacity)
}

// DuplicateObservationError indicates two observations for the same site-day.
type DuplicateObservationError struct {
	SiteID string
	Date   time.Time
}

func (e *DuplicateObservationError) Error() string {
	return fmt.Sprintf("duplicate observation for site %s on %s", e.SiteID, e.Date.Format(DateLayout))
}

// MixedSiteHistoryError indicates a single-site history that carries
// observations from another site. It is a caller error, not scoped to either site.
type MixedSiteHistoryError struct {
	SiteID string
	Other  string
	Date   time.Time
}

func (e *MixedSiteHistoryError) Error() string {
	return fmt.Sprintf("history for site %s mixes in site %s on %s", e.SiteID, e.Other, e.Date.Format(DateLayout))
}

// SiteOf returns the site an error is scoped to, if any.
// Errors scoped to a single site may be excluded by the orchestrator; the rest abort a run.
func SiteOf(err error) (string, bool) {
	var ih *InsufficientHistoryError
	var us *UnknownSiteError
	var nv *NegativeVolumeError
	var ic *InvalidCapacityError
	var do *DuplicateObservationError
	switch {
	case errors.As(err, &ih):
		return ih.SiteID, true
	case errors.As(err, &us):
		return us.SiteID, true
	case errors.As(err, &nv):
		return nv.SiteID, true
	case errors.As(err, &ic):
		return ic.SiteID, true
	case errors.As(err, &do):
		return do.SiteID, true
	}
	return "", false
}
