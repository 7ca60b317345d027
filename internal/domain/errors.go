package domain

import "errors"

var (
	// ErrCompetitorNotFound is returned when a competitor id is unknown
	ErrCompetitorNotFound = errors.New("competitor not found")

	// ErrMatchNotFound is returned when a match no longer exists; safe to retry
	ErrMatchNotFound = errors.New("match not found")

	// ErrViolationNotFound is returned when a violation id is unknown
	ErrViolationNotFound = errors.New("violation not found")

	// ErrJobNotFound is returned when a scrape job id is unknown
	ErrJobNotFound = errors.New("scrape job not found")

	// ErrPairBlacklisted is returned when creating a manual match for a
	// blacklisted pair; the blacklist entry must be removed first
	ErrPairBlacklisted = errors.New("pair is blacklisted")

	// ErrInvalidTransition is returned for an illegal match state change
	ErrInvalidTransition = errors.New("invalid match state transition")

	// ErrInvalidRequest is returned when request parameters are invalid
	ErrInvalidRequest = errors.New("invalid request parameters")

	// ErrSiteUnreachable is returned when a competitor site cannot be reached
	ErrSiteUnreachable = errors.New("competitor site unreachable")

	// ErrPageNotFound is returned for a 404 on a probed page
	ErrPageNotFound = errors.New("page not found")

	// ErrFetchFailed is returned for non-404 fetch failures
	ErrFetchFailed = errors.New("page fetch failed")

	// ErrJobNotCancellable is returned when cancelling a finished job
	ErrJobNotCancellable = errors.New("job is not running")
)
