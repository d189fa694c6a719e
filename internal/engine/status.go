package engine

import (
	"fmt"
	"time"

	"github.com/terabyte/jiraview/internal/engine/refresh"
)

// Status summarizes cache freshness for the presentation layer.
type Status int

const (
	// StatusFirstRun means the query has never been cached and its first
	// refresh is in flight.
	StatusFirstRun Status = iota

	// StatusUpdating means cached records were served while a refresh runs.
	StatusUpdating

	// StatusCurrent means cached records were verified within the TTL.
	StatusCurrent

	// StatusNetworkErrorCached means the backend is unreachable but cached
	// records were served.
	StatusNetworkErrorCached

	// StatusNetworkErrorNoCache means the backend is unreachable and
	// nothing is cached for this query.
	StatusNetworkErrorNoCache

	// StatusNoCache means nothing is cached and no refresh is running.
	StatusNoCache
)

func (s Status) String() string {
	switch s {
	case StatusFirstRun:
		return "first_run"
	case StatusUpdating:
		return "updating"
	case StatusCurrent:
		return "current"
	case StatusNetworkErrorCached:
		return "network_error_cached"
	case StatusNetworkErrorNoCache:
		return "network_error_no_cache"
	case StatusNoCache:
		return "no_cache"
	default:
		return "unknown"
	}
}

// deriveStatus computes the user-facing status from what is cached and the
// run registry's view of this fingerprint. prior is the terminal snapshot of
// the most recent finished run, if any; active is a run still in flight.
// A prior failure wins over a just-started retry so the caller sees the
// outage instead of a perpetual "updating".
func deriveStatus(hasCache bool, prior, active *refresh.Snapshot) Status {
	if prior != nil {
		switch prior.State {
		case refresh.StateErrorNoCache:
			if !hasCache {
				return StatusNetworkErrorNoCache
			}
			return StatusNetworkErrorCached
		case refresh.StateErrorServeCache:
			if hasCache {
				return StatusNetworkErrorCached
			}
			return StatusNetworkErrorNoCache
		}
	}

	if active != nil {
		if hasCache {
			return StatusUpdating
		}
		return StatusFirstRun
	}

	if hasCache {
		return StatusCurrent
	}
	return StatusNoCache
}

// FormatAge renders a cache age the way the status line shows it:
// "45s ago", "12m ago", "2h 5m ago", "3d ago".
func FormatAge(age time.Duration) string {
	secs := int(age.Seconds())
	if secs < 0 {
		secs = 0
	}

	switch {
	case secs < 60:
		return fmt.Sprintf("%ds ago", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm ago", secs/60)
	case secs < 86400:
		hours := secs / 3600
		mins := (secs % 3600) / 60
		if mins > 0 {
			return fmt.Sprintf("%dh %dm ago", hours, mins)
		}
		return fmt.Sprintf("%dh ago", hours)
	default:
		days := secs / 86400
		hours := (secs % 86400) / 3600
		if hours > 0 {
			return fmt.Sprintf("%dd %dh ago", days, hours)
		}
		return fmt.Sprintf("%dd ago", days)
	}
}
