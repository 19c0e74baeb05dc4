// Package progress carries the live event stream emitted by setup and
// crawl runs: run lifecycle milestones plus per-page completions. Events
// flow through a non-blocking hub into pluggable sinks.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// RunKind distinguishes the two run families that emit progress.
type RunKind string

const (
	RunSetup RunKind = "setup"
	RunCrawl RunKind = "crawl"
)

// Stage denotes which milestone an Event represents.
type Stage string

const (
	StageRunStart     Stage = "RUN_START"
	StageRunDone      Stage = "RUN_DONE"
	StageRunError     Stage = "RUN_ERROR"
	StageRunCancelled Stage = "RUN_CANCELLED"
	StagePageDone     Stage = "PAGE_DONE"
	StagePageError    Stage = "PAGE_ERROR"
)

// Event is a single progress sample from a running job.
type Event struct {
	// RunID identifies the setup or crawl run emitting the event.
	RunID string
	// Kind says which run family RunID belongs to.
	Kind RunKind
	// Stage is the milestone type.
	Stage Stage
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// SiteID scopes the event to one site.
	SiteID string
	// URL is set on page-level events.
	URL string
	// Processed and Total drive percentage reporting on page events.
	Processed int
	Total     int
	// Dur is the elapsed time for the page or the whole run.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Percent returns the completion ratio in [0,100].
func (e Event) Percent() float64 {
	if e.Total <= 0 {
		return 0
	}
	return float64(e.Processed) / float64(e.Total) * 100
}

// Validate rejects events a sink could not attribute.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case RunSetup, RunCrawl:
	default:
		return fmt.Errorf("unknown run kind %q", e.Kind)
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageRunCancelled:
	case StagePageDone, StagePageError:
		if e.URL == "" {
			return errors.New("page event requires url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
