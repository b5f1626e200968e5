// Package metrics abstracts run/stage instrumentation so the pipeline can be
// instrumented identically in one-shot CLI runs (noop) and daemon mode
// (Prometheus).
package metrics

import "time"

// Recorder receives pipeline instrumentation events.
type Recorder interface {
	// ObserveStage records the duration and result of one pipeline stage
	// (sync, build, resolve, publish).
	ObserveStage(stage string, d time.Duration, success bool)
	// RunOutcome counts a finished run by final status (success, sync_failed, ...).
	RunOutcome(outcome string)
	// PublishResult counts symlink outcomes (created, unchanged, replaced, refused).
	PublishResult(result string)
	// GitRetry counts a retried git operation.
	GitRetry()
	// SetCoursesConfigured tracks the configured course count.
	SetCoursesConfigured(n int)
}

// Noop is a Recorder that discards everything.
type Noop struct{}

func (Noop) ObserveStage(string, time.Duration, bool) {}
func (Noop) RunOutcome(string)                        {}
func (Noop) PublishResult(string)                     {}
func (Noop) GitRetry()                                {}
func (Noop) SetCoursesConfigured(int)                 {}
