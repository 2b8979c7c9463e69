// Package metrics standardises metric emission for job and approval
// lifecycle events.
package metrics

import (
	"time"

	"github.com/steward-labs/steward/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	WorkType    string
	Transition  string
	Result      string
	FailureKind string
	Duration    time.Duration
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"work_type":  in.WorkType,
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.FailureKind != "" && in.Result == ResultError {
		tags["failure_kind"] = in.FailureKind
	}

	sink.Count("job.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// ApprovalMetric captures an approval gate decision for metric emission.
type ApprovalMetric struct {
	ActionName string
	Tier       string
	Decision   string
}

// EmitApprovalDecision emits a counter for one gate decision.
func EmitApprovalDecision(sink statsd.Sink, in ApprovalMetric) {
	if sink == nil {
		return
	}
	sink.Count("approval.decision", 1, map[string]string{
		"action":   in.ActionName,
		"tier":     in.Tier,
		"decision": in.Decision,
	})
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
