package inspection

import (
	"context"
	"errors"
	"time"

	"github.com/stackinspect/inspectd/internal/document"
)

// ErrNotFound is returned when the cluster has no workflow, pod or job
// for the requested inspection.
var ErrNotFound = errors.New("not found")

// Orchestrator is the cluster client that owns scheduling, workflow
// state and log storage. It is constructed once at startup and passed
// into the handlers that need it.
type Orchestrator interface {
	ScheduleInspection(ctx context.Context, req ScheduleRequest) (string, error)
	GetWorkflow(ctx context.Context, inspectionID string) (Workflow, error)
	GetPodLog(ctx context.Context, podName string) (string, error)
	GetPodStatusReport(ctx context.Context, podName string) (StatusReport, error)
	GetJobStatusReport(ctx context.Context, jobName string) (StatusReport, error)
	GetJobPodIDs(ctx context.Context, jobName string) ([]string, error)
}

// EventStore records inspection lifecycle events for operators. The
// orchestrator remains the sole owner of specification storage.
type EventStore interface {
	RecordSubmission(ctx context.Context, event Event) error
	Close()
}

// Publisher pushes lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces inspection IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// ScheduleRequest carries everything the orchestrator needs to submit
// one inspection workflow.
type ScheduleRequest struct {
	// InspectionID names the workflow; the identifier the orchestrator
	// returns from scheduling is the authoritative inspection ID.
	InspectionID string
	// Dockerfile content with single quotes already escaped.
	Dockerfile string
	// Specification is the parsed (escaped and cast) document.
	Specification document.Mapping
	// Target selects the workflow template to instantiate.
	Target string
	// Parameters are extra template arguments, e.g. hardware requirements.
	Parameters map[string]string
	// UseHardwareTemplate switches to the hardware-aware template.
	UseHardwareTemplate bool
}

// Workflow is the orchestrator-side state of one inspection.
type Workflow struct {
	Name       string
	Status     StatusReport
	Parameters []WorkflowParameter
}

// WorkflowParameter is one stored template argument.
type WorkflowParameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// StatusReport is a shape-free digest of pod, job or workflow state.
type StatusReport map[string]any

// Event is one entry of the inspection audit trail.
type Event struct {
	InspectionID string    `json:"inspection_id"`
	WorkflowID   string    `json:"workflow_id"`
	Target       string    `json:"workflow_target"`
	CreatedAt    time.Time `json:"created_at"`
}
