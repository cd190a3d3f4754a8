package deploy

import (
	"context"
	"log/slog"
	"time"
)

// Stage is a step of the deployment pipeline.
type Stage string

const (
	StageStarted              Stage = "Started"
	StageDownloaded           Stage = "Downloaded"
	StageExtracted            Stage = "Extracted"
	StageDescriptorReady      Stage = "DescriptorReady"
	StageImagePublished       Stage = "ImagePublished"
	StageResourcesProvisioned Stage = "ResourcesProvisioned"
	StageCompleted            Stage = "Completed"
	StageFailed               Stage = "Failed"
)

// Transition is emitted every time a run changes stage. Elapsed is the
// time spent in From. Err is set when To is StageFailed.
type Transition struct {
	RunID   string
	Repo    string
	From    Stage
	To      Stage
	Elapsed time.Duration
	Err     error
}

// StageObserver receives stage transitions.
type StageObserver interface {
	Observe(ctx context.Context, t Transition)
}

// Observers fans a transition out to several observers.
type Observers []StageObserver

func (o Observers) Observe(ctx context.Context, t Transition) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ctx, t)
		}
	}
}

// LogObserver writes transitions to a structured logger.
type LogObserver struct {
	Logger *slog.Logger
}

func (l LogObserver) Observe(ctx context.Context, t Transition) {
	attrs := []any{"run_id", t.RunID, "repo", t.Repo, "from", t.From, "to", t.To, "elapsed_ms", t.Elapsed.Milliseconds()}
	if t.Err != nil {
		l.Logger.ErrorContext(ctx, "deployment stage failed", append(attrs, "error", t.Err)...)
		return
	}
	l.Logger.InfoContext(ctx, "deployment stage", attrs...)
}
