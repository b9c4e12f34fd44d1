package services

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"atelier/internal/dispatch"
	"atelier/internal/metrics"
	"atelier/internal/model"
	"atelier/internal/registry"
	"atelier/internal/report"
	"atelier/internal/vision"
)

// ErrNoFiles rejects a batch submission that contains no images.
var ErrNoFiles = errors.New("a batch needs at least one image")

// JobService ties the registry, dispatcher and report builder
// together: it admits batches, routes task completions back into the
// registry, and drives the exactly-once finalization of every job. It
// encapsulates orchestration so HTTP handlers do not talk to the
// dispatcher directly.
type JobService struct {
	reg     *registry.Registry
	disp    *dispatch.Dispatcher
	builder report.Builder
	logger  *slog.Logger

	// provider/model label the task metrics; they never influence
	// scheduling.
	provider string
	model    string
}

func NewJobService(reg *registry.Registry, disp *dispatch.Dispatcher, builder report.Builder, provider, model string, logger *slog.Logger) *JobService {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobService{
		reg:      reg,
		disp:     disp,
		builder:  builder,
		logger:   logger,
		provider: provider,
		model:    model,
	}
}

// Submit creates a job for the given files and admits every task to
// the dispatcher in submission order. It returns the freshly queued
// job's snapshot; processing continues in the background.
func (s *JobService) Submit(files []model.FileTask) (model.Snapshot, error) {
	if len(files) == 0 {
		return model.Snapshot{}, ErrNoFiles
	}

	snap := s.reg.CreateJob(files)
	s.logger.Info("job submitted", "job_id", snap.ID.String(), "total", snap.Total)

	for _, task := range s.reg.TaskPayloads(snap.ID) {
		jobID, taskID := snap.ID, task.ID

		future, err := s.disp.Submit(vision.Request{
			Image:    task.Payload,
			MimeType: task.MimeType,
			Filename: task.OriginalName,
		}, func() {
			s.reg.MarkTaskProcessing(jobID, taskID)
		})
		if err != nil {
			// Dispatcher already shut down: the task fails at
			// admission but the job still resolves and finalizes.
			s.reg.RecordFailure(jobID, taskID, err.Error(), 0)
			s.finalizeIfResolved(jobID)
			continue
		}

		go s.await(jobID, taskID, future)
	}

	return snap, nil
}

// await routes one task's outcome into the registry and triggers
// finalization when the job has fully resolved.
func (s *JobService) await(jobID, taskID uuid.UUID, future *dispatch.Future) {
	out := future.Wait()

	if out.Err != nil {
		s.reg.RecordFailure(jobID, taskID, out.Err.Error(), out.Duration)
		metrics.RecordTask(s.provider, s.model, false, out.Duration.Milliseconds())
	} else {
		s.reg.RecordSuccess(jobID, taskID, out.Result.Description, out.Result.Tokens, out.Duration)
		metrics.RecordTask(s.provider, s.model, true, out.Duration.Milliseconds())
	}

	s.finalizeIfResolved(jobID)
}

// finalizeIfResolved is the finalizer trigger. Every completion
// callback calls it, but TryBeginFinalize admits exactly one caller
// per job, so the report is built and Finalize runs exactly once even
// when the last tasks resolve simultaneously.
func (s *JobService) finalizeIfResolved(jobID uuid.UUID) {
	if !s.reg.TryBeginFinalize(jobID) {
		return
	}

	snap, ok := s.reg.Snapshot(jobID)
	if !ok {
		return
	}

	// A job with zero successes finalizes without an artifact; the
	// export endpoint keeps answering 409 for it.
	var rep *model.Report
	if snap.Completed > 0 {
		built, err := s.builder.Build(snap)
		if err != nil {
			s.logger.Error("report build failed", "job_id", jobID.String(), "error", err)
			metrics.RecordReport("failed")
		} else {
			rep = &built
			metrics.RecordReport("success")
		}
	} else {
		metrics.RecordReport("skipped")
	}

	s.reg.Finalize(jobID, rep)

	if final, ok := s.reg.Snapshot(jobID); ok {
		metrics.RecordJob(string(final.Status))
	}
}

// Snapshot exposes the registry's read path to the HTTP layer.
func (s *JobService) Snapshot(jobID uuid.UUID) (model.Snapshot, bool) {
	return s.reg.Snapshot(jobID)
}

// Export returns the finalized report artifact, if one exists.
func (s *JobService) Export(jobID uuid.UUID) (model.Report, bool) {
	return s.reg.Export(jobID)
}
