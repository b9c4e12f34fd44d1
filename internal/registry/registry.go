package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"atelier/internal/model"
	"atelier/internal/notify"
)

// Registry is the single source of truth for jobs and their file
// tasks. All state lives in process memory; nothing survives a
// restart. Every mutation of a given job is serialized by that job's
// own mutex, and snapshots published to the bus are produced under the
// same lock, so no observer sees a torn intermediate state and the
// sequence of snapshots for one job is monotonic in resolved count.
type Registry struct {
	logger *slog.Logger
	bus    *notify.Bus

	// defaultTaskEstimate seeds the ETA before the first real task
	// duration has been observed.
	defaultTaskEstimate time.Duration

	mu   sync.RWMutex
	jobs map[uuid.UUID]*job
}

// job is the internal mutable record. It is never handed out; callers
// only ever see Snapshot projections.
type job struct {
	mu sync.Mutex

	id        uuid.UUID
	status    model.JobStatus
	total     int
	completed int
	failed    int
	files     []*model.FileTask
	results   []model.ResultRecord
	errors    []model.ErrorRecord
	createdAt time.Time
	updatedAt time.Time

	// finalizing is the single-writer guard for the terminal
	// transition: set once by TryBeginFinalize so that the report is
	// built and Finalize runs exactly once even when the last two
	// tasks resolve simultaneously.
	finalizing bool
	report     *model.Report
}

func New(bus *notify.Bus, defaultTaskEstimate time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTaskEstimate <= 0 {
		defaultTaskEstimate = 20 * time.Second
	}
	return &Registry{
		logger:              logger,
		bus:                 bus,
		defaultTaskEstimate: defaultTaskEstimate,
		jobs:                make(map[uuid.UUID]*job),
	}
}

// CreateJob allocates a job covering the given file tasks. Task order
// follows slice order and is preserved through to the report. The
// returned snapshot reflects the freshly queued job.
func (r *Registry) CreateJob(files []model.FileTask) model.Snapshot {
	now := time.Now().UTC()
	j := &job{
		id:        uuid.New(),
		status:    model.JobQueued,
		total:     len(files),
		createdAt: now,
		updatedAt: now,
	}
	for i := range files {
		f := files[i]
		f.ID = uuid.New()
		f.Order = i
		f.Status = model.TaskQueued
		j.files = append(j.files, &f)
	}

	r.mu.Lock()
	r.jobs[j.id] = j
	r.mu.Unlock()

	j.mu.Lock()
	defer j.mu.Unlock()
	return r.snapshotLocked(j)
}

// TaskPayloads returns the id and raw image bytes of every task in
// submission order. The dispatcher uses this once at admission time;
// afterwards the registry remains the only holder of payloads until
// each task resolves.
func (r *Registry) TaskPayloads(jobID uuid.UUID) []model.FileTask {
	j := r.lookup(jobID)
	if j == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]model.FileTask, 0, len(j.files))
	for _, f := range j.files {
		out = append(out, *f)
	}
	return out
}

// MarkTaskProcessing flags a task as in flight and moves a queued job
// to processing on first admission. Unknown job or task ids are a
// silent no-op: this is a best-effort progress signal, not a
// correctness-bearing operation.
func (r *Registry) MarkTaskProcessing(jobID, taskID uuid.UUID) {
	j := r.lookup(jobID)
	if j == nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f := j.task(taskID)
	if f == nil {
		return
	}
	f.Status = model.TaskProcessing
	if j.status == model.JobQueued {
		j.status = model.JobProcessing
	}
	j.touch()
	r.publishLocked(j)
}

// RecordSuccess stores the result of one described image, advances the
// completed counter and releases the task's image bytes.
func (r *Registry) RecordSuccess(jobID, taskID uuid.UUID, description string, tokens int, duration time.Duration) {
	j := r.lookup(jobID)
	if j == nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f := j.task(taskID)
	if f == nil || f.Status == model.TaskCompleted || f.Status == model.TaskFailed {
		return
	}

	j.completed++
	f.Status = model.TaskCompleted
	f.DurationMs = duration.Milliseconds()
	f.Payload = nil
	j.results = append(j.results, model.ResultRecord{
		TaskID:      taskID,
		Description: description,
		Tokens:      tokens,
		DurationMs:  duration.Milliseconds(),
	})
	j.touch()
	r.publishLocked(j)
}

// RecordFailure records one task's error, advances the failed counter
// and releases the task's image bytes. One task's failure never
// affects its siblings.
func (r *Registry) RecordFailure(jobID, taskID uuid.UUID, message string, duration time.Duration) {
	j := r.lookup(jobID)
	if j == nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f := j.task(taskID)
	if f == nil || f.Status == model.TaskCompleted || f.Status == model.TaskFailed {
		return
	}

	j.failed++
	f.Status = model.TaskFailed
	f.Error = message
	if duration > 0 {
		f.DurationMs = duration.Milliseconds()
	}
	f.Payload = nil
	j.errors = append(j.errors, model.ErrorRecord{TaskID: taskID, Message: message})
	j.touch()
	r.publishLocked(j)
}

// IsResolved reports whether every task of the job has resolved.
func (r *Registry) IsResolved(jobID uuid.UUID) bool {
	j := r.lookup(jobID)
	if j == nil {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.completed+j.failed == j.total
}

// TryBeginFinalize claims the exactly-once right to finalize a
// resolved job. It returns true for exactly one caller per job; every
// later or concurrent caller gets false. The claim is made under the
// job's mutation lock, so two completion callbacks racing on the last
// task cannot both win.
func (r *Registry) TryBeginFinalize(jobID uuid.UUID) bool {
	j := r.lookup(jobID)
	if j == nil {
		return false
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.finalizing || j.status.Terminal() {
		return false
	}
	if j.completed+j.failed != j.total {
		return false
	}
	j.finalizing = true
	return true
}

// Finalize moves the job to its terminal status and attaches the
// report, if any. The terminal status is failed when nothing
// completed, completed_with_errors when anything failed, and completed
// otherwise. Calling Finalize on an already terminal job is a no-op,
// which guards against duplicate finalization triggers.
func (r *Registry) Finalize(jobID uuid.UUID, report *model.Report) {
	j := r.lookup(jobID)
	if j == nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.Terminal() {
		return
	}

	switch {
	case j.completed == 0:
		j.status = model.JobFailed
	case j.failed > 0:
		j.status = model.JobCompletedWithErrors
	default:
		j.status = model.JobCompleted
	}
	j.report = report

	// Any payload still held (tasks never admitted, dispatcher shut
	// down early) is redundant once the job is terminal.
	for _, f := range j.files {
		f.Payload = nil
	}

	j.touch()
	r.logger.Info("job finalized",
		"job_id", j.id.String(),
		"status", string(j.status),
		"completed", j.completed,
		"failed", j.failed,
		"report", report != nil,
	)
	r.publishLocked(j)
}

// Snapshot returns a read-only projection of the job, or false when
// the job is unknown.
func (r *Registry) Snapshot(jobID uuid.UUID) (model.Snapshot, bool) {
	j := r.lookup(jobID)
	if j == nil {
		return model.Snapshot{}, false
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return r.snapshotLocked(j), true
}

// Export returns the finalized report artifact, or false when the job
// is unknown or no report has been attached yet. Repeated calls return
// the same bytes.
func (r *Registry) Export(jobID uuid.UUID) (model.Report, bool) {
	j := r.lookup(jobID)
	if j == nil {
		return model.Report{}, false
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.report == nil {
		return model.Report{}, false
	}
	return *j.report, true
}

func (r *Registry) lookup(jobID uuid.UUID) *job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[jobID]
}

func (j *job) task(taskID uuid.UUID) *model.FileTask {
	for _, f := range j.files {
		if f.ID == taskID {
			return f
		}
	}
	return nil
}

func (j *job) touch() {
	j.updatedAt = time.Now().UTC()
}

// publishLocked broadcasts the current snapshot. It runs under the
// job's mutex so subscribers observe snapshots in mutation order;
// listeners must therefore never call back into mutating registry
// operations for the same job.
func (r *Registry) publishLocked(j *job) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(j.id, r.snapshotLocked(j))
}

func (r *Registry) snapshotLocked(j *job) model.Snapshot {
	snap := model.Snapshot{
		ID:            j.id,
		Status:        j.status,
		Total:         j.total,
		Completed:     j.completed,
		Failed:        j.failed,
		DownloadReady: j.report != nil,
		CreatedAt:     j.createdAt,
		UpdatedAt:     j.updatedAt,
	}

	processed := j.completed + j.failed
	if j.total > 0 {
		snap.ProgressPercent = int(float64(processed)/float64(j.total)*100 + 0.5)
	}
	snap.EtaSeconds = r.etaSecondsLocked(j)

	snap.Files = make([]model.FileView, 0, len(j.files))
	for _, f := range j.files {
		snap.Files = append(snap.Files, model.FileView{
			ID:           f.ID,
			Order:        f.Order,
			OriginalName: f.OriginalName,
			Size:         f.Size,
			MimeType:     f.MimeType,
			Status:       f.Status,
			DurationMs:   f.DurationMs,
			Error:        f.Error,
		})
	}

	snap.Results = append([]model.ResultRecord(nil), j.results...)
	snap.Errors = append([]model.ErrorRecord(nil), j.errors...)

	for _, res := range j.results {
		snap.TokensUsed += res.Tokens
	}

	return snap
}

// etaSecondsLocked estimates remaining time as remaining tasks times
// the mean observed task duration, falling back to the configured
// default estimate before any sample exists. Zero once nothing
// remains.
func (r *Registry) etaSecondsLocked(j *job) int64 {
	remaining := j.total - j.completed - j.failed
	if remaining <= 0 {
		return 0
	}

	var sumMs, samples int64
	for _, f := range j.files {
		if (f.Status == model.TaskCompleted || f.Status == model.TaskFailed) && f.DurationMs > 0 {
			sumMs += f.DurationMs
			samples++
		}
	}

	avgMs := r.defaultTaskEstimate.Milliseconds()
	if samples > 0 {
		avgMs = sumMs / samples
	}

	eta := float64(remaining) * float64(avgMs) / 1000
	return int64(eta + 0.5)
}
