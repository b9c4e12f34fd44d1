package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for HTTP requests and job processing.
// This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	jobsTotal  = make(map[string]int64)
	tasksTotal = make(map[taskKey]int64)

	taskDurationMsSum   = make(map[string]int64)
	taskDurationMsCount = make(map[string]int64)

	reportsTotal = make(map[string]int64)

	retentionJobsDeleted int64
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type taskKey struct {
	Provider string
	Model    string
	Outcome  string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordJob counts a finished job by its terminal status.
func RecordJob(status string) {
	mu.Lock()
	defer mu.Unlock()
	jobsTotal[status]++
}

// RecordTask counts one resolved vision task and accumulates its
// duration so average task latency can be derived per provider.
func RecordTask(provider, model string, success bool, durationMs int64) {
	mu.Lock()
	defer mu.Unlock()

	outcome := "failed"
	if success {
		outcome = "success"
	}
	tasksTotal[taskKey{Provider: provider, Model: model, Outcome: outcome}]++

	if durationMs > 0 {
		taskDurationMsSum[provider] += durationMs
		taskDurationMsCount[provider]++
	}
}

// RecordReport counts a report build attempt by outcome.
func RecordReport(outcome string) {
	mu.Lock()
	defer mu.Unlock()
	reportsTotal[outcome]++
}

// RecordRetentionJobs increments the counter of jobs evicted by TTL
// cleanup.
func RecordRetentionJobs(deleted int64) {
	if deleted <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	retentionJobsDeleted += deleted
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP atelier_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE atelier_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		v := requestsTotal[k]
		fmt.Fprintf(&b, "atelier_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, v)
	}

	b.WriteString("# HELP atelier_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE atelier_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP atelier_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE atelier_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		sum := latencyMsSum[k]
		cnt := latencyMsCount[k]
		fmt.Fprintf(&b, "atelier_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, sum)
		fmt.Fprintf(&b, "atelier_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, cnt)
	}

	// Job metrics
	b.WriteString("# HELP atelier_jobs_total Total finished jobs by terminal status\n")
	b.WriteString("# TYPE atelier_jobs_total counter\n")

	var jobStatuses []string
	for s := range jobsTotal {
		jobStatuses = append(jobStatuses, s)
	}
	sort.Strings(jobStatuses)
	for _, s := range jobStatuses {
		fmt.Fprintf(&b, "atelier_jobs_total{status=\"%s\"} %d\n", s, jobsTotal[s])
	}

	// Task metrics
	b.WriteString("# HELP atelier_tasks_total Total resolved vision tasks\n")
	b.WriteString("# TYPE atelier_tasks_total counter\n")

	var taskKeys []taskKey
	for k := range tasksTotal {
		taskKeys = append(taskKeys, k)
	}
	sort.Slice(taskKeys, func(i, j int) bool {
		if taskKeys[i].Provider != taskKeys[j].Provider {
			return taskKeys[i].Provider < taskKeys[j].Provider
		}
		if taskKeys[i].Model != taskKeys[j].Model {
			return taskKeys[i].Model < taskKeys[j].Model
		}
		return taskKeys[i].Outcome < taskKeys[j].Outcome
	})

	for _, k := range taskKeys {
		v := tasksTotal[k]
		fmt.Fprintf(&b, "atelier_tasks_total{provider=\"%s\",model=\"%s\",outcome=\"%s\"} %d\n",
			k.Provider, k.Model, k.Outcome, v)
	}

	b.WriteString("# HELP atelier_task_duration_ms_sum Total task duration in milliseconds by provider\n")
	b.WriteString("# TYPE atelier_task_duration_ms_sum counter\n")
	b.WriteString("# HELP atelier_task_duration_ms_count Resolved task count for duration metric\n")
	b.WriteString("# TYPE atelier_task_duration_ms_count counter\n")

	var durProviders []string
	for p := range taskDurationMsSum {
		durProviders = append(durProviders, p)
	}
	sort.Strings(durProviders)
	for _, p := range durProviders {
		fmt.Fprintf(&b, "atelier_task_duration_ms_sum{provider=\"%s\"} %d\n", p, taskDurationMsSum[p])
		fmt.Fprintf(&b, "atelier_task_duration_ms_count{provider=\"%s\"} %d\n", p, taskDurationMsCount[p])
	}

	// Report metrics
	b.WriteString("# HELP atelier_reports_total Total report build attempts by outcome\n")
	b.WriteString("# TYPE atelier_reports_total counter\n")

	var reportOutcomes []string
	for o := range reportsTotal {
		reportOutcomes = append(reportOutcomes, o)
	}
	sort.Strings(reportOutcomes)
	for _, o := range reportOutcomes {
		fmt.Fprintf(&b, "atelier_reports_total{outcome=\"%s\"} %d\n", o, reportsTotal[o])
	}

	// Retention metrics
	b.WriteString("# HELP atelier_retention_jobs_deleted_total Jobs evicted by retention cleanup\n")
	b.WriteString("# TYPE atelier_retention_jobs_deleted_total counter\n")
	fmt.Fprintf(&b, "atelier_retention_jobs_deleted_total %d\n", retentionJobsDeleted)

	return b.String()
}
