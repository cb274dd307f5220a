// Package metrics assembles the privileged operational view: queue depths,
// process stats, job totals and the rolling performance figures sampled
// from the recent-jobs ring the workers maintain in Redis.
package metrics

import (
	"context"
	"encoding/json"
	"runtime"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/allinconverter/aic-core/internal/queue"
)

// performanceKey is the Redis list workers push {duration} samples onto
// after each job; part of the worker wire contract.
const performanceKey = "job:performance"

// sampleWindow bounds how much of the ring one snapshot reads.
const sampleWindow = 100

type QueueMetrics struct {
	Name      string `json:"name"`
	Waiting   int64  `json:"waiting"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Delayed   int64  `json:"delayed"`
}

type Snapshot struct {
	Timestamp string         `json:"timestamp"`
	Queues    []QueueMetrics `json:"queues"`
	System    SystemStats    `json:"system"`
	Jobs      JobStats       `json:"jobs"`
	Perf      PerfStats      `json:"performance"`
}

type SystemStats struct {
	UptimeSec   int64 `json:"uptime"`
	MemoryUsed  int64 `json:"memoryUsed"`
	MemoryTotal int64 `json:"memoryTotal"`
	MemoryPct   int   `json:"memoryPercentage"`
}

type JobStats struct {
	Total       int64 `json:"total"`
	Completed   int64 `json:"completed"`
	Failed      int64 `json:"failed"`
	SuccessRate int   `json:"successRate"`
}

type PerfStats struct {
	AvgProcessingMs int64 `json:"avgProcessingTime"`
	ThroughputPerHr int64 `json:"throughput"`
}

type Recorder struct {
	rdb     *r.Client
	jobs    *queue.Manager
	started time.Time
}

func NewRecorder(rdb *r.Client, jobs *queue.Manager, started time.Time) *Recorder {
	return &Recorder{rdb: rdb, jobs: jobs, started: started}
}

// Snapshot gathers the full metrics view. Per-queue read failures degrade
// to zeroed rows rather than failing the whole report.
func (rec *Recorder) Snapshot(ctx context.Context) (Snapshot, error) {
	now := time.Now().UTC()
	snap := Snapshot{Timestamp: now.Format(time.RFC3339)}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	snap.System = SystemStats{
		UptimeSec:   int64(now.Sub(rec.started).Seconds()),
		MemoryUsed:  int64(mem.HeapAlloc),
		MemoryTotal: int64(mem.HeapSys),
	}
	if mem.HeapSys > 0 {
		snap.System.MemoryPct = int(mem.HeapAlloc * 100 / mem.HeapSys)
	}

	states, err := rec.jobs.StateDepths(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	names := append(append([]string{}, queue.Queues...), queue.JanitorQueue)
	for _, name := range names {
		st := states[name]
		qm := QueueMetrics{
			Name:      name,
			Waiting:   st["waiting"],
			Active:    st["active"],
			Completed: st["completed"],
			Failed:    st["failed"],
			Delayed:   st["delayed"],
		}
		snap.Queues = append(snap.Queues, qm)
		snap.Jobs.Completed += qm.Completed
		snap.Jobs.Failed += qm.Failed
	}
	snap.Jobs.Total = snap.Jobs.Completed + snap.Jobs.Failed
	if snap.Jobs.Total > 0 {
		snap.Jobs.SuccessRate = int(snap.Jobs.Completed * 100 / snap.Jobs.Total)
	}

	snap.Perf.AvgProcessingMs = rec.avgProcessing(ctx)
	if hours := now.Sub(rec.started).Hours(); hours > 0 {
		snap.Perf.ThroughputPerHr = int64(float64(snap.Jobs.Total) / hours)
	}
	return snap, nil
}

type perfSample struct {
	Duration int64 `json:"duration"`
}

func (rec *Recorder) avgProcessing(ctx context.Context) int64 {
	raw, err := rec.rdb.LRange(ctx, performanceKey, 0, sampleWindow-1).Result()
	if err != nil || len(raw) == 0 {
		return 0
	}
	var sum, n int64
	for _, item := range raw {
		var s perfSample
		if json.Unmarshal([]byte(item), &s) != nil || s.Duration <= 0 {
			continue
		}
		sum += s.Duration
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

// Clear drops the sampled performance data. Idempotent.
func (rec *Recorder) Clear(ctx context.Context) error {
	if err := rec.rdb.Del(ctx, performanceKey).Err(); err != nil {
		return errors.Wrap(err, "clear performance samples")
	}
	return nil
}
