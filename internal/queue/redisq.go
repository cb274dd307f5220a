// Package queue owns the authoritative job records and the named queues
// the worker fleet consumes. Job hashes live at job:{id}; pending
// descriptors are LPUSHed as JSON onto doc_queue/img_queue/av_queue. Both
// key layouts are the wire contract with the workers.
package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/allinconverter/aic-core/internal/domain"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrBrokerUnavailable = errors.New("job broker unavailable")
	ErrBadTransition     = errors.New("invalid status transition")
)

// adminStates are the per-queue bookkeeping lists maintained by the
// workers; the core only reads and resets them.
var adminStates = []string{"waiting", "active", "completed", "failed", "delayed"}

type Manager struct{ rdb *r.Client }

func New(rdb *r.Client) *Manager { return &Manager{rdb} }

func jobKey(id string) string { return "job:" + id }

// Create writes the job record and pushes its descriptor onto the queue
// selected by the operation family. Both writes run in one transactional
// pipeline so a crash cannot leave a job queued-but-unknown or
// known-but-unqueued.
func (m *Manager) Create(ctx context.Context, converter, inputKey, outputKey string, options map[string]interface{}) (domain.Job, error) {
	if options == nil {
		// Workers expect an options object, not a JSON null.
		options = map[string]interface{}{}
	}
	job := domain.Job{
		ID:        uuid.NewString(),
		Converter: converter,
		InputKey:  inputKey,
		OutputKey: outputKey,
		Options:   options,
		CreatedAt: time.Now().UTC().Format(domain.TimeLayout),
		Status:    domain.Pending,
		Progress:  0,
	}

	descriptor, err := json.Marshal(job)
	if err != nil {
		return domain.Job{}, errors.Wrap(err, "marshal job descriptor")
	}
	fields, err := hashFields(job)
	if err != nil {
		return domain.Job{}, err
	}

	pipe := m.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID), fields)
	pipe.LPush(ctx, AssignQueue(converter), descriptor)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Job{}, errors.Wrapf(ErrBrokerUnavailable, "create job: %v", err)
	}
	return job, nil
}

// Get loads the authoritative job record.
func (m *Manager) Get(ctx context.Context, id string) (domain.Job, error) {
	data, err := m.rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return domain.Job{}, errors.Wrapf(ErrBrokerUnavailable, "get job %s: %v", id, err)
	}
	if len(data) == 0 {
		return domain.Job{}, errors.Wrapf(ErrJobNotFound, "job %s", id)
	}
	return jobFromHash(id, data), nil
}

// UpdateStatus is the workers' mutation primitive; the core only calls it
// from tests. Transitions must move forward: a terminal job never changes
// again and the pipeline never runs backwards.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status domain.Status, progress int, errMsg string) error {
	current, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if !current.Status.CanTransitionTo(status) {
		return errors.Wrapf(ErrBadTransition, "%s -> %s", current.Status, status)
	}

	fields := map[string]interface{}{
		"status":   string(status),
		"progress": strconv.Itoa(progress),
	}
	if errMsg != "" {
		fields["error"] = errMsg
	}
	if err := m.rdb.HSet(ctx, jobKey(id), fields).Err(); err != nil {
		return errors.Wrapf(ErrBrokerUnavailable, "update job %s: %v", id, err)
	}
	return nil
}

// Depths reports the pending length of each conversion queue.
func (m *Manager) Depths(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(Queues))
	for _, q := range Queues {
		n, err := m.rdb.LLen(ctx, q).Result()
		if err != nil {
			return nil, errors.Wrapf(ErrBrokerUnavailable, "llen %s: %v", q, err)
		}
		out[q] = n
	}
	return out, nil
}

// StateDepths reads the per-state bookkeeping lists the workers maintain
// under {queue}:{state}, for the admin metrics view.
func (m *Manager) StateDepths(ctx context.Context) (map[string]map[string]int64, error) {
	names := append(append([]string{}, Queues...), JanitorQueue)
	out := make(map[string]map[string]int64, len(names))
	for _, q := range names {
		states := make(map[string]int64, len(adminStates))
		for _, st := range adminStates {
			n, err := m.rdb.LLen(ctx, q+":"+st).Result()
			if err != nil {
				return nil, errors.Wrapf(ErrBrokerUnavailable, "llen %s:%s: %v", q, st, err)
			}
			states[st] = n
		}
		out[q] = states
	}
	return out, nil
}

// Reset drops every queue list and its per-state bookkeeping. Destructive,
// admin-only, idempotent.
func (m *Manager) Reset(ctx context.Context) error {
	names := append(append([]string{}, Queues...), JanitorQueue)
	pipe := m.rdb.TxPipeline()
	for _, q := range names {
		pipe.Del(ctx, q)
		for _, st := range adminStates {
			pipe.Del(ctx, q+":"+st)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(ErrBrokerUnavailable, "reset queues: %v", err)
	}
	return nil
}

func (m *Manager) Ping(ctx context.Context) error {
	if err := m.rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrapf(ErrBrokerUnavailable, "ping: %v", err)
	}
	return nil
}

func hashFields(j domain.Job) (map[string]interface{}, error) {
	opts, err := json.Marshal(j.Options)
	if err != nil {
		return nil, errors.Wrap(err, "marshal job options")
	}
	fields := map[string]interface{}{
		"id":        j.ID,
		"converter": j.Converter,
		"inputKey":  j.InputKey,
		"outputKey": j.OutputKey,
		"options":   string(opts),
		"createdAt": j.CreatedAt,
		"status":    string(j.Status),
		"progress":  strconv.Itoa(j.Progress),
	}
	if j.Error != "" {
		fields["error"] = j.Error
	}
	return fields, nil
}

func jobFromHash(id string, data map[string]string) domain.Job {
	progress, _ := strconv.Atoi(data["progress"])
	job := domain.Job{
		ID:        id,
		Converter: data["converter"],
		InputKey:  data["inputKey"],
		OutputKey: data["outputKey"],
		CreatedAt: data["createdAt"],
		Status:    domain.Status(data["status"]),
		Progress:  progress,
		Error:     data["error"],
	}
	if raw := data["options"]; raw != "" {
		// Options written by older workers may not be valid JSON; a job
		// read must not fail because of them.
		_ = json.Unmarshal([]byte(raw), &job.Options)
	}
	return job
}
