package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tunevault/tunevault/internal/config"
)

// Queue names. Preview work parallelizes freely; import work is
// serialized on one worker so the library only ever has one writer.
const (
	QueuePreview = "preview"
	QueueImport  = "import"
)

// Task type names registered on the mux.
const (
	TaskPreview              = "session:preview"
	TaskPreviewAddCandidates = "session:add_candidates"
	TaskImportCandidate      = "session:import_candidate"
	TaskImportAuto           = "session:import_auto"
	TaskImportBootleg        = "session:import_bootleg"
	TaskImportUndo           = "session:import_undo"
)

// Queue wraps the asynq client and two servers: one with configurable
// concurrency draining the preview queue, one single-worker server
// draining the import queue.
type Queue struct {
	client        *asynq.Client
	previewServer *asynq.Server
	importServer  *asynq.Server
	mux           *asynq.ServeMux
	inspector     *asynq.Inspector
	timeout       time.Duration
}

func NewQueue(cfg *config.Config) *Queue {
	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	previewServer := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.PreviewWorkers,
		Queues:      map[string]int{QueuePreview: 1},
	})
	importServer := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{QueueImport: 1},
	})
	return &Queue{
		client:        asynq.NewClient(redisOpt),
		previewServer: previewServer,
		importServer:  importServer,
		mux:           asynq.NewServeMux(),
		inspector:     asynq.NewInspector(redisOpt),
		timeout:       cfg.JobTimeout,
	}
}

func (q *Queue) RegisterHandler(taskType string, handler asynq.Handler) {
	q.mux.Handle(taskType, handler)
}

// isTaskConflict checks whether the error indicates a task ID conflict,
// using errors.Is for unwrapped sentinel values and a string fallback.
func isTaskConflict(err error) bool {
	if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "task ID conflicts") || strings.Contains(msg, "duplicate task")
}

// Enqueue puts a job on the named queue with a deterministic task id,
// so the same kind for the same folder is never queued twice. A stale
// completed task with the same id is cleared and the enqueue retried.
func (q *Queue) Enqueue(taskType, queue string, payload interface{}, uniqueID string, opts ...asynq.Option) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	opts = append(opts,
		asynq.Queue(queue),
		asynq.TaskID(uniqueID),
		asynq.Timeout(q.timeout),
		asynq.Retention(24*time.Hour),
	)
	task := asynq.NewTask(taskType, data, opts...)
	info, err := q.client.Enqueue(task)
	if err == nil {
		return info.ID, nil
	}
	if !isTaskConflict(err) {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	if delErr := q.inspector.DeleteTask(queue, uniqueID); delErr == nil {
		log.Printf("Queue: cleared finished task %s from queue %s", uniqueID, queue)
		if info, err = q.client.Enqueue(task); err == nil {
			return info.ID, nil
		}
	}
	if isTaskConflict(err) {
		// Still queued or actively running; the existing job covers it.
		log.Printf("Queue: task %s (%s) already queued, skipping", taskType, uniqueID)
		return uniqueID, nil
	}
	return "", fmt.Errorf("enqueue: %w", err)
}

// Revoke removes a queued job before it starts. Running jobs are left
// alone; they finish their current stage.
func (q *Queue) Revoke(queue, taskID string) error {
	return q.inspector.DeleteTask(queue, taskID)
}

// Result fetches the stored job result, nil when the job is unknown or
// produced none.
func (q *Queue) Result(queue, taskID string) []byte {
	info, err := q.inspector.GetTaskInfo(queue, taskID)
	if err != nil {
		return nil
	}
	return info.Result
}

func (q *Queue) Start(ctx context.Context) error {
	log.Printf("Queue: starting workers (preview + import)")
	if err := q.previewServer.Start(q.mux); err != nil {
		return err
	}
	return q.importServer.Start(q.mux)
}

func (q *Queue) Stop() {
	q.previewServer.Shutdown()
	q.importServer.Shutdown()
	q.client.Close()
	q.inspector.Close()
}
