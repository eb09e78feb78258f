// Package status fans folder and job transitions out to connected
// clients. Workers publish onto Redis topics; the server side runs a
// subscriber that forwards decoded messages to the websocket hub.
package status

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/tunevault/tunevault/internal/apperr"
	"github.com/tunevault/tunevault/internal/session/state"
)

// Broker topics.
const (
	ChannelFolderStatus = "folder:status"
	ChannelJobStatus    = "job:status"
	ChannelFileSystem   = "inbox:fs"
)

// FolderStatusUpdate is published on every folder transition. Order is
// preserved per hash, not across hashes.
type FolderStatusUpdate struct {
	Hash      string             `json:"hash"`
	Path      string             `json:"path"`
	Status    state.FolderStatus `json:"status"`
	Exception *apperr.Serialized `json:"exception,omitempty"`
}

// JobMeta identifies an enqueued job to status queries and clients.
type JobMeta struct {
	FolderHash  string `json:"folder_hash"`
	FolderPath  string `json:"folder_path"`
	JobID       string `json:"job_id"`
	JobKind     string `json:"job_kind"`
	FrontendRef string `json:"frontend_ref,omitempty"`
}

// JobStatusUpdate is published on job lifecycle events.
type JobStatusUpdate struct {
	Message  string    `json:"message"`
	NumJobs  int       `json:"num_jobs"`
	JobMetas []JobMeta `json:"job_metas"`
}

// FileSystemUpdate is published on any inbox-tree change.
type FileSystemUpdate struct{}

// Notifier publishes status messages. Workers hold one; the zero-value
// Nop notifier is used in tests.
type Notifier interface {
	FolderStatus(hash, path string, st state.FolderStatus, exc error)
	JobStatus(message string, metas []JobMeta)
	FileSystemChanged()
}

// RedisNotifier publishes over a shared Redis connection.
type RedisNotifier struct {
	rdb *redis.Client
}

func NewRedisNotifier(addr string) *RedisNotifier {
	return &RedisNotifier{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func (n *RedisNotifier) publish(channel string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Status: marshal for %s failed: %v", channel, err)
		return
	}
	if err := n.rdb.Publish(context.Background(), channel, data).Err(); err != nil {
		log.Printf("Status: publish to %s failed: %v", channel, err)
	}
}

func (n *RedisNotifier) FolderStatus(hash, path string, st state.FolderStatus, exc error) {
	n.publish(ChannelFolderStatus, FolderStatusUpdate{
		Hash:      hash,
		Path:      path,
		Status:    st,
		Exception: apperr.Serialize(exc),
	})
}

func (n *RedisNotifier) JobStatus(message string, metas []JobMeta) {
	if metas == nil {
		metas = []JobMeta{}
	}
	n.publish(ChannelJobStatus, JobStatusUpdate{Message: message, NumJobs: len(metas), JobMetas: metas})
}

func (n *RedisNotifier) FileSystemChanged() {
	n.publish(ChannelFileSystem, FileSystemUpdate{})
}

func (n *RedisNotifier) Close() error { return n.rdb.Close() }

// Nop discards all updates.
type Nop struct{}

func (Nop) FolderStatus(string, string, state.FolderStatus, error) {}
func (Nop) JobStatus(string, []JobMeta)                            {}
func (Nop) FileSystemChanged()                                     {}
