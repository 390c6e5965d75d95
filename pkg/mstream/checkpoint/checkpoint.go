// Package checkpoint implements the Checkpointer (C11): Save/Load/LoadAll
// over per-job cursor snapshots, with retention of the newest 20 per job.
// Grounded on original_source/src/checkpoint/mod.rs and
// original_source/src/mongodb/checkpoint.rs.
package checkpoint

import (
	"context"

	"github.com/makarski/mstream/pkg/mstream/merr"
)

// Checkpoint is a single saved cursor for a job, per spec.md §3.
type Checkpoint struct {
	JobName   string `bson:"job_name" json:"job_name"`
	Cursor    []byte `bson:"cursor" json:"cursor"`
	UpdatedAt int64  `bson:"updated_at" json:"updated_at"`
}

// Checkpointer is the storage-agnostic interface the Event Processor and Job
// Manager depend on.
type Checkpointer interface {
	Load(ctx context.Context, jobName string) (Checkpoint, error)
	LoadAll(ctx context.Context, jobName string) ([]Checkpoint, error)
	Save(ctx context.Context, cp Checkpoint) error
}

// NoopCheckpointer is the default when no checkpoint service is configured,
// matching original_source/src/checkpoint/mod.rs's NoopCheckpointer.
type NoopCheckpointer struct{}

func (NoopCheckpointer) Load(_ context.Context, _ string) (Checkpoint, error) {
	return Checkpoint{}, merr.CheckpointError(merr.SubNotFound, "checkpoint not found: noop")
}

func (NoopCheckpointer) LoadAll(_ context.Context, _ string) ([]Checkpoint, error) {
	return nil, nil
}

func (NoopCheckpointer) Save(_ context.Context, _ Checkpoint) error {
	return nil
}
