// Package job implements the Job Manager (C12): owns every running
// pipeline, exposes the start/stop/restart lifecycle, tracks JobMetadata,
// and enforces the service-in-use guard (I6). Grounded on
// original_source/src/job_manager/mod.rs,
// original_source/src/job_manager/in_memory.rs and
// original_source/src/job_manager/mongodb_store.rs.
package job

import (
	"github.com/makarski/mstream/pkg/mstream/config"
)

// State is a job's lifecycle state, per spec.md §4.10's state machine.
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateFailed  State = "failed"
)

// Metadata is the persisted record of one job, per spec.md §3's JobMetadata.
type Metadata struct {
	Name        string           `bson:"name" json:"name"`
	Pipeline    config.Connector `bson:"pipeline" json:"pipeline"`
	ServiceDeps []string         `bson:"service_deps" json:"service_deps"`
	State       State            `bson:"state" json:"state"`
	StartedAt   int64            `bson:"started_at" json:"started_at"`
	StoppedAt   *int64           `bson:"stopped_at,omitempty" json:"stopped_at,omitempty"`
}
