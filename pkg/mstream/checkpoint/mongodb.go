package checkpoint

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/makarski/mstream/pkg/mstream/merr"
)

// MongoDB is a Checkpointer backed by a single collection, grounded on
// original_source/src/mongodb/checkpoint.rs's MongoDbCheckpointer: every
// save appends a new document, then trims anything older than the 20th
// newest for that job.
type MongoDB struct {
	Collection *mongo.Collection
}

func (m *MongoDB) Load(ctx context.Context, jobName string) (Checkpoint, error) {
	var cp Checkpoint
	err := m.Collection.FindOne(ctx,
		bson.M{"job_name": jobName},
		options.FindOne().SetSort(bson.M{"updated_at": -1}),
	).Decode(&cp)

	if err == mongo.ErrNoDocuments {
		return Checkpoint{}, merr.CheckpointError(merr.SubNotFound, "checkpoint not found: %s", jobName)
	}
	if err != nil {
		return Checkpoint{}, merr.CheckpointError(merr.SubStorageFailure, "load checkpoint for %s: %v", jobName, err)
	}
	return cp, nil
}

func (m *MongoDB) LoadAll(ctx context.Context, jobName string) ([]Checkpoint, error) {
	cur, err := m.Collection.Find(ctx,
		bson.M{"job_name": jobName},
		options.Find().SetSort(bson.M{"updated_at": -1}),
	)
	if err != nil {
		return nil, merr.CheckpointError(merr.SubStorageFailure, "load all checkpoints for %s: %v", jobName, err)
	}
	defer cur.Close(ctx)

	var out []Checkpoint
	if err := cur.All(ctx, &out); err != nil {
		return nil, merr.CheckpointError(merr.SubStorageFailure, "decode checkpoints for %s: %v", jobName, err)
	}
	return out, nil
}

func (m *MongoDB) Save(ctx context.Context, cp Checkpoint) error {
	if _, err := m.Collection.InsertOne(ctx, cp); err != nil {
		return merr.CheckpointError(merr.SubStorageFailure, "save checkpoint for %s: %v", cp.JobName, err)
	}

	cur, err := m.Collection.Find(ctx,
		bson.M{"job_name": cp.JobName},
		options.Find().SetSort(bson.M{"updated_at": -1}).SetSkip(maxCheckpointsPerJob-1).SetLimit(1),
	)
	if err != nil {
		return merr.CheckpointError(merr.SubStorageFailure, "find retention boundary for %s: %v", cp.JobName, err)
	}
	defer cur.Close(ctx)

	if cur.Next(ctx) {
		var oldestToKeep Checkpoint
		if err := cur.Decode(&oldestToKeep); err != nil {
			return merr.CheckpointError(merr.SubStorageFailure, "decode retention boundary for %s: %v", cp.JobName, err)
		}
		_, err := m.Collection.DeleteMany(ctx, bson.M{
			"job_name":   cp.JobName,
			"updated_at": bson.M{"$lt": oldestToKeep.UpdatedAt},
		})
		if err != nil {
			return merr.CheckpointError(merr.SubStorageFailure, "trim checkpoints for %s: %v", cp.JobName, err)
		}
	}

	return nil
}
