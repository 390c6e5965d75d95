package adapter

import (
	"context"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/makarski/mstream/pkg/mstream/event"
	"github.com/makarski/mstream/pkg/mstream/schema"
)

// MongoDBSource listens to a collection's change stream. Its input encoding
// is fixed to BSON regardless of any connector-declared input_encoding, per
// original_source/src/provision/pipeline/source.rs's
// resolve_source_encoding.
type MongoDBSource struct {
	Collection *mongo.Collection
	// ResumeToken, when set, resumes the change stream from a prior
	// checkpoint's cursor bytes instead of starting at the current moment.
	ResumeToken bson.Raw
}

func (s *MongoDBSource) Listen(ctx context.Context, out chan<- event.SourceEvent) error {
	opts := options.ChangeStream()
	if s.ResumeToken != nil {
		opts.SetResumeAfter(s.ResumeToken)
	}

	stream, err := s.Collection.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return errors.Annotate(err, "adapter.MongoDBSource: open change stream")
	}
	defer stream.Close(ctx)

	for stream.Next(ctx) {
		raw := make([]byte, len(stream.Current))
		copy(raw, stream.Current)

		resumeToken := stream.ResumeToken()
		var cursor []byte
		if resumeToken != nil {
			cursor = make([]byte, len(resumeToken))
			copy(cursor, resumeToken)
		}

		evt := event.SourceEvent{
			RawBytes: raw,
			Encoding: schema.EncodingBSON,
			Cursor:   cursor,
		}
		select {
		case out <- evt:
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		}
	}

	if err := stream.Err(); err != nil {
		log.Warn("mongodb change stream ended with error", zap.Error(err))
		return errors.Annotate(err, "adapter.MongoDBSource: change stream")
	}
	return nil
}
