package publisher

import (
	"context"

	"github.com/tinytelemetry/logfeed/internal/model"
)

// Producer is the broker contract the publisher drives. Send blocks until the
// broker acknowledges the message or ctx ends.
type Producer interface {
	Send(ctx context.Context, msg model.Message) error
	Flush(ctx context.Context) error
	Close() error
}

// DeadLetterSink persists records whose publish failed.
type DeadLetterSink interface {
	Append(key string, record model.Record, cause error) (uint64, error)
}
