package loader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tinytelemetry/logfeed/internal/model"
)

// DefaultStreamBuffer is the channel buffer between reader and publisher.
const DefaultStreamBuffer = 256

var errStopped = errors.New("stream stopped")

// Stream parses r line by line and emits entries as they are read. Keys are
// assigned from a counter over emitted records. A read failure, or a malformed
// line under PolicyAbort, is delivered as a final entry with Err set.
// The channel closes when r is exhausted or ctx is cancelled.
func Stream(ctx context.Context, r io.Reader, opts ParseOptions) <-chan model.Entry {
	opts = opts.withDefaults()
	out := make(chan model.Entry, DefaultStreamBuffer)

	go func() {
		defer close(out)

		emit := func(e model.Entry) bool {
			select {
			case out <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		index := 0
		err := scanLines(r, opts.MaxLineSize, func(lineNo int, line []byte) error {
			rec, err := parseRecord(line)
			if err != nil {
				lerr := &LineError{Line: lineNo, Err: err}
				if opts.Policy == PolicyAbort {
					return lerr
				}
				logf(opts.Logger, "Skipping malformed %v", lerr)
				return nil
			}
			if !emit(model.Entry{Index: index, Key: model.Key(index), Record: rec}) {
				return errStopped
			}
			index++
			return nil
		})
		if err != nil && !errors.Is(err, errStopped) {
			emit(model.Entry{Index: index, Err: err})
		}
	}()
	return out
}

// Stream opens the source object and feeds it through Stream. The object is
// closed once the channel is drained or ctx is cancelled.
func (l *Loader) Stream(ctx context.Context) (<-chan model.Entry, error) {
	logf(l.logger, "Streaming %s from %s...", l.cfg.ObjectKey, l.URL())

	rc, err := l.store.Get(ctx, l.cfg.Bucket, l.cfg.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", l.URL(), err)
	}

	entries := Stream(ctx, rc, l.parseOptions())
	out := make(chan model.Entry)
	go func() {
		defer close(out)
		defer rc.Close()
		for e := range entries {
			select {
			case out <- e:
			case <-ctx.Done():
				// drain so the parser goroutine exits
				for range entries {
				}
				return
			}
		}
	}()
	return out, nil
}
