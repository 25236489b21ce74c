package loader

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/tinytelemetry/logfeed/internal/model"
)

// Policy decides what a malformed line does to the load.
type Policy string

const (
	// PolicyAbort fails the whole load on the first malformed line.
	PolicyAbort Policy = "abort"
	// PolicySkip logs the malformed line and keeps going.
	PolicySkip Policy = "skip"
)

// ParsePolicy validates a policy name from configuration.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyAbort, PolicySkip:
		return p, nil
	case "":
		return PolicyAbort, nil
	default:
		return "", fmt.Errorf("unknown malformed-line policy %q (want abort or skip)", s)
	}
}

// LineError reports a line that is not a JSON object.
type LineError struct {
	Line int // 1-based line number in the source document
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

var errNotObject = errors.New("not a JSON object")

// ParseOptions tunes Parse and Stream.
type ParseOptions struct {
	Policy      Policy
	MaxLineSize int
	Logger      *log.Logger
}

func (o ParseOptions) withDefaults() ParseOptions {
	if o.Policy == "" {
		o.Policy = PolicyAbort
	}
	if o.MaxLineSize <= 0 {
		o.MaxLineSize = model.DefaultMaxLineSize
	}
	return o
}

// Parse reads newline-delimited JSON from r. Blank and whitespace-only lines
// are skipped. Under PolicyAbort the first malformed line returns an empty
// batch and a *LineError.
func Parse(r io.Reader, opts ParseOptions) (model.Batch, error) {
	opts = opts.withDefaults()

	var batch model.Batch
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
		batch = append(batch, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// scanLines calls fn for every non-blank line. fn errors stop the scan.
func scanLines(r io.Reader, maxLineSize int, fn func(lineNo int, line []byte) error) error {
	scanner := bufio.NewScanner(r)
	initial := 64 * 1024
	if initial > maxLineSize {
		initial = maxLineSize
	}
	scanner.Buffer(make([]byte, initial), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("line %d exceeds max size (%d bytes): %w", lineNo+1, maxLineSize, err)
		}
		return fmt.Errorf("read source: %w", err)
	}
	return nil
}

// parseRecord decodes exactly one JSON object. Numbers are kept as
// json.Number so re-encoding does not lose precision.
func parseRecord(line []byte) (model.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var rec model.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errNotObject
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON object")
	}
	return rec, nil
}

func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
