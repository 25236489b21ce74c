package deadletter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tinytelemetry/logfeed/internal/model"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

// Letter is one record that failed to publish.
type Letter struct {
	Seq      uint64       `json:"seq"`
	Key      string       `json:"key"`
	Record   model.Record `json:"record"`
	Error    string       `json:"error"`
	FailedAt time.Time    `json:"failed_at"`
}

// Journal is an append-only JSONL file of dead letters. Replay progress is
// tracked in a .commit sidecar holding the highest replayed sequence.
type Journal struct {
	mu         sync.Mutex
	path       string
	commitPath string
	file       *os.File
	nextSeq    uint64
	committed  uint64
	now        func() time.Time
}

// Open creates or opens a journal at path. Committed letters are compacted
// away and a partially written trailing line is dropped.
func Open(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("deadletter: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), defaultDirMode); err != nil {
		return nil, fmt.Errorf("deadletter: mkdir: %w", err)
	}

	commitPath := path + ".commit"
	committed, err := readCommitted(commitPath)
	if err != nil {
		return nil, err
	}

	maxSeq, err := compactCommitted(path, committed)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, defaultFileMode)
	if err != nil {
		return nil, fmt.Errorf("deadletter: open: %w", err)
	}

	next := maxSeq + 1
	if committed+1 > next {
		next = committed + 1
	}

	return &Journal{
		path:       path,
		commitPath: commitPath,
		file:       f,
		nextSeq:    next,
		committed:  committed,
		now:        time.Now,
	}, nil
}

// Append persists one failed record and returns its sequence number.
func (j *Journal) Append(key string, record model.Record, cause error) (uint64, error) {
	if record == nil {
		return 0, errors.New("deadletter: nil record")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return 0, errors.New("deadletter: journal closed")
	}

	l := Letter{
		Seq:      j.nextSeq,
		Key:      key,
		Record:   record,
		FailedAt: j.now().UTC(),
	}
	if cause != nil {
		l.Error = cause.Error()
	}
	line, err := json.Marshal(l)
	if err != nil {
		return 0, fmt.Errorf("deadletter: marshal letter: %w", err)
	}
	line = append(line, '\n')

	if _, err := j.file.Write(line); err != nil {
		return 0, fmt.Errorf("deadletter: write letter: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return 0, fmt.Errorf("deadletter: sync letter: %w", err)
	}
	j.nextSeq++
	return l.Seq, nil
}

// Commit marks all letters up to seq as replayed.
func (j *Journal) Commit(seq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if seq <= j.committed {
		return nil
	}
	if err := writeCommitted(j.commitPath, seq); err != nil {
		return err
	}
	j.committed = seq
	return nil
}

// Committed returns the highest committed sequence number.
func (j *Journal) Committed() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.committed
}

// Pending returns uncommitted letters in sequence order.
func (j *Journal) Pending() ([]Letter, error) {
	var out []Letter
	err := j.Replay(func(l Letter) error {
		out = append(out, l)
		return nil
	})
	return out, err
}

// Replay calls fn for each uncommitted letter in sequence order.
func (j *Journal) Replay(fn func(Letter) error) error {
	if fn == nil {
		return errors.New("deadletter: replay callback is nil")
	}

	j.mu.Lock()
	path := j.path
	committed := j.committed
	j.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("deadletter: open for replay: %w", err)
	}
	defer f.Close()

	return readLetters(bufio.NewReader(f), func(l Letter, _ []byte) error {
		if l.Seq <= committed {
			return nil
		}
		return fn(l)
	})
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// readLetters decodes complete lines until EOF, a partial trailing line, or
// the first malformed line.
func readLetters(reader *bufio.Reader, fn func(l Letter, raw []byte) error) error {
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("deadletter: read: %w", err)
		}
		if len(line) == 0 || line[len(line)-1] != '\n' {
			return nil
		}

		var l Letter
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		if uerr := dec.Decode(&l); uerr != nil {
			return nil
		}
		if ferr := fn(l, line); ferr != nil {
			return ferr
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func readCommitted(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("deadletter: read commit file: %w", err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("deadletter: parse commit seq: %w", err)
	}
	return seq, nil
}

func writeCommitted(path string, seq uint64) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return fmt.Errorf("deadletter: open commit tmp: %w", err)
	}
	if _, err := f.WriteString(strconv.FormatUint(seq, 10) + "\n"); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("deadletter: write commit tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("deadletter: sync commit tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("deadletter: close commit tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("deadletter: rename commit file: %w", err)
	}
	return nil
}

// compactCommitted rewrites path keeping only uncommitted letters and returns
// the highest sequence seen.
func compactCommitted(path string, committed uint64) (uint64, error) {
	src, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, defaultFileMode)
	if err != nil {
		return 0, fmt.Errorf("deadletter: open source for compact: %w", err)
	}
	defer src.Close()

	tmpPath := path + ".compact"
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, defaultFileMode)
	if err != nil {
		return 0, fmt.Errorf("deadletter: open compact tmp: %w", err)
	}
	abort := func(err error) (uint64, error) {
		_ = dst.Close()
		_ = os.Remove(tmpPath)
		return 0, err
	}

	var maxSeq uint64
	err = readLetters(bufio.NewReader(src), func(l Letter, raw []byte) error {
		if l.Seq > maxSeq {
			maxSeq = l.Seq
		}
		if l.Seq <= committed {
			return nil
		}
		if _, werr := dst.Write(raw); werr != nil {
			return fmt.Errorf("deadletter: compact write: %w", werr)
		}
		return nil
	})
	if err != nil {
		return abort(err)
	}

	if err := dst.Sync(); err != nil {
		return abort(fmt.Errorf("deadletter: compact sync: %w", err))
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("deadletter: compact close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("deadletter: compact rename: %w", err)
	}
	return maxSeq, nil
}
