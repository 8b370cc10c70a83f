package persistence

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/gentrify/internal/config"
	"github.com/talgya/gentrify/internal/engine"
)

// TraceVersion is the current trace format version.
const TraceVersion = 1

// TraceHeader is the first line of a trace.
type TraceHeader struct {
	Version   int           `json:"version"`
	RunID     string        `json:"run_id"`
	Seed      int64         `json:"seed"`
	StartedAt string        `json:"started_at"`
	Config    config.Config `json:"config"`
}

// TraceWriter appends one JSON line per tick to a zstd-compressed file.
type TraceWriter struct {
	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

// CreateTrace creates (or truncates) a trace file and writes its header.
func CreateTrace(path string, header TraceHeader) (*TraceWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	tw := &TraceWriter{f: f, enc: enc, w: bufio.NewWriterSize(enc, 64*1024)}

	header.Version = TraceVersion
	if err := tw.writeLine(header); err != nil {
		_ = tw.Close()
		return nil, fmt.Errorf("write trace header: %w", err)
	}
	return tw, nil
}

// Write appends one tick's stats.
func (tw *TraceWriter) Write(st engine.Stats) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.writeLine(st)
}

func (tw *TraceWriter) writeLine(v any) error {
	if tw.w == nil {
		return errors.New("trace closed")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := tw.w.Write(b); err != nil {
		return err
	}
	return tw.w.WriteByte('\n')
}

// Close flushes and closes the trace.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.w == nil {
		return nil
	}
	var errs []error
	errs = append(errs, tw.w.Flush())
	errs = append(errs, tw.enc.Close())
	errs = append(errs, tw.f.Close())
	tw.w, tw.enc, tw.f = nil, nil, nil
	return errors.Join(errs...)
}

// ReadTrace decodes a trace written by TraceWriter.
func ReadTrace(path string) (TraceHeader, []engine.Stats, error) {
	var header TraceHeader

	f, err := os.Open(path)
	if err != nil {
		return header, nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return header, nil, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return header, nil, err
		}
		return header, nil, errors.New("empty trace")
	}
	if err := json.Unmarshal(sc.Bytes(), &header); err != nil {
		return header, nil, fmt.Errorf("trace header: %w", err)
	}
	if header.Version != TraceVersion {
		return header, nil, fmt.Errorf("unsupported trace version %d", header.Version)
	}

	var stats []engine.Stats
	line := 1
	for sc.Scan() {
		line++
		var st engine.Stats
		if err := json.Unmarshal(sc.Bytes(), &st); err != nil {
			return header, stats, fmt.Errorf("trace line %d: %w", line, err)
		}
		stats = append(stats, st)
	}
	return header, stats, sc.Err()
}
