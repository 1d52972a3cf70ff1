package file

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"weft/internal/frame"
	"weft/internal/logging"
	"weft/internal/record"
)

// JSONLDriver reads one JSON object per line and emits it as a frame whose
// token is the 1-based line number. With start_from: resume it skips every
// line already covered by the offset file from a previous run.
type JSONLDriver struct {
	cfg     Config
	bp      *Controller
	tracker *Tracker
}

func (d *JSONLDriver) Configure(cfg Config) error {
	if cfg.Path == "" {
		return fmt.Errorf("file-source: path is required")
	}
	applyDefaults(&cfg)
	start := int64(0)
	if cfg.StartFrom == StartResume {
		off, err := readOffset(offsetPath(cfg.Path))
		if err != nil {
			return err
		}
		start = off
	}
	d.cfg = cfg
	d.bp = NewController(cfg.BackPressure.Capacity)
	d.tracker = NewTracker(start, cfg.Checkpoint.CommitInt)
	return nil
}

func (d *JSONLDriver) Run(ctx context.Context, emit EmitFunc) error {
	f, err := os.Open(d.cfg.Path)
	if err != nil {
		return fmt.Errorf("file-source: open %s: %w", d.cfg.Path, err)
	}
	defer f.Close()

	resumeAfter := d.tracker.Highest()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var line int64
	for sc.Scan() {
		line++
		if line <= resumeAfter {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		rec, err := record.Parse([]byte(raw))
		if err != nil {
			logging.L().Warn("file-source: skipping malformed line",
				"path", d.cfg.Path, "line", line, "err", err)
			d.tracker.Track(line)
			d.resolve(line)
			continue
		}

		if err := d.bp.Acquire(ctx); err != nil {
			return err
		}
		d.tracker.Track(line)
		if err := emit(&frame.Frame{
			Record: rec,
			Token:  frame.Token{Source: d.cfg.Path, Line: line},
		}); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("file-source: read %s: %w", d.cfg.Path, err)
	}
	return nil
}

// OnAck is the sink-side acknowledgement path, wired by the pipeline.
func (d *JSONLDriver) OnAck(tok frame.Token) {
	d.bp.Release(1)
	d.resolve(tok.Line)
}

func (d *JSONLDriver) resolve(line int64) {
	highest, commit := d.tracker.Resolve(line)
	if commit {
		d.persist(highest)
	}
}

func (d *JSONLDriver) Close() error {
	d.bp.Close()
	d.persist(d.tracker.Highest())
	return nil
}

func (d *JSONLDriver) persist(highest int64) {
	if highest == 0 {
		return
	}
	path := offsetPath(d.cfg.Path)
	data := strconv.FormatInt(highest, 10) + "\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		logging.L().Warn("file-source: writing offset", "path", path, "err", err)
	}
}

func offsetPath(path string) string { return path + ".offset" }

func readOffset(path string) (int64, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("file-source: read offset %s: %w", path, err)
	}
	off, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("file-source: offset %s: %w", path, err)
	}
	return off, nil
}
