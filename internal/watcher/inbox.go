package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/callmind/internal/correlator"
	"github.com/hyperjump/callmind/internal/models"
)

// Spool subdirectories that delivered envelopes are moved into.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// Envelope is one event file in a spool directory.
type Envelope struct {
	CallID  string         `json:"call_id"`
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload"`
}

// Deliverer applies an inbound event; *correlator.Correlator implements it.
type Deliverer interface {
	Deliver(ctx context.Context, callID string, kind models.EventKind, payload map[string]string) (*correlator.Delivery, error)
}

// Inbox delivers spooled envelopes and files them under processed/ or failed/.
type Inbox struct {
	deliverer Deliverer
	logger    *zap.Logger
}

// NewInbox creates an inbox delivering to d.
func NewInbox(d Deliverer, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{deliverer: d, logger: logger}
}

// ProcessFile delivers the envelope at path. Envelopes that were applied (or recognized as
// redeliveries) move to processed/; unreadable envelopes, unknown kinds and malformed events
// move to failed/. Any other error leaves the file in place so it is retried on the next sync.
func (in *Inbox) ProcessFile(ctx context.Context, path string) error {
	d, err := in.deliverFile(ctx, path)
	switch {
	case err == nil:
		in.logger.Info("spooled event delivered", zap.String("path", path),
			zap.String("call_id", d.Record.CallID), zap.String("status", string(d.Record.Status)),
			zap.Bool("duplicate", d.Duplicate))
		return moveTo(path, ProcessedDir)
	case isRejected(err):
		in.logger.Warn("spooled event rejected", zap.String("path", path), zap.Error(err))
		if merr := moveTo(path, FailedDir); merr != nil {
			return merr
		}
		return err
	default:
		in.logger.Error("spooled event not delivered", zap.String("path", path), zap.Error(err))
		return err
	}
}

// Drain processes every envelope currently in dir, oldest first, and returns how many
// were delivered.
func (in *Inbox) Drain(ctx context.Context, dir string, extensions []string) (int, error) {
	n := 0
	for _, path := range listSpool(dir, extensions) {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := in.ProcessFile(ctx, path); err == nil {
			n++
		}
	}
	return n, nil
}

type rejectedError struct{ err error }

func (e *rejectedError) Error() string { return e.err.Error() }
func (e *rejectedError) Unwrap() error { return e.err }

func isRejected(err error) bool {
	if models.IsMalformedEvent(err) {
		return true
	}
	_, ok := err.(*rejectedError)
	return ok
}

func (in *Inbox) deliverFile(ctx context.Context, path string) (*correlator.Delivery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &rejectedError{fmt.Errorf("invalid envelope: %w", err)}
	}
	kind, err := models.ParseEventKind(env.Kind)
	if err != nil {
		return nil, &rejectedError{err}
	}
	return in.deliverer.Deliver(ctx, env.CallID, kind, flatten(env.Payload))
}

// flatten converts loosely typed JSON values to the string payload events are parsed from.
func flatten(payload map[string]any) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		switch t := v.(type) {
		case nil:
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(t)
		default:
			b, _ := json.Marshal(t)
			out[k] = string(b)
		}
	}
	return out
}

func moveTo(path, sub string) error {
	dir := filepath.Join(filepath.Dir(path), sub)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	dst := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(dst); err == nil {
		dst = fmt.Sprintf("%s.%d", dst, time.Now().UnixNano())
	}
	return os.Rename(path, dst)
}

// listSpool returns the matching regular files directly inside dir, oldest first.
func listSpool(dir string, extensions []string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	type file struct {
		path string
		mod  time.Time
	}
	var files []file
	for _, e := range entries {
		if e.IsDir() || !matchExtension(e.Name(), extensions) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{filepath.Join(dir, e.Name()), info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].mod.Equal(files[j].mod) {
			return files[i].path < files[j].path
		}
		return files[i].mod.Before(files[j].mod)
	})
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths
}
