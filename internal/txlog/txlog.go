// Package txlog implements the append-only, monotonically versioned
// transaction log that records every file-set transition in the lake.
// Replaying the log is the only way to derive which artifacts are live.
package txlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/lakeside-io/lakeside/internal/metrics"
	"github.com/lakeside-io/lakeside/internal/objstore"
)

// Prefix is the namespace log entries live under.
const Prefix = "_log/"

// Operation kinds. Only compact has transitions defined today; the others are
// reserved and must round-trip through ReadAll untouched.
const (
	OpCompact      = "compact"
	OpSchemaChange = "schema_change"
	OpCleanup      = "cleanup"
)

// ErrContention is returned when the conditional append loses the version
// race more times than the retry budget allows.
var ErrContention = errors.New("transaction log contention")

// timestampLayout renders ISO-8601 with millisecond precision, UTC.
const timestampLayout = "2006-01-02T15:04:05.000Z"

var entryKeyPattern = regexp.MustCompile(`^_log/(\d+)\.json$`)

// FileAction describes one file becoming visible (add) or ceasing to be
// considered live (remove).
type FileAction struct {
	Path      string `json:"path"`
	Size      int64  `json:"size,omitempty"`
	RowCount  int64  `json:"rowCount,omitempty"`
	Partition string `json:"partition,omitempty"`
}

// Entry is one immutable, numbered record of file-set changes. Field order
// matters: it is the canonical JSON serialization.
type Entry struct {
	Version   int            `json:"version"`
	Timestamp string         `json:"timestamp"`
	Operation string         `json:"operation"`
	Add       []FileAction   `json:"add"`
	Remove    []FileAction   `json:"remove"`
	Metadata  map[string]any `json:"metadata"`
}

// Key returns the store key for a given version.
func Key(version int) string {
	return fmt.Sprintf("%s%08d.json", Prefix, version)
}

// FormatTimestamp renders t in the log's canonical timestamp form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Log reads and appends transaction entries. Version assignment relies on a
// conditional put: the coordinator serializes the only writer, and the CAS on
// key existence is the safety net against coordinator bypass.
type Log struct {
	store       objstore.Store
	maxAttempts int
	log         *slog.Logger
}

// New creates a Log over the given store.
func New(store objstore.Store) *Log {
	return &Log{
		store:       store,
		maxAttempts: 5,
		log:         slog.With("component", "txlog"),
	}
}

// NextVersion lists the log namespace and returns max version + 1, or 0 for
// an empty log. This read is advisory; exclusivity comes from the
// conditional put in Append.
func (l *Log) NextVersion(ctx context.Context) (int, error) {
	keys, err := l.store.List(ctx, Prefix)
	if err != nil {
		return 0, fmt.Errorf("list log: %w", err)
	}

	next := 0
	for _, key := range keys {
		v, ok := parseVersion(key)
		if !ok {
			continue
		}
		if v+1 > next {
			next = v + 1
		}
	}
	return next, nil
}

// Append assigns the next version to e, serializes it, and writes it with a
// precondition that the key does not already exist. A lost race recomputes
// the version and retries up to the attempt budget, then surfaces
// ErrContention.
func (l *Log) Append(ctx context.Context, e Entry) (int, error) {
	if e.Timestamp == "" {
		e.Timestamp = FormatTimestamp(time.Now())
	}
	if e.Add == nil {
		e.Add = []FileAction{}
	}
	if e.Remove == nil {
		e.Remove = []FileAction{}
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}

	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		v, err := l.NextVersion(ctx)
		if err != nil {
			return 0, err
		}
		e.Version = v

		data, err := json.Marshal(e)
		if err != nil {
			return 0, fmt.Errorf("marshal entry: %w", err)
		}

		err = l.store.Put(ctx, Key(v), data, &objstore.PutOptions{IfNotExist: true})
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, objstore.ErrPreconditionFailed) {
			return 0, fmt.Errorf("write entry %d: %w", v, err)
		}

		l.log.Warn("lost version race, retrying", "version", v, "attempt", attempt+1)
		if m := metrics.Get(); m != nil {
			m.LogCASRetries.Inc()
		}
	}

	return 0, fmt.Errorf("%w: gave up after %d attempts", ErrContention, l.maxAttempts)
}

// ReadResult is the outcome of ReadAll. MissingVersions lists holes in the
// dense numbering; a non-empty list is operator-visible but does not prevent
// replay of the entries that do exist.
type ReadResult struct {
	Entries         []Entry
	MissingVersions []int
}

// ReadAll fetches every log entry, sorted by version ascending. Entries of
// reserved operation kinds are returned unchanged.
func (l *Log) ReadAll(ctx context.Context) (*ReadResult, error) {
	keys, err := l.store.List(ctx, Prefix)
	if err != nil {
		return nil, fmt.Errorf("list log: %w", err)
	}

	var entries []Entry
	for _, key := range keys {
		if _, ok := parseVersion(key); !ok {
			continue
		}
		data, err := l.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read entry %s: %w", key, err)
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("parse entry %s: %w", key, err)
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Version < entries[j].Version
	})

	res := &ReadResult{Entries: entries}
	if len(entries) > 0 {
		have := make(map[int]bool, len(entries))
		for _, e := range entries {
			have[e.Version] = true
		}
		max := entries[len(entries)-1].Version
		for v := 0; v <= max; v++ {
			if !have[v] {
				res.MissingVersions = append(res.MissingVersions, v)
			}
		}
	}
	if len(res.MissingVersions) > 0 {
		l.log.Warn("log has version gaps", "missing", res.MissingVersions)
	}
	return res, nil
}

// ReplayState is the fold of all log entries: the artifact keys the lake
// considers live, and the staging keys committed entries claim to have
// removed.
type ReplayState struct {
	LiveArtifacts  map[string]struct{}
	RemovedStaging map[string]struct{}
}

// Replay folds entries in version order. Each add joins the live set and
// clears any prior removal of the same path; each remove joins the removed
// set and drops the path from liveness. Reserved operation kinds carry empty
// action lists, so folding them is a no-op.
func Replay(entries []Entry) ReplayState {
	state := ReplayState{
		LiveArtifacts:  make(map[string]struct{}),
		RemovedStaging: make(map[string]struct{}),
	}
	for _, e := range entries {
		for _, a := range e.Add {
			state.LiveArtifacts[a.Path] = struct{}{}
			delete(state.RemovedStaging, a.Path)
		}
		for _, r := range e.Remove {
			state.RemovedStaging[r.Path] = struct{}{}
			delete(state.LiveArtifacts, r.Path)
		}
	}
	return state
}

func parseVersion(key string) (int, bool) {
	m := entryKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}
