// Package compactor drives one compaction: snapshot the staging namespace,
// encode each partition, commit a single transaction entry, publish the
// artifacts, and reclaim the source objects. The coordinator lock wraps the
// whole sequence; the log append is the atomic commit point.
package compactor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lakeside-io/lakeside/internal/coordinator"
	"github.com/lakeside-io/lakeside/internal/encoder"
	"github.com/lakeside-io/lakeside/internal/logging"
	"github.com/lakeside-io/lakeside/internal/metrics"
	"github.com/lakeside-io/lakeside/internal/objstore"
	"github.com/lakeside-io/lakeside/internal/partition"
	"github.com/lakeside-io/lakeside/internal/schema"
	"github.com/lakeside-io/lakeside/internal/txlog"
)

var (
	// ErrNothingToCompact is returned when the snapshot holds no staging
	// objects; the lake is unchanged.
	ErrNothingToCompact = errors.New("no files to compact")

	// ErrPartitionRead is returned when a staging object in the snapshot is
	// absent or empty at fetch time. The lock is released and the log is
	// untouched.
	ErrPartitionRead = errors.New("partition read failed")

	// ErrEncode is returned when the encoder rejects a partition's records.
	ErrEncode = errors.New("encode failed")
)

// BusyError is returned when the coordinator lock is held by another run.
type BusyError struct {
	Message   string
	BatchSize int
	Age       time.Duration
}

func (e *BusyError) Error() string {
	return e.Message
}

// Result summarizes one successful compaction.
type Result struct {
	TransactionVersion int      `json:"transactionVersion"`
	Partitions         int      `json:"partitions"`
	FilesCompacted     int      `json:"filesCompacted"`
	TotalRows          int64    `json:"totalRows"`
	ParquetFiles       []string `json:"parquetFiles"`
}

// Config tunes one compactor instance.
type Config struct {
	PartitionWorkers int
	Compression      string
	Retry            objstore.RetryPolicy
}

// Compactor owns the compaction critical section.
type Compactor struct {
	store   objstore.Store
	schemas *schema.Manager
	enc     *encoder.Encoder
	coord   *coordinator.Coordinator
	txlog   *txlog.Log
	workers int
	retry   objstore.RetryPolicy
	log     *slog.Logger
	now     func() time.Time
}

// New creates a compactor.
func New(store objstore.Store, schemas *schema.Manager, coord *coordinator.Coordinator, cfg Config) *Compactor {
	workers := cfg.PartitionWorkers
	if workers < 1 {
		workers = 1
	}
	return &Compactor{
		store:   store,
		schemas: schemas,
		enc:     encoder.New(encoder.Config{Compression: cfg.Compression}),
		coord:   coord,
		txlog:   txlog.New(store),
		workers: workers,
		retry:   cfg.Retry,
		log:     slog.With("component", "compactor"),
		now:     time.Now,
	}
}

// Log exposes the transaction log for the HTTP surface.
func (c *Compactor) Log() *txlog.Log {
	return c.txlog
}

// Coordinator exposes the lock for the HTTP surface.
func (c *Compactor) Coordinator() *coordinator.Coordinator {
	return c.coord
}

// partitionOutput is the per-partition encode result handed to the commit
// step.
type partitionOutput struct {
	add      txlog.FileAction
	removes  []txlog.FileAction
	artifact []byte
}

// Run executes one compaction. Any failure after the log append is logged
// and reconciled later, never surfaced as a failure: the lake has already
// advanced.
func (c *Compactor) Run(ctx context.Context) (*Result, error) {
	runID := logging.GenerateRunID()
	log := c.log.With("run_id", runID)
	startTime := c.now()

	// Step 1: schema, before touching any lock.
	doc, err := c.schemas.Get(ctx)
	if err != nil {
		return nil, err
	}

	// Step 2: snapshot. Staging objects written after this listing belong
	// to the next run.
	listing, err := c.store.List(ctx, partition.StagingPrefix)
	if err != nil {
		return nil, fmt.Errorf("list staging: %w", err)
	}
	groups := partition.Group(listing)
	if groups.Empty() {
		return nil, ErrNothingToCompact
	}

	batch := make([]string, 0, groups.TotalKeys())
	for _, part := range groups.Partitions {
		batch = append(batch, groups.Keys[part]...)
	}

	// Step 3: acquire.
	acquired, message, err := c.coord.TryAcquire(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		st, serr := c.coord.Status(ctx)
		busy := &BusyError{Message: message}
		if serr == nil {
			busy.BatchSize = st.BatchSize
			busy.Age = st.Age(c.now())
		}
		if m := metrics.Get(); m != nil {
			m.CompactionsBusy.Inc()
		}
		return nil, busy
	}
	if m := metrics.Get(); m != nil {
		m.LockHeld.Set(1)
	}

	log.Info("starting compaction",
		"partitions", len(groups.Partitions),
		"files", len(batch),
	)

	// Step 4: per-partition encode, in parallel. The timestamp is fixed at
	// run start; partition prefixes keep artifact keys distinct.
	ts := startTime.UTC()
	outputs, err := c.encodePartitions(ctx, doc, groups, ts, runID)
	if err != nil {
		c.releaseLock(ctx, log)
		if m := metrics.Get(); m != nil {
			m.CompactionsFailed.WithLabelValues(failureReason(err)).Inc()
		}
		return nil, err
	}

	// Step 5: commit. The single log append is the linearization point.
	entry := txlog.Entry{
		Timestamp: txlog.FormatTimestamp(ts),
		Operation: txlog.OpCompact,
	}
	var totalRows int64
	for _, out := range outputs {
		entry.Add = append(entry.Add, out.add)
		entry.Remove = append(entry.Remove, out.removes...)
		totalRows += out.add.RowCount
	}
	entry.Metadata = map[string]any{
		"partitionCount": len(outputs),
		"totalRows":      totalRows,
	}

	version, err := c.txlog.Append(ctx, entry)
	if err != nil {
		c.releaseLock(ctx, log)
		if m := metrics.Get(); m != nil {
			m.CompactionsFailed.WithLabelValues(failureReason(err)).Inc()
		}
		return nil, err
	}
	if m := metrics.Get(); m != nil {
		m.LogEntriesTotal.Inc()
	}
	log.Info("committed transaction", "version", version)

	// Step 6: publish. The lake state has advanced; a failed put leaves a
	// claim without an artifact, which reconcile reports.
	c.publishArtifacts(ctx, outputs, log)

	// Step 7: reclaim, then release. Failed deletes become orphans for the
	// reconciler.
	c.reclaimStaging(ctx, batch, log)
	c.releaseLock(ctx, log)

	res := &Result{
		TransactionVersion: version,
		Partitions:         len(outputs),
		FilesCompacted:     len(batch),
		TotalRows:          totalRows,
	}
	for _, out := range outputs {
		res.ParquetFiles = append(res.ParquetFiles, out.add.Path)
	}

	if m := metrics.Get(); m != nil {
		m.CompactionsTotal.Inc()
		m.CompactionDuration.Observe(c.now().Sub(startTime).Seconds())
		m.PartitionsCompacted.Observe(float64(res.Partitions))
		m.FilesCompacted.Observe(float64(res.FilesCompacted))
		m.RowsCompacted.Observe(float64(res.TotalRows))
	}

	log.Info("compaction complete",
		"version", version,
		"partitions", res.Partitions,
		"files", res.FilesCompacted,
		"rows", res.TotalRows,
		"duration", c.now().Sub(startTime).String(),
	)
	return res, nil
}

// encodePartitions fans out over the snapshot's partitions and joins before
// the commit step. Results come back in the grouping's partition order so
// the log entry is deterministic.
func (c *Compactor) encodePartitions(ctx context.Context, doc *schema.Document, groups partition.Grouping, ts time.Time, runID string) ([]partitionOutput, error) {
	outputs := make([]partitionOutput, len(groups.Partitions))
	pathTS := ts.Format("2006-01-02T15-04-05")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i, part := range groups.Partitions {
		g.Go(func() error {
			out, err := c.encodePartition(gctx, doc, part, groups.Keys[part], pathTS, runID)
			if err != nil {
				return err
			}
			outputs[i] = *out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

func (c *Compactor) encodePartition(ctx context.Context, doc *schema.Document, part string, keys []string, pathTS, runID string) (*partitionOutput, error) {
	log := logging.PartitionLogger(runID, part, len(keys))

	var records []map[string]any
	var out partitionOutput
	for _, key := range keys {
		var body []byte
		err := objstore.Retry(ctx, c.retry, func() error {
			var gerr error
			body, gerr = c.store.Get(ctx, key)
			if errors.Is(gerr, objstore.ErrNotExist) {
				return objstore.Permanent(gerr)
			}
			return gerr
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrPartitionRead, key, err)
		}
		if len(body) == 0 {
			return nil, fmt.Errorf("%w: %s: empty body", ErrPartitionRead, key)
		}

		recs, err := parseStagingBody(key, body)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrPartitionRead, key, err)
		}
		records = append(records, recs...)
		out.removes = append(out.removes, txlog.FileAction{Path: key})
	}

	enc, err := c.enc.Encode(doc, records)
	if err != nil {
		return nil, fmt.Errorf("%w: partition %s: %v", ErrEncode, part, err)
	}

	out.artifact = enc.Data
	out.add = txlog.FileAction{
		Path:      fmt.Sprintf("%s%s/part-%s.parquet", partition.ArtifactPrefix, part, pathTS),
		Size:      int64(len(enc.Data)),
		RowCount:  enc.RowCount,
		Partition: part,
	}

	log.Debug("encoded partition", "rows", enc.RowCount, "bytes", len(enc.Data))
	return &out, nil
}

// parseStagingBody decodes a staging object: one JSON document, or one per
// non-blank line for .ndjson batches.
func parseStagingBody(key string, body []byte) ([]map[string]any, error) {
	if !strings.HasSuffix(key, ".ndjson") {
		var rec map[string]any
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("parse record: %w", err)
		}
		return []map[string]any{rec}, nil
	}

	var records []map[string]any
	for i, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("parse line %d: %w", i+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// publishArtifacts writes encoded bytes under their final keys. Writes are
// idempotent and independent; failures are deferred to reconcile.
func (c *Compactor) publishArtifacts(ctx context.Context, outputs []partitionOutput, log *slog.Logger) {
	g := new(errgroup.Group)
	g.SetLimit(c.workers)
	for _, out := range outputs {
		g.Go(func() error {
			err := objstore.Retry(ctx, c.retry, func() error {
				return c.store.Put(ctx, out.add.Path, out.artifact, nil)
			})
			if err != nil {
				log.Error("artifact publish deferred",
					"path", out.add.Path,
					"error", err,
				)
				if m := metrics.Get(); m != nil {
					m.PublishDeferred.Inc()
				}
			}
			return nil
		})
	}
	g.Wait()
}

// reclaimStaging deletes the snapshot's source objects. A failed delete
// leaves an orphan the reconciler detects; deletion is idempotent because
// staging keys are never reused.
func (c *Compactor) reclaimStaging(ctx context.Context, batch []string, log *slog.Logger) {
	for _, key := range batch {
		err := objstore.Retry(ctx, c.retry, func() error {
			derr := c.store.Delete(ctx, key)
			if errors.Is(derr, objstore.ErrNotExist) {
				return nil
			}
			return derr
		})
		if err != nil {
			log.Error("staging reclaim deferred", "key", key, "error", err)
			if m := metrics.Get(); m != nil {
				m.ReclaimDeferred.Inc()
			}
		}
	}
}

func (c *Compactor) releaseLock(ctx context.Context, log *slog.Logger) {
	if err := c.coord.Release(ctx); err != nil {
		log.Error("failed to release compaction lock", "error", err)
	}
	if m := metrics.Get(); m != nil {
		m.LockHeld.Set(0)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrPartitionRead):
		return "partition_read"
	case errors.Is(err, ErrEncode):
		return "encode"
	case errors.Is(err, txlog.ErrContention):
		return "log_contention"
	default:
		return "other"
	}
}
