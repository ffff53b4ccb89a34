// Package gateway accepts producer records, validates them against the
// schema, and stages them for the next compaction. It owns staging objects
// at creation; the compactor reclaims them after their removal commits.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lakeside-io/lakeside/internal/metrics"
	"github.com/lakeside-io/lakeside/internal/objstore"
	"github.com/lakeside-io/lakeside/internal/partition"
	"github.com/lakeside-io/lakeside/internal/schema"
)

// ErrInvalidRecord is returned when a record fails schema validation.
var ErrInvalidRecord = errors.New("invalid record")

// Config configures the gateway.
type Config struct {
	// PartitionField names the Hive partition column. The partition value is
	// the current wall-clock hour, so records land in hourly partitions.
	PartitionField string
}

// StagedObject describes one staging write.
type StagedObject struct {
	Key       string `json:"key"`
	Partition string `json:"partition"`
	Records   int    `json:"records"`
}

// Gateway validates and stages records.
type Gateway struct {
	store   objstore.Store
	schemas *schema.Manager
	field   string
	retry   objstore.RetryPolicy
	log     *slog.Logger
	now     func() time.Time
}

// New creates a gateway.
func New(store objstore.Store, schemas *schema.Manager, cfg Config, retry objstore.RetryPolicy) *Gateway {
	return &Gateway{
		store:   store,
		schemas: schemas,
		field:   cfg.PartitionField,
		retry:   retry,
		log:     slog.With("component", "gateway"),
		now:     time.Now,
	}
}

// partitionKey derives the Hive partition for records arriving now.
func (g *Gateway) partitionKey() string {
	return fmt.Sprintf("%s=%s", g.field, g.now().UTC().Format("2006-01-02T15"))
}

// IngestRecord validates one record and writes it as a single-record staging
// object.
func (g *Gateway) IngestRecord(ctx context.Context, rec map[string]any) (*StagedObject, error) {
	doc, err := g.schemas.Get(ctx)
	if err != nil {
		return nil, err
	}
	if err := doc.ValidateRecord(rec); err != nil {
		if m := metrics.Get(); m != nil {
			m.RecordsRejected.WithLabelValues("single").Inc()
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	part := g.partitionKey()
	key := fmt.Sprintf("%s%s/%s.json", partition.StagingPrefix, part, uuid.New().String())

	if err := g.put(ctx, key, data); err != nil {
		return nil, err
	}

	if m := metrics.Get(); m != nil {
		m.RecordsIngested.WithLabelValues("single").Inc()
		m.StagingBytes.Add(float64(len(data)))
	}
	g.log.Debug("staged record", "key", key, "partition", part)
	return &StagedObject{Key: key, Partition: part, Records: 1}, nil
}

// IngestBatch validates a slice of records and writes one newline-delimited
// staging object holding all of them.
func (g *Gateway) IngestBatch(ctx context.Context, recs []map[string]any) (*StagedObject, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidRecord)
	}

	doc, err := g.schemas.Get(ctx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for i, rec := range recs {
		if err := doc.ValidateRecord(rec); err != nil {
			if m := metrics.Get(); m != nil {
				m.RecordsRejected.WithLabelValues("batch").Inc()
			}
			return nil, fmt.Errorf("%w: record %d: %v", ErrInvalidRecord, i, err)
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal record %d: %w", i, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	part := g.partitionKey()
	key := fmt.Sprintf("%s%s/%s.ndjson", partition.StagingPrefix, part, uuid.New().String())

	if err := g.put(ctx, key, buf.Bytes()); err != nil {
		return nil, err
	}

	if m := metrics.Get(); m != nil {
		m.RecordsIngested.WithLabelValues("batch").Add(float64(len(recs)))
		m.StagingBytes.Add(float64(buf.Len()))
	}
	g.log.Debug("staged batch", "key", key, "partition", part, "records", len(recs))
	return &StagedObject{Key: key, Partition: part, Records: len(recs)}, nil
}

// put writes a staging object. Keys are fresh UUIDs, so an overwrite put is
// safe to retry.
func (g *Gateway) put(ctx context.Context, key string, data []byte) error {
	err := objstore.Retry(ctx, g.retry, func() error {
		return g.store.Put(ctx, key, data, nil)
	})
	if err != nil {
		return fmt.Errorf("stage %s: %w", key, err)
	}
	return nil
}
