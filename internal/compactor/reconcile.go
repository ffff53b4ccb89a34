package compactor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/lakeside-io/lakeside/internal/metrics"
	"github.com/lakeside-io/lakeside/internal/objstore"
	"github.com/lakeside-io/lakeside/internal/partition"
	"github.com/lakeside-io/lakeside/internal/txlog"
)

// ReconcileReport lists the live artifacts the log claims and the staging
// objects a committed entry removed but which still exist (orphans from a
// failed reclaim).
type ReconcileReport struct {
	ParquetFiles      []string `json:"parquetFiles"`
	OrphanedJSONFiles []string `json:"orphanedJsonFiles"`
	OrphanCount       int      `json:"orphanCount"`
}

// CleanupReport lists the orphans deleted by one cleanup pass.
type CleanupReport struct {
	DeletedCount int      `json:"deletedCount"`
	DeletedFiles []string `json:"deletedFiles"`
}

// Reconcile intersects the replayed removal set with the current staging
// listing. It is a pure read and idempotent when no other writer is active.
func (c *Compactor) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	read, err := c.txlog.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	state := txlog.Replay(read.Entries)

	listing, err := c.store.List(ctx, partition.StagingPrefix)
	if err != nil {
		return nil, fmt.Errorf("list staging: %w", err)
	}

	report := &ReconcileReport{}
	for path := range state.LiveArtifacts {
		report.ParquetFiles = append(report.ParquetFiles, path)
	}
	sort.Strings(report.ParquetFiles)

	for _, key := range listing {
		if _, removed := state.RemovedStaging[key]; removed {
			report.OrphanedJSONFiles = append(report.OrphanedJSONFiles, key)
		}
	}
	sort.Strings(report.OrphanedJSONFiles)
	report.OrphanCount = len(report.OrphanedJSONFiles)
	return report, nil
}

// Cleanup deletes every orphan the reconciler reports. Safe to run at any
// time: staging keys are UUIDs and never reused, so deletion cannot race a
// legitimate writer.
func (c *Compactor) Cleanup(ctx context.Context) (*CleanupReport, error) {
	rec, err := c.Reconcile(ctx)
	if err != nil {
		return nil, err
	}

	report := &CleanupReport{DeletedFiles: []string{}}
	for _, key := range rec.OrphanedJSONFiles {
		err := objstore.Retry(ctx, c.retry, func() error {
			derr := c.store.Delete(ctx, key)
			if errors.Is(derr, objstore.ErrNotExist) {
				return nil
			}
			return derr
		})
		if err != nil {
			return nil, fmt.Errorf("delete orphan %s: %w", key, err)
		}
		report.DeletedFiles = append(report.DeletedFiles, key)
	}
	report.DeletedCount = len(report.DeletedFiles)

	if m := metrics.Get(); m != nil && report.DeletedCount > 0 {
		m.OrphansCleaned.Add(float64(report.DeletedCount))
	}
	return report, nil
}
