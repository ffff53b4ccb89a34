package compactor

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lakeside-io/lakeside/internal/schema"
	"github.com/lakeside-io/lakeside/internal/txlog"
)

// Handler returns the compaction service's HTTP surface.
func (c *Compactor) Handler() http.Handler {
	r := chi.NewRouter()

	r.Post("/", c.handleRun)
	r.Get("/", c.handleStatus)
	r.Get("/transactions", c.handleTransactions)
	r.Get("/reconcile", c.handleReconcile)
	r.Delete("/cleanup", c.handleCleanup)
	r.Delete("/lock", c.handleForceRelease)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}

func (c *Compactor) handleRun(w http.ResponseWriter, r *http.Request) {
	res, err := c.Run(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, res)
		return
	}

	var busy *BusyError
	switch {
	case errors.Is(err, ErrNothingToCompact):
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("No files to compact"))
	case errors.As(err, &busy):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      busy.Message,
			"batchSize":  busy.BatchSize,
			"ageSeconds": int64(busy.Age.Seconds()),
		})
	case errors.Is(err, schema.ErrUnavailable),
		errors.Is(err, ErrPartitionRead),
		errors.Is(err, ErrEncode),
		errors.Is(err, txlog.ErrContention):
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (c *Compactor) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := c.coord.Status(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (c *Compactor) handleTransactions(w http.ResponseWriter, r *http.Request) {
	read, err := c.txlog.ReadAll(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	entries := read.Entries
	if entries == nil {
		entries = []txlog.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (c *Compactor) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := c.Reconcile(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if report.ParquetFiles == nil {
		report.ParquetFiles = []string{}
	}
	if report.OrphanedJSONFiles == nil {
		report.OrphanedJSONFiles = []string{}
	}
	writeJSON(w, http.StatusOK, report)
}

// handleForceRelease is the administrative escape hatch for a wedged lock.
func (c *Compactor) handleForceRelease(w http.ResponseWriter, r *http.Request) {
	if err := c.coord.ForceRelease(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"released": true})
}

func (c *Compactor) handleCleanup(w http.ResponseWriter, r *http.Request) {
	report, err := c.Cleanup(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
