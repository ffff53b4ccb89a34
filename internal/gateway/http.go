package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"

	"github.com/lakeside-io/lakeside/internal/schema"
)

// maxBodyBytes bounds a single request body.
const maxBodyBytes = 32 << 20

// Handler returns the gateway's HTTP surface.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()

	r.Put("/", g.handleRecord)
	r.Post("/batch", g.handleBatch)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}

func (g *Gateway) handleRecord(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var rec map[string]any
	if err := json.Unmarshal(body, &rec); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("body is not a JSON object"))
		return
	}

	staged, err := g.IngestRecord(r.Context(), rec)
	if err != nil {
		writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, staged)
}

func (g *Gateway) handleBatch(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var recs []map[string]any
	if err := json.Unmarshal(body, &recs); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("body is not a JSON array of objects"))
		return
	}

	staged, err := g.IngestBatch(r.Context(), recs)
	if err != nil {
		writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, staged)
}

// readBody drains the request body, transparently decompressing
// gzip-encoded payloads.
func readBody(r *http.Request) ([]byte, error) {
	var reader io.Reader = http.MaxBytesReader(nil, r.Body, maxBodyBytes)

	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, errors.New("malformed gzip body")
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.New("failed to read body")
	}
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	return body, nil
}

func writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidRecord):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, schema.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
