package compactor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lakeside-io/lakeside/internal/objstore"
	"github.com/lakeside-io/lakeside/internal/txlog"
)

func TestHTTPRunEmptyLake(t *testing.T) {
	store := objstore.NewMemory()
	seedSchema(t, store)
	c, _ := newTestCompactor(t, store)
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "No files to compact" {
		t.Errorf("body = %q", body)
	}
}

func TestHTTPRunAndInspect(t *testing.T) {
	store := objstore.NewMemory()
	seedSchema(t, store)
	seedRecord(t, store, "data/p=A/a.json", 1)
	seedRecord(t, store, "data/p=A/b.json", 2)
	c, _ := newTestCompactor(t, store)
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.TransactionVersion != 0 || res.FilesCompacted != 2 || res.TotalRows != 2 {
		t.Errorf("result = %+v", res)
	}

	// GET / reports an idle coordinator.
	statusResp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer statusResp.Body.Close()
	var status struct {
		Busy bool `json:"busy"`
	}
	json.NewDecoder(statusResp.Body).Decode(&status)
	if status.Busy {
		t.Error("coordinator should be idle")
	}

	// GET /transactions returns the ordered log.
	txResp, err := http.Get(srv.URL + "/transactions")
	if err != nil {
		t.Fatalf("GET /transactions: %v", err)
	}
	defer txResp.Body.Close()
	var entries []txlog.Entry
	if err := json.NewDecoder(txResp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode transactions: %v", err)
	}
	if len(entries) != 1 || entries[0].Version != 0 {
		t.Errorf("transactions = %+v", entries)
	}

	// GET /reconcile reports a clean lake.
	recResp, err := http.Get(srv.URL + "/reconcile")
	if err != nil {
		t.Fatalf("GET /reconcile: %v", err)
	}
	defer recResp.Body.Close()
	var rec ReconcileReport
	json.NewDecoder(recResp.Body).Decode(&rec)
	if rec.OrphanCount != 0 || len(rec.ParquetFiles) != 1 {
		t.Errorf("reconcile = %+v", rec)
	}

	// DELETE /cleanup has nothing to do.
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/cleanup", nil)
	cleanResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /cleanup: %v", err)
	}
	defer cleanResp.Body.Close()
	var clean CleanupReport
	json.NewDecoder(cleanResp.Body).Decode(&clean)
	if clean.DeletedCount != 0 {
		t.Errorf("cleanup = %+v", clean)
	}
}

func TestHTTPBusyConflict(t *testing.T) {
	store := objstore.NewMemory()
	seedSchema(t, store)
	seedRecord(t, store, "data/p=A/a.json", 1)
	c, coord := newTestCompactor(t, store)
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	if acquired, _, _ := coord.TryAcquire(context.Background(), []string{"x", "y", "z"}); !acquired {
		t.Fatal("setup acquire failed")
	}

	resp, err := http.Post(srv.URL+"/", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	var body struct {
		Error     string `json:"error"`
		BatchSize int    `json:"batchSize"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.BatchSize != 3 {
		t.Errorf("batchSize = %d, want the holder's 3", body.BatchSize)
	}
	if !strings.Contains(body.Error, "in progress") {
		t.Errorf("error = %q", body.Error)
	}
}

func TestHTTPForceRelease(t *testing.T) {
	store := objstore.NewMemory()
	seedSchema(t, store)
	c, coord := newTestCompactor(t, store)
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	if acquired, _, _ := coord.TryAcquire(context.Background(), []string{"x"}); !acquired {
		t.Fatal("setup acquire failed")
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/lock", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /lock: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	st, _ := coord.Status(context.Background())
	if st.Busy {
		t.Error("lock should be idle after force release")
	}
}

func TestHTTPSchemaUnavailable(t *testing.T) {
	store := objstore.NewMemory()
	c, _ := newTestCompactor(t, store)
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}
