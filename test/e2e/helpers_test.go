//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/registry"

	"github.com/ogulcanaydogan/sweepctl/pkg/types"
)

func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("cannot resolve test file path")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
}

func exampleSweep(t *testing.T) string {
	t.Helper()
	return filepath.Join(repoRoot(t), "examples", "gnn", "sweep.yaml")
}

func startRegistry(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(registry.New())
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

// worker drives trials against the HTTP service the way a remote training
// job would.
type worker struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (w *worker) post(path string, body any, out any) int {
	w.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			w.t.Fatal(err)
		}
	}
	resp, err := w.client.Post(w.base+path, "application/json", &buf)
	if err != nil {
		w.t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			w.t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (w *worker) suggest() (types.Trial, bool) {
	var tr types.Trial
	switch code := w.post("/v1/suggest", nil, &tr); code {
	case http.StatusCreated:
		return tr, true
	case http.StatusGone:
		return types.Trial{}, false
	default:
		w.t.Fatalf("suggest: unexpected status %d", code)
		return types.Trial{}, false
	}
}

// train reports loss(iteration) until the service asks it to stop, then
// completes the trial unless it was pruned.
func (w *worker) train(tr types.Trial, iterations int, loss func(int) float64) (pruned bool) {
	for i := 1; i <= iterations; i++ {
		var resp struct {
			Terminate bool `json:"terminate"`
		}
		code := w.post(fmt.Sprintf("/v1/trials/%s/report", tr.ID), types.MetricReport{Iteration: i, Value: loss(i)}, &resp)
		if code != http.StatusOK {
			w.t.Fatalf("report %s: status %d", tr.ID, code)
		}
		if resp.Terminate {
			return true
		}
	}
	if code := w.post(fmt.Sprintf("/v1/trials/%s/complete", tr.ID), map[string]string{"status": "finished"}, nil); code != http.StatusOK {
		w.t.Fatalf("complete %s: status %d", tr.ID, code)
	}
	return false
}
