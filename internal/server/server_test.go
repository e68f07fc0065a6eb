package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"panostitch/internal/correspondence"
	"panostitch/internal/history"
	"panostitch/internal/stitch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	gotPaths []string
	gotDir   stitch.Direction
	gotOut   string
	res      *stitch.Result
	err      error
}

func (r *stubRunner) StitchAndSave(ctx context.Context, paths []string, dir stitch.Direction, out string) (*stitch.Result, error) {
	r.gotPaths, r.gotDir, r.gotOut = paths, dir, out
	return r.res, r.err
}

const testOutputDir = "/srv/panoramas"

func newTestServer(t *testing.T, runner Runner, withHistory bool) (*httptest.Server, *history.Store) {
	t.Helper()
	var (
		store *history.Store
		rec   Recorder
	)
	if withHistory {
		var err error
		store, err = history.New(filepath.Join(t.TempDir(), "history.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		rec = store
	}
	s := NewServer("", testOutputDir, runner, rec, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func postStitch(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/stitch", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{}, false)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestStitchSuccessIsRecorded(t *testing.T) {
	out := filepath.Join(testOutputDir, "p.jpg")
	runner := &stubRunner{res: &stitch.Result{OutputPath: out, Width: 350, Height: 100, Duration: time.Second}}
	ts, store := newTestServer(t, runner, true)

	resp := postStitch(t, ts.URL, `{"images": ["a.jpg", "b.jpg"], "direction": "vertical", "output": "p.jpg"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got StitchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, out, got.Result.OutputPath)
	assert.Equal(t, 350, got.Result.Width)
	assert.NotZero(t, got.RunID)

	assert.Equal(t, []string{"a.jpg", "b.jpg"}, runner.gotPaths)
	assert.Equal(t, stitch.Vertical, runner.gotDir)
	assert.Equal(t, out, runner.gotOut)

	runs, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, got.RunID, runs[0].ID)
	assert.Equal(t, history.StatusOK, runs[0].Status)
}

func TestStitchDefaultsToHorizontal(t *testing.T) {
	runner := &stubRunner{res: &stitch.Result{}}
	ts, _ := newTestServer(t, runner, false)

	resp := postStitch(t, ts.URL, `{"images": ["a.jpg", "b.jpg"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, stitch.Horizontal, runner.gotDir)
	assert.Empty(t, runner.gotOut)
}

func TestStitchOutputStaysInOutputDir(t *testing.T) {
	for _, name := range []string{"../p.jpg", "/tmp/p.jpg", "sub/p.jpg", ".."} {
		t.Run(name, func(t *testing.T) {
			runner := &stubRunner{res: &stitch.Result{}}
			ts, _ := newTestServer(t, runner, false)

			body, err := json.Marshal(StitchRequest{Images: []string{"a.jpg", "b.jpg"}, Output: name})
			require.NoError(t, err)
			resp := postStitch(t, ts.URL, string(body))
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Nil(t, runner.gotPaths)
		})
	}
}

func TestStitchPipelineErrorIs422(t *testing.T) {
	runner := &stubRunner{err: &correspondence.InsufficientMatchesError{Found: 4, Required: 20}}
	ts, store := newTestServer(t, runner, true)

	resp := postStitch(t, ts.URL, `{"images": ["a.jpg", "b.jpg"]}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var got ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, stitch.KindInsufficientMatches, got.Kind)
	assert.Contains(t, got.Error, "4")

	runs, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, history.StatusFailed, runs[0].Status)
}

func TestStitchUnexpectedErrorIs500(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{err: errors.New("disk full")}, false)

	resp := postStitch(t, ts.URL, `{"images": ["a.jpg", "b.jpg"]}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestStitchBadRequest(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{}, false)

	for name, body := range map[string]string{
		"syntax":    `{"images": [`,
		"unknown":   `{"imgs": ["a.jpg"]}`,
		"direction": `{"images": ["a.jpg", "b.jpg"], "direction": "diagonal"}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := postStitch(t, ts.URL, body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestRuns(t *testing.T) {
	ts, store := newTestServer(t, &stubRunner{}, true)
	for i := 0; i < 3; i++ {
		_, err := store.Record(context.Background(), history.Run{
			CreatedAt: time.Now(), Direction: "horizontal", Inputs: []string{"a", "b"}, Status: history.StatusOK,
		})
		require.NoError(t, err)
	}

	resp, err := http.Get(ts.URL + "/runs?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var runs []history.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	assert.Len(t, runs, 2)

	bad, err := http.Get(ts.URL + "/runs?limit=zero")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestRunsWithoutHistory(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{}, false)
	resp, err := http.Get(ts.URL + "/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWrongMethod(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{}, false)
	resp, err := http.Get(ts.URL + "/stitch")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
