package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"gihan9a/docproof/internal/annotate"
	"gihan9a/docproof/internal/config"
	"gihan9a/docproof/internal/extract"
	"gihan9a/docproof/internal/metrics"
	"gihan9a/docproof/pkg/proofproto"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*DocProofServer, http.Handler) {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.RootDir = t.TempDir()
	cfg.Compare.Delay = 0
	if mutate != nil {
		mutate(cfg)
	}

	s, err := NewDocProofServer(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, s.SetupRoutes()
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func upload(t *testing.T, h http.Handler, slot, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, http.MethodPut, "/api/documents/"+slot+"?name="+url.QueryEscape(name), strings.NewReader(content), nil)
}

func waitForState(t *testing.T, h http.Handler, want proofproto.State) proofproto.Workspace {
	t.Helper()
	var ws proofproto.Workspace
	require.Eventually(t, func() bool {
		rec := do(t, h, http.MethodGet, "/api/comparison", nil, nil)
		ws = decode[proofproto.Workspace](t, rec)
		return ws.State == want
	}, 5*time.Second, 10*time.Millisecond)
	return ws
}

func TestHandleDiff(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/diff", strings.NewReader(`{"textA":"","textB":"hello"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	res := decode[proofproto.Comparison](t, rec)
	require.Equal(t, []proofproto.ReportEntry{{ID: 1, Type: proofproto.KindAddition, TextB: "hello", Position: "Line 1"}}, res.Report)
	require.Equal(t, []proofproto.Annotation{}, res.OverlayA)
	require.Equal(t, proofproto.Box{X: 10, Y: 10, Width: 40, Height: 20}, res.OverlayB[0].Position)

	// Empty lists are encoded as [] for renderers.
	rec = do(t, h, http.MethodPost, "/api/diff", strings.NewReader(`{"textA":"","textB":""}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"report":[]`)
}

func TestFormatsAndLayout(t *testing.T) {
	_, h := newTestServer(t, func(c *config.Config) { c.Layout.CharsPerLine = 80 })

	rec := do(t, h, http.MethodGet, "/api/formats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, decode[[]string](t, rec), ".docx")

	rec = do(t, h, http.MethodGet, "/api/layout", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	layout := decode[annotate.Layout](t, rec)
	require.Equal(t, 80, layout.CharsPerLine)
	require.Equal(t, 24, layout.LineHeight)
}

func TestHandleDiff_Errors(t *testing.T) {
	_, h := newTestServer(t, func(c *config.Config) { c.MaxUploadBytes = 16 })

	rec := do(t, h, http.MethodPost, "/api/diff", strings.NewReader(`{not json`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	big := `{"textA":"` + strings.Repeat("x", 64) + `","textB":""}`
	rec = do(t, h, http.MethodPost, "/api/diff", strings.NewReader(big), nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestWorkspaceLifecycle(t *testing.T) {
	_, h := newTestServer(t, nil)

	// Nothing to compare yet.
	rec := do(t, h, http.MethodPost, "/api/compare", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = upload(t, h, "a", "a.txt", "The cat sat on the mat.")
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[proofproto.DocumentInfo](t, rec)
	require.Equal(t, "a.txt", info.Name)
	require.Equal(t, 23, info.Runes)
	require.False(t, info.Placeholder)

	rec = do(t, h, http.MethodPost, "/api/compare", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusOK, upload(t, h, "b", "b.txt", "The dog sat on the mat.").Code)

	rec = do(t, h, http.MethodGet, "/api/documents/b", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "The dog sat on the mat.", decode[proofproto.Document](t, rec).Text)

	rec = do(t, h, http.MethodPost, "/api/compare", nil, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	ws := waitForState(t, h, proofproto.StateDone)
	require.NotNil(t, ws.Comparison)
	require.Equal(t, proofproto.Summary{Additions: 1, Deletions: 1, Total: 2}, ws.Comparison.Summary)
	require.Equal(t, "cat", ws.Comparison.OverlayA[0].Text)
	require.Equal(t, "dog", ws.Comparison.OverlayB[0].Text)

	// Select by id.
	rec = do(t, h, http.MethodPut, "/api/selection", strings.NewReader(`{"id":2}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, decode[proofproto.Workspace](t, rec).SelectedID)

	rec = do(t, h, http.MethodPut, "/api/selection", strings.NewReader(`{"id":99}`), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/selection", nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// CSV export.
	rec = do(t, h, http.MethodGet, "/api/comparison/report.csv", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "id,type,position,textA,textB\n1,deletion,Line 1,cat,\n2,addition,Line 1,,dog\n", rec.Body.String())

	// Replacing a document discards the result.
	require.Equal(t, http.StatusOK, upload(t, h, "a", "a.txt", "Another text").Code)
	ws = waitForState(t, h, proofproto.StateIdle)
	require.Nil(t, ws.Comparison)
	require.Equal(t, "a.txt", ws.DocumentA.Name)

	rec = do(t, h, http.MethodGet, "/api/comparison/report.csv", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/selection", strings.NewReader(`{"id":1}`), nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	// Clearing a slot.
	rec = do(t, h, http.MethodDelete, "/api/documents/a", nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/documents/a", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkspace_SupersededComparison(t *testing.T) {
	s, h := newTestServer(t, func(c *config.Config) { c.Compare.Delay = time.Hour })

	require.Equal(t, http.StatusOK, upload(t, h, "a", "a.txt", "one").Code)
	require.Equal(t, http.StatusOK, upload(t, h, "b", "b.txt", "two").Code)
	require.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/compare", nil, nil).Code)

	s.mu.Lock()
	gen := s.workspace.generation
	require.Equal(t, proofproto.StateComparing, s.workspace.state)
	s.mu.Unlock()

	// A new upload supersedes the pending task; its result is dropped.
	require.Equal(t, http.StatusOK, upload(t, h, "b", "b.txt", "three").Code)

	s.mu.Lock()
	defer s.mu.Unlock()
	require.False(t, s.workspace.finish(gen, s.comparator.Trigger("one", "two")))
	require.Equal(t, proofproto.StateIdle, s.workspace.state)
	require.Nil(t, s.workspace.comparison)
}

func TestUpload_Multipart(t *testing.T) {
	_, h := newTestServer(t, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "scan.pdf")
	require.NoError(t, err)
	_, err = fw.Write([]byte("%PDF-1.7"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := do(t, h, http.MethodPut, "/api/documents/b", &body, map[string]string{"Content-Type": mw.FormDataContentType()})
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[proofproto.DocumentInfo](t, rec)
	require.Equal(t, "scan.pdf", info.Name)
	require.True(t, info.Placeholder)

	rec = do(t, h, http.MethodGet, "/api/documents/B", nil, nil)
	require.Equal(t, extract.PDFPlaceholder, decode[proofproto.Document](t, rec).Text)
}

// uploadSeries returns the upload counters by extension label
func uploadSeries(t *testing.T) map[string]float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	series := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != "docproof_uploads_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "ext" {
					series[l.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	return series
}

func TestUpload_MetricsLabel(t *testing.T) {
	_, h := newTestServer(t, nil)

	require.Equal(t, http.StatusOK, upload(t, h, "a", "notes.x1", "x").Code)
	before := uploadSeries(t)

	require.Equal(t, http.StatusOK, upload(t, h, "a", "notes.x2", "x").Code)
	require.Equal(t, http.StatusOK, upload(t, h, "b", "notes.TXT", "x").Code)
	after := uploadSeries(t)

	require.NotContains(t, after, ".x1")
	require.NotContains(t, after, ".x2")
	require.Equal(t, before[metrics.OtherExt]+1, after[metrics.OtherExt])
	require.Equal(t, before[".txt"]+1, after[".txt"])

	require.Equal(t, metrics.OtherExt, uploadLabel("a.X3"))
	require.Equal(t, ".docx", uploadLabel("a.DOCX"))
}

func TestUpload_Errors(t *testing.T) {
	_, h := newTestServer(t, func(c *config.Config) { c.MaxUploadBytes = 8 })

	rec := upload(t, h, "a", "a.txt", "far more than eight bytes")
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/documents/a", strings.NewReader("x"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = upload(t, h, "a", "broken.docx", "not zip")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = upload(t, h, "c", "c.txt", "x")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFiles(t *testing.T) {
	s, h := newTestServer(t, nil)
	root := s.config.RootDir
	require.NoError(t, os.MkdirAll(filepath.Join(root, "drafts"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "one.txt"), []byte("first draft"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "drafts", "two.txt"), []byte("second draft"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "image.png"), []byte{0x89}, 0644))
	require.NoError(t, s.SetupWatchers())

	rec := do(t, h, http.MethodGet, "/api/files", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"drafts/two.txt", "one.txt"}, decode[[]string](t, rec))

	rec = do(t, h, http.MethodGet, "/api/files/compare?a=one.txt&b=drafts/two.txt", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[proofproto.Comparison](t, rec)
	require.Positive(t, res.Summary.Total)

	rec = do(t, h, http.MethodGet, "/api/files/compare?a=../etc/passwd.txt&b=one.txt", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/files/compare?a=missing.txt&b=one.txt", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/files/compare?a=one.txt", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Unreadable documents are reported the same way as unreadable uploads.
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.docx"), []byte("not zip"), 0644))
	rec = do(t, h, http.MethodGet, "/api/files/compare?a=broken.docx&b=one.txt", nil, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/files/compare?a=broken.docx&b=one.txt", nil, map[string]string{"Subscribe": "true"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestWatchNewDirectory(t *testing.T) {
	s, _ := newTestServer(t, nil)
	require.NoError(t, s.SetupWatchers())

	dir := filepath.Join(s.config.RootDir, "added", "nested")
	require.NoError(t, os.MkdirAll(dir, 0755))

	require.Eventually(t, func() bool {
		return slices.Contains(s.watcher.WatchList(), dir)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestResolvePath(t *testing.T) {
	s, _ := newTestServer(t, nil)
	for _, bad := range []string{"", ".", "..", "../x.txt", "a/../../x.txt"} {
		_, err := s.resolvePath(bad)
		require.ErrorIs(t, err, errOutsideRoot, bad)
	}
	p, err := s.resolvePath("/docs/a.txt")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(s.config.RootDir, "docs", "a.txt"), p)
}

func TestCORS(t *testing.T) {
	_, h := newTestServer(t, func(c *config.Config) { c.CORS.Enabled = true })

	rec := do(t, h, http.MethodOptions, "/api/diff", nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))

	rec = do(t, h, http.MethodGet, "/api/formats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestFallback(t *testing.T) {
	_, h := newTestServer(t, nil)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/index.html", nil, nil).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", nil, nil).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/metrics", nil, nil).Code)

	frontend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("frontend " + r.URL.Path))
	}))
	t.Cleanup(frontend.Close)
	frontendURL, err := url.Parse(frontend.URL)
	require.NoError(t, err)

	_, h = newTestServer(t, func(c *config.Config) { c.ProxyURL = frontendURL })
	rec := do(t, h, http.MethodGet, "/index.html", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "frontend /index.html", rec.Body.String())
}

func TestWriteUpdate(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeUpdate(&buf, proofproto.Update{Version: []string{`"v1"`}, Body: `{"a":1}`}))
	require.Equal(t, "Version: \"v1\"\r\nParents: \r\nContent-Length: 7\r\n\r\n{\"a\":1}\r\n\r\n\r\n\r\n\r\n", buf.String())

	buf.Reset()
	require.NoError(t, writeUpdate(&buf, proofproto.Update{
		Version: []string{`"v2"`},
		Parents: []string{`"v1"`},
		Patches: []proofproto.Patch{{Op: "replace", Path: "/a", Value: 2}, {Op: "remove", Path: "/b"}},
	}))
	require.Equal(t, "Version: \"v2\"\r\nParents: \"v1\"\r\nPatches: 2\r\n\r\n"+
		"Content-Length: 1\r\nContent-Range: replace /a\r\n\r\n2"+
		"\r\n\r\n"+
		"Content-Length: 4\r\nContent-Range: remove /b\r\n\r\nnull"+
		"\r\n\r\n\r\n\r\n\r\n", buf.String())
}

const frameSeparator = "\r\n\r\n\r\n\r\n\r\n"

// readFrame reads one subscription frame, including its separator
func readFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var sb strings.Builder
	for !strings.HasSuffix(sb.String(), frameSeparator) {
		b, err := r.ReadByte()
		require.NoError(t, err, "partial frame %q", sb.String())
		sb.WriteByte(b)
	}
	return sb.String()
}

func subscribe(t *testing.T, srv *httptest.Server, target string) *bufio.Reader {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+target, nil)
	require.NoError(t, err)
	req.Header.Set("Subscribe", "true")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, statusSubscribed, resp.StatusCode)
	return bufio.NewReader(resp.Body)
}

func TestSubscribeWorkspace(t *testing.T) {
	_, h := newTestServer(t, nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	stream := subscribe(t, srv, "/api/comparison")
	first := readFrame(t, stream)
	require.Contains(t, first, "Parents: \r\n")
	require.Contains(t, first, `"state":"idle"`)

	resp, err := srv.Client().Do(mustRequest(t, http.MethodPut, srv.URL+"/api/documents/a?name=a.txt", "hello"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	patch := readFrame(t, stream)
	require.Contains(t, patch, "Content-Range: add /documentA")
	require.Contains(t, patch, `"name":"a.txt"`)
}

func TestAddSubscription_StateChangedWhileLoading(t *testing.T) {
	s, _ := newTestServer(t, nil)

	s.mu.Lock()
	s.workspace.setDocument("a", newDocument("a.txt", 3, "one"))
	s.workspace.setDocument("b", newDocument("b.txt", 3, "two"))
	a, b, gen, err := s.workspace.begin()
	s.mu.Unlock()
	require.NoError(t, err)

	mutated := make(chan struct{})
	published := make(chan struct{})
	load := func() ([]byte, error) {
		data, err := s.workspaceJSON()

		// The comparison finishes and publishes between the snapshot and the registration.
		go func() {
			s.mu.Lock()
			s.workspace.finish(gen, s.comparator.Trigger(a, b))
			s.mu.Unlock()
			close(mutated)

			s.publishWorkspace()
			close(published)
		}()
		<-mutated
		return data, err
	}

	rec := httptest.NewRecorder()
	sub, err := s.AddSubscription(workspaceResource, rec, rec, load, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.RemoveSubscription(workspaceResource, sub.ID) })
	require.Equal(t, statusSubscribed, rec.Code)

	select {
	case <-published:
	case <-time.After(5 * time.Second):
		t.Fatal("publish did not finish")
	}

	want, err := s.workspaceJSON()
	require.NoError(t, err)
	sub.mu.Lock()
	defer sub.mu.Unlock()
	require.JSONEq(t, string(want), string(sub.LastResource))
	require.Contains(t, rec.Body.String(), `"state":"comparing"`)
	require.Contains(t, rec.Body.String(), "Content-Range: replace /state")
}

func TestPublishWorkspace_SubscribersEndOnLatestState(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	sub, err := s.AddSubscription(workspaceResource, rec, rec, s.workspaceJSON, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.RemoveSubscription(workspaceResource, sub.ID) })

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.mu.Lock()
			s.workspace.selectedID = i
			s.mu.Unlock()
			s.publishWorkspace()
		}()
	}
	wg.Wait()

	want, err := s.workspaceJSON()
	require.NoError(t, err)
	sub.mu.Lock()
	defer sub.mu.Unlock()
	require.JSONEq(t, string(want), string(sub.LastResource))
}

func TestSubscribeFiles(t *testing.T) {
	s, h := newTestServer(t, nil)
	root := s.config.RootDir
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("draft one"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("draft xyz"), 0644))

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	stream := subscribe(t, srv, "/api/files/compare?a=a.txt&b=b.txt")
	first := readFrame(t, stream)
	require.Contains(t, first, `"textA":"one"`)

	s.mu.RLock()
	watched := len(s.watched)
	s.mu.RUnlock()
	require.Equal(t, 1, watched)

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("draft qqq"), 0644))
	s.publishFile("b.txt")

	update := readFrame(t, stream)
	require.Contains(t, update, "Content-Range: ")
	require.Contains(t, update, `"qqq"`)
}

func mustRequest(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, target, strings.NewReader(body))
	require.NoError(t, err)
	return req
}
