package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pawfectfind/pawfect-importer/config"
	"github.com/pawfectfind/pawfect-importer/importer"
	"github.com/pawfectfind/pawfect-importer/models"
	"github.com/pawfectfind/pawfect-importer/pipeline"
	"github.com/pawfectfind/pawfect-importer/sources"
	"github.com/pawfectfind/pawfect-importer/store"
	"github.com/pawfectfind/pawfect-importer/verify"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixedPrice float64

func (f fixedPrice) Lookup(_ context.Context, asin string) (*sources.Offer, error) {
	price := float64(f)
	return &sources.Offer{ASIN: asin, Price: &price, Available: true}, nil
}

type testEnv struct {
	server  *Server
	backend *store.SQLStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend, err := store.OpenSQL(context.Background(), "sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	if err := backend.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.VerifyPause = 0
	cfg.AssociateTag = "pawfect-20"
	h := store.NewHandle(backend, backend)
	decider := pipeline.NewQueueDecider(nil)
	tracker := pipeline.NewTracker()
	registry := prometheus.NewRegistry()

	svc := importer.NewService(cfg, h, decider,
		importer.WithRunnerOptions(
			pipeline.WithSinks(tracker),
			pipeline.WithMetrics(pipeline.NewMetrics(registry)),
		))
	srv := New(Deps{
		Importer: svc,
		Decider:  decider,
		Tracker:  tracker,
		Sweeper:  verify.NewSweeper(cfg, h, fixedPrice(25)),
		Queue:    verify.NewQueue(h),
		Gatherer: registry,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return &testEnv{server: srv, backend: backend}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) upload(t *testing.T, path, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write([]byte(content))
	mw.Close()
	return e.do(t, http.MethodPost, path, buf.Bytes(), mw.FormDataContentType())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestImportWithConflictDecision(t *testing.T) {
	env := newTestEnv(t)
	existing := &models.Product{
		ExternalID: "101", Source: models.SourceCJ, Name: "Old", Price: 1,
		ImageURL: "https://img.test/101.jpg", AffiliateLink: "https://buy.test/101",
	}
	if _, err := env.backend.UpsertProduct(context.Background(), existing); err != nil {
		t.Fatalf("seed: %v", err)
	}

	feed := "LINK ID,NAME,CLICK URL,IMAGE URL,PRICE\n" +
		"101,Chew Toy,https://buy.test/101,https://img.test/101.jpg,12.99\n" +
		"102,Leash,https://buy.test/102,https://img.test/102.jpg,7.50\n"
	rec := env.upload(t, "/api/v1/imports/products", "feed.csv", feed)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	runID := decode[map[string]any](t, rec)["run_id"].(string)

	var decisions []pipeline.Decision
	eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/v1/imports/"+runID+"/decisions", nil, "")
		decisions = decode[struct {
			Decisions []pipeline.Decision `json:"decisions"`
		}](t, rec).Decisions
		return len(decisions) == 1
	})
	if decisions[0].Kind != pipeline.DecisionConflict || decisions[0].Key != "101" || decisions[0].ExistingID != existing.ID {
		t.Fatalf("decision = %+v", decisions[0])
	}

	rec = env.do(t, http.MethodGet, "/api/v1/imports/"+runID, nil, "")
	if status := decode[runStatus](t, rec); status.Progress == nil || status.Progress.State != models.StateAwaitingDecision {
		t.Fatalf("status while waiting = %s", rec.Body)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/decisions/"+decisions[0].ID, []byte(`{"choice":"maybe"}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid choice status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/v1/decisions/"+decisions[0].ID, []byte(`{"choice":"update"}`), "application/json")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("answer status = %d: %s", rec.Code, rec.Body)
	}

	var status runStatus
	eventually(t, func() bool {
		status = decode[runStatus](t, env.do(t, http.MethodGet, "/api/v1/imports/"+runID, nil, ""))
		return status.Done
	})
	if status.Report == nil || status.Report.State != models.StateCompleted {
		t.Fatalf("final status = %+v", status)
	}
	want := models.Summary{Total: 2, Processed: 2, Succeeded: 2, Created: 1, Updated: 1}
	if status.Report.Summary != want {
		t.Fatalf("summary = %+v", status.Report.Summary)
	}
	if status.Progress == nil || status.Progress.Percent != 100 {
		t.Fatalf("progress = %+v", status.Progress)
	}

	got, _ := env.backend.FindProduct(context.Background(), models.SourceCJ, "101")
	if got.ID != existing.ID || got.Price != 12.99 {
		t.Fatalf("product = %+v", got)
	}
}

func TestImportRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.upload(t, "/api/v1/imports/users", "feed.csv", "a\n1\n"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown entity status = %d", rec.Code)
	}
	if rec := env.upload(t, "/api/v1/imports/products", "feed.csv", "LINK ID,NAME\n1,\"oops\n"); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed feed status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/imports/products", nil, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing file status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/imports/nope", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown run status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/decisions/nope", []byte(`{"choice":"skip"}`), "application/json"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown decision status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/decisions/nope", []byte(`{}`), "application/json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty answer status = %d", rec.Code)
	}
}

func TestVerifyQueueFlow(t *testing.T) {
	env := newTestEnv(t)
	p := &models.Product{
		ExternalID: "B000000001", Source: models.SourceAmazon, Name: "Kibble", Price: 19.99,
		ImageURL:      "https://img.test/k.jpg",
		AffiliateLink: "https://www.amazon.com/dp/B000000001?tag=pawfect-20",
	}
	if _, err := env.backend.UpsertProduct(context.Background(), p); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/verify", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d: %s", rec.Code, rec.Body)
	}
	report := decode[models.VerificationReport](t, rec)
	if report.Summary.Checked != 1 || report.Summary.PriceUpdates != 1 {
		t.Fatalf("summary = %+v", report.Summary)
	}

	pending := decode[struct {
		Results []models.VerificationResult `json:"results"`
	}](t, env.do(t, http.MethodGet, "/api/v1/verify/pending", nil, "")).Results
	if len(pending) != 1 || pending[0].ProductID != p.ID {
		t.Fatalf("pending = %+v", pending)
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/verify/pending/"+p.ID+"/apply", nil, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("apply status = %d: %s", rec.Code, rec.Body)
	}
	got, _ := env.backend.GetProduct(context.Background(), p.ID)
	if got.Price != 25 {
		t.Fatalf("price = %v", got.Price)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/verify/pending/"+p.ID+"/apply", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second apply status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/verify/pending/"+p.ID+"/frobnicate", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown action status = %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodGet, "/health", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	env.upload(t, "/api/v1/imports/breeds", "breeds.csv", "name\nBeagle\n")
	eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/metrics", nil, "")
		return strings.Contains(rec.Body.String(), `pawfect_import_runs_total{entity="breed",state="completed"} 1`)
	})
}
