package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/contentmine/engine/internal/ai"
	"github.com/contentmine/engine/internal/config"
	"github.com/contentmine/engine/internal/httpapi/handlers"
	"github.com/contentmine/engine/internal/ledger"
	"github.com/contentmine/engine/internal/storage"
	"github.com/contentmine/engine/internal/workflow"
)

type stubProvider struct{}

func (stubProvider) Generate(ctx context.Context, req ai.Request) (*ai.Generation, error) {
	return &ai.Generation{
		Content:     "stub content",
		ContentType: "text/plain",
		Model:       "stub-model",
		Usage:       ai.Usage{Units: 7},
	}, nil
}

type stubStorage struct{ n int }

func (s *stubStorage) Store(ctx context.Context, content []byte, meta storage.Metadata) (*storage.StoredContent, error) {
	s.n++
	sum := sha256.Sum256(content)
	return &storage.StoredContent{
		ContentID:     fmt.Sprintf("bafyapi%04d", s.n),
		RetrievalURL:  fmt.Sprintf("https://gateway.test/ipfs/bafyapi%04d", s.n),
		IntegrityHash: hex.EncodeToString(sum[:]),
		Size:          int64(len(content)),
	}, nil
}

type stubLedger struct{}

func (stubLedger) SubmitBatch(ctx context.Context, slots []ledger.Slot) (*ledger.Result, error) {
	return &ledger.Result{Success: true, TransactionID: "0xapi"}, nil
}

const testSecret = "router-test-secret"

type stubIntake struct {
	published []workflow.SubmissionConfig
	err       error
}

func (s *stubIntake) PublishSubmission(ctx context.Context, cfg workflow.SubmissionConfig) error {
	if s.err != nil {
		return s.err
	}
	s.published = append(s.published, cfg)
	return nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	return newTestRouterWithIntake(t, nil)
}

func newTestRouterWithIntake(t *testing.T, intake handlers.IntakePublisher) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := ai.NewRegistry()
	registry.Register("fake", func(ctx context.Context, model, apiKey string) (ai.Provider, error) {
		return stubProvider{}, nil
	})

	store := workflow.NewMemoryStore()
	batches := workflow.NewBatchRegistry(stubLedger{}, store, nil, 50, 5*time.Minute)
	executor := workflow.NewStageExecutor(store, registry, &stubStorage{}, batches, nil)
	engine := workflow.NewEngine(workflow.Options{Store: store, Executor: executor, Batches: batches})

	cfg := config.Config{JWTSecret: testSecret}
	return NewRouter(engine, cfg, intake)
}

func bearerToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "agent-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + token
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestCreateAndPollSubmission(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(map[string]any{
		"generator_id":         "agent-1",
		"campaign_id":          "camp-api",
		"campaign_title":       "API Test",
		"campaign_description": "write something",
		"provider":             "fake",
		"submitter_address":    "0x1111111111111111111111111111111111111111",
		"auto_submit":          false,
	})
	req := httptest.NewRequest(http.MethodPost, "/submissions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearerToken(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeResponse(t, w)
	var created struct {
		SubmissionID string `json:"submission_id"`
	}
	if err := json.Unmarshal(resp.Data, &created); err != nil || created.SubmissionID == "" {
		t.Fatalf("no submission id in %s", resp.Data)
	}

	// poll the read surface until the pipeline finishes
	deadline := time.Now().Add(2 * time.Second)
	for {
		req := httptest.NewRequest(http.MethodGet, "/submissions/"+created.SubmissionID, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("poll status = %d, body %s", w.Code, w.Body.String())
		}
		var data struct {
			Submission workflow.SubmissionProgress `json:"submission"`
		}
		if err := json.Unmarshal(decodeResponse(t, w).Data, &data); err != nil {
			t.Fatalf("decode submission: %v", err)
		}
		if data.Submission.Status == workflow.StatusCompleted {
			if data.Submission.ProgressPercent != 100 {
				t.Errorf("progress = %d, want 100", data.Submission.ProgressPercent)
			}
			break
		}
		if data.Submission.Status == workflow.StatusFailed {
			t.Fatalf("submission failed: %s", data.Submission.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("submission stuck in %s", data.Submission.Status)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCreateSubmissionRequiresAuth(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/submissions", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d without token, want 401", w.Code)
	}
	if resp := decodeResponse(t, w); resp.Code != 40101 {
		t.Errorf("code = %d, want 40101", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/submissions", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d with garbage token, want 401", w.Code)
	}
	if resp := decodeResponse(t, w); resp.Code != 40102 {
		t.Errorf("code = %d, want 40102", resp.Code)
	}
}

func TestCreateSubmissionRejectsMissingFields(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(map[string]any{"generator_id": "agent-1"})
	req := httptest.NewRequest(http.MethodPost, "/submissions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearerToken(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if resp := decodeResponse(t, w); resp.Code != 10001 {
		t.Errorf("code = %d, want 10001", resp.Code)
	}
}

func TestEnqueueSubmissionPublishesToIntake(t *testing.T) {
	intake := &stubIntake{}
	router := newTestRouterWithIntake(t, intake)

	body, _ := json.Marshal(map[string]any{
		"generator_id": "agent-1",
		"campaign_id":  "camp-enqueue",
		"provider":     "fake",
		"auto_submit":  true,
	})
	req := httptest.NewRequest(http.MethodPost, "/submissions/enqueue", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearerToken(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(intake.published) != 1 || intake.published[0].CampaignID != "camp-enqueue" {
		t.Fatalf("published = %+v, want one config for camp-enqueue", intake.published)
	}
	if !intake.published[0].AutoSubmit {
		t.Error("auto_submit flag lost on the way to the intake queue")
	}
}

func TestEnqueueSubmissionWithoutIntakeQueue(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(map[string]any{
		"generator_id": "agent-1",
		"campaign_id":  "camp-enqueue",
	})
	req := httptest.NewRequest(http.MethodPost, "/submissions/enqueue", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearerToken(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when no intake queue is wired", w.Code)
	}
	if resp := decodeResponse(t, w); resp.Code != 50301 {
		t.Errorf("code = %d, want 50301", resp.Code)
	}
}

func TestGetSubmissionNotFound(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/submissions/01UNKNOWN00000000000000000", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if resp := decodeResponse(t, w); resp.Code != 40401 {
		t.Errorf("code = %d, want 40401", resp.Code)
	}
}

func TestGetBatchStatusNotFound(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/campaigns/camp-none/batch", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if resp := decodeResponse(t, w); resp.Code != 40402 {
		t.Errorf("code = %d, want 40402", resp.Code)
	}
}

func TestPing(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
