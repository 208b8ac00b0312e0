package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mymove-wizard/internal/wizard"
)

func newTestClient(t *testing.T, srv *httptest.Server, opts Options) *Client {
	t.Helper()
	opts.BaseURL = srv.URL
	opts.HTTPClient = srv.Client()
	if opts.RetryWait == 0 {
		opts.RetryWait = time.Millisecond
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewValidatesBaseURL(t *testing.T) {
	for _, raw := range []string{"", "   ", "not a url", "/relative"} {
		if _, err := New(Options{BaseURL: raw}); err == nil {
			t.Fatalf("expected error for base url %q", raw)
		}
	}
	c, err := New(Options{BaseURL: "http://localhost:8080/"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.baseURL != "http://localhost:8080/api" {
		t.Fatalf("unexpected base url %q", c.baseURL)
	}
}

func TestCreateOfferSendsJSONWithBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/offers" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "kunde@example.at" || pass != "geheim" {
			t.Errorf("missing basic auth")
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		var req wizard.CreateOfferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.FromAddress.City != "Wien" || req.MoveDate != "2026-11-02" {
			t.Errorf("unexpected payload %+v", req)
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": "O1", "status": "DRAFT"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{Email: "kunde@example.at", Password: "geheim"})
	offer, err := c.CreateOffer(context.Background(), wizard.CreateOfferRequest{
		FromAddress: wizard.Address{City: "Wien"},
		MoveDate:    "2026-11-02",
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if offer.ID != "O1" || offer.Status != wizard.OfferDraft {
		t.Fatalf("unexpected offer %+v", offer)
	}
}

func TestTokenUsesBearerAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("unexpected authorization %q", got)
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "J1", "status": "RUNNING"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{Token: "tok-123", Email: "ignored@example.at", Password: "x"})
	job, err := c.CheckAnalysisStatus(context.Background(), "J1")
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if job.Status != wizard.JobRunning {
		t.Fatalf("unexpected status %s", job.Status)
	}
}

func TestErrorBodyBecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"status":    409,
			"error":     "Conflict",
			"message":   "Inventory already confirmed",
			"path":      r.URL.Path,
			"requestId": "req-9",
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	_, err := c.ConfirmInventory(context.Background(), "INV1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Code != "Conflict" || apiErr.RequestID != "req-9" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if apiErr.UserMessage() != "Inventory already confirmed" {
		t.Fatalf("unexpected message %q", apiErr.UserMessage())
	}
	if apiErr.Path != "/api/v1/inventories/INV1/confirm" {
		t.Fatalf("unexpected path %q", apiErr.Path)
	}
}

func TestUnauthorizedMatchesSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	_, err := c.GetInventory(context.Background(), "INV1")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("401 must not match ErrNotFound")
	}
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{{"id": "F1", "status": "SUBMITTED"}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	offers, err := c.GetFinalOffers(context.Background(), "O1")
	if err != nil {
		t.Fatalf("get final offers: %v", err)
	}
	if len(offers) != 1 || offers[0].ID != "F1" {
		t.Fatalf("unexpected offers %+v", offers)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestGetGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{MaxRetries: 2})
	_, err := c.GetJob(context.Background(), "J1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway {
		t.Fatalf("expected 502 APIError, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestClientErrorsAndMutationsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	if _, err := c.GetInventoryByOffer(context.Background(), "O1"); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx GET retried: %d calls", calls.Load())
	}

	calls.Store(0)
	if _, err := c.AcceptFinalOffer(context.Background(), "F1"); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("POST retried: %d calls", calls.Load())
	}
}

func TestUploadVideoStreamsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/videos/upload" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "fake-mp4-bytes" {
			t.Errorf("unexpected content %q", data)
		}
		if header.Filename != "wohnung.mp4" {
			t.Errorf("unexpected filename %q", header.Filename)
		}
		if ct := header.Header.Get("Content-Type"); ct != "video/mp4" {
			t.Errorf("unexpected part content type %q", ct)
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "V1", "filename": header.Filename, "sizeBytes": len(data)})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	video, err := c.UploadVideo(context.Background(), wizard.VideoFile{
		Name:        "/tmp/uploads/wohnung.mp4",
		ContentType: "video/mp4",
		Content:     strings.NewReader("fake-mp4-bytes"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if video.ID != "V1" || video.SizeBytes != int64(len("fake-mp4-bytes")) {
		t.Fatalf("unexpected video %+v", video)
	}
}

func TestUploadVideoRequiresContent(t *testing.T) {
	c, err := New(Options{BaseURL: "http://localhost:1"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.UploadVideo(context.Background(), wizard.VideoFile{Name: "x.mp4"}); err == nil {
		t.Fatalf("expected error for nil content")
	}
}

func TestStartAnalysisLinksOffer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/ai/analyze/V1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("offerId"); got != "O1" {
			t.Errorf("unexpected offerId %q", got)
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"id": "J1", "videoId": "V1", "offerId": "O1", "status": "PENDING"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	job, err := c.StartAnalysis(context.Background(), "V1", "O1")
	if err != nil {
		t.Fatalf("start analysis: %v", err)
	}
	if job.ID != "J1" || job.Status != wizard.JobPending {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestInventoryEndpoints(t *testing.T) {
	type seen struct{ method, path, body string }
	var (
		mu  sync.Mutex
		got []seen
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, seen{r.Method, r.URL.Path, strings.TrimSpace(string(body))})
		mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"id": "INV1", "status": "DRAFT", "totalVolume": 1.5})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	ctx := context.Background()
	calls := []func() (wizard.Inventory, error){
		func() (wizard.Inventory, error) { return c.GetInventory(ctx, "INV1") },
		func() (wizard.Inventory, error) { return c.GetInventoryByOffer(ctx, "O1") },
		func() (wizard.Inventory, error) {
			return c.AddInventoryItem(ctx, "INV1", wizard.InventoryItemRequest{Name: "Box", Quantity: 2})
		},
		func() (wizard.Inventory, error) {
			return c.UpdateInventoryItem(ctx, "INV1", 3, wizard.UpdateInventoryItemRequest{Name: "Sofa", Quantity: 4})
		},
		func() (wizard.Inventory, error) { return c.RemoveInventoryItem(ctx, "INV1", 0) },
		func() (wizard.Inventory, error) { return c.ReplaceInventoryItems(ctx, "INV1", nil) },
		func() (wizard.Inventory, error) { return c.ConfirmInventory(ctx, "INV1") },
	}
	for i, call := range calls {
		inv, err := call()
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if inv.ID != "INV1" || inv.TotalVolume != 1.5 {
			t.Fatalf("call %d: unexpected inventory %+v", i, inv)
		}
	}

	want := []seen{
		{http.MethodGet, "/api/v1/inventories/INV1", ""},
		{http.MethodGet, "/api/v1/inventories/by-offer/O1", ""},
		{http.MethodPost, "/api/v1/inventories/INV1/items", `{"name":"Box","quantity":2}`},
		{http.MethodPatch, "/api/v1/inventories/INV1/items/3", `{"name":"Sofa","quantity":4}`},
		{http.MethodDelete, "/api/v1/inventories/INV1/items/0", ""},
		{http.MethodPut, "/api/v1/inventories/INV1/items", `[]`},
		{http.MethodPost, "/api/v1/inventories/INV1/confirm", ""},
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("expected %d requests, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("request %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestUpdateInventoryItemAlwaysSendsQuantity(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = strings.TrimSpace(string(raw))
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Quantity must be at least 1"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	_, err := c.UpdateInventoryItem(context.Background(), "INV1", 0, wizard.UpdateInventoryItemRequest{Name: "Sofa", Quantity: 0})
	if err == nil {
		t.Fatalf("expected backend rejection")
	}
	if body != `{"name":"Sofa","quantity":0}` {
		t.Fatalf("unexpected PATCH body %s", body)
	}
}

func TestFinalOfferDecisions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/final-offers/F1/accept":
			writeJSON(w, http.StatusOK, map[string]any{"id": "F1", "status": "ACCEPTED"})
		case "/api/v1/final-offers/F2/reject":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			writeJSON(w, http.StatusOK, map[string]any{"id": "F2", "status": "REJECTED", "rejectionReason": body["reason"]})
		case "/api/v1/offers/O1/best-offer":
			w.WriteHeader(http.StatusNotFound)
		case "/api/v1/offers/O2/best-offer":
			writeJSON(w, http.StatusOK, map[string]any{"id": "F7", "totalPrice": 990.5})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	ctx := context.Background()

	accepted, err := c.AcceptFinalOffer(ctx, "F1")
	if err != nil || accepted.Status != wizard.FinalOfferAccepted {
		t.Fatalf("accept: %+v %v", accepted, err)
	}
	rejected, err := c.RejectFinalOffer(ctx, "F2", "zu teuer")
	if err != nil || rejected.RejectionReason != "zu teuer" {
		t.Fatalf("reject: %+v %v", rejected, err)
	}
	best, err := c.GetBestOffer(ctx, "O1")
	if err != nil || best != nil {
		t.Fatalf("expected no best offer, got %+v %v", best, err)
	}
	best, err = c.GetBestOffer(ctx, "O2")
	if err != nil || best == nil || best.TotalPrice != 990.5 {
		t.Fatalf("unexpected best offer %+v %v", best, err)
	}
}

func TestMalformedResponseIsDecodeError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	_, err := c.GetJobByOffer(context.Background(), "O1")
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("decode error retried: %d calls", calls.Load())
	}
}
