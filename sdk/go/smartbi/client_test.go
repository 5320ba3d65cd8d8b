package smartbi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestHealth(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}))
	status, err := client.Health(context.Background())
	if err != nil || status != "healthy" {
		t.Fatalf("unexpected health: %q %v", status, err)
	}
}

func TestUploadCSVSendsMultipart(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/uploads/csv" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file: %v", err)
		}
		data, _ := io.ReadAll(file)
		if header.Filename != "sales.csv" || string(data) != "a,b\n1,2\n" {
			t.Fatalf("unexpected upload: %s %q", header.Filename, data)
		}
		_ = json.NewEncoder(w).Encode(Upload{ID: 4, Filename: header.Filename, SourceType: "direct_upload"})
	}))
	upload, err := client.UploadCSV(context.Background(), "sales.csv", strings.NewReader("a,b\n1,2\n"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if upload.ID != 4 || upload.SourceType != "direct_upload" {
		t.Fatalf("unexpected upload: %+v", upload)
	}
}

func TestListAndLoadUploads(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/uploads":
			_ = json.NewEncoder(w).Encode([]Upload{{ID: 1, Filename: "a.csv"}, {ID: 2, Filename: "b.csv"}})
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/uploads/2/load":
			if r.URL.Query().Get("name") != "sales" {
				t.Fatalf("unexpected name: %q", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode(LoadResult{UploadID: 2, Result: "Successfully loaded"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	uploads, err := client.ListUploads(context.Background())
	if err != nil || len(uploads) != 2 {
		t.Fatalf("unexpected uploads: %+v %v", uploads, err)
	}
	result, err := client.LoadUpload(context.Background(), 2, "sales")
	if err != nil || result.UploadID != 2 {
		t.Fatalf("unexpected load: %+v %v", result, err)
	}
}

func TestChat(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query   string    `json:"query"`
			History []Message `json:"history"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Query != "q" || len(body.History) != 1 {
			t.Fatalf("unexpected body: %+v", body)
		}
		_ = json.NewEncoder(w).Encode(ChatResponse{Response: "a", Model: "m"})
	}))
	resp, err := client.Chat(context.Background(), "q", []Message{{Role: "user", Content: "hi"}})
	if err != nil || resp.Response != "a" {
		t.Fatalf("unexpected chat: %+v %v", resp, err)
	}
}

func TestSubmitAndWaitForQuery(t *testing.T) {
	var polls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/queries":
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(Query{ID: "q-1", Status: StatusPending, MaxRetries: 3})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/queries/q-1":
			q := Query{ID: "q-1", Status: StatusRunning, MaxRetries: 3}
			if polls.Add(1) >= 3 {
				q.Status = StatusSucceeded
				q.Result = &QueryResult{Response: "done"}
			}
			_ = json.NewEncoder(w).Encode(q)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	submitted, err := client.SubmitQuery(ctx, QuerySubmission{Query: "top region"})
	if err != nil || submitted.ID != "q-1" {
		t.Fatalf("unexpected submit: %+v %v", submitted, err)
	}
	q, err := client.WaitForQuery(ctx, submitted.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if q.Result == nil || q.Result.Response != "done" || polls.Load() != 3 {
		t.Fatalf("unexpected query: %+v after %d polls", q, polls.Load())
	}
}

func TestQueryDone(t *testing.T) {
	tests := []struct {
		q    Query
		want bool
	}{
		{Query{Status: StatusPending, MaxRetries: 3}, false},
		{Query{Status: StatusSucceeded}, true},
		{Query{Status: StatusFailed, Attempts: 1, MaxRetries: 3}, false},
		{Query{Status: StatusFailed, Attempts: 3, MaxRetries: 3}, true},
	}
	for _, tt := range tests {
		if got := tt.q.Done(); got != tt.want {
			t.Fatalf("Done(%+v) = %v, want %v", tt.q, got, tt.want)
		}
	}
}

func TestListInteractions(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]Interaction{{ID: 2, PromptType: "text_only"}, {ID: 1}})
	}))
	items, err := client.ListInteractions(context.Background(), 5)
	if err != nil || len(items) != 2 || items[0].ID != 2 {
		t.Fatalf("unexpected interactions: %+v %v", items, err)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"task not found","code":"TASK_NOT_FOUND"}`))
	}))
	_, err := client.GetQuery(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	apiErr := err.(*APIError)
	if apiErr.Code != "TASK_NOT_FOUND" || apiErr.Detail != "task not found" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}
