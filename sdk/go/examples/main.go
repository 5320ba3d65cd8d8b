package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"SmartBI-Agent/sdk/go/smartbi"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/uploads/csv", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(smartbi.Upload{ID: 1, Filename: "sales.csv", SourceType: "direct_upload"})
	})
	mux.HandleFunc("POST /api/v1/uploads/1/load", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(smartbi.LoadResult{UploadID: 1, Result: "Successfully loaded sales.csv as 'sales'."})
	})
	mux.HandleFunc("POST /api/v1/queries", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(smartbi.Query{ID: "query-demo", Status: smartbi.StatusPending, MaxRetries: 3})
	})
	mux.HandleFunc("GET /api/v1/queries/query-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(smartbi.Query{
			ID:         "query-demo",
			Status:     smartbi.StatusSucceeded,
			MaxRetries: 3,
			Result:     &smartbi.QueryResult{Response: "North sold the most units."},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := smartbi.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	upload, err := client.UploadCSV(ctx, "sales.csv", strings.NewReader("region,units\nnorth,3\n"))
	if err != nil {
		panic(err)
	}
	fmt.Printf("uploaded %s as #%d\n", upload.Filename, upload.ID)

	loaded, err := client.LoadUpload(ctx, upload.ID, "sales")
	if err != nil {
		panic(err)
	}
	fmt.Println(loaded.Result)

	submitted, err := client.SubmitQuery(ctx, smartbi.QuerySubmission{Query: "Which region sold the most?"})
	if err != nil {
		panic(err)
	}
	done, err := client.WaitForQuery(ctx, submitted.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("query %s (%s): %s\n", done.ID, done.Status, done.Result.Response)
}
