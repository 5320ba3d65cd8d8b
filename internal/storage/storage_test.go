package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"SmartBI-Agent/internal/llm"
	"SmartBI-Agent/internal/orchestrator"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	memory, err := NewMemoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create memory store: %v", err)
	}
	sqlite, err := Open(ctx, Config{Driver: "sqlite", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{"memory": memory, "sqlite": sqlite}
}

func TestUploadsCRUD(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := &Upload{Filename: "sales.csv", Content: "a,b\n1,2\n", SourceType: SourceDirectUpload}
			if err := store.CreateUpload(ctx, first); err != nil {
				t.Fatalf("create failed: %v", err)
			}
			second := &Upload{Filename: "chart.png_extracted.csv", Content: "x,y\n", SourceType: SourceImageConversion}
			if err := store.CreateUpload(ctx, second); err != nil {
				t.Fatalf("create failed: %v", err)
			}
			if first.ID == 0 || second.ID <= first.ID {
				t.Fatalf("unexpected ids: %d, %d", first.ID, second.ID)
			}
			if first.CreatedAt == 0 {
				t.Fatalf("expected created_at to be assigned")
			}

			got, err := store.GetUpload(ctx, first.ID)
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if got.Content != first.Content || got.SourceType != SourceDirectUpload {
				t.Fatalf("unexpected upload: %+v", got)
			}

			list, err := store.ListUploads(ctx)
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
				t.Fatalf("unexpected list: %+v", list)
			}

			if _, err := store.GetUpload(ctx, 999); !IsNotFound(err) {
				t.Fatalf("expected not found, got %v", err)
			}
		})
	}
}

func TestInteractionsNewestFirst(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			image := []byte{0x89, 'P', 'N', 'G'}
			plain := &Interaction{Prompt: "hi", Response: "hello", PromptType: llm.PromptTextOnly, ModelUsed: "m", ProcessingTimeMS: 12}
			withImage := &Interaction{Prompt: "what?", Response: "a chart", PromptType: llm.PromptTextAndImage, ImageData: image, ImageFilename: "c.png"}
			for _, rec := range []*Interaction{plain, withImage} {
				if err := store.CreateInteraction(ctx, rec); err != nil {
					t.Fatalf("create failed: %v", err)
				}
			}

			list, err := store.ListInteractions(ctx, 10)
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(list) != 2 || list[0].ID != withImage.ID {
				t.Fatalf("expected newest first, got %+v", list)
			}
			limited, err := store.ListInteractions(ctx, 1)
			if err != nil || len(limited) != 1 {
				t.Fatalf("limit not applied: %v, %+v", err, limited)
			}

			got, err := store.GetInteraction(ctx, withImage.ID)
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if !got.HasImage() || string(got.ImageData) != string(image) || got.ImageFilename != "c.png" {
				t.Fatalf("image not stored: %+v", got)
			}
			got, err = store.GetInteraction(ctx, plain.ID)
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if got.HasImage() || got.ProcessingTimeMS != 12 || got.ModelUsed != "m" {
				t.Fatalf("unexpected interaction: %+v", got)
			}
			if _, err := store.GetInteraction(ctx, 999); !IsNotFound(err) {
				t.Fatalf("expected not found, got %v", err)
			}
		})
	}
}

func TestMemoryStoreRestoresFromDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	store, err := NewMemoryStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.CreateUpload(ctx, &Upload{Filename: "a.csv", Content: "a\n1\n", SourceType: SourceDirectUpload}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.CreateInteraction(ctx, &Interaction{Prompt: "p", Response: "r", PromptType: llm.PromptTextOnly}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reopened, err := NewMemoryStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	uploads, _ := reopened.ListUploads(ctx)
	if len(uploads) != 1 || uploads[0].Filename != "a.csv" {
		t.Fatalf("uploads not restored: %+v", uploads)
	}
	next := &Upload{Filename: "b.csv", Content: "b\n", SourceType: SourceDirectUpload}
	if err := reopened.CreateUpload(ctx, next); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ID != 2 {
		t.Fatalf("ids should continue after restore, got %d", next.ID)
	}
}

func TestSQLiteMigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "nested", "smartbi.db")
	for i := 0; i < 2; i++ {
		store, err := NewSQLStore(ctx, DialectSQLite, Config{DSN: dsn})
		if err != nil {
			t.Fatalf("open %d failed: %v", i, err)
		}
		if err := store.CreateUpload(ctx, &Upload{Filename: "a.csv", Content: "a\n", SourceType: SourceDirectUpload}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		store.Close()
	}
	store, err := NewSQLStore(ctx, DialectSQLite, Config{DSN: dsn})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()
	uploads, err := store.ListUploads(ctx)
	if err != nil || len(uploads) != 2 {
		t.Fatalf("expected both uploads to survive reopen: %v, %+v", err, uploads)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "oracle"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestRecorder(t *testing.T) {
	store, err := NewMemoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	rec := NewRecorder(store)

	answer := &orchestrator.Answer{Query: "how many rows?", Text: "3", Model: "llama", Elapsed: 1500 * time.Millisecond}
	if err := rec.RecordAnswer(ctx, answer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, err := rec.RecordPrompt(ctx, llm.PromptResult{Prompt: "describe", Response: "a cat", PromptType: llm.PromptImageOnly, Model: "vision", ElapsedMS: 40}, []byte("img"), "cat.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.ID == 0 {
		t.Fatalf("expected id to be assigned")
	}

	list, _ := store.ListInteractions(ctx, 0)
	if len(list) != 2 {
		t.Fatalf("unexpected interactions: %+v", list)
	}
	chat := list[1]
	if chat.PromptType != PromptToolChat || chat.Prompt != "how many rows?" || chat.ProcessingTimeMS != 1500 {
		t.Fatalf("unexpected chat record: %+v", chat)
	}
	if list[0].ImageFilename != "cat.jpg" || list[0].PromptType != llm.PromptImageOnly {
		t.Fatalf("unexpected prompt record: %+v", list[0])
	}
}

func TestSQLiteDSN(t *testing.T) {
	if got := sqliteDSN("/tmp/a.db"); got != "/tmp/a.db?_pragma=busy_timeout(5000)" {
		t.Fatalf("unexpected dsn: %s", got)
	}
	if got := sqlitePath("file:/tmp/a.db?mode=rwc"); got != "/tmp/a.db" {
		t.Fatalf("unexpected path: %s", got)
	}
	if got := sqlitePath(":memory:"); got != "" {
		t.Fatalf("memory dsn should have no path, got %s", got)
	}
}
