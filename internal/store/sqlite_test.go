package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) HistoryStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.Create(ctx, "Trip planning")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if conv.ID == "" || conv.Title != "Trip planning" {
		t.Fatalf("created conversation = %+v", conv)
	}

	got, err := s.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Trip planning" || len(got.Messages) != 0 {
		t.Errorf("Get = %+v, want empty conversation with title", got)
	}
}

func TestCreateDefaultsTitle(t *testing.T) {
	s := newTestStore(t)
	conv, err := s.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if conv.Title != DefaultTitle {
		t.Errorf("title = %q, want %q", conv.Title, DefaultTitle)
	}
}

func TestGetUnknown(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get unknown = %v, want ErrNotFound", err)
	}
}

func TestGetOrCreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	existing, err := s.Create(ctx, "Kept")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.GetOrCreate(ctx, existing.ID)
	if err != nil {
		t.Fatalf("GetOrCreate existing: %v", err)
	}
	if got.ID != existing.ID || got.Title != "Kept" {
		t.Errorf("GetOrCreate existing = %+v", got)
	}

	fresh, err := s.GetOrCreate(ctx, "no-such-id")
	if err != nil {
		t.Fatalf("GetOrCreate missing: %v", err)
	}
	if fresh.ID == "no-such-id" || fresh.Title != DefaultTitle {
		t.Errorf("GetOrCreate missing = %+v, want a fresh conversation", fresh)
	}

	blank, err := s.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatalf("GetOrCreate blank: %v", err)
	}
	if blank.ID == "" {
		t.Error("GetOrCreate blank returned empty id")
	}
}

func TestAddMessageOrderingAndThoughts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.Create(ctx, "Ordered")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	thoughts := []string{"Atlas: thinking", "Harper: replying"}
	msgs := []StoredMessage{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second", Thoughts: thoughts, Duration: 1.5},
		{Role: "user", Content: "third"},
	}
	for _, m := range msgs {
		if err := s.AddMessage(ctx, conv.ID, m); err != nil {
			t.Fatalf("AddMessage(%q): %v", m.Content, err)
		}
	}

	got, err := s.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(got.Messages))
	}
	for i, want := range []string{"first", "second", "third"} {
		if got.Messages[i].Content != want {
			t.Errorf("message %d = %q, want %q", i, got.Messages[i].Content, want)
		}
	}

	second := got.Messages[1]
	if len(second.Thoughts) != 2 || second.Thoughts[0] != "Atlas: thinking" {
		t.Errorf("thoughts = %v, want round-tripped slice", second.Thoughts)
	}
	if second.Duration != 1.5 {
		t.Errorf("duration = %v, want 1.5", second.Duration)
	}
	if got.Messages[0].Thoughts != nil {
		t.Errorf("first message thoughts = %v, want nil", got.Messages[0].Thoughts)
	}
}

func TestUpdateTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.Create(ctx, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.UpdateTitle(ctx, conv.ID, "Named now"); err != nil {
		t.Fatalf("UpdateTitle: %v", err)
	}

	got, err := s.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Named now" {
		t.Errorf("title = %q, want Named now", got.Title)
	}

	if err := s.UpdateTitle(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateTitle unknown = %v, want ErrNotFound", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.Create(ctx, "Doomed")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.AddMessage(ctx, conv.ID, StoredMessage{Role: "user", Content: "bye"}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	if err := s.Delete(ctx, conv.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestListSummariesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, "Older")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	b, err := s.Create(ctx, "Newer")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	// Appending touches updated_at, moving the older conversation first.
	if err := s.AddMessage(ctx, a.ID, StoredMessage{Role: "user", Content: "bump"}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	summaries, err := s.ListSummaries(ctx)
	if err != nil {
		t.Fatalf("ListSummaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d summaries, want 2", len(summaries))
	}
	if summaries[0].ID != a.ID || summaries[1].ID != b.ID {
		t.Errorf("order = [%s %s], want bumped conversation first", summaries[0].Title, summaries[1].Title)
	}
}

func TestSearchSummaries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, "Rust borrow checker")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := s.Create(ctx, "Dinner ideas")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.AddMessage(ctx, b.ID, StoredMessage{Role: "user", Content: "maybe borrow a cookbook"}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	got, err := s.SearchSummaries(ctx, "BORROW")
	if err != nil {
		t.Fatalf("SearchSummaries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("search matched %d conversations, want 2 (title and content hits)", len(got))
	}

	got, err = s.SearchSummaries(ctx, "checker")
	if err != nil {
		t.Fatalf("SearchSummaries: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("search checker = %+v, want only the title match", got)
	}

	got, err = s.SearchSummaries(ctx, "zzz")
	if err != nil {
		t.Fatalf("SearchSummaries: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("search zzz = %+v, want no matches", got)
	}
}
