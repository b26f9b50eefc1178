package vast

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/MannyJMusic/dfl-desktop/exec"
)

func countCalls(mock *exec.MockExecutor, args ...string) int {
	n := 0
	for _, call := range mock.GetCalls() {
		if len(call.Args) < len(args) {
			continue
		}
		match := true
		for i, a := range args {
			if call.Args[i] != a {
				match = false
				break
			}
		}
		if match {
			n++
		}
	}
	return n
}

func TestIsMine_OwnedFlags(t *testing.T) {
	client, _ := newTestClient(t)
	r := NewResolver(client, "")
	ctx := context.Background()

	for _, key := range []string{"is_owner", "mine", "owned", "is_mine", "my_template"} {
		for _, v := range []any{true, "true", "1", "Yes", "y"} {
			if !r.IsMine(ctx, Record{key: v}) {
				t.Errorf("flag %s=%v should classify as mine", key, v)
			}
		}
		if r.IsMine(ctx, Record{key: false}) {
			t.Errorf("flag %s=false should not classify as mine", key)
		}
		if r.IsMine(ctx, Record{key: "no"}) {
			t.Errorf("flag %s=no should not classify as mine", key)
		}
	}
}

func TestIsMine_OwnerOverride(t *testing.T) {
	client, _ := newTestClient(t)
	r := NewResolver(client, "42")
	ctx := context.Background()

	for _, key := range []string{"creator_id", "owner_id", "created_by", "user_id"} {
		if !r.IsMine(ctx, Record{key: json.Number("42")}) {
			t.Errorf("override should match numeric %s", key)
		}
		if !r.IsMine(ctx, Record{key: "42"}) {
			t.Errorf("override should match string %s", key)
		}
	}
	if r.IsMine(ctx, Record{"owner_id": json.Number("43")}) {
		t.Error("different owner should not match")
	}
}

func TestIsMine_CallerIDMatch(t *testing.T) {
	client, mock := newTestClient(t)
	mock.AddPrefixMatch("vastai", []string{"show", "user"}, exec.MockResponse{
		Stdout: []byte(`{"id": 42, "username": "dfl"}`),
	})
	r := NewResolver(client, "")
	ctx := context.Background()

	// String "42" in the record, numeric 42 from show user: both stringify.
	if !r.IsMine(ctx, Record{"owner_id": "42"}) {
		t.Error("caller id should match owner_id=\"42\"")
	}
	if r.IsMine(ctx, Record{"owner_id": "99"}) {
		t.Error("foreign owner_id should not match")
	}
	if got := countCalls(mock, "show", "user"); got != 1 {
		t.Errorf("show user called %d times, want 1", got)
	}
}

func TestUserID_FailureCachedPermanently(t *testing.T) {
	client, mock := newTestClient(t)
	mock.AddPrefixMatch("vastai", []string{"show", "user"}, exec.MockResponse{
		Stderr: []byte("401 unauthorized"),
		Err:    &exec.MockExitError{Code: 1},
	})
	r := NewResolver(client, "")
	ctx := context.Background()

	if id := r.UserID(ctx); id != "" {
		t.Errorf("UserID = %q, want empty after failure", id)
	}
	r.IsMine(ctx, Record{"owner_id": "42"})
	r.IsMine(ctx, Record{"user_id": "42"})

	if got := countCalls(mock, "show", "user"); got != 1 {
		t.Errorf("failed lookup retried: %d calls, want 1", got)
	}
}

func TestIsMine_CachedNameAndIdentity(t *testing.T) {
	client, _ := newTestClient(t)
	r := NewResolver(client, "")
	ctx := context.Background()

	r.Remember(Record{"id": json.Number("5"), "name": "my-dfl-template"})

	if !r.IsMine(ctx, Record{"id": "5"}) {
		t.Error("cached identity should match")
	}
	if !r.IsMine(ctx, Record{"name": "my-dfl-template", "owner_id": "999"}) {
		t.Error("cached name should match a re-listed record")
	}
	if r.IsMine(ctx, Record{"id": "6", "name": "someone-elses"}) {
		t.Error("unknown record should not match")
	}
}

func TestEnsureTemplateCache_SeedAndPartition(t *testing.T) {
	client, mock := newTestClient(t)
	mock.AddPrefixMatch("vastai", []string{"search", "templates", "my=true"}, exec.MockResponse{
		Stdout: []byte(`[{"id": 1, "name": "mine-seeded", "hash_id": "h1"}]`),
	})
	mock.AddPrefixMatch("vastai", []string{"show", "user"}, exec.MockResponse{
		Stdout: []byte(`{"id": 42}`),
	})
	// Full market listing: the seeded one again, one owned via caller id,
	// one foreign.
	mock.AddExactMatch("vastai", []string{"search", "templates", "--raw"}, exec.MockResponse{
		Stdout: []byte(`[
			{"id": 1, "name": "mine-seeded", "hash_id": "h1"},
			{"id": 2, "name": "mine-by-owner", "owner_id": 42},
			{"id": 3, "name": "foreign", "owner_id": 7}
		]`),
	})

	r := NewResolver(client, "")
	mine, others, err := r.EnsureTemplateCache(context.Background())
	if err != nil {
		t.Fatalf("EnsureTemplateCache: %v", err)
	}

	if len(mine) != 2 {
		t.Fatalf("mine = %d records, want 2: %v", len(mine), mine)
	}
	if mine[0].FirstString("id") != "1" || mine[1].FirstString("id") != "2" {
		t.Errorf("wrong partition: %v", mine)
	}
	if len(others) != 1 || others[0].FirstString("id") != "3" {
		t.Errorf("others = %v", others)
	}
	// Seeded record keeps its memoized hash.
	if mine[0].FirstString("template_hash") != "h1" {
		t.Errorf("seeded template hash not memoized: %v", mine[0])
	}

	// Second call is served from cache.
	before := len(mock.GetCalls())
	if _, _, err := r.EnsureTemplateCache(context.Background()); err != nil {
		t.Fatalf("cached call: %v", err)
	}
	if after := len(mock.GetCalls()); after != before {
		t.Errorf("cached call hit the CLI: %d -> %d calls", before, after)
	}
}

func TestEnsureTemplateCache_ShowTemplatesFallback(t *testing.T) {
	client, mock := newTestClient(t)
	// All seed queries return nothing; show user fails.
	mock.AddPrefixMatch("vastai", []string{"show", "user"}, exec.MockResponse{
		Err: &exec.MockExitError{Code: 1},
	})
	mock.AddPrefixMatch("vastai", []string{"show", "templates"}, exec.MockResponse{
		Stdout: []byte(`[{"id": 9, "name": "account-owned"}]`),
	})
	mock.AddExactMatch("vastai", []string{"search", "templates", "--raw"}, exec.MockResponse{
		Stdout: []byte(`[{"id": 9, "name": "account-owned"}, {"id": 10, "name": "foreign"}]`),
	})

	r := NewResolver(client, "")
	mine, others, err := r.EnsureTemplateCache(context.Background())
	if err != nil {
		t.Fatalf("EnsureTemplateCache: %v", err)
	}
	if len(mine) != 1 || mine[0].FirstString("id") != "9" {
		t.Errorf("mine = %v", mine)
	}
	if len(others) != 1 || others[0].FirstString("id") != "10" {
		t.Errorf("others = %v", others)
	}
	if got := countCalls(mock, "show", "templates"); got != 1 {
		t.Errorf("show templates called %d times, want 1", got)
	}
}

func TestEnsureTemplateCache_ListingFailurePropagates(t *testing.T) {
	client, mock := newTestClient(t)
	mock.AddPrefixMatch("vastai", []string{"search", "templates", "my=true"}, exec.MockResponse{
		Stdout: []byte(`[{"id": 1, "name": "seeded"}]`),
	})
	mock.AddExactMatch("vastai", []string{"search", "templates", "--raw"}, exec.MockResponse{
		Stderr: []byte("api unavailable"),
		Err:    &exec.MockExitError{Code: 1},
	})

	r := NewResolver(client, "")
	_, _, err := r.EnsureTemplateCache(context.Background())
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %v", err)
	}

	// Retry runs the listing again but not the seed queries.
	if _, _, err := r.EnsureTemplateCache(context.Background()); err == nil {
		t.Fatal("expected second failure")
	}
	if got := countCalls(mock, "search", "templates", "my=true"); got != 1 {
		t.Errorf("seed query ran %d times, want 1", got)
	}
	if got := countCalls(mock, "search", "templates", "--raw"); got != 2 {
		t.Errorf("listing ran %d times, want 2", got)
	}
}

func TestInvalidate_ResetsEverything(t *testing.T) {
	client, mock := newTestClient(t)
	mock.AddPrefixMatch("vastai", []string{"search", "templates", "my=true"}, exec.MockResponse{
		Stdout: []byte(`[{"id": 1, "name": "seeded"}]`),
	})
	mock.AddExactMatch("vastai", []string{"search", "templates", "--raw"}, exec.MockResponse{
		Stdout: []byte(`[{"id": 1, "name": "seeded"}]`),
	})

	r := NewResolver(client, "")
	ctx := context.Background()
	if _, _, err := r.EnsureTemplateCache(ctx); err != nil {
		t.Fatalf("EnsureTemplateCache: %v", err)
	}

	r.Invalidate()

	if r.IsMine(ctx, Record{"id": "1"}) {
		t.Error("cached identity should be gone after invalidation")
	}
	if _, _, err := r.EnsureTemplateCache(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if got := countCalls(mock, "search", "templates", "my=true"); got != 2 {
		t.Errorf("seed query ran %d times after invalidation, want 2", got)
	}
}

func TestOwnerFilterSeeding(t *testing.T) {
	client, mock := newTestClient(t)
	mock.AddPrefixMatch("vastai", []string{"show", "user"}, exec.MockResponse{
		Stdout: []byte(`{"id": 42}`),
	})
	// Only one filter spelling yields results; the rest return nothing.
	mock.AddPrefixMatch("vastai", []string{"search", "templates", "creator_id=42"}, exec.MockResponse{
		Stdout: []byte(`[{"id": 20, "name": "by-creator"}]`),
	})
	mock.AddExactMatch("vastai", []string{"search", "templates", "--raw"}, exec.MockResponse{
		Stdout: []byte(`[{"id": 20, "name": "by-creator"}, {"id": 21, "name": "foreign"}]`),
	})

	r := NewResolver(client, "")
	mine, others, err := r.EnsureTemplateCache(context.Background())
	if err != nil {
		t.Fatalf("EnsureTemplateCache: %v", err)
	}
	if len(mine) != 1 || mine[0].FirstString("id") != "20" {
		t.Errorf("mine = %v", mine)
	}
	if len(others) != 1 {
		t.Errorf("others = %v", others)
	}
	// Every filter spelling was attempted for the resolved caller id.
	for _, key := range []string{"owner_id", "creator_id", "created_by", "user_id", "author_id"} {
		if got := countCalls(mock, "search", "templates", key+"=42"); got != 1 {
			t.Errorf("filter %s ran %d times, want 1", key, got)
		}
	}
}
