package lookup_test

import (
	"context"
	"testing"
	"time"

	"canopy/internal/db"
	"canopy/internal/domain"
	"canopy/internal/lookup"
	"canopy/internal/migrate"
	"canopy/internal/repo"
)

func newHistoryRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func seedIncident(t *testing.T, r repo.Repo, id, location, severity string, tags []string) {
	t.Helper()
	err := r.InsertIncident(context.Background(), domain.IncidentRecord{
		ID:         id,
		Location:   location,
		Severity:   severity,
		Tags:       tags,
		OccurredAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("insert incident: %v", err)
	}
}

func TestRepoHistoryNoIncidents(t *testing.T) {
	h := lookup.RepoHistory{Repo: newHistoryRepo(t)}
	got, err := h.Score(context.Background(), "10 Main St", nil)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if got.Score != lookup.DefaultHistoricalScore || got.SampleSize != 0 {
		t.Fatalf("got %+v, want default score with no samples", got)
	}
}

func TestRepoHistorySeverityWeighting(t *testing.T) {
	r := newHistoryRepo(t)
	seedIncident(t, r, "i1", "10 Main St", "high", nil)
	seedIncident(t, r, "i2", "10 Main St, rear lot", "medium", nil)
	seedIncident(t, r, "i3", "10 Main St", "", nil)
	seedIncident(t, r, "i4", "99 Other Rd", "high", nil)

	h := lookup.RepoHistory{Repo: r}
	got, err := h.Score(context.Background(), "10 Main St", nil)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	// 2.0 base + 1.5 high + 1.0 medium + 0.5 unrated; the unrelated
	// address does not match.
	if got.Score != 5.0 {
		t.Errorf("score %v, want 5.0", got.Score)
	}
	if got.SampleSize != 3 {
		t.Errorf("sample size %d, want 3", got.SampleSize)
	}
}

func TestRepoHistoryTagMatch(t *testing.T) {
	r := newHistoryRepo(t)
	seedIncident(t, r, "i1", "99 Other Rd", "high", []string{"severity.dead_tree"})

	h := lookup.RepoHistory{Repo: r}
	got, err := h.Score(context.Background(), "10 Main St", []string{"severity.dead_tree", "access.narrow"})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if got.SampleSize != 1 || got.Score != 3.5 {
		t.Fatalf("got %+v, want one tag-matched incident at 3.5", got)
	}
}

func TestRepoHistoryScoreCap(t *testing.T) {
	r := newHistoryRepo(t)
	for i := 0; i < 10; i++ {
		seedIncident(t, r, string(rune('a'+i)), "10 Main St", "high", nil)
	}
	h := lookup.RepoHistory{Repo: r}
	got, err := h.Score(context.Background(), "10 Main St", nil)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if got.Score != 10 {
		t.Errorf("score %v, want cap at 10", got.Score)
	}
	if got.SampleSize != 10 {
		t.Errorf("sample size %d, want 10", got.SampleSize)
	}
}
