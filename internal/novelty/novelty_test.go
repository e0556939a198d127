package novelty

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/intel-pipeline/internal/globaltime"
)

type fakeSearcher struct {
	matches []Match
	err     error

	gotExcludeIDs [][]int64
	gotSince      time.Time
	gotLimit      int
}

func (f *fakeSearcher) NearestProcessedItems(_ context.Context, excludeIDs []int64, _ []float32, since time.Time, limit int) ([]Match, error) {
	f.gotExcludeIDs = append(f.gotExcludeIDs, append([]int64(nil), excludeIDs...))
	f.gotSince = since
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.matches, nil
}

func TestCheckNoHistoryIsFullyNovel(t *testing.T) {
	searcher := &fakeSearcher{}
	checker := NewChecker(searcher, zerolog.Nop())

	result, err := checker.Check(context.Background(), 42, []float32{1, 0}, Options{})
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !result.IsNovel {
		t.Fatalf("expected item with no history to be novel")
	}
	if result.NoveltyScore != 1.0 {
		t.Fatalf("expected novelty score 1.0, got %f", result.NoveltyScore)
	}
	if len(result.SimilarItems) != 0 {
		t.Fatalf("expected no similar items, got %d", len(result.SimilarItems))
	}
	if result.IsFollowup {
		t.Fatalf("expected no follow-up flag without history")
	}

	if len(searcher.gotExcludeIDs) != 1 || len(searcher.gotExcludeIDs[0]) != 1 || searcher.gotExcludeIDs[0][0] != 42 {
		t.Fatalf("expected the item's own id excluded, got %v", searcher.gotExcludeIDs)
	}
	if searcher.gotLimit != DefaultCandidateLimit {
		t.Fatalf("expected default candidate limit, got %d", searcher.gotLimit)
	}
}

func TestCheckWindowCutoff(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	searcher := &fakeSearcher{}
	checker := NewChecker(searcher, zerolog.Nop())

	if _, err := checker.Check(context.Background(), 1, []float32{1, 0}, Options{WeeksBack: 4}); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	want := time.Date(2026, 7, 22, 12, 0, 0, 0, time.UTC)
	if !searcher.gotSince.Equal(want) {
		t.Fatalf("unexpected window cutoff: got %v want %v", searcher.gotSince, want)
	}
}

func TestCheckThresholdFilteringAndScore(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	old := time.Date(2026, 7, 25, 0, 0, 0, 0, time.UTC)
	searcher := &fakeSearcher{matches: []Match{
		{ProcessedItemID: 1, Distance: 0.05, ProcessedAt: old}, // similarity 0.95
		{ProcessedItemID: 2, Distance: 0.40, ProcessedAt: old}, // similarity 0.60, below threshold
	}}
	checker := NewChecker(searcher, zerolog.Nop())

	result, err := checker.Check(context.Background(), 99, []float32{1, 0}, Options{Threshold: 0.85})
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if result.IsNovel {
		t.Fatalf("expected item with a 0.95 match to not be novel")
	}
	if len(result.SimilarItems) != 1 || result.SimilarItems[0].ProcessedItemID != 1 {
		t.Fatalf("expected only the 0.95 match to be retained, got %+v", result.SimilarItems)
	}
	if diff := result.NoveltyScore - 0.05; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected novelty score ~0.05, got %f", result.NoveltyScore)
	}
	// The match is four weeks old, not a follow-up.
	if result.IsFollowup {
		t.Fatalf("did not expect a follow-up flag for an old match")
	}
}

func TestCheckRetainsTopFiveSortedDescending(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	old := time.Date(2026, 7, 25, 0, 0, 0, 0, time.UTC)
	var matches []Match
	for i := 0; i < 7; i++ {
		matches = append(matches, Match{
			ProcessedItemID: int64(i + 1),
			Distance:        0.01 * float64(i+1),
			ProcessedAt:     old,
		})
	}
	searcher := &fakeSearcher{matches: matches}
	checker := NewChecker(searcher, zerolog.Nop())

	result, err := checker.Check(context.Background(), 99, []float32{1, 0}, Options{Threshold: 0.85})
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(result.SimilarItems) != 5 {
		t.Fatalf("expected retained list capped at 5, got %d", len(result.SimilarItems))
	}
	for i := 1; i < len(result.SimilarItems); i++ {
		if result.SimilarItems[i].Similarity > result.SimilarItems[i-1].Similarity {
			t.Fatalf("expected similar items sorted descending")
		}
	}
	if result.SimilarItems[0].ProcessedItemID != 1 {
		t.Fatalf("expected closest match first, got id %d", result.SimilarItems[0].ProcessedItemID)
	}
}

func TestFollowupBoundaryInPreviousWeek(t *testing.T) {
	now := time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)
	globaltime.SetMockTime(now)
	defer globaltime.ResetTime()

	previousWeek := now.AddDate(0, 0, -7)

	cases := []struct {
		name         string
		distance     float64
		wantFollowup bool
	}{
		{name: "similarity at 0.70 flags follow-up", distance: 0.30, wantFollowup: true},
		{name: "similarity at 0.699 does not", distance: 0.301, wantFollowup: false},
	}

	for _, tc := range cases {
		searcher := &fakeSearcher{matches: []Match{
			{ProcessedItemID: 7, Distance: tc.distance, ProcessedAt: previousWeek},
		}}
		checker := NewChecker(searcher, zerolog.Nop())

		result, err := checker.Check(context.Background(), 99, []float32{1, 0}, Options{Threshold: 0.7})
		if err != nil {
			t.Fatalf("%s: check failed: %v", tc.name, err)
		}
		if result.IsFollowup != tc.wantFollowup {
			t.Fatalf("%s: got is_followup=%t want %t", tc.name, result.IsFollowup, tc.wantFollowup)
		}
	}
}

func TestFollowupIgnoresOlderWeeks(t *testing.T) {
	now := time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)
	globaltime.SetMockTime(now)
	defer globaltime.ResetTime()

	threeWeeksAgo := now.AddDate(0, 0, -21)
	searcher := &fakeSearcher{matches: []Match{
		{ProcessedItemID: 7, Distance: 0.05, ProcessedAt: threeWeeksAgo},
	}}
	checker := NewChecker(searcher, zerolog.Nop())

	result, err := checker.Check(context.Background(), 99, []float32{1, 0}, Options{Threshold: 0.85})
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if result.IsFollowup {
		t.Fatalf("did not expect follow-up for a three-week-old match")
	}
}

func TestCheckBatchKeysResultsByItem(t *testing.T) {
	searcher := &fakeSearcher{}
	checker := NewChecker(searcher, zerolog.Nop())

	items := []Item{
		{ProcessedItemID: 1, Embedding: []float32{1, 0}},
		{ProcessedItemID: 2, Embedding: []float32{0, 1}},
	}
	results, err := checker.CheckBatch(context.Background(), items, Options{})
	if err != nil {
		t.Fatalf("batch check failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, id := range []int64{1, 2} {
		result, ok := results[id]
		if !ok {
			t.Fatalf("missing result for item %d", id)
		}
		if !result.IsNovel {
			t.Fatalf("expected item %d to be novel", id)
		}
	}
}

func TestCheckBatchExcludesAllBatchSiblings(t *testing.T) {
	searcher := &fakeSearcher{}
	checker := NewChecker(searcher, zerolog.Nop())

	items := []Item{
		{ProcessedItemID: 10, Embedding: []float32{1, 0}},
		{ProcessedItemID: 11, Embedding: []float32{0.99, 0.14}},
		{ProcessedItemID: 12, Embedding: []float32{0, 1}},
	}
	if _, err := checker.CheckBatch(context.Background(), items, Options{}); err != nil {
		t.Fatalf("batch check failed: %v", err)
	}

	if len(searcher.gotExcludeIDs) != 3 {
		t.Fatalf("expected 3 searches, got %d", len(searcher.gotExcludeIDs))
	}
	for i, got := range searcher.gotExcludeIDs {
		if len(got) != 3 || got[0] != 10 || got[1] != 11 || got[2] != 12 {
			t.Fatalf("search %d: expected every batch id excluded, got %v", i, got)
		}
	}
}

func TestCheckBatchPropagatesSearchError(t *testing.T) {
	searcher := &fakeSearcher{err: fmt.Errorf("store offline")}
	checker := NewChecker(searcher, zerolog.Nop())

	if _, err := checker.CheckBatch(context.Background(), []Item{{ProcessedItemID: 1}}, Options{}); err == nil {
		t.Fatalf("expected batch check to surface the search error")
	}
}

func TestWeekNumberISO(t *testing.T) {
	t.Parallel()

	// 2026-01-01 falls in ISO week 1 of 2026; 2027-01-01 falls in ISO
	// week 53 of 2026.
	if got := WeekNumber(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)); got != "2026-01" {
		t.Fatalf("unexpected week number: %q", got)
	}
	if got := WeekNumber(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)); got != "2026-53" {
		t.Fatalf("unexpected week number: %q", got)
	}
}
