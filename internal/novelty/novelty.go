// Package novelty scores newly processed items against a rolling window
// of historical items. The backing store's similarity search is injected
// as a capability so the scoring logic stays pure and testable.
package novelty

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/intel-pipeline/internal/globaltime"
)

const (
	// DefaultWeeksBack bounds the historical window.
	DefaultWeeksBack = 4

	// DefaultThreshold is the similarity at or above which a historical
	// item counts as a match.
	DefaultThreshold = 0.85

	// DefaultCandidateLimit is how many nearest neighbors are requested
	// from the store per item.
	DefaultCandidateLimit = 10

	// maxSimilarItems bounds the retained match list per item.
	maxSimilarItems = 5

	// followupThreshold is looser than the novelty threshold: a
	// follow-up need not be a near-duplicate, just topically continuous
	// with a current-week or previous-week item.
	followupThreshold = 0.7
)

// Match is one nearest-neighbor row from the similarity search.
// Distance is cosine distance in [0, 2].
type Match struct {
	ProcessedItemID int64
	Title           *string
	Distance        float64
	ProcessedAt     time.Time
}

// Searcher is the similarity-search capability the checker depends on.
// Implementations must exclude every id in excludeIDs from the results
// and restrict them to items processed at or after since.
type Searcher interface {
	NearestProcessedItems(ctx context.Context, excludeIDs []int64, embedding []float32, since time.Time, limit int) ([]Match, error)
}

// SimilarItem is one retained historical match.
type SimilarItem struct {
	ProcessedItemID int64   `json:"id"`
	Title           *string `json:"title,omitempty"`
	Similarity      float64 `json:"similarity"`
	WeekNumber      string  `json:"week_number"`
}

// Result is the novelty judgment for one item. It is transient: the
// pipeline reads it and annotates the processed item, nothing persists
// the result itself.
type Result struct {
	IsNovel      bool
	NoveltyScore float64
	SimilarItems []SimilarItem
	IsFollowup   bool
}

// Item pairs a processed item with its embedding for batch checks.
type Item struct {
	ProcessedItemID int64
	Embedding       []float32
}

// Options tunes a novelty check. Zero values fall back to defaults.
type Options struct {
	WeeksBack      int
	Threshold      float64
	CandidateLimit int
}

type Checker struct {
	searcher Searcher
	logger   zerolog.Logger
}

func NewChecker(searcher Searcher, logger zerolog.Logger) *Checker {
	return &Checker{
		searcher: searcher,
		logger:   logger,
	}
}

// Check compares one item's embedding against the historical window.
// An item with no historical neighbors is fully novel (score 1.0).
func (c *Checker) Check(ctx context.Context, processedItemID int64, embedding []float32, opts Options) (Result, error) {
	return c.check(ctx, processedItemID, embedding, []int64{processedItemID}, opts)
}

func (c *Checker) check(ctx context.Context, processedItemID int64, embedding []float32, excludeIDs []int64, opts Options) (Result, error) {
	if c == nil || c.searcher == nil {
		return Result{}, fmt.Errorf("novelty checker is not initialized")
	}

	weeksBack := opts.WeeksBack
	if weeksBack <= 0 {
		weeksBack = DefaultWeeksBack
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	limit := opts.CandidateLimit
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}

	now := globaltime.UTC()
	since := now.AddDate(0, 0, -7*weeksBack)

	matches, err := c.searcher.NearestProcessedItems(ctx, excludeIDs, embedding, since, limit)
	if err != nil {
		return Result{}, fmt.Errorf("similarity search for processed_item_id=%d: %w", processedItemID, err)
	}

	result := scoreMatches(matches, threshold, now)

	c.logger.Debug().
		Int64("processed_item_id", processedItemID).
		Bool("is_novel", result.IsNovel).
		Float64("novelty_score", result.NoveltyScore).
		Int("similar_count", len(result.SimilarItems)).
		Bool("is_followup", result.IsFollowup).
		Msg("novelty check")

	return result, nil
}

// CheckBatch scores a batch sequentially and returns results keyed by
// processed item id. Every search excludes the whole batch, not just the
// item itself: batch siblings are already persisted by the time the
// check runs and must not count as history for each other.
func (c *Checker) CheckBatch(ctx context.Context, items []Item, opts Options) (map[int64]Result, error) {
	excludeIDs := make([]int64, len(items))
	for i, item := range items {
		excludeIDs[i] = item.ProcessedItemID
	}

	results := make(map[int64]Result, len(items))
	for _, item := range items {
		result, err := c.check(ctx, item.ProcessedItemID, item.Embedding, excludeIDs, opts)
		if err != nil {
			return nil, err
		}
		results[item.ProcessedItemID] = result
	}
	return results, nil
}

func scoreMatches(matches []Match, threshold float64, now time.Time) Result {
	maxSimilarity := 0.0
	similar := make([]SimilarItem, 0, len(matches))

	for _, match := range matches {
		similarity := 1 - match.Distance
		if similarity > maxSimilarity {
			maxSimilarity = similarity
		}
		if similarity >= threshold {
			similar = append(similar, SimilarItem{
				ProcessedItemID: match.ProcessedItemID,
				Title:           match.Title,
				Similarity:      similarity,
				WeekNumber:      WeekNumber(match.ProcessedAt),
			})
		}
	}

	sort.SliceStable(similar, func(i, j int) bool {
		return similar[i].Similarity > similar[j].Similarity
	})
	if len(similar) > maxSimilarItems {
		similar = similar[:maxSimilarItems]
	}

	currentWeek := WeekNumber(now)
	previousWeek := WeekNumber(now.AddDate(0, 0, -7))

	isFollowup := false
	for _, item := range similar {
		if item.Similarity < followupThreshold {
			continue
		}
		if item.WeekNumber == currentWeek || item.WeekNumber == previousWeek {
			isFollowup = true
			break
		}
	}

	return Result{
		IsNovel:      maxSimilarity < threshold,
		NoveltyScore: 1 - maxSimilarity,
		SimilarItems: similar,
		IsFollowup:   isFollowup,
	}
}

// WeekNumber formats a timestamp as an ISO-week label, e.g. "2026-34".
func WeekNumber(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-%02d", year, week)
}
