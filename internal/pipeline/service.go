// Package pipeline orchestrates the weekly batch: fingerprint fill-in,
// syntactic dedup, extraction, embedding, novelty scoring, and story
// clustering.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/intel-pipeline/internal/clustering"
	"horse.fit/intel-pipeline/internal/db"
	"horse.fit/intel-pipeline/internal/fingerprint"
	"horse.fit/intel-pipeline/internal/globaltime"
	"horse.fit/intel-pipeline/internal/novelty"
)

const (
	// representativeMemberScore and defaultMemberScore are the stored
	// similarity scores for cluster members. The representative anchors
	// the cluster at 1.0; other members get a flat 0.9 rather than their
	// pairwise similarity to the centroid.
	representativeMemberScore = 1.0
	defaultMemberScore        = 0.9
)

// Store is the persistence surface the orchestrator needs. *db.Store
// satisfies it; tests substitute fakes.
type Store interface {
	UnprocessedContentItems(ctx context.Context, limit int) ([]db.ContentItem, error)
	SetFingerprint(ctx context.Context, contentItemID int64, fingerprint string) error
	SourceType(ctx context.Context, sourceID int64) (string, error)
	CreateProcessedItem(ctx context.Context, item *db.ProcessedItem) error
	AppendKeyInformation(ctx context.Context, processedItemID int64, note string) error
	CreateStoryCluster(ctx context.Context, cluster *db.StoryCluster) error
	CreateClusterMember(ctx context.Context, member *db.ClusterMember) error
	DeleteDerived(ctx context.Context) error
}

// Options carries the thresholds and sizes the pipeline runs with.
// Zero values fall back to the package defaults of the stage that
// consumes them.
type Options struct {
	FingerprintThreshold  float64
	SemanticThreshold     float64
	ClusterMergeThreshold float64
	ClusterMergeEnabled   bool
	NoveltyWeeks          int
	EmbeddingDimensions   int
}

type Service struct {
	store     Store
	checker   *novelty.Checker
	extractor Extractor
	embedder  Embedder
	logger    zerolog.Logger
	opts      Options
}

func NewService(
	store Store,
	searcher novelty.Searcher,
	extractor Extractor,
	embedder Embedder,
	logger zerolog.Logger,
	opts Options,
) *Service {
	if opts.FingerprintThreshold <= 0 {
		opts.FingerprintThreshold = fingerprint.DefaultThreshold
	}
	if opts.SemanticThreshold <= 0 {
		opts.SemanticThreshold = clustering.DefaultThreshold
	}
	if opts.ClusterMergeThreshold <= 0 {
		opts.ClusterMergeThreshold = clustering.DefaultMergeThreshold
	}
	if opts.NoveltyWeeks <= 0 {
		opts.NoveltyWeeks = novelty.DefaultWeeksBack
	}
	if opts.EmbeddingDimensions <= 0 {
		opts.EmbeddingDimensions = DefaultEmbeddingDimensions
	}

	return &Service{
		store:     store,
		checker:   novelty.NewChecker(searcher, logger),
		extractor: extractor,
		embedder:  embedder,
		logger:    logger,
		opts:      opts,
	}
}

// ProcessOptions tunes one batch run. BatchSize <= 0 drains the whole
// backlog; WeekNumber defaults to the current ISO week.
type ProcessOptions struct {
	WeekNumber string
	BatchSize  int
}

// BatchResult is the summary of one batch run. Per-item failures are
// collected in Errors and never abort the batch. DuplicatesFound counts
// duplicate groups, not skipped copies; ItemsSkipped mixes the skipped
// copies with textless items.
type BatchResult struct {
	ItemsProcessed  int      `json:"items_processed"`
	ItemsSkipped    int      `json:"items_skipped"`
	ItemsFailed     int      `json:"items_failed"`
	DuplicatesFound int      `json:"duplicates_found"`
	ClustersCreated int      `json:"clusters_created"`
	Errors          []string `json:"errors,omitempty"`
}

type stagedItem struct {
	item        db.ContentItem
	print       fingerprint.Fingerprint
	skip        bool
	failed      bool
	isDuplicate bool
}

// ProcessBatch runs the full pipeline over the unprocessed backlog.
func (s *Service) ProcessBatch(ctx context.Context, opts ProcessOptions) (BatchResult, error) {
	if s == nil || s.store == nil {
		return BatchResult{}, fmt.Errorf("pipeline service is not initialized")
	}

	var result BatchResult

	items, err := s.store.UnprocessedContentItems(ctx, opts.BatchSize)
	if err != nil {
		return result, err
	}
	if len(items) == 0 {
		s.logger.Info().Msg("no unprocessed content items")
		return result, nil
	}

	staged := s.stageFingerprints(ctx, items, &result)
	s.markDuplicates(staged, &result)

	processed, embeddings := s.extractAndEmbed(ctx, staged, &result)

	// A novelty-step failure degrades the batch (no annotations) but the
	// processed items themselves are already persisted and kept.
	if err := s.annotateNovelty(ctx, processed, embeddings, &result); err != nil {
		s.logger.Error().Err(err).Msg("novelty step failed")
		result.Errors = append(result.Errors, fmt.Sprintf("novelty check: %v", err))
	}

	week := strings.TrimSpace(opts.WeekNumber)
	if week == "" {
		week = novelty.WeekNumber(globaltime.UTC())
	}
	s.clusterAndPersist(ctx, week, processed, embeddings, &result)

	s.logger.Info().
		Int("items_processed", result.ItemsProcessed).
		Int("items_skipped", result.ItemsSkipped).
		Int("items_failed", result.ItemsFailed).
		Int("duplicates_found", result.DuplicatesFound).
		Int("clusters_created", result.ClustersCreated).
		Str("week_number", week).
		Msg("batch complete")

	return result, nil
}

// ReprocessAll wipes all derived data and runs one full batch over the
// entire backlog. Fingerprints are recomputed where missing; existing
// ones are reused since recomputation is deterministic.
func (s *Service) ReprocessAll(ctx context.Context, opts ProcessOptions) (BatchResult, error) {
	if s == nil || s.store == nil {
		return BatchResult{}, fmt.Errorf("pipeline service is not initialized")
	}

	if err := s.store.DeleteDerived(ctx); err != nil {
		return BatchResult{}, err
	}
	s.logger.Info().Msg("derived data deleted, reprocessing backlog")

	opts.BatchSize = 0
	return s.ProcessBatch(ctx, opts)
}

// stageFingerprints decodes stored fingerprints and computes missing
// ones. Items without text are skipped; a failed fingerprint write
// fails only that item.
func (s *Service) stageFingerprints(ctx context.Context, items []db.ContentItem, result *BatchResult) []stagedItem {
	staged := make([]stagedItem, len(items))
	for i, item := range items {
		staged[i].item = item

		text := derefOrEmpty(item.ContentText)
		if strings.TrimSpace(text) == "" {
			staged[i].skip = true
			result.ItemsSkipped++
			continue
		}

		if item.Fingerprint != nil {
			if print, ok := fingerprint.Decode(*item.Fingerprint); ok {
				staged[i].print = print
				continue
			}
			s.logger.Warn().
				Int64("content_item_id", item.ContentItemID).
				Msg("stored fingerprint is unreadable, recomputing")
		}

		print := fingerprint.Compute(text)
		encoded, err := fingerprint.Encode(print)
		if err != nil {
			staged[i].failed = true
			result.ItemsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("content_item_id=%d: encode fingerprint: %v", item.ContentItemID, err))
			continue
		}
		if err := s.store.SetFingerprint(ctx, item.ContentItemID, encoded); err != nil {
			staged[i].failed = true
			result.ItemsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("content_item_id=%d: %v", item.ContentItemID, err))
			continue
		}
		staged[i].print = print
	}
	return staged
}

// markDuplicates groups syntactic near-duplicates and keeps only the
// earliest-published member of each group. Grouping is transitive: an
// item joins a group when it is similar to any current member.
func (s *Service) markDuplicates(staged []stagedItem, result *BatchResult) {
	assigned := make([]bool, len(staged))

	eligible := func(i int) bool {
		return !staged[i].skip && !staged[i].failed && !staged[i].print.IsEmpty()
	}

	for i := range staged {
		if assigned[i] || !eligible(i) {
			continue
		}

		group := []int{i}
		assigned[i] = true
		for j := i + 1; j < len(staged); j++ {
			if assigned[j] || !eligible(j) {
				continue
			}
			for _, member := range group {
				similar, ok := fingerprint.AreSimilar(staged[member].print, staged[j].print, s.opts.FingerprintThreshold)
				if ok && similar {
					group = append(group, j)
					assigned[j] = true
					break
				}
			}
		}

		if len(group) < 2 {
			continue
		}

		canonical := canonicalIndex(group, staged)
		result.DuplicatesFound++
		for _, idx := range group {
			if idx == canonical {
				continue
			}
			staged[idx].isDuplicate = true
			result.ItemsSkipped++
			s.logger.Debug().
				Int64("content_item_id", staged[idx].item.ContentItemID).
				Int64("canonical_content_item_id", staged[canonical].item.ContentItemID).
				Msg("syntactic duplicate skipped")
		}
	}
}

// canonicalIndex picks the group member with the earliest published_at;
// items without a timestamp sort last, ties keep the first occurrence.
func canonicalIndex(group []int, staged []stagedItem) int {
	canonical := group[0]
	for _, idx := range group[1:] {
		current := staged[idx].item.PublishedAt
		best := staged[canonical].item.PublishedAt
		switch {
		case current == nil:
		case best == nil:
			canonical = idx
		case current.Before(*best):
			canonical = idx
		}
	}
	return canonical
}

// extractAndEmbed runs extraction and embedding per surviving item and
// persists the processed rows. Failures are per-item.
func (s *Service) extractAndEmbed(ctx context.Context, staged []stagedItem, result *BatchResult) ([]*db.ProcessedItem, [][]float32) {
	var (
		processed  []*db.ProcessedItem
		embeddings [][]float32
	)

	for i := range staged {
		if staged[i].skip || staged[i].failed || staged[i].isDuplicate {
			continue
		}
		item := staged[i].item

		sourceType, err := s.store.SourceType(ctx, item.SourceID)
		if err != nil {
			s.logger.Warn().
				Int64("content_item_id", item.ContentItemID).
				Err(err).
				Msg("source type lookup failed, extracting without hint")
			sourceType = ""
		}

		extraction, err := s.extractor.Extract(ctx, ExtractInput{
			Content:    derefOrEmpty(item.ContentText),
			Title:      derefOrEmpty(item.Title),
			Author:     derefOrEmpty(item.Author),
			SourceType: sourceType,
		})
		if err != nil {
			result.ItemsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("content_item_id=%d: extract: %v", item.ContentItemID, err))
			continue
		}

		vectors, err := s.embedder.EmbedBatch(ctx, []string{embeddingInput(derefOrEmpty(item.Title), extraction.Summary)})
		if err != nil || len(vectors) != 1 {
			if err == nil {
				err = fmt.Errorf("expected 1 embedding, got %d", len(vectors))
			}
			result.ItemsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("content_item_id=%d: embed: %v", item.ContentItemID, err))
			continue
		}

		literal, err := db.VectorLiteral(vectors[0], s.opts.EmbeddingDimensions)
		if err != nil {
			result.ItemsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("content_item_id=%d: %v", item.ContentItemID, err))
			continue
		}

		row := &db.ProcessedItem{
			ContentItemID:  item.ContentItemID,
			Summary:        &extraction.Summary,
			KeyInformation: marshalOrNil(extraction.KeyInformation),
			Themes:         marshalOrNil(extraction.Themes),
			HotTakes:       marshalOrNil(extraction.HotTakes),
			Entities:       marshalOrNil(extraction.Entities),
			Embedding:      literal,
			ProcessedAt:    globaltime.UTC(),
		}
		if err := s.store.CreateProcessedItem(ctx, row); err != nil {
			result.ItemsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("content_item_id=%d: %v", item.ContentItemID, err))
			continue
		}

		processed = append(processed, row)
		embeddings = append(embeddings, vectors[0])
		result.ItemsProcessed++
	}

	return processed, embeddings
}

// annotateNovelty batch-scores the new items and appends a follow-up
// note to items continuing a current- or previous-week story.
func (s *Service) annotateNovelty(ctx context.Context, processed []*db.ProcessedItem, embeddings [][]float32, result *BatchResult) error {
	if len(processed) == 0 {
		return nil
	}

	items := make([]novelty.Item, len(processed))
	for i, row := range processed {
		items[i] = novelty.Item{ProcessedItemID: row.ProcessedItemID, Embedding: embeddings[i]}
	}

	results, err := s.checker.CheckBatch(ctx, items, novelty.Options{
		WeeksBack: s.opts.NoveltyWeeks,
		Threshold: s.opts.SemanticThreshold,
	})
	if err != nil {
		return err
	}

	for _, row := range processed {
		res, ok := results[row.ProcessedItemID]
		if !ok || !res.IsFollowup {
			continue
		}
		note := fmt.Sprintf("[Follow-up story] similar to %d recent item(s)", len(res.SimilarItems))
		if err := s.store.AppendKeyInformation(ctx, row.ProcessedItemID, note); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("processed_item_id=%d: %v", row.ProcessedItemID, err))
		}
	}
	return nil
}

// clusterAndPersist groups the batch's embeddings into story clusters
// and writes the cluster rows. A failed cluster insert drops that
// cluster, not the batch.
func (s *Service) clusterAndPersist(ctx context.Context, week string, processed []*db.ProcessedItem, embeddings [][]float32, result *BatchResult) {
	if len(processed) < clustering.DefaultMinClusterSize {
		return
	}

	clusterResult := clustering.ClusterEmbeddings(embeddings, clustering.Options{Threshold: s.opts.SemanticThreshold})
	clusters := clusterResult.Clusters
	if s.opts.ClusterMergeEnabled {
		clusters = clustering.MergeClusters(clusters, embeddings, s.opts.ClusterMergeThreshold)
	}

	for _, cluster := range clusters {
		representative := processed[cluster.RepresentativeIdx]

		row := &db.StoryCluster{
			WeekNumber:      week,
			CanonicalItemID: &representative.ProcessedItemID,
		}
		if err := s.store.CreateStoryCluster(ctx, row); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("cluster week=%s: %v", week, err))
			continue
		}

		memberFailed := false
		for _, idx := range cluster.ItemIndices {
			score := defaultMemberScore
			if idx == cluster.RepresentativeIdx {
				score = representativeMemberScore
			}
			member := &db.ClusterMember{
				ClusterID:       row.ClusterID,
				ProcessedItemID: processed[idx].ProcessedItemID,
				SimilarityScore: &score,
			}
			if err := s.store.CreateClusterMember(ctx, member); err != nil {
				memberFailed = true
				result.Errors = append(result.Errors, fmt.Sprintf("cluster_id=%d processed_item_id=%d: %v",
					row.ClusterID, processed[idx].ProcessedItemID, err))
			}
		}
		if !memberFailed {
			result.ClustersCreated++
		}
	}
}

func embeddingInput(title, body string) string {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	switch {
	case title == "" && body == "":
		return ""
	case body == "":
		return title
	case title == "":
		return body
	default:
		return title + "\n\n" + body
	}
}

func derefOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// marshalOrNil renders optional extraction fields as jsonb values,
// leaving absent or empty fields NULL instead of "null" or "[]".
func marshalOrNil(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	switch string(raw) {
	case "null", "[]":
		return nil
	}
	return raw
}
