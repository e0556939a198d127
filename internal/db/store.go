package db

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"horse.fit/intel-pipeline/internal/novelty"
)

// hnswSearchEF widens the pgvector HNSW candidate beam so top-k recall
// stays high on small weekly partitions.
const hnswSearchEF = 64

// Store exposes the persistence operations the pipeline needs on top of
// a Pool. Model CRUD goes through gorm; anything touching the vector
// column or jsonb append uses raw SQL with explicit casts.
type Store struct {
	pool *Pool
}

func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// UnprocessedContentItems returns ingested items that have no processed
// counterpart yet, oldest first so reruns drain the backlog in order.
func (s *Store) UnprocessedContentItems(ctx context.Context, limit int) ([]ContentItem, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("store is not initialized")
	}

	query := s.pool.GORM().WithContext(ctx).
		Where("content_item_id NOT IN (SELECT content_item_id FROM intel.processed_items)").
		Order("ingested_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var items []ContentItem
	if err := query.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list unprocessed content items: %w", err)
	}
	return items, nil
}

// SetFingerprint stores the JSON-encoded MinHash signature for one
// content item.
func (s *Store) SetFingerprint(ctx context.Context, contentItemID int64, fingerprint string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE intel.content_items SET fingerprint = $2 WHERE content_item_id = $1`,
		contentItemID, fingerprint,
	)
	if err != nil {
		return fmt.Errorf("set fingerprint content_item_id=%d: %w", contentItemID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set fingerprint content_item_id=%d: no such item", contentItemID)
	}
	return nil
}

// SourceType resolves a source id to its type label ("newsletter",
// "youtube", ...) for extraction prompts.
func (s *Store) SourceType(ctx context.Context, sourceID int64) (string, error) {
	var sourceType string
	err := s.pool.QueryRow(ctx,
		`SELECT source_type FROM intel.sources WHERE source_id = $1`,
		sourceID,
	).Scan(&sourceType)
	if err != nil {
		if IsNoRows(err) {
			return "", fmt.Errorf("source_id=%d not found", sourceID)
		}
		return "", fmt.Errorf("resolve source type source_id=%d: %w", sourceID, err)
	}
	return sourceType, nil
}

// CreateProcessedItem inserts the extraction and embedding for a content
// item and fills in the generated id. The embedding arrives as a
// pgvector literal; the explicit ::vector cast keeps the insert honest
// about the column type.
func (s *Store) CreateProcessedItem(ctx context.Context, item *ProcessedItem) error {
	if item == nil {
		return fmt.Errorf("processed item is nil")
	}

	const q = `
INSERT INTO intel.processed_items (
	content_item_id,
	summary,
	key_information,
	themes,
	hot_takes,
	entities,
	embedding,
	processed_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7::vector, $8)
RETURNING processed_item_id, processed_item_uuid
`
	processedAt := item.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}

	err := s.pool.QueryRow(ctx, q,
		item.ContentItemID,
		item.Summary,
		nullableJSON(item.KeyInformation),
		nullableJSON(item.Themes),
		nullableJSON(item.HotTakes),
		nullableJSON(item.Entities),
		item.Embedding,
		processedAt,
	).Scan(&item.ProcessedItemID, &item.ProcessedItemUUID)
	if err != nil {
		return fmt.Errorf("insert processed item content_item_id=%d: %w", item.ContentItemID, err)
	}
	item.ProcessedAt = processedAt
	return nil
}

// AppendKeyInformation appends one note to a processed item's
// key_information array, initializing the array when absent.
func (s *Store) AppendKeyInformation(ctx context.Context, processedItemID int64, note string) error {
	const q = `
UPDATE intel.processed_items
SET key_information = COALESCE(key_information, '[]'::jsonb) || to_jsonb($2::text)
WHERE processed_item_id = $1
`
	tag, err := s.pool.Exec(ctx, q, processedItemID, note)
	if err != nil {
		return fmt.Errorf("append key information processed_item_id=%d: %w", processedItemID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("append key information processed_item_id=%d: no such item", processedItemID)
	}
	return nil
}

// CreateStoryCluster inserts a cluster row and fills in the generated id.
func (s *Store) CreateStoryCluster(ctx context.Context, cluster *StoryCluster) error {
	if cluster == nil {
		return fmt.Errorf("story cluster is nil")
	}
	if err := s.pool.GORM().WithContext(ctx).Create(cluster).Error; err != nil {
		return fmt.Errorf("insert story cluster week=%s: %w", cluster.WeekNumber, err)
	}
	return nil
}

// CreateClusterMember attaches a processed item to a cluster.
func (s *Store) CreateClusterMember(ctx context.Context, member *ClusterMember) error {
	if member == nil {
		return fmt.Errorf("cluster member is nil")
	}
	if err := s.pool.GORM().WithContext(ctx).Create(member).Error; err != nil {
		return fmt.Errorf("insert cluster member cluster_id=%d processed_item_id=%d: %w",
			member.ClusterID, member.ProcessedItemID, err)
	}
	return nil
}

// DeleteDerived removes everything the pipeline produced, child tables
// first, so a full reprocess starts from raw content items. The deletes
// run in one transaction; readers never observe a half-wiped state.
// Fingerprints are kept; recomputing them is idempotent.
func (s *Store) DeleteDerived(ctx context.Context) error {
	tx, err := s.pool.BeginTx(ctx, TxOptions{})
	if err != nil {
		return fmt.Errorf("delete derived data: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	statements := []string{
		`DELETE FROM intel.cluster_members`,
		`DELETE FROM intel.story_clusters`,
		`DELETE FROM intel.processed_items`,
	}
	for _, statement := range statements {
		if _, err := tx.Exec(ctx, statement); err != nil {
			return fmt.Errorf("delete derived data: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("delete derived data: commit: %w", err)
	}
	return nil
}

// NearestProcessedItems implements the novelty search capability via the
// pgvector cosine distance operator. The exclusion set keeps an item's
// batch siblings out of its "history". The query runs in a transaction
// so SET LOCAL pins hnsw.ef_search to the same connection and resets it
// on commit.
func (s *Store) NearestProcessedItems(
	ctx context.Context,
	excludeIDs []int64,
	embedding []float32,
	since time.Time,
	limit int,
) ([]novelty.Match, error) {
	literal, err := VectorLiteral(embedding, 0)
	if err != nil {
		return nil, fmt.Errorf("encode query embedding: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("nearest processed items: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", hnswSearchEF)); err != nil {
		return nil, fmt.Errorf("set hnsw.ef_search: %w", err)
	}

	const q = `
SELECT
	pi.processed_item_id,
	ci.title,
	(pi.embedding <=> $1::vector)::DOUBLE PRECISION AS distance,
	pi.processed_at
FROM intel.processed_items pi
JOIN intel.content_items ci ON ci.content_item_id = pi.content_item_id
WHERE pi.processed_item_id <> ALL($2::bigint[])
  AND pi.processed_at >= $3
ORDER BY pi.embedding <=> $1::vector ASC
LIMIT $4
`
	rows, err := tx.Query(ctx, q, literal, int8ArrayLiteral(excludeIDs), since, limit)
	if err != nil {
		return nil, fmt.Errorf("query nearest processed items: %w", err)
	}
	defer rows.Close()

	matches := make([]novelty.Match, 0, limit)
	for rows.Next() {
		var m novelty.Match
		if err := rows.Scan(&m.ProcessedItemID, &m.Title, &m.Distance, &m.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan nearest processed item: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nearest processed items: %w", err)
	}
	rows.Close()

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("nearest processed items: commit: %w", err)
	}
	return matches, nil
}

// int8ArrayLiteral renders ids as a Postgres array literal, the same
// pass-as-text-and-cast approach used for vector parameters.
func int8ArrayLiteral(ids []int64) string {
	if len(ids) == 0 {
		return "{}"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// StatsSnapshot is the aggregate view served by the stats endpoint.
type StatsSnapshot struct {
	Sources        int64 `json:"sources"`
	ContentItems   int64 `json:"content_items"`
	ProcessedItems int64 `json:"processed_items"`
	StoryClusters  int64 `json:"story_clusters"`
	ClusterMembers int64 `json:"cluster_members"`
}

// Stats counts the main tables.
func (s *Store) Stats(ctx context.Context) (StatsSnapshot, error) {
	var snapshot StatsSnapshot

	counts := []struct {
		table string
		dest  *int64
	}{
		{table: "intel.sources", dest: &snapshot.Sources},
		{table: "intel.content_items", dest: &snapshot.ContentItems},
		{table: "intel.processed_items", dest: &snapshot.ProcessedItems},
		{table: "intel.story_clusters", dest: &snapshot.StoryClusters},
		{table: "intel.cluster_members", dest: &snapshot.ClusterMembers},
	}
	for _, count := range counts {
		q := fmt.Sprintf("SELECT COUNT(*) FROM %s", count.table)
		if err := s.pool.QueryRow(ctx, q).Scan(count.dest); err != nil {
			return StatsSnapshot{}, fmt.Errorf("count %s: %w", count.table, err)
		}
	}
	return snapshot, nil
}

// nullableJSON passes jsonb columns as nil instead of an empty byte
// slice, which Postgres would reject as invalid json.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
