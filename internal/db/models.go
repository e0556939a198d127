package db

import (
	"encoding/json"
	"time"
)

// Source maps intel.sources: a content origin such as a newsletter feed,
// a mailbox label, or a video channel.
type Source struct {
	SourceID   int64           `gorm:"column:source_id;primaryKey;autoIncrement"`
	SourceUUID string          `gorm:"column:source_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Name       string          `gorm:"column:name;type:text;not null"`
	SourceType string          `gorm:"column:source_type;type:text;not null"`
	Config     json.RawMessage `gorm:"column:config;type:jsonb"`
	Active     bool            `gorm:"column:active;type:boolean;not null;default:true"`
	CreatedAt  time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Source) TableName() string { return "intel.sources" }

// ContentItem maps intel.content_items: one raw ingested unit, created
// once per (source, external id). The fingerprint column holds the
// JSON-encoded MinHash signature and is filled in by the pipeline; it is
// idempotent to recompute on identical text.
type ContentItem struct {
	ContentItemID   int64      `gorm:"column:content_item_id;primaryKey;autoIncrement"`
	ContentItemUUID string     `gorm:"column:content_item_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	SourceID        int64      `gorm:"column:source_id;type:bigint;not null;uniqueIndex:uq_content_items_source_external"`
	ExternalID      string     `gorm:"column:external_id;type:text;not null;uniqueIndex:uq_content_items_source_external"`
	Title           *string    `gorm:"column:title;type:text"`
	Author          *string    `gorm:"column:author;type:text"`
	ContentText     *string    `gorm:"column:content_text;type:text"`
	ContentHTML     *string    `gorm:"column:content_html;type:text"`
	URL             *string    `gorm:"column:url;type:text"`
	PublishedAt     *time.Time `gorm:"column:published_at;type:timestamptz;index"`
	IngestedAt      time.Time  `gorm:"column:ingested_at;type:timestamptz;not null;default:now()"`
	Fingerprint     *string    `gorm:"column:fingerprint;type:text"`
}

func (ContentItem) TableName() string { return "intel.content_items" }

// ProcessedItem maps intel.processed_items: the extraction plus
// embedding produced for a surviving content item. The one-to-one link
// to its content item is enforced by the unique constraint.
type ProcessedItem struct {
	ProcessedItemID   int64           `gorm:"column:processed_item_id;primaryKey;autoIncrement"`
	ProcessedItemUUID string          `gorm:"column:processed_item_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	ContentItemID     int64           `gorm:"column:content_item_id;type:bigint;not null;unique"`
	Summary           *string         `gorm:"column:summary;type:text"`
	KeyInformation    json.RawMessage `gorm:"column:key_information;type:jsonb"`
	Themes            json.RawMessage `gorm:"column:themes;type:jsonb"`
	HotTakes          json.RawMessage `gorm:"column:hot_takes;type:jsonb"`
	Entities          json.RawMessage `gorm:"column:entities;type:jsonb"`
	Embedding         string          `gorm:"column:embedding;type:vector(384);not null"`
	ProcessedAt       time.Time       `gorm:"column:processed_at;type:timestamptz;not null;default:now();index"`
}

func (ProcessedItem) TableName() string { return "intel.processed_items" }

// StoryCluster maps intel.story_clusters: a week-scoped grouping of
// semantically related processed items. Clusters are never split once
// created; singleton clusters are discarded before persistence.
type StoryCluster struct {
	ClusterID          int64     `gorm:"column:cluster_id;primaryKey;autoIncrement"`
	ClusterUUID        string    `gorm:"column:cluster_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	WeekNumber         string    `gorm:"column:week_number;type:text;not null;index"`
	Name               *string   `gorm:"column:name;type:text"`
	CanonicalItemID    *int64    `gorm:"column:canonical_item_id;type:bigint"`
	SynthesizedSummary *string   `gorm:"column:synthesized_summary;type:text"`
	CreatedAt          time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (StoryCluster) TableName() string { return "intel.story_clusters" }

// ClusterMember maps intel.cluster_members: the join between a story
// cluster and a processed item. A (cluster, item) pair appears at most
// once.
type ClusterMember struct {
	ClusterMemberID int64    `gorm:"column:cluster_member_id;primaryKey;autoIncrement"`
	ClusterID       int64    `gorm:"column:cluster_id;type:bigint;not null;uniqueIndex:uq_cluster_members_cluster_item"`
	ProcessedItemID int64    `gorm:"column:processed_item_id;type:bigint;not null;uniqueIndex:uq_cluster_members_cluster_item"`
	SimilarityScore *float64 `gorm:"column:similarity_score;type:double precision"`
}

func (ClusterMember) TableName() string { return "intel.cluster_members" }

func autoMigrateModels() []any {
	return []any{
		&Source{},
		&ContentItem{},
		&ProcessedItem{},
		&StoryCluster{},
		&ClusterMember{},
	}
}
