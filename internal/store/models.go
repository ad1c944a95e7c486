package store

import (
	"time"

	"github.com/google/uuid"
)

// Schema is the authoritative PostgreSQL schema for all relational state.
const Schema = "claude_context"

// ScopeLevel selects visibility defaults for a dataset.
type ScopeLevel string

const (
	ScopeGlobal  ScopeLevel = "global"
	ScopeProject ScopeLevel = "project"
	ScopeLocal   ScopeLevel = "local"
)

// Project is the top-level tenant scope. Created lazily on first reference.
type Project struct {
	ID        uuid.UUID
	Name      string
	IsGlobal  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Dataset is a named sub-scope within a project. Unique per project and
// mapped to exactly one vector collection.
type Dataset struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Name      string
	Scope     ScopeLevel
	IsGlobal  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DatasetCollection maps a dataset to its single vector collection.
// PointCount is cache-only; the vector store is authoritative.
type DatasetCollection struct {
	DatasetID      uuid.UUID
	CollectionName string
	Dimension      int
	IsHybrid       bool
	PointCount     int64
	LastIndexedAt  *time.Time
}

// IndexedFile records per-file sync state. Used only for incremental sync.
type IndexedFile struct {
	ProjectID      uuid.UUID
	DatasetID      uuid.UUID
	RelativePath   string
	SHA256Hash     string
	FileSize       int64
	ChunkCount     int
	Language       string
	CollectionName string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobStatus is the state of an ingestion job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobPhase is the ingestion phase a worker reports progress against.
type JobPhase string

const (
	PhaseClone    JobPhase = "clone"
	PhaseScan     JobPhase = "scan"
	PhaseChunk    JobPhase = "chunk"
	PhaseEmbed    JobPhase = "embed"
	PhaseUpsert   JobPhase = "upsert"
	PhaseFinalize JobPhase = "finalize"
)

// GitHubJob is a durable repository-ingestion job.
type GitHubJob struct {
	ID           uuid.UUID
	ProjectID    uuid.UUID
	DatasetID    uuid.UUID
	RepoURL      string
	RepoOrg      string
	RepoName     string
	Branch       string
	SHA          string
	Status       JobStatus
	Progress     int
	CurrentPhase string
	CurrentFile  string
	Error        string
	RetryCount   int
	MaxRetries   int
	Priority     int
	VisibleAt    time.Time
	IndexedFiles int
	TotalChunks  int
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// CrawlSession tracks one crawl run against an external crawler service.
type CrawlSession struct {
	ID           uuid.UUID
	DatasetID    uuid.UUID
	ExternalID   string
	Status       string
	PagesCrawled int
	PagesFailed  int
	Metadata     map[string]any
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// ProjectShare grants a target project access to a resource owned by a
// source project. Self-shares are forbidden.
type ProjectShare struct {
	SourceProjectID uuid.UUID
	TargetProjectID uuid.UUID
	ResourceType    string
	ResourceID      uuid.UUID
	CanRead         bool
	CanWrite        bool
	CreatedAt       time.Time
}

// WebPage is a crawled page persisted alongside its chunks.
type WebPage struct {
	ID        uuid.UUID
	DatasetID uuid.UUID
	URL       string
	Title     string
	Content   string
	Status    string
	Metadata  map[string]any
	CrawledAt time.Time
}

// LanguageStats aggregates indexed files per detected language.
type LanguageStats struct {
	Language   string
	FileCount  int
	ChunkCount int
	TotalBytes int64
}
