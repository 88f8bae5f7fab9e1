// Package model defines the domain types shared across the ingestion pipeline.
package model

import (
	"fmt"
	"time"
)

// Direction describes the expected market direction of a news item.
type Direction string

const (
	DirectionPositive Direction = "positive"
	DirectionNegative Direction = "negative"
	DirectionMixed    Direction = "mixed"
	DirectionUnclear  Direction = "unclear"
)

// Directions lists all valid impact directions.
var Directions = []Direction{
	DirectionPositive,
	DirectionNegative,
	DirectionMixed,
	DirectionUnclear,
}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	for _, v := range Directions {
		if d == v {
			return true
		}
	}
	return false
}

// Category classifies the kind of news event.
type Category string

const (
	CategoryEarnings         Category = "EARNINGS"
	CategoryMergerAcq        Category = "MERGER_ACQUISITION"
	CategoryRegulatoryLegal  Category = "REGULATORY_LEGAL"
	CategoryMacro            Category = "MACRO"
	CategoryAnalystRating    Category = "ANALYST_RATING"
	CategoryProduct          Category = "PRODUCT"
	CategoryManagementChange Category = "MANAGEMENT_CHANGE"
	CategorySupplyChain      Category = "SUPPLY_CHAIN"
	CategoryInsiderTrading   Category = "INSIDER_TRADING"
	CategoryOther            Category = "OTHER"
)

// Categories lists all valid news categories.
var Categories = []Category{
	CategoryEarnings,
	CategoryMergerAcq,
	CategoryRegulatoryLegal,
	CategoryMacro,
	CategoryAnalystRating,
	CategoryProduct,
	CategoryManagementChange,
	CategorySupplyChain,
	CategoryInsiderTrading,
	CategoryOther,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// FetchedItem is a candidate article as returned by the news provider.
// It exists only within a single pipeline run.
type FetchedItem struct {
	URL         string
	Headline    string
	Source      string
	PublishedAt time.Time
	Tickers     []string
}

// CanonicalItem is a FetchedItem with its canonical URL and content hash.
// The ContentHash is the article's identity across all stores: two items
// with the same hash are the same article regardless of raw URL.
type CanonicalItem struct {
	FetchedItem
	CanonicalURL string
	ContentHash  string
}

// ExtractedItem is a CanonicalItem whose readable text passed the
// minimum-word-count policy.
type ExtractedItem struct {
	CanonicalItem
	Content string
}

// Impact is the classifier's structured verdict for a single article.
type Impact struct {
	Score      int       `json:"impact"`
	Direction  Direction `json:"direction"`
	Category   Category  `json:"category"`
	Points     []string  `json:"points"`
	Confidence float64   `json:"confidence"`
}

// Validate checks the full classifier output contract.
func (i *Impact) Validate() error {
	if i.Score < 1 || i.Score > 10 {
		return fmt.Errorf("impact score %d out of range 1-10", i.Score)
	}
	if !i.Direction.Valid() {
		return fmt.Errorf("unknown direction %q", i.Direction)
	}
	if !i.Category.Valid() {
		return fmt.Errorf("unknown category %q", i.Category)
	}
	if len(i.Points) < 3 || len(i.Points) > 6 {
		return fmt.Errorf("points must contain 3-6 entries, got %d", len(i.Points))
	}
	for n, p := range i.Points {
		if p == "" {
			return fmt.Errorf("points[%d] is empty", n)
		}
	}
	if i.Confidence < 0 || i.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range 0-1", i.Confidence)
	}
	return nil
}

// RawNewsRecord is the persisted observation-log entry for a sighted article,
// keyed by ContentHash. Re-sightings overwrite the metadata (last write wins).
type RawNewsRecord struct {
	ContentHash  string
	URL          string
	CanonicalURL string
	Headline     string
	Source       string
	PublishedAt  time.Time
	Tickers      []string
	FetchedAt    time.Time
}

// ImpactResult is the persisted, insert-once classification result for an
// article. Exactly one row per ContentHash, ever.
type ImpactResult struct {
	ContentHash   string
	URL           string
	CanonicalURL  string
	Headline      string
	Impact        Impact
	Model         string
	PromptVersion string
	CreatedAt     time.Time
}

// NewsView is the denormalized read-optimized record served to the API layer.
// Written only by the pipeline.
type NewsView struct {
	ContentHash   string
	URL           string
	CanonicalURL  string
	Headline      string
	Source        string
	PublishedAt   time.Time
	Tickers       []string
	Impact        Impact
	Model         string
	PromptVersion string
}

// WatchlistEntry is one user-to-ticker subscription.
type WatchlistEntry struct {
	UserID string
	Ticker string
}

// RunSummary aggregates per-item outcomes for a single pipeline run.
type RunSummary struct {
	RunID            string `json:"run_id"`
	Ingested         int    `json:"ingested"`
	ExtractedOK      int    `json:"extracted_ok"`
	SkippedNoContent int    `json:"skipped_no_content"`
	AIOK             int    `json:"ai_ok"`
	Failed           int    `json:"failed"`
	AlreadyDone      int    `json:"already_done"`
}
