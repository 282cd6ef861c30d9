// Package store is the PostgreSQL repository for pages, blocks and their rule documents.
// Rule documents are stored as raw JSON inside each row's settings column and are
// parsed into targeting types only when a compiled snapshot is requested.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/hostuk/visibility/internal/targeting"
)

var (
	// ErrNotFound is returned when the requested page or block does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a write violates a uniqueness or check constraint.
	ErrConflict = errors.New("store: conflict")
)

// Compile-time check that PostgresStore satisfies Repository.
var _ Repository = (*PostgresStore)(nil)

// Page is a row of the pages table with its targeting document.
// Targeting is nil when the page has never been targeted.
type Page struct {
	ID        int64
	Slug      string
	Targeting []byte
	Version   int64
	UpdatedAt time.Time
}

// BlockRecord is a row of the blocks table with its conditions document.
type BlockRecord struct {
	ID         int64       `db:"id"`
	PageID     int64       `db:"page_id"`
	Position   int         `db:"position"`
	Enabled    bool        `db:"is_enabled"`
	StartDate  pgtype.Date `db:"start_date"`
	EndDate    pgtype.Date `db:"end_date"`
	Conditions []byte      `db:"conditions"`
	UpdatedAt  time.Time   `db:"updated_at"`

	// PageVersion is the owning page's version after a write. Zero on reads.
	PageVersion int64 `db:"-"`
}

// BlockUpdate replaces the mutable columns of a block.
type BlockUpdate struct {
	Enabled    bool
	StartDate  *targeting.Date
	EndDate    *targeting.Date
	Conditions json.RawMessage
}

// Repository defines page and block persistence.
type Repository interface {
	// CreatePage inserts an empty page and returns it.
	CreatePage(ctx context.Context, slug string) (*Page, error)

	// GetPage returns the page row with its raw targeting document.
	GetPage(ctx context.Context, pageID int64) (*Page, error)

	// GetPageRules returns the compiled snapshot of a page and its ordered blocks.
	GetPageRules(ctx context.Context, pageID int64) (*targeting.PageRules, error)

	// ListPageIDs returns every page id in ascending order.
	ListPageIDs(ctx context.Context) ([]int64, error)

	// UpdatePageTargeting replaces the targeting document and returns the new version.
	UpdatePageTargeting(ctx context.Context, pageID int64, doc json.RawMessage) (int64, error)

	// CreateBlock appends a block to a page.
	CreateBlock(ctx context.Context, pageID int64, position int) (*BlockRecord, error)

	// UpdateBlock replaces a block's gates and conditions. The owning page's
	// version is bumped in the same transaction.
	UpdateBlock(ctx context.Context, blockID int64, u BlockUpdate) (*BlockRecord, error)

	// ListBlocks returns a page's blocks ordered by position.
	ListBlocks(ctx context.Context, pageID int64) ([]BlockRecord, error)
}

// ToBlock converts a row to the evaluator's view, parsing the conditions document.
func (b BlockRecord) ToBlock() targeting.Block {
	return targeting.Block{
		ID:         b.ID,
		Enabled:    b.Enabled,
		StartDate:  fromPgDate(b.StartDate),
		EndDate:    fromPgDate(b.EndDate),
		Conditions: targeting.ParseRuleSet(b.Conditions),
	}
}

// StartDateValue returns the start date column, or nil when unset.
func (b BlockRecord) StartDateValue() *targeting.Date { return fromPgDate(b.StartDate) }

// EndDateValue returns the end date column, or nil when unset.
func (b BlockRecord) EndDateValue() *targeting.Date { return fromPgDate(b.EndDate) }

func fromPgDate(d pgtype.Date) *targeting.Date {
	if !d.Valid {
		return nil
	}
	date := targeting.DateOf(d.Time)
	return &date
}

func toPgDate(d *targeting.Date) pgtype.Date {
	if d == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: d.StartIn(time.UTC), Valid: true}
}

// document returns doc, or an empty object when doc is blank.
func document(doc json.RawMessage) []byte {
	if len(doc) == 0 || string(doc) == "null" {
		return []byte("{}")
	}
	return doc
}
