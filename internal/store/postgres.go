package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hostuk/visibility/internal/targeting"
	"github.com/hostuk/visibility/internal/validation"
)

// Postgres error codes mapped to ErrConflict.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

const blockColumns = `
	id, page_id, position, is_enabled, start_date, end_date,
	settings->'conditions' AS conditions, updated_at`

// PostgresStore implements Repository on a pgx pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a repository over pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	validation.AssertNotNil(pool, "database pool")
	return &PostgresStore{db: pool}
}

// CreatePage inserts a page with an empty settings document.
func (s *PostgresStore) CreatePage(ctx context.Context, slug string) (*Page, error) {
	query := `
		INSERT INTO pages (slug)
		VALUES ($1)
		RETURNING id, slug, settings->'targeting', version, updated_at
	`

	var p Page
	err := s.db.QueryRow(ctx, query, slug).Scan(&p.ID, &p.Slug, &p.Targeting, &p.Version, &p.UpdatedAt)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("page with slug %q", slug))
	}
	return &p, nil
}

// GetPage loads one page row.
func (s *PostgresStore) GetPage(ctx context.Context, pageID int64) (*Page, error) {
	return getPage(ctx, s.db, pageID)
}

// GetPageRules reads the page and its blocks inside one read-only snapshot so
// the version always matches the blocks returned with it.
func (s *PostgresStore) GetPageRules(ctx context.Context, pageID int64) (*targeting.PageRules, error) {
	var rules *targeting.PageRules

	err := pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, func(tx pgx.Tx) error {
		page, err := getPage(ctx, tx, pageID)
		if err != nil {
			return err
		}

		records, err := listBlocks(ctx, tx, pageID)
		if err != nil {
			return err
		}

		rules = &targeting.PageRules{
			PageID:    page.ID,
			Version:   page.Version,
			Targeting: targeting.ParseRuleSet(page.Targeting),
			Blocks:    make([]targeting.Block, 0, len(records)),
		}
		for _, rec := range records {
			rules.Blocks = append(rules.Blocks, rec.ToBlock())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rules, nil
}

// ListPageIDs returns all page ids.
func (s *PostgresStore) ListPageIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM pages ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan page ids: %w", err)
	}
	return ids, nil
}

// UpdatePageTargeting stores doc under settings.targeting and bumps the version.
func (s *PostgresStore) UpdatePageTargeting(ctx context.Context, pageID int64, doc json.RawMessage) (int64, error) {
	query := `
		UPDATE pages
		SET settings   = jsonb_set(settings, '{targeting}', $2::jsonb, true),
		    version    = version + 1,
		    updated_at = now()
		WHERE id = $1
		RETURNING version
	`

	var version int64
	if err := s.db.QueryRow(ctx, query, pageID, document(doc)).Scan(&version); err != nil {
		return 0, mapError(err, fmt.Sprintf("page %d", pageID))
	}
	return version, nil
}

// CreateBlock inserts an enabled, unconstrained block and bumps the page version.
func (s *PostgresStore) CreateBlock(ctx context.Context, pageID int64, position int) (*BlockRecord, error) {
	var rec *BlockRecord

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			INSERT INTO blocks (page_id, position)
			VALUES ($1, $2)
			RETURNING`+blockColumns, pageID, position)
		if err != nil {
			return mapError(err, fmt.Sprintf("page %d", pageID))
		}

		rec, err = pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[BlockRecord])
		if err != nil {
			return mapError(err, fmt.Sprintf("page %d", pageID))
		}

		rec.PageVersion, err = bumpPageVersion(ctx, tx, pageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateBlock replaces the block's gates and conditions.
func (s *PostgresStore) UpdateBlock(ctx context.Context, blockID int64, u BlockUpdate) (*BlockRecord, error) {
	var rec *BlockRecord

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE blocks
			SET is_enabled = $2,
			    start_date = $3,
			    end_date   = $4,
			    settings   = jsonb_set(settings, '{conditions}', $5::jsonb, true),
			    updated_at = now()
			WHERE id = $1
			RETURNING`+blockColumns,
			blockID, u.Enabled, toPgDate(u.StartDate), toPgDate(u.EndDate), document(u.Conditions),
		)
		if err != nil {
			return mapError(err, fmt.Sprintf("block %d", blockID))
		}

		rec, err = pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[BlockRecord])
		if err != nil {
			return mapError(err, fmt.Sprintf("block %d", blockID))
		}

		rec.PageVersion, err = bumpPageVersion(ctx, tx, rec.PageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListBlocks returns a page's blocks. An unknown page yields ErrNotFound,
// a page without blocks an empty slice.
func (s *PostgresStore) ListBlocks(ctx context.Context, pageID int64) ([]BlockRecord, error) {
	var records []BlockRecord

	err := pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pages WHERE id = $1)`, pageID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check page %d: %w", pageID, err)
		}
		if !exists {
			return fmt.Errorf("page %d: %w", pageID, ErrNotFound)
		}

		var err error
		records, err = listBlocks(ctx, tx, pageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getPage(ctx context.Context, q querier, pageID int64) (*Page, error) {
	query := `
		SELECT id, slug, settings->'targeting', version, updated_at
		FROM pages
		WHERE id = $1
	`

	var p Page
	if err := q.QueryRow(ctx, query, pageID).Scan(&p.ID, &p.Slug, &p.Targeting, &p.Version, &p.UpdatedAt); err != nil {
		return nil, mapError(err, fmt.Sprintf("page %d", pageID))
	}
	return &p, nil
}

func listBlocks(ctx context.Context, q querier, pageID int64) ([]BlockRecord, error) {
	rows, err := q.Query(ctx, `
		SELECT`+blockColumns+`
		FROM blocks
		WHERE page_id = $1
		ORDER BY position, id`, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocks of page %d: %w", pageID, err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[BlockRecord])
	if err != nil {
		return nil, fmt.Errorf("failed to scan blocks of page %d: %w", pageID, err)
	}
	return records, nil
}

// bumpPageVersion increments the page version and returns the new value.
func bumpPageVersion(ctx context.Context, q querier, pageID int64) (int64, error) {
	var version int64
	err := q.QueryRow(ctx, `
		UPDATE pages
		SET version = version + 1, updated_at = now()
		WHERE id = $1
		RETURNING version`, pageID).Scan(&version)
	if err != nil {
		return 0, mapError(err, fmt.Sprintf("page %d", pageID))
	}
	return version, nil
}

// mapError translates driver errors into the package sentinels.
func mapError(err error, subject string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", subject, ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgCheckViolation:
			return fmt.Errorf("%s: %s: %w", subject, pgErr.Message, ErrConflict)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w", subject, ErrNotFound)
		}
	}

	return fmt.Errorf("%s: %w", subject, err)
}
