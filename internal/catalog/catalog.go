// Package catalog resolves product names to master data ids for display. Lookups
// never fail the caller: on error the result is simply empty.
package catalog

import (
	"context"
	"log/slog"
	"slices"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/distrochain/distrochain/internal/shared"
)

// Product is the master data row behind a product name.
type Product struct {
	ID   int64  `db:"id"`
	SKU  string `db:"sku"`
	Name string `db:"name"`
}

// Directory reads the products table.
type Directory struct {
	db      pgxscan.Querier
	builder squirrel.StatementBuilderType
	logger  *slog.Logger
}

// NewDirectory constructs Directory. db is usually a *pgxpool.Pool.
func NewDirectory(db pgxscan.Querier, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{db: db, builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar), logger: logger}
}

// ProductIDs maps the folded key of each known name to its product id.
func (d *Directory) ProductIDs(ctx context.Context, names []string) map[string]int64 {
	out := make(map[string]int64)
	if d == nil || d.db == nil {
		return out
	}
	keys := make([]string, 0, len(names))
	for _, n := range names {
		if k := shared.ProductKey(n); k != "" && !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return out
	}
	sql, args, err := d.builder.Select("id", "sku", "name").
		From("products").
		Where(squirrel.Expr("LOWER(TRIM(name)) = ANY(?)", keys)).
		Where(squirrel.Eq{"deleted_at": nil}).
		ToSql()
	if err != nil {
		d.logger.Warn("catalog lookup", slog.Any("error", err))
		return out
	}
	var products []Product
	if err := pgxscan.Select(ctx, d.db, &products, sql, args...); err != nil {
		d.logger.Warn("catalog lookup", slog.Int("names", len(keys)), slog.Any("error", err))
		return out
	}
	for _, p := range products {
		out[shared.ProductKey(p.Name)] = p.ID
	}
	return out
}
