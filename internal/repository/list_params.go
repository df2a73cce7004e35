package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
)

// probeExists runs a SELECT 1 query and maps ErrNoRows to false.
func probeExists(ctx context.Context, db *sqlx.DB, query string, args ...interface{}) (bool, error) {
	var one int
	if err := db.GetContext(ctx, &one, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// listParams holds the sanitized ORDER BY / LIMIT pieces shared by the
// listing queries. Sort columns pass through an allow-list because they are
// interpolated into SQL.
type listParams struct {
	column string
	order  string
	limit  int
	offset int
}

func resolveListParams(sortBy, sortOrder string, page, size int, sortable map[string]string, defaultColumn string) listParams {
	column, ok := sortable[sortBy]
	if !ok {
		column = defaultColumn
	}
	order := strings.ToUpper(sortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return listParams{column: column, order: order, limit: size, offset: (page - 1) * size}
}
