package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/conduit-lang/collections/internal/orm/errs"
)

// Queryer is satisfied by *sql.DB and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Plan is a compiled list query.
type Plan struct {
	Where   string
	OrderBy string
	Limit   int
	Offset  int
	Args    []any
}

// Plan compiles s. Base predicates, already rendered against args, are
// ANDed in front of the user filter.
func (c *Compiler) Plan(s *Syntax, args *Args, base ...string) (*Plan, error) {
	parts := append([]string(nil), base...)
	where, err := c.Where(s.Filter(), args)
	if err != nil {
		return nil, err
	}
	if where != "1 = 1" {
		parts = append(parts, "("+where+")")
	}
	if s != nil {
		search, err := c.Search(s.Search, args)
		if err != nil {
			return nil, err
		}
		if search != "" {
			parts = append(parts, search)
		}
	}
	order := ""
	if s != nil {
		order = s.Order
	}
	orderBy, err := c.OrderBy(order, s.Ascending())
	if err != nil {
		return nil, err
	}
	limit, offset := s.Window()
	p := &Plan{OrderBy: orderBy, Limit: limit, Offset: offset, Args: args.Values()}
	if len(parts) == 0 {
		p.Where = "1 = 1"
	} else {
		p.Where = strings.Join(parts, " AND ")
	}
	return p, nil
}

// CountSQL counts the rows matching the plan.
func (p *Plan) CountSQL(from string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", from, p.Where)
}

// SelectSQL selects one page of rows.
func (p *Plan) SelectSQL(columns, from string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s %s LIMIT %d OFFSET %d",
		columns, from, p.Where, p.OrderBy, p.Limit, p.Offset)
}

// Fetch runs the count and page queries on q and calls scan for each row.
// Run it inside one snapshot transaction so the total matches the page.
func (p *Plan) Fetch(ctx context.Context, q Queryer, columns, from string, scan func(*sql.Rows) error) (int, error) {
	var total int
	if err := q.QueryRowContext(ctx, p.CountSQL(from), p.Args...).Scan(&total); err != nil {
		return 0, errs.ConvertDBError(err)
	}
	rows, err := q.QueryContext(ctx, p.SelectSQL(columns, from), p.Args...)
	if err != nil {
		return 0, errs.ConvertDBError(err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return 0, err
		}
	}
	return total, rows.Err()
}

// Page is one window of a list result.
type Page[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

// NewPage builds a page; HasMore is derived from the count.
func NewPage[T any](items []T, total, limit, offset int) *Page[T] {
	if items == nil {
		items = []T{}
	}
	return &Page[T]{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(items) < total,
	}
}
