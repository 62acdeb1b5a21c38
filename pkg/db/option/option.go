package option

import (
	"strings"
	"time"

	"ambassador-controlplane/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption decorates a query before it is executed.
type QueryOption func(*gorm.DB) *gorm.DB

// LockingUpdate is a gorm scope adding SELECT ... FOR UPDATE. Dialects
// without row locks (sqlite) drop the clause.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// WithSortBy orders by SortBy when it is allowed, created_at otherwise.
func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := "created_at"
		if s.SortBy != "" && s.Allow[s.SortBy] {
			column = s.SortBy
		}

		return db.Order(clause.OrderByColumn{
			Column: clause.Column{Name: column},
			Desc:   strings.EqualFold(s.OrderBy, "desc"),
		})
	}
}

type Operator string

const (
	EQ     Operator = "eq"
	NEQ    Operator = "neq"
	GT     Operator = "gt"
	GTE    Operator = "gte"
	LT     Operator = "lt"
	LTE    Operator = "lte"
	IN     Operator = "in"
	IsNull Operator = "is_null"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

func ApplyOperator(conds ...Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		exprs := make([]clause.Expression, 0, len(conds))
		for _, c := range conds {
			col := clause.Column{Name: c.Field}
			switch c.Operator {
			case NEQ:
				exprs = append(exprs, clause.Neq{Column: col, Value: c.Value})
			case GT:
				exprs = append(exprs, clause.Gt{Column: col, Value: c.Value})
			case GTE:
				exprs = append(exprs, clause.Gte{Column: col, Value: c.Value})
			case LT:
				exprs = append(exprs, clause.Lt{Column: col, Value: c.Value})
			case LTE:
				exprs = append(exprs, clause.Lte{Column: col, Value: c.Value})
			case IN:
				values, _ := c.Value.([]any)
				exprs = append(exprs, clause.IN{Column: col, Values: values})
			case IsNull:
				exprs = append(exprs, clause.Eq{Column: col, Value: nil})
			default:
				exprs = append(exprs, clause.Eq{Column: col, Value: c.Value})
			}
		}
		if len(exprs) == 0 {
			return db
		}
		return db.Clauses(clause.Where{Exprs: exprs})
	}
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	}
}

// ApplyPagination is keyset pagination over (created_at, id) descending.
// It fetches one extra row so callers can compute HasMore.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		limit := p.Limit
		if limit <= 0 {
			limit = 10
		}
		if limit > 250 {
			limit = 250
		}

		if p.Cursor != "" {
			if cursor, err := pagination.DecodeCursor(p.Cursor); err == nil {
				if ts, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt); err == nil {
					db = db.Where("(created_at < ?) OR (created_at = ? AND id < ?)", ts, ts, cursor.ID)
				}
			}
		}

		return db.Order("created_at DESC").Order("id DESC").Limit(limit + 1)
	}
}
