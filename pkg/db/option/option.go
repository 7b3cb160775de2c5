package option

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/learnitin/api/pkg/db/pagination"
	"gorm.io/gorm"
)

var ErrInvalidPageToken = errors.New("invalid_page_token")

// QueryOption mutates a query before it is executed.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryOptionFunc func(db *gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB {
	return f(db)
}

type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	IN  Operator = "IN"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

func ApplyOperator(cond Condition) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(fmt.Sprintf("%s %s ?", cond.Field, cond.Operator), cond.Value)
	})
}

// ApplyPagination pages by descending snowflake id; it fetches one extra row to detect more pages.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if p.PageToken != "" {
			cursor, err := pagination.DecodeCursor(p.PageToken)
			if err != nil {
				_ = db.AddError(fmt.Errorf("%w: %v", ErrInvalidPageToken, err))
				return db
			}
			id, err := snowflake.ParseString(cursor.ID)
			if err != nil {
				_ = db.AddError(fmt.Errorf("%w: %v", ErrInvalidPageToken, err))
				return db
			}
			db = db.Where("id < ?", id)
		}
		return db.Order("id desc").Limit(p.Limit() + 1)
	})
}
