package db

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsertIfAbsent creates value unless a row with the same unique key already
// exists. It reports whether this call inserted the row. The uniqueness
// constraint makes it atomic across concurrent callers.
func InsertIfAbsent(ctx context.Context, db *gorm.DB, value any) (bool, error) {
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(value)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
