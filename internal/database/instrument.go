package database

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

const queryStartKey = "searchflow:query_start"

// InstrumentQueries registers gorm callbacks that time every create, query,
// update, delete, row and raw statement and report it to obs under name.
func InstrumentQueries(db *gorm.DB, name string, obs Observer) error {
	if obs == nil {
		return nil
	}

	start := func(tx *gorm.DB) {
		tx.InstanceSet(queryStartKey, time.Now())
	}
	finish := func(op string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			v, ok := tx.InstanceGet(queryStartKey)
			if !ok {
				return
			}
			if t, ok := v.(time.Time); ok {
				obs.RecordDBQuery(name, op, time.Since(t))
			}
		}
	}

	cb := db.Callback()
	return errors.Join(
		cb.Create().Before("gorm:create").Register("searchflow:start_create", start),
		cb.Create().After("gorm:create").Register("searchflow:finish_create", finish("create")),
		cb.Query().Before("gorm:query").Register("searchflow:start_query", start),
		cb.Query().After("gorm:query").Register("searchflow:finish_query", finish("query")),
		cb.Update().Before("gorm:update").Register("searchflow:start_update", start),
		cb.Update().After("gorm:update").Register("searchflow:finish_update", finish("update")),
		cb.Delete().Before("gorm:delete").Register("searchflow:start_delete", start),
		cb.Delete().After("gorm:delete").Register("searchflow:finish_delete", finish("delete")),
		cb.Row().Before("gorm:row").Register("searchflow:start_row", start),
		cb.Row().After("gorm:row").Register("searchflow:finish_row", finish("row")),
		cb.Raw().Before("gorm:raw").Register("searchflow:start_raw", start),
		cb.Raw().After("gorm:raw").Register("searchflow:finish_raw", finish("raw")),
	)
}
