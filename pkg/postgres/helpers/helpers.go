package helpers

import "gorm.io/gorm"

func WrapTxAndCommit[T any](fn func(*gorm.DB) (T, error), db *gorm.DB, tx *gorm.DB) (T, error) {
	exists := tx != nil

	if !exists {
		tx = db.Begin()
		if tx.Error != nil {
			var zero T
			return zero, tx.Error
		}
	}

	res, err := fn(tx)

	if err != nil && !exists {
		tx.Rollback()
	}
	if err == nil && !exists {
		if cerr := tx.Commit().Error; cerr != nil {
			return res, cerr
		}
	}
	return res, err
}

func isSqlite(grm *gorm.DB) bool {
	return grm.Dialector.Name() == "sqlite"
}

// AutoIncrementPrimaryKey returns the column definition of a surrogate id for the connected dialect.
func AutoIncrementPrimaryKey(grm *gorm.DB) string {
	if isSqlite(grm) {
		return "integer primary key autoincrement"
	}
	return "bigserial primary key"
}

// NumericType stores token amounts. Sqlite would coerce numeric columns to lossy floats, so amounts
// are kept as text there.
func NumericType(grm *gorm.DB) string {
	if isSqlite(grm) {
		return "text"
	}
	return "numeric"
}

// JsonType is jsonb on postgres and plain text on sqlite.
func JsonType(grm *gorm.DB) string {
	if isSqlite(grm) {
		return "text"
	}
	return "jsonb"
}

// TimestampType is a column type both drivers scan back into time.Time.
func TimestampType(grm *gorm.DB) string {
	if isSqlite(grm) {
		return "datetime"
	}
	return "timestamp with time zone"
}
