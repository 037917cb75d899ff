// Package repository holds the GORM data access layer. Every method takes the
// transaction handle of the caller's store; a nil tx falls back to the
// repository's own connection.
package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

func conn(ctx context.Context, db, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		tx = db
	}
	return tx.WithContext(ctx)
}

// IsNotFound reports whether err is a missing-row error.
func IsNotFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }
