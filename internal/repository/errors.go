package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("duplicate key")

	// ErrStaleState is returned when a compare-and-set update matched no row.
	ErrStaleState = errors.New("row changed concurrently")
)

// translate maps driver-level errors to repository errors. The DB must be
// opened with TranslateError so unique violations surface as gorm.ErrDuplicatedKey.
func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}
