package database

import (
	"strings"
	"time"

	"github.com/Aidin1998/otcdesk/pkg/errors"
	"gorm.io/gorm"
)

// UpdateVersioned applies updates to the row of model that still carries
// version, bumping version and updated_at. conds narrows the row, for example
// "id = ?", id. Zero affected rows means another writer got there first.
func UpdateVersioned(tx *gorm.DB, model any, version int64, updates map[string]any, conds ...any) error {
	values := make(map[string]any, len(updates)+2)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = gorm.Expr("version + 1")
	values["updated_at"] = time.Now().UTC()

	q := tx.Model(model).Where("version = ?", version)
	if len(conds) > 0 {
		q = q.Where(conds[0], conds[1:]...)
	}
	res := q.Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ConcurrentModification.Explain("%T changed concurrently", model)
	}
	return nil
}

// IsDuplicate reports whether err is a unique constraint violation.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// IsNotFound reports whether err is gorm's record not found.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
