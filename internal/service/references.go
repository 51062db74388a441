package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/AviOnlineSec/cra/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReferenceSeed is the number given to the first client of each prefix
const ReferenceSeed = 1100001

// nextReference allocates the next reference for prefix inside tx. The
// counter row is seeded from the highest existing reference the first time a
// prefix is used; afterwards a single UPDATE increments it, which serialises
// concurrent allocations on the row lock.
func nextReference(tx *gorm.DB, prefix string) (string, error) {
	var seq model.ReferenceSequence
	err := tx.Where("prefix = ?", prefix).Take(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		last, err := maxReference(tx, prefix)
		if err != nil {
			return "", err
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.ReferenceSequence{Prefix: prefix, LastValue: last}).Error; err != nil {
			return "", fmt.Errorf("seed reference sequence: %w", err)
		}
	} else if err != nil {
		return "", err
	}

	if err := tx.Model(&model.ReferenceSequence{}).
		Where("prefix = ?", prefix).
		Update("last_value", gorm.Expr("last_value + ?", 1)).Error; err != nil {
		return "", fmt.Errorf("advance reference sequence: %w", err)
	}
	if err := tx.Where("prefix = ?", prefix).Take(&seq).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d", prefix, seq.LastValue), nil
}

// maxReference returns the highest numeric suffix in use for prefix, or
// ReferenceSeed-1 when no reference with that prefix has a numeric suffix.
// Existing numbers below the seed are continued, not skipped.
func maxReference(tx *gorm.DB, prefix string) (int64, error) {
	var refs []string
	if err := tx.Model(&model.Client{}).
		Where("reference LIKE ?", prefix+"-%").
		Pluck("reference", &refs).Error; err != nil {
		return 0, err
	}
	last, found := int64(0), false
	for _, ref := range refs {
		n, err := strconv.ParseInt(strings.TrimPrefix(ref, prefix+"-"), 10, 64)
		if err == nil && (!found || n > last) {
			last, found = n, true
		}
	}
	if !found {
		return ReferenceSeed - 1, nil
	}
	return last, nil
}
