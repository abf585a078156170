package quotastore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UsageCounter is one (user, usageKey, period-bucket) row. Incremented only
// through a conditional UPDATE, never read-modify-write.
type UsageCounter struct {
	gorm.Model
	UserID   string `gorm:"uniqueIndex:idx_usage_bucket,priority:1"`
	UsageKey string `gorm:"uniqueIndex:idx_usage_bucket,priority:2"`
	Bucket   string `gorm:"uniqueIndex:idx_usage_bucket,priority:3"`
	Used     int
}

// GormQuotaStore is the durable implementation, correct across multiple
// worker processes sharing one database.
type GormQuotaStore struct {
	db *gorm.DB
}

func NewGormQuotaStore(db *gorm.DB) *GormQuotaStore {
	return &GormQuotaStore{db: db}
}

func (s *GormQuotaStore) CheckAndIncrement(ctx context.Context, userID, usageKey, period string, limit int) (bool, error) {
	bucket := periodBucket(userID, usageKey, period)

	// ensure the period row exists at zero; conflicts mean another worker
	// won the insert, which is fine
	row := UsageCounter{UserID: userID, UsageKey: usageKey, Bucket: bucket}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil && err != gorm.ErrDuplicatedKey {
		return false, err
	}

	q := s.db.WithContext(ctx).Model(&UsageCounter{}).
		Where("user_id = ? AND usage_key = ? AND bucket = ?", userID, usageKey, bucket)
	if limit >= 0 {
		q = q.Where("used < ?", limit)
	}
	res := q.Update("used", gorm.Expr("used + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormQuotaStore) GetUsage(ctx context.Context, userID, usageKey, period string) (int, error) {
	bucket := periodBucket(userID, usageKey, period)
	var row UsageCounter
	err := s.db.WithContext(ctx).Where("user_id = ? AND usage_key = ? AND bucket = ?", userID, usageKey, bucket).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return row.Used, nil
}

func (s *GormQuotaStore) Reset(ctx context.Context, userID, usageKey, period string) error {
	bucket := periodBucket(userID, usageKey, period)
	return s.db.WithContext(ctx).Model(&UsageCounter{}).
		Where("user_id = ? AND usage_key = ? AND bucket = ?", userID, usageKey, bucket).
		Update("used", 0).Error
}
