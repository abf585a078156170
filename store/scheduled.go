package store

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// DueScheduledPosts lists posts eligible for publishing: scheduledFor has
// passed and nobody has claimed them yet.
func (s *Store) DueScheduledPosts(ctx context.Context, now time.Time, limit int) ([]ScheduledPost, error) {
	var posts []ScheduledPost
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", PostScheduled, now).
		Order("scheduled_for ASC").
		Limit(limit).
		Find(&posts).Error
	return posts, err
}

// ClaimScheduledPost transitions one post SCHEDULED -> PUBLISHING. The
// conditional update means two concurrent sweeps can never both claim the
// same post; the loser sees false.
func (s *Store) ClaimScheduledPost(ctx context.Context, postID uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&ScheduledPost{}).
		Where("id = ? AND status = ?", postID, PostScheduled).
		Update("status", PostPublishing)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FinishScheduledPost sets the terminal state for a claimed post. A post is
// never left in PUBLISHING: every code path after a claim ends here.
func (s *Store) FinishScheduledPost(ctx context.Context, postID uint, status ScheduledPostStatus, publishedID, errMsg string) error {
	return s.db.WithContext(ctx).Model(&ScheduledPost{}).
		Where("id = ? AND status = ?", postID, PostPublishing).
		Updates(map[string]any{
			"status":       status,
			"published_id": publishedID,
			"error_msg":    errMsg,
		}).Error
}

// ClaimFailedPost transitions FAILED -> PUBLISHING for an operator retry,
// verifying ownership. The caller publishes and sets the terminal state,
// exactly like a sweep claim.
func (s *Store) ClaimFailedPost(ctx context.Context, userID string, postID uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&ScheduledPost{}).
		Where("id = ? AND user_id = ? AND status = ?", postID, userID, PostFailed).
		Updates(map[string]any{"status": PostPublishing, "error_msg": ""})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) GetScheduledPost(ctx context.Context, postID uint) (*ScheduledPost, error) {
	var p ScheduledPost
	err := s.db.WithContext(ctx).First(&p, postID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &p, nil
}
