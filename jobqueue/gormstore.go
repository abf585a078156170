package jobqueue

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// GormJob is the persisted job row. The dedup key's unique index is the
// authority for idempotent ingestion.
type GormJob struct {
	gorm.Model
	JobID           string `gorm:"uniqueIndex"`
	DedupKey        string `gorm:"uniqueIndex"`
	UserID          string `gorm:"index"`
	ConversationKey string `gorm:"index"`
	RawEvent        []byte `gorm:"type:text"`
	AutomationID    string
	ResumeNodeID    string
	State           string `gorm:"index"`
	Attempt         int
	EligibleAt      time.Time `gorm:"index"`
	LastError       string
}

// Gormstore is the gorm-backed implementation of the queue Store
// interface. Claims go through conditional updates so multiple worker
// processes can share one database.
type Gormstore struct {
	db *gorm.DB
}

func NewGormstore(db *gorm.DB) *Gormstore {
	return &Gormstore{db: db}
}

func (s *Gormstore) Enqueue(ctx context.Context, job *Job) error {
	dbj := &GormJob{
		JobID:           job.ID,
		DedupKey:        job.DedupKey,
		UserID:          job.UserID,
		ConversationKey: job.ConversationKey,
		RawEvent:        job.RawEvent,
		AutomationID:    job.AutomationID,
		ResumeNodeID:    job.ResumeNodeID,
		State:           StateEnqueued,
		Attempt:         job.Attempt,
		EligibleAt:      job.EligibleAt,
	}
	err := s.db.WithContext(ctx).Create(dbj).Error
	if err == gorm.ErrDuplicatedKey {
		// a failed job gets re-armed by a fresh delivery; anything else is
		// a true duplicate
		res := s.db.WithContext(ctx).Model(&GormJob{}).
			Where("dedup_key = ? AND state = ?", job.DedupKey, StateFailed).
			Updates(map[string]any{
				"state":       StateEnqueued,
				"attempt":     0,
				"eligible_at": job.EligibleAt,
				"last_error":  "",
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			return nil
		}
		return ErrDuplicateJob
	}
	return err
}

func (s *Gormstore) ClaimNext(ctx context.Context, now time.Time) (*Job, error) {
	// candidate scan plus conditional claim; the rows-affected guard means
	// concurrent claimers never get the same job
	for {
		var dbj GormJob
		err := s.db.WithContext(ctx).
			Where("state = ? AND eligible_at <= ?", StateEnqueued, now).
			Order("id ASC").
			First(&dbj).Error
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		} else if err != nil {
			return nil, err
		}

		res := s.db.WithContext(ctx).Model(&GormJob{}).
			Where("id = ? AND state = ?", dbj.ID, StateEnqueued).
			Update("state", StateProcessing)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// lost the race, try the next candidate
			continue
		}

		return &Job{
			ID:              dbj.JobID,
			DedupKey:        dbj.DedupKey,
			UserID:          dbj.UserID,
			ConversationKey: dbj.ConversationKey,
			RawEvent:        dbj.RawEvent,
			AutomationID:    dbj.AutomationID,
			ResumeNodeID:    dbj.ResumeNodeID,
			Attempt:         dbj.Attempt,
			EligibleAt:      dbj.EligibleAt,
			EnqueuedAt:      dbj.CreatedAt,
		}, nil
	}
}

func (s *Gormstore) SetState(ctx context.Context, jobID, state, errMsg string) error {
	res := s.db.WithContext(ctx).Model(&GormJob{}).
		Where("job_id = ?", jobID).
		Updates(map[string]any{"state": state, "last_error": errMsg})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *Gormstore) Requeue(ctx context.Context, jobID string, eligibleAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&GormJob{}).
		Where("job_id = ?", jobID).
		Updates(map[string]any{
			"state":       StateEnqueued,
			"attempt":     gorm.Expr("attempt + 1"),
			"eligible_at": eligibleAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *Gormstore) RecoverStale(ctx context.Context, olderThan time.Time) (int, error) {
	// updated_at is set by the claim, so it records when the job went into
	// processing
	res := s.db.WithContext(ctx).Model(&GormJob{}).
		Where("state = ? AND updated_at <= ?", StateProcessing, olderThan).
		Update("state", StateEnqueued)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (s *Gormstore) GetState(ctx context.Context, jobID string) (string, error) {
	var dbj GormJob
	err := s.db.WithContext(ctx).Select("state").First(&dbj, "job_id = ?", jobID).Error
	if err == gorm.ErrRecordNotFound {
		return "", ErrJobNotFound
	} else if err != nil {
		return "", err
	}
	return dbj.State, nil
}
