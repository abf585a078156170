// Package scheduler publishes scheduled posts when their time arrives. The
// sweep claims each due post with a conditional state transition, so any
// number of concurrent sweeps publish each post exactly once. A claimed
// post always reaches a terminal state in the same pass; there is no
// automatic retry, the operator re-arms failures explicitly.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/atharva20-coder/swoopin-engine/automation/quotastore"
	"github.com/atharva20-coder/swoopin-engine/platform"
	"github.com/atharva20-coder/swoopin-engine/store"
)

const defaultInterval = 30 * time.Second
const defaultBatchSize = 50

type Scheduler struct {
	Logger    *slog.Logger
	Store     *store.Store
	Quotas    quotastore.QuotaStore
	Messenger platform.Messenger

	Interval  time.Duration
	BatchSize int
}

func New(logger *slog.Logger, st *store.Store, quotas quotastore.QuotaStore, messenger platform.Messenger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Logger:    logger.With("system", "scheduler"),
		Store:     st,
		Quotas:    quotas,
		Messenger: messenger,
		Interval:  defaultInterval,
		BatchSize: defaultBatchSize,
	}
}

// Run sweeps on a ticker until the context ends. The start is jittered so
// replicas booted together do not sweep in lockstep.
func (s *Scheduler) Run(ctx context.Context) error {
	select {
	case <-time.After(time.Duration(rand.Int63n(int64(s.Interval)))):
	case <-ctx.Done():
		return ctx.Err()
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	s.Logger.Info("scheduled post sweep running", "interval", s.Interval)

	for {
		if err := s.Sweep(ctx); err != nil {
			s.Logger.Error("sweep failed", "err", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Sweep publishes every due post it manages to claim. Per-post failures
// are recorded on the post; only listing failures surface as errors.
func (s *Scheduler) Sweep(ctx context.Context) error {
	sweepsTotal.Inc()
	due, err := s.Store.DueScheduledPosts(ctx, time.Now(), s.BatchSize)
	if err != nil {
		return fmt.Errorf("listing due posts: %w", err)
	}

	for _, post := range due {
		claimed, err := s.Store.ClaimScheduledPost(ctx, post.ID)
		if err != nil {
			return fmt.Errorf("claiming post %d: %w", post.ID, err)
		}
		if !claimed {
			// another sweep got there first
			claimsLost.Inc()
			continue
		}
		s.publishClaimed(ctx, &post)
	}
	return nil
}

// publishClaimed takes a post we hold the PUBLISHING claim on to a terminal
// state. Every path ends in FinishScheduledPost.
func (s *Scheduler) publishClaimed(ctx context.Context, post *store.ScheduledPost) {
	log := s.Logger.With("post", post.ID, "user", post.UserID, "page", post.PageID)

	publishedID, err := s.publish(ctx, post)
	if err != nil {
		postsFailed.Inc()
		log.Error("publish failed", "err", err)
		if ferr := s.Store.FinishScheduledPost(ctx, post.ID, store.PostFailed, "", err.Error()); ferr != nil {
			log.Error("recording publish failure", "err", ferr)
		}
		if nerr := s.Store.CreateNotification(ctx, post.UserID, "publish_failed",
			fmt.Sprintf("Your scheduled post could not be published: %v", err)); nerr != nil {
			log.Error("writing notification", "err", nerr)
		}
		return
	}

	postsPublished.Inc()
	log.Info("post published", "published_id", publishedID)
	if ferr := s.Store.FinishScheduledPost(ctx, post.ID, store.PostPublished, publishedID, ""); ferr != nil {
		log.Error("recording publish success", "err", ferr)
	}
	if aerr := s.Store.RecordAnalytics(ctx, post.UserID, "", "post_published", publishedID); aerr != nil {
		log.Error("writing analytics event", "err", aerr)
	}
}

func (s *Scheduler) publish(ctx context.Context, post *store.ScheduledPost) (string, error) {
	user, err := s.Store.GetUser(ctx, post.UserID)
	if err != nil {
		return "", fmt.Errorf("resolving post owner: %w", err)
	}
	page, err := s.Store.GetPage(ctx, post.PageID)
	if err != nil {
		return "", fmt.Errorf("resolving page: %w", err)
	}

	lim := quotastore.Limits(user.Plan).Limit(quotastore.UsagePublishes)
	allowed, err := s.Quotas.CheckAndIncrement(ctx, user.ID, quotastore.UsagePublishes, lim.Period, lim.Limit)
	if err != nil {
		return "", fmt.Errorf("publish quota check: %w", err)
	}
	if !allowed {
		return "", fmt.Errorf("publish quota exceeded for plan %s", user.Plan)
	}

	return s.Messenger.PublishPost(ctx, page.AccessToken, page.PageID, post.Caption, post.MediaURL)
}

// RetryPost re-arms one FAILED post on the operator's behalf and publishes
// it immediately. Returns false when the post is not theirs or not FAILED.
func (s *Scheduler) RetryPost(ctx context.Context, userID string, postID uint) (bool, error) {
	claimed, err := s.Store.ClaimFailedPost(ctx, userID, postID)
	if err != nil || !claimed {
		return false, err
	}
	post, err := s.Store.GetScheduledPost(ctx, postID)
	if err != nil {
		return false, err
	}
	s.publishClaimed(ctx, post)
	return true, nil
}
