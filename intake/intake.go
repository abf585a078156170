// Package intake terminates platform webhooks: it verifies delivery
// signatures, flattens the envelope into events, deduplicates redeliveries,
// and enqueues one durable job per fresh event. Replies to the platform are
// fast and unconditional; all real work happens behind the queue.
package intake

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/atharva20-coder/swoopin-engine/automation"
	"github.com/atharva20-coder/swoopin-engine/jobqueue"
	"github.com/atharva20-coder/swoopin-engine/store"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Outcome string

const (
	OutcomeEnqueued    Outcome = "enqueued"
	OutcomeDuplicate   Outcome = "skipped_duplicate"
	OutcomeUnknownPage Outcome = "dropped_unknown_page"
	OutcomeInvalid     Outcome = "dropped_invalid"
)

// seen-marker TTL comfortably exceeds the platforms' redelivery window
const dedupTTL = 48 * time.Hour

const dedupPrefix = "seen/"

type Ingester struct {
	Logger *slog.Logger
	Queue  jobqueue.Store
	Store  *store.Store

	// optional dedup fast path; the queue's unique dedup key is the
	// authority either way
	Redis *redis.Client

	// webhook app secret for signature verification; empty disables the
	// check (local dev only)
	Secret string
}

func NewIngester(logger *slog.Logger, queue jobqueue.Store, st *store.Store, rdb *redis.Client, secret string) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		Logger: logger.With("system", "intake"),
		Queue:  queue,
		Store:  st,
		Redis:  rdb,
		Secret: secret,
	}
}

// VerifySignature checks the X-Hub-Signature-256 header against the raw
// body. Constant-time compare on the decoded MAC.
func (ing *Ingester) VerifySignature(body []byte, header string) bool {
	if ing.Secret == "" {
		return true
	}
	hexmac, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(hexmac)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(ing.Secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Ingest processes one verified webhook body. The returned map counts
// events per outcome; an error means a storage failure the platform should
// redeliver for.
func (ing *Ingester) Ingest(ctx context.Context, body []byte) (map[Outcome]int, error) {
	events, err := ParseEnvelope(body)
	if err != nil {
		return nil, err
	}

	counts := make(map[Outcome]int)
	for _, ev := range events {
		out, err := ing.ingestOne(ctx, ev)
		if err != nil {
			return counts, err
		}
		counts[out]++
		switch out {
		case OutcomeEnqueued:
			eventsEnqueued.WithLabelValues(string(ev.Kind)).Inc()
		case OutcomeDuplicate:
			eventsDuplicate.Inc()
		case OutcomeUnknownPage:
			eventsUnknownPage.Inc()
		}
	}
	return counts, nil
}

func (ing *Ingester) ingestOne(ctx context.Context, ev *automation.Event) (Outcome, error) {
	page, err := ing.Store.GetPage(ctx, ev.PageID)
	if errors.Is(err, store.ErrNotFound) {
		ing.Logger.Info("webhook for unconnected page, dropping", "page", ev.PageID)
		return OutcomeUnknownPage, nil
	} else if err != nil {
		return "", err
	}

	dedupKey := ev.DedupKey()
	if ing.seenRecently(ctx, dedupKey) {
		return OutcomeDuplicate, nil
	}

	raw, err := ev.Marshal()
	if err != nil {
		return "", err
	}
	job := &jobqueue.Job{
		ID:              uuid.NewString(),
		DedupKey:        dedupKey,
		UserID:          page.UserID,
		ConversationKey: ev.ConversationKey(),
		RawEvent:        raw,
		EnqueuedAt:      time.Now(),
	}
	err = ing.Queue.Enqueue(ctx, job)
	if errors.Is(err, jobqueue.ErrDuplicateJob) {
		ing.Logger.Info("duplicate delivery, skipping", "dedup_key", dedupKey, "kind", ev.Kind)
		return OutcomeDuplicate, nil
	} else if err != nil {
		return "", err
	}

	ing.Logger.Info("event enqueued", "dedup_key", dedupKey, "kind", ev.Kind, "page", ev.PageID)
	return OutcomeEnqueued, nil
}

// seenRecently marks and checks the dedup key in redis. Only ever a fast
// negative: a redis miss or error falls through to the queue's unique
// index, which makes the actual at-most-once decision.
func (ing *Ingester) seenRecently(ctx context.Context, dedupKey string) bool {
	if ing.Redis == nil {
		return false
	}
	fresh, err := ing.Redis.SetNX(ctx, dedupPrefix+dedupKey, 1, dedupTTL).Result()
	if err != nil {
		ing.Logger.Warn("redis dedup check failed, falling through", "err", err)
		return false
	}
	return !fresh
}
