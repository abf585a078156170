// Package store holds the shared gorm models and queries for the
// automation engine: tenants, connected pages, automations, contacts,
// listeners, scheduled posts, and user-facing notices.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atharva20-coder/swoopin-engine/automation"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrOwnership = errors.New("entity not owned by user")
)

type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, log: logger.With("system", "store")}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).First(&u, "id = ?", userID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetPage resolves a platform page ID to the connected page row (and thus
// the owning user).
func (s *Store) GetPage(ctx context.Context, pageID string) (*Page, error) {
	var p Page
	err := s.db.WithContext(ctx).First(&p, "page_id = ?", pageID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadedAutomation pairs an automation row with its decoded, validated
// graph.
type LoadedAutomation struct {
	Record AutomationRecord
	Graph  *automation.Graph
}

// ActiveAutomations returns all active automations for a user with decoded
// graphs, most recently edited first. Rows whose graph fails validation are
// skipped and logged loudly; a corrupt graph must never take down
// processing of the rest.
func (s *Store) ActiveAutomations(ctx context.Context, userID string) ([]LoadedAutomation, error) {
	var recs []AutomationRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Order("updated_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	out := make([]LoadedAutomation, 0, len(recs))
	for _, rec := range recs {
		g, err := automation.ParseGraph(rec.Graph)
		if err != nil {
			s.log.Error("invalid automation graph, skipping", "automation", rec.ID, "user", userID, "err", err)
			continue
		}
		out = append(out, LoadedAutomation{Record: rec, Graph: g})
	}
	return out, nil
}

// GetAutomation loads one automation, verifying ownership.
func (s *Store) GetAutomation(ctx context.Context, userID, automationID string) (*LoadedAutomation, error) {
	var rec AutomationRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", automationID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, ErrOwnership
	}
	g, err := automation.ParseGraph(rec.Graph)
	if err != nil {
		return nil, err
	}
	return &LoadedAutomation{Record: rec, Graph: g}, nil
}

// UpsertContact records an interaction from an external user, creating the
// contact on first touch and bumping lastInteraction after.
func (s *Store) UpsertContact(ctx context.Context, userID, pageID, externalUserID string, at time.Time) (*Contact, error) {
	c := Contact{
		ExternalUserID:  externalUserID,
		PageID:          pageID,
		UserID:          userID,
		LastInteraction: at,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_user_id"}, {Name: "page_id"}},
		DoUpdates: clause.Assignments(map[string]any{"last_interaction": at}),
	}).Create(&c).Error
	if err != nil {
		return nil, err
	}

	var out Contact
	if err := s.db.WithContext(ctx).First(&out, "external_user_id = ? AND page_id = ?", externalUserID, pageID).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// SetContactFollower records follower state learned from the platform.
func (s *Store) SetContactFollower(ctx context.Context, userID, pageID, externalUserID string, isFollower bool) error {
	res := s.db.WithContext(ctx).Model(&Contact{}).
		Where("external_user_id = ? AND page_id = ? AND user_id = ?", externalUserID, pageID, userID).
		Updates(map[string]any{"is_follower": isFollower, "follower_known": true})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListenerField names a Listener counter column.
type ListenerField string

const (
	ListenerDMCount      ListenerField = "dm_count"
	ListenerCommentCount ListenerField = "comment_count"
	ListenerCommentReply ListenerField = "comment_reply"
)

// IncrementListener bumps one per-automation counter atomically, creating
// the listener row on first use.
func (s *Store) IncrementListener(ctx context.Context, automationID string, field ListenerField) error {
	switch field {
	case ListenerDMCount, ListenerCommentCount, ListenerCommentReply:
	default:
		return fmt.Errorf("unknown listener field: %s", field)
	}

	row := Listener{AutomationID: automationID}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil && err != gorm.ErrDuplicatedKey {
		return err
	}
	return s.db.WithContext(ctx).Model(&Listener{}).
		Where("automation_id = ?", automationID).
		UpdateColumn(string(field), gorm.Expr(string(field)+" + 1")).Error
}

func (s *Store) GetListener(ctx context.Context, automationID string) (*Listener, error) {
	var l Listener
	err := s.db.WithContext(ctx).First(&l, "automation_id = ?", automationID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) CreateNotification(ctx context.Context, userID, kind, message string) error {
	n := Notification{UserID: userID, Kind: kind, Message: message}
	return s.db.WithContext(ctx).Create(&n).Error
}

// RecordAnalytics appends one analytics event. Failures are the caller's
// problem to swallow: analytics must never roll back a sent message.
func (s *Store) RecordAnalytics(ctx context.Context, userID, automationID, kind, meta string) error {
	ev := AnalyticsEvent{UserID: userID, AutomationID: automationID, Kind: kind, Meta: meta}
	return s.db.WithContext(ctx).Create(&ev).Error
}
