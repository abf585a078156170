package store

import (
	"time"

	"github.com/atharva20-coder/swoopin-engine/automation"

	"gorm.io/gorm"
)

// User is the owning tenant for every mutable entity in the engine.
type User struct {
	ID        string `gorm:"primaryKey"`
	Plan      automation.PlanTier
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Page is one connected platform page/account. Inbound events carry the
// page ID; this row resolves the owning user and the token for outbound
// calls on their behalf.
type Page struct {
	gorm.Model
	PageID      string `gorm:"uniqueIndex"`
	UserID      string `gorm:"index"`
	Platform    string
	AccessToken string
}

// AutomationRecord is the persisted form of one automation: ownership,
// active flag, and the flow graph as JSON. The graph is decoded and
// validated at load time (automation.ParseGraph), never lazily.
type AutomationRecord struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"index"`
	Name      string
	Active    bool   `gorm:"index"`
	Graph     []byte `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

// Listener aggregates dispatch counters per automation. Mutated only after
// a confirmed successful dispatch, via atomic column updates.
type Listener struct {
	gorm.Model
	AutomationID string `gorm:"uniqueIndex"`
	DMCount      int64
	CommentCount int64
	CommentReply int64
}

// Contact is one external person interacting with a page. Created on first
// interaction; the engine never deletes contacts.
type Contact struct {
	gorm.Model
	ExternalUserID  string `gorm:"uniqueIndex:idx_contact_page,priority:1"`
	PageID          string `gorm:"uniqueIndex:idx_contact_page,priority:2"`
	UserID          string `gorm:"index"`
	IsFollower      bool
	FollowerKnown   bool
	LastInteraction time.Time
}

type ScheduledPostStatus string

const (
	PostScheduled  ScheduledPostStatus = "SCHEDULED"
	PostPublishing ScheduledPostStatus = "PUBLISHING"
	PostPublished  ScheduledPostStatus = "PUBLISHED"
	PostFailed     ScheduledPostStatus = "FAILED"
)

// ScheduledPost transitions SCHEDULED -> PUBLISHING -> {PUBLISHED | FAILED},
// one-directional except the operator retry FAILED -> PUBLISHING.
type ScheduledPost struct {
	gorm.Model
	UserID       string `gorm:"index"`
	PageID       string
	Caption      string
	MediaURL     string
	ScheduledFor time.Time           `gorm:"index"`
	Status       ScheduledPostStatus `gorm:"index"`
	ErrorMsg     string
	PublishedID  string
}

// Notification is an in-app notice surfaced to the user (quota exhausted,
// permanent send failure, and similar).
type Notification struct {
	gorm.Model
	UserID  string `gorm:"index"`
	Kind    string
	Message string
	Read    bool `gorm:"index"`
}

// AnalyticsEvent records one successful engine side effect, best-effort.
type AnalyticsEvent struct {
	gorm.Model
	UserID       string `gorm:"index"`
	AutomationID string `gorm:"index"`
	Kind         string
	Meta         string
}

// AllModels is the set AutoMigrate runs over at daemon startup. The job
// queue and quota counter tables are owned by their packages and appended
// by the caller.
func AllModels() []any {
	return []any{
		&User{},
		&Page{},
		&AutomationRecord{},
		&Listener{},
		&Contact{},
		&ScheduledPost{},
		&Notification{},
		&AnalyticsEvent{},
	}
}
