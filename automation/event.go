package automation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// EventKind mirrors TriggerKind values; inbound events and trigger nodes
// share the same vocabulary.
type EventKind = TriggerKind

// Event is one normalized inbound platform event. Immutable once parsed;
// the raw payload rides along in job records, this is the working form.
type Event struct {
	// platform-provided event ID, used as the deduplication key when present
	EventID string    `json:"eventId"`
	Kind    EventKind `json:"kind"`
	// platform page/account the event arrived on; resolves the owning user
	PageID string `json:"pageId"`
	// external (platform-side) identifier of the person who acted
	SenderID string `json:"senderId"`
	// comment or message text, empty for postbacks
	Text string `json:"text,omitempty"`
	// media/post the comment or mention is attached to
	MediaID string `json:"mediaId,omitempty"`
	// comment being replied to, for REPLY_COMMENT actions
	CommentID string `json:"commentId,omitempty"`
	// postback payload for button clicks
	Payload string `json:"payload,omitempty"`
	// tags on the media the event is attached to, when the platform
	// includes them in the delivery
	MediaTags []string  `json:"mediaTags,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DedupKey returns the stable identifier used to collapse duplicate
// deliveries: the platform event ID when the platform supplies one,
// otherwise a content hash.
func (ev *Event) DedupKey() string {
	if ev.EventID != "" {
		return ev.EventID
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", ev.SenderID, ev.PageID, ev.Timestamp.UnixMilli(), ev.Text)))
	return hex.EncodeToString(h[:])
}

// ConversationKey identifies the (page, external contact) pair whose events
// must be processed in arrival order.
func (ev *Event) ConversationKey() string {
	return ev.PageID + "/" + ev.SenderID
}

func (ev *Event) Marshal() ([]byte, error) {
	return json.Marshal(ev)
}

func ParseEvent(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	if ev.PageID == "" || ev.SenderID == "" {
		return nil, fmt.Errorf("event missing page or sender")
	}
	return &ev, nil
}
