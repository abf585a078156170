package intake

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/atharva20-coder/swoopin-engine/automation"
)

// webhookEnvelope is the delivery format the platforms POST: one envelope
// can batch entries for multiple pages, and each entry can carry both
// messaging events and field changes.
type webhookEnvelope struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID        string           `json:"id"` // page ID
	Time      int64            `json:"time"`
	Messaging []messagingEvent `json:"messaging"`
	Changes   []fieldChange    `json:"changes"`
}

type messagingEvent struct {
	Sender    idRef  `json:"sender"`
	Recipient idRef  `json:"recipient"`
	Timestamp int64  `json:"timestamp"`
	Message   *struct {
		MID     string `json:"mid"`
		Text    string `json:"text"`
		IsEcho  bool   `json:"is_echo"`
		ReplyTo *struct {
			Story *idRef `json:"story"`
		} `json:"reply_to"`
	} `json:"message"`
	Postback *struct {
		MID     string `json:"mid"`
		Title   string `json:"title"`
		Payload string `json:"payload"`
	} `json:"postback"`
}

type fieldChange struct {
	Field string `json:"field"`
	Value struct {
		ID    string `json:"id"`
		Text  string `json:"text"`
		From  idRef  `json:"from"`
		Media *idRef `json:"media"`

		// mention changes carry these instead of id/media
		MediaID   string `json:"media_id"`
		CommentID string `json:"comment_id"`
	} `json:"value"`
}

type idRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// ParseEnvelope flattens one webhook delivery into the events it carries.
// Entries that do not map to a known trigger kind (echoes of our own sends,
// unknown change fields, changes with no sender) are skipped, not errors:
// the platforms batch event types we never subscribe to into the same
// delivery.
func ParseEnvelope(body []byte) ([]*automation.Event, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unparseable webhook body: %w", err)
	}

	var out []*automation.Event
	for _, entry := range env.Entry {
		for _, m := range entry.Messaging {
			if ev := parseMessaging(entry.ID, m); ev != nil {
				out = append(out, ev)
			}
		}
		for _, ch := range entry.Changes {
			if ev := parseChange(entry.ID, entry.Time, ch); ev != nil {
				out = append(out, ev)
			}
		}
	}
	return out, nil
}

func parseMessaging(pageID string, m messagingEvent) *automation.Event {
	if m.Sender.ID == "" {
		return nil
	}
	ev := &automation.Event{
		PageID:    pageID,
		SenderID:  m.Sender.ID,
		Timestamp: time.UnixMilli(m.Timestamp),
	}

	switch {
	case m.Postback != nil:
		ev.Kind = automation.TriggerPostback
		ev.EventID = m.Postback.MID
		ev.Text = m.Postback.Title
		ev.Payload = m.Postback.Payload

	case m.Message != nil:
		if m.Message.IsEcho {
			// our own outbound message mirrored back
			return nil
		}
		ev.EventID = m.Message.MID
		ev.Text = m.Message.Text
		if m.Message.ReplyTo != nil && m.Message.ReplyTo.Story != nil {
			ev.Kind = automation.TriggerStoryReply
			ev.MediaID = m.Message.ReplyTo.Story.ID
		} else {
			ev.Kind = automation.TriggerDM
		}

	default:
		return nil
	}
	return ev
}

func parseChange(pageID string, entryTime int64, ch fieldChange) *automation.Event {
	ev := &automation.Event{
		PageID:    pageID,
		SenderID:  ch.Value.From.ID,
		Timestamp: time.Unix(entryTime, 0),
	}
	if ev.SenderID == "" {
		return nil
	}

	switch ch.Field {
	case "comments":
		ev.Kind = automation.TriggerComment
		ev.EventID = ch.Value.ID
		ev.CommentID = ch.Value.ID
		ev.Text = ch.Value.Text
		if ch.Value.Media != nil {
			ev.MediaID = ch.Value.Media.ID
		}

	case "mentions":
		ev.Kind = automation.TriggerMention
		ev.EventID = ch.Value.CommentID
		ev.CommentID = ch.Value.CommentID
		ev.MediaID = ch.Value.MediaID
		ev.Text = ch.Value.Text

	default:
		return nil
	}
	return ev
}
