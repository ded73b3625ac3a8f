package queue

import (
	"fmt"
	"math/rand"
	"time"
)

// Envelope is one queued message file. Channel adapters write these into
// incoming/; the processor writes replies into outgoing/.
type Envelope struct {
	Channel         string   `json:"channel"`
	Sender          string   `json:"sender"`
	SenderID        string   `json:"senderId,omitempty"`
	Message         string   `json:"message"`
	Timestamp       int64    `json:"timestamp"`
	MessageID       string   `json:"messageId"`
	Agent           string   `json:"agent,omitempty"` // pre-routed agent id
	Files           []string `json:"files,omitempty"` // absolute attachment paths
	ConversationID  string   `json:"conversationId,omitempty"`
	FromAgent       string   `json:"fromAgent,omitempty"`
	OriginalMessage string   `json:"originalMessage,omitempty"` // outgoing only
}

// IsInternal reports whether the envelope is an agent-to-agent handoff
// re-enqueued by the processor rather than an external channel message.
func (e *Envelope) IsInternal() bool {
	return e.ConversationID != "" && e.FromAgent != ""
}

// HeartbeatChannel is the internal liveness channel; its outgoing files keep
// the bare messageId filename so the adapter can poll a fixed path.
const HeartbeatChannel = "heartbeat"

// OutgoingName builds the outgoing filename for an envelope:
// <channel>_<msgId>_<nowMillis>.json, except heartbeat which is <msgId>.json.
func OutgoingName(channel, messageID string, now time.Time) string {
	if channel == HeartbeatChannel {
		return messageID + ".json"
	}
	return fmt.Sprintf("%s_%s_%d.json", channel, messageID, now.UnixMilli())
}

// InternalName builds the incoming filename for a team-handoff message:
// internal_<convId>_<target>_<ts>_<rand>.json.
func InternalName(conversationID, targetAgent string, now time.Time) string {
	return fmt.Sprintf("internal_%s_%s_%d_%04d.json", conversationID, targetAgent, now.UnixMilli(), rand.Intn(10000))
}
