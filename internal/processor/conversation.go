package processor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/tinyagi/internal/config"
)

// maxConversationMessages bounds a team conversation; hitting it force-closes
// the conversation with whatever has been collected.
const maxConversationMessages = 50

// Conversation aggregates a multi-agent exchange triggered by one user
// message. It closes when every dispatched teammate has answered, or at the
// message cap.
type Conversation struct {
	ID       string
	Team     *config.TeamSpec
	Channel  string
	Sender   string
	SenderID string
	// MessageID of the user message that opened the conversation.
	MessageID string
	Started   time.Time

	mu       sync.Mutex
	pending  int // dispatched teammate messages awaiting a response
	messages []conversationMessage
}

type conversationMessage struct {
	AgentID string
	Text    string
	At      time.Time
}

// NewConversation opens a conversation with one pending response (the
// leader's).
func NewConversation(id string, team *config.TeamSpec, channel, sender, senderID, messageID string) *Conversation {
	return &Conversation{
		ID:        id,
		Team:      team,
		Channel:   channel,
		Sender:    sender,
		SenderID:  senderID,
		MessageID: messageID,
		Started:   time.Now(),
		pending:   1,
	}
}

// AddPending registers n newly dispatched teammate messages.
func (c *Conversation) AddPending(n int) {
	c.mu.Lock()
	c.pending += n
	c.mu.Unlock()
}

// Record stores one agent response and settles its pending slot. It reports
// whether the conversation is now closed.
func (c *Conversation) Record(agentID, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, conversationMessage{AgentID: agentID, Text: text, At: time.Now()})
	if c.pending > 0 {
		c.pending--
	}
	return c.pending == 0 || len(c.messages) >= maxConversationMessages
}

// Pending returns the number of outstanding responses.
func (c *Conversation) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Responses returns how many agent responses were recorded so far.
func (c *Conversation) Responses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Compose renders the closed conversation for the user: each agent's
// contribution prefixed with its handle and separated by a rule.
func (c *Conversation) Compose() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.messages) == 0 {
		return "The team had nothing to report."
	}
	if len(c.messages) == 1 {
		return c.messages[0].Text
	}

	var b strings.Builder
	b.WriteString("Done! Here's what happened:\n\n")
	for i, m := range c.messages {
		if i > 0 {
			b.WriteString("\n------\n")
		}
		fmt.Fprintf(&b, "@%s: %s\n", m.AgentID, strings.TrimSpace(m.Text))
	}
	return b.String()
}

// WriteTranscript appends the conversation to the team's daily chat log under
// chats/<team>/<utc-date>.md.
func (c *Conversation) WriteTranscript(home string) error {
	teamID := "solo"
	if c.Team != nil {
		teamID = c.Team.ID
	}
	dir := filepath.Join(home, "chats", teamID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create chat dir: %w", err)
	}

	c.mu.Lock()
	var b strings.Builder
	fmt.Fprintf(&b, "\n## %s — %s\n\n", c.Started.UTC().Format("15:04:05"), c.ID)
	for _, m := range c.messages {
		fmt.Fprintf(&b, "**@%s** (%s):\n%s\n\n", m.AgentID, m.At.UTC().Format("15:04:05"), strings.TrimSpace(m.Text))
	}
	c.mu.Unlock()

	path := filepath.Join(dir, time.Now().UTC().Format("2006-01-02")+".md")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}
