package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valter-silva-au/memory-talk/pkg/models"
)

// TimestampLayout is the display format of message timestamps.
const TimestampLayout = "15:04"

// Conversation is the message timeline of one chat session. It is shared by
// the user-submit path and the agent poller; writers only append new
// entries or patch entries they created.
type Conversation struct {
	mu           sync.Mutex
	messages     []models.Message
	index        map[string]int
	lastAgentSeq uint64
	onChange     func()
	now          func() time.Time
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{
		index: make(map[string]int),
		now:   time.Now,
	}
}

// SetOnChange registers fn to be called after every mutation. fn runs
// outside the conversation lock.
func (c *Conversation) SetOnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Append adds a message and returns its id.
func (c *Conversation) Append(text string, isUser bool) string {
	c.mu.Lock()
	id := c.appendLocked(text, isUser)
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
	return id
}

func (c *Conversation) appendLocked(text string, isUser bool) string {
	msg := models.Message{
		ID:        uuid.NewString(),
		Text:      text,
		IsUser:    isUser,
		Timestamp: c.now().Format(TimestampLayout),
	}
	c.index[msg.ID] = len(c.messages)
	c.messages = append(c.messages, msg)
	return msg.ID
}

// Patch replaces the text of the message with the given id. It reports
// whether the message exists.
func (c *Conversation) Patch(id, text string) bool {
	c.mu.Lock()
	i, ok := c.index[id]
	if ok {
		c.messages[i].Text = text
	}
	fn := c.onChange
	c.mu.Unlock()

	if ok && fn != nil {
		fn()
	}
	return ok
}

// ApplyAgentPoll appends the proactive message carried by res, if any. Each
// poll sequence number is acted on at most once, so a repeated result never
// produces a duplicate message even when two messages share the same text.
func (c *Conversation) ApplyAgentPoll(res models.AgentPollResult) bool {
	c.mu.Lock()
	if res.Seq <= c.lastAgentSeq {
		c.mu.Unlock()
		return false
	}
	c.lastAgentSeq = res.Seq
	if !res.ShouldSend || res.Message == "" {
		c.mu.Unlock()
		return false
	}
	c.appendLocked(res.Message, false)
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
	return true
}

// Messages returns a copy of the timeline.
func (c *Conversation) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}
