// Package conversation records question/answer exchanges per user and runs
// queries against the knowledge base.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/kbdesk/internal/storage"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

// Message is one transcript entry. Query is the question that produced it;
// for error entries it is what a retry re-sends.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Query     string    `json:"query,omitempty"`
	Sources   []string  `json:"sources,omitempty"`
}

// Transcripts persists message history keyed by user email.
type Transcripts struct {
	kv     storage.KV
	logger *slog.Logger
}

func NewTranscripts(kv storage.KV, logger *slog.Logger) *Transcripts {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcripts{kv: kv, logger: logger}
}

// Load returns the transcript for email, oldest first. A missing or corrupt
// transcript yields an empty slice.
func (t *Transcripts) Load(ctx context.Context, email string) ([]Message, error) {
	raw, err := t.kv.Get(ctx, storage.HistoryKey(email))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	var msgs []Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		t.logger.Warn("discarding unreadable conversation history", "email", email, "error", err)
		return nil, nil
	}
	return msgs, nil
}

func (t *Transcripts) Save(ctx context.Context, email string, msgs []Message) error {
	if len(msgs) == 0 {
		return t.Clear(ctx, email)
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}
	if err := t.kv.Set(ctx, storage.HistoryKey(email), string(b)); err != nil {
		return fmt.Errorf("saving history: %w", err)
	}
	return nil
}

func (t *Transcripts) Clear(ctx context.Context, email string) error {
	if err := t.kv.Remove(ctx, storage.HistoryKey(email)); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}
