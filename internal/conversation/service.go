package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/kbdesk/internal/citation"
	"github.com/kalambet/kbdesk/internal/kbclient"
	"github.com/kalambet/kbdesk/internal/session"
)

// DefaultSessionID is sent when the user carries no session token.
const DefaultSessionID = "default"

const emptyAnswer = "I found some information, but couldn't format a proper response."

var (
	ErrEmptyQuery      = errors.New("query is empty")
	ErrNotSignedIn     = errors.New("Please log in to ask questions")
	ErrQueryInFlight   = errors.New("a query is already in progress")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotRetryable    = errors.New("only failed queries can be retried")
)

// Querier sends a question to the knowledge base and returns the raw body.
type Querier interface {
	Query(ctx context.Context, email, sessionID, query string) (string, error)
}

// Extractor turns a raw response body into an answer and its citations.
type Extractor interface {
	Extract(body string) citation.Answer
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Option func(*Service)

func WithExtractor(e Extractor) Option {
	return func(s *Service) { s.extractor = e }
}

func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service runs queries and keeps transcripts up to date.
type Service struct {
	querier     Querier
	transcripts *Transcripts
	extractor   Extractor
	clock       Clock
	logger      *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewService(q Querier, t *Transcripts, opts ...Option) *Service {
	s := &Service{
		querier:     q,
		transcripts: t,
		extractor:   citation.Default,
		clock:       realClock{},
		logger:      slog.Default(),
		inflight:    make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ask sends text to the knowledge base on behalf of u and records the
// exchange. It returns the assistant message on success. When the backend
// fails, the recorded error message is returned together with the backend
// error. Only one query per user may be in flight.
func (s *Service) Ask(ctx context.Context, u *session.User, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyQuery
	}
	if u == nil {
		return Message{}, ErrNotSignedIn
	}

	if !s.acquire(u.Email) {
		return Message{}, ErrQueryInFlight
	}
	defer s.release(u.Email)

	msgs, err := s.transcripts.Load(ctx, u.Email)
	if err != nil {
		return Message{}, err
	}

	msgs = append(msgs, s.newMessage(RoleUser, text, text))
	if err := s.transcripts.Save(ctx, u.Email, msgs); err != nil {
		return Message{}, err
	}

	sid := u.SessionID
	if sid == "" {
		sid = DefaultSessionID
	}

	body, qerr := s.querier.Query(ctx, u.Email, sid, text)

	var reply Message
	if qerr != nil {
		reply = s.newMessage(RoleError, failureText(qerr), text)
	} else {
		ans := s.extractor.Extract(body)
		content := ans.Text
		if strings.TrimSpace(content) == "" {
			content = emptyAnswer
		}
		reply = s.newMessage(RoleAssistant, content, text)
		reply.Sources = ans.Sources
	}

	msgs = append(msgs, reply)
	if err := s.transcripts.Save(ctx, u.Email, msgs); err != nil {
		return Message{}, err
	}

	if qerr != nil {
		return reply, qerr
	}
	return reply, nil
}

// Retry re-asks the question behind a failed message. The new exchange is
// appended; the failed entry stays in the transcript.
func (s *Service) Retry(ctx context.Context, u *session.User, messageID string) (Message, error) {
	if u == nil {
		return Message{}, ErrNotSignedIn
	}

	msgs, err := s.transcripts.Load(ctx, u.Email)
	if err != nil {
		return Message{}, err
	}

	for _, m := range msgs {
		if m.ID != messageID {
			continue
		}
		if m.Role != RoleError || m.Query == "" {
			return Message{}, ErrNotRetryable
		}
		return s.Ask(ctx, u, m.Query)
	}
	return Message{}, ErrMessageNotFound
}

// History returns the transcript for email, oldest first.
func (s *Service) History(ctx context.Context, email string) ([]Message, error) {
	return s.transcripts.Load(ctx, email)
}

func (s *Service) Clear(ctx context.Context, email string) error {
	return s.transcripts.Clear(ctx, email)
}

func (s *Service) acquire(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[email]; busy {
		return false
	}
	s.inflight[email] = struct{}{}
	return true
}

func (s *Service) release(email string) {
	s.mu.Lock()
	delete(s.inflight, email)
	s.mu.Unlock()
}

func (s *Service) newMessage(role Role, content, query string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: s.clock.Now().UTC(),
		Query:     query,
	}
}

// failureText keeps backend messages, which are already user-facing, and
// hides everything else behind the generic query failure.
func failureText(err error) string {
	var kbErr *kbclient.Error
	if errors.As(err, &kbErr) {
		return kbErr.Message
	}
	return kbclient.MsgQueryFailed
}
