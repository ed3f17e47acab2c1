package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/trip-reservations/internal/apierr"
	"github.com/example/trip-reservations/internal/models"
	"github.com/example/trip-reservations/internal/observability"
	"github.com/example/trip-reservations/internal/storage"
)

const defaultInterval = 5 * time.Second

// tempIDPrefix marks optimistically appended messages awaiting the server
// copy.
const tempIDPrefix = "temp-"

// Poller keeps one chat's message list fresh without a push channel: fetch
// once on Run, then refresh on a fixed interval until the context ends.
// Sending appends optimistically and reconciles against the server's latest
// message so a refresh never shows the content twice.
type Poller struct {
	Repo     storage.ChatRepository
	ChatID   string
	UserID   string
	Interval time.Duration
	Logger   *slog.Logger

	mu     sync.Mutex
	chat   models.Chat
	loaded bool
}

// Run blocks, polling until ctx is cancelled. The first fetch happens
// immediately; a fetch error is retried on the next tick rather than
// stopping the loop.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.Refresh(ctx); err != nil {
		p.log().Warn("initial chat fetch failed", "chat_id", p.ChatID, "error", err)
	}

	interval := p.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				p.log().Warn("chat poll failed", "chat_id", p.ChatID, "error", err)
			}
		}
	}
}

// Refresh fetches the chat and replaces local state. Temp entries still
// waiting on a send are preserved so an in-flight optimistic message does
// not flicker away.
func (p *Poller) Refresh(ctx context.Context) error {
	chat, err := p.Repo.ChatMessages(ctx, p.ChatID)
	if err != nil {
		return err
	}
	observability.ChatPollCycles.Inc()

	p.mu.Lock()
	defer p.mu.Unlock()
	var pending []models.Message
	for _, m := range p.chat.Messages {
		if isTempID(m.ID) {
			pending = append(pending, m)
		}
	}
	p.chat = chat
	p.chat.Messages = append(p.chat.Messages, pending...)
	p.loaded = true
	return nil
}

// Send posts a message. The composer gate is enforced here: anything but
// an ACCEPTED chat refuses with Forbidden before touching the backend.
func (p *Poller) Send(ctx context.Context, content string, typ models.MessageType, metadata map[string]any) error {
	p.mu.Lock()
	if !p.loaded {
		p.mu.Unlock()
		return apierr.Generic("chat not loaded yet")
	}
	if p.chat.Status != models.ChatAccepted {
		p.mu.Unlock()
		return apierr.Forbidden("chat is not accepted")
	}
	if typ == "" {
		typ = models.MessageText
	}
	temp := models.Message{
		ID:        tempIDPrefix + uuid.NewString(),
		Content:   content,
		SenderID:  p.UserID,
		Type:      typ,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	p.chat.Messages = append(p.chat.Messages, temp)
	p.mu.Unlock()

	updated, err := p.Repo.PostMessage(ctx, p.ChatID, p.UserID, content, typ, metadata)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.dropMessage(temp.ID)
		return err
	}
	if len(updated.Messages) > 0 {
		// the server copy replaces the optimistic one
		p.chat = updated
	}
	return nil
}

// Messages returns the current message list, oldest first.
func (p *Poller) Messages() []models.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Message(nil), p.chat.Messages...)
}

func (p *Poller) Status() models.ChatStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chat.Status
}

// CanCompose reports whether the composer should render at all.
func (p *Poller) CanCompose() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded && p.chat.Status == models.ChatAccepted
}

// Notice is the status-appropriate text shown instead of the composer.
func (p *Poller) Notice() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case !p.loaded:
		return "Loading chat..."
	case p.chat.Status == models.ChatPending:
		return "Waiting for the driver to accept the chat."
	case p.chat.Status == models.ChatRejected:
		return "The driver declined this chat."
	default:
		return ""
	}
}

func (p *Poller) dropMessage(id string) {
	msgs := p.chat.Messages[:0]
	for _, m := range p.chat.Messages {
		if m.ID != id {
			msgs = append(msgs, m)
		}
	}
	p.chat.Messages = msgs
}

func (p *Poller) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func isTempID(id string) bool {
	return len(id) > len(tempIDPrefix) && id[:len(tempIDPrefix)] == tempIDPrefix
}
