package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"group-adder/internal/domain"
	"group-adder/internal/integrations/telegram"
	"group-adder/internal/usecase"
)

const (
	replyTimeout    = 15 * time.Second
	msgDownloadFail = "Could not download the file. Please send it again."
)

// Conversation is the operator-facing state machine.
type Conversation interface {
	OnStart(ctx context.Context, key domain.SessionKey) usecase.Reply
	OnCancel(ctx context.Context, key domain.SessionKey) usecase.Reply
	OnOperatorMessage(ctx context.Context, key domain.SessionKey, p usecase.Payload) usecase.Reply
}

// Sender delivers text to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Messenger is the transport surface the handler needs.
type Messenger interface {
	Sender
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Handler decodes updates into conversation calls and sends the replies back.
type Handler struct {
	conv   Conversation
	msgr   Messenger
	logger *slog.Logger
}

// NewHandler validates dependencies and returns a Handler.
func NewHandler(conv Conversation, msgr Messenger, logger *slog.Logger) (*Handler, error) {
	if conv == nil {
		return nil, errors.New("handler: conversation must not be nil")
	}
	if msgr == nil {
		return nil, errors.New("handler: messenger must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{conv: conv, msgr: msgr, logger: logger}, nil
}

// IsInterrupt reports whether an update must bypass the session's queue.
// A cancel has to reach the state machine while a batch holds the session.
func IsInterrupt(u telegram.Update) bool {
	return u.Message != nil && u.Message.Command() == "/cancel"
}

// SessionKey returns the session an update belongs to, or false when the
// update carries nothing the bot answers.
func SessionKey(u telegram.Update) (domain.SessionKey, bool) {
	if u.Message == nil || u.Message.Chat.Type != "private" {
		return 0, false
	}
	return domain.SessionKey(u.Message.Chat.ID), true
}

// Handle processes one update end to end.
func (h *Handler) Handle(ctx context.Context, u telegram.Update) error {
	key, ok := SessionKey(u)
	if !ok {
		return nil
	}
	msg := u.Message
	log := h.logger.With("correlation_id", uuid.NewString(), "update_id", u.UpdateID, "session", key)
	start := time.Now()

	var reply usecase.Reply
	switch cmd := msg.Command(); cmd {
	case "/start":
		reply = h.conv.OnStart(ctx, key)
	case "/cancel":
		reply = h.conv.OnCancel(ctx, key)
	default:
		p, err := h.payload(ctx, msg)
		if err != nil {
			log.Warn("failed to download document", "err", err)
			return h.send(ctx, key, []string{msgDownloadFail})
		}
		reply = h.conv.OnOperatorMessage(ctx, key, p)
	}

	if err := h.send(ctx, key, reply.Chunks); err != nil {
		log.Error("failed to send reply", "err", err)
		return err
	}
	log.Info("update handled", "chunks", len(reply.Chunks), "latency_ms", time.Since(start).Milliseconds())
	return nil
}

func (h *Handler) payload(ctx context.Context, msg *telegram.Message) (usecase.Payload, error) {
	p := usecase.Payload{Text: msg.Text}
	if d := msg.Document; d != nil {
		p.Document = &usecase.Document{FileName: d.FileName}
		// Only text uploads are read; anything else is rejected by name.
		if strings.EqualFold(path.Ext(d.FileName), ".txt") {
			content, err := h.msgr.DownloadFile(ctx, d.FileID)
			if err != nil {
				return usecase.Payload{}, err
			}
			p.Document.Content = content
		}
	}
	if fc := msg.ForwardedChat(); fc != nil {
		p.Forward = &usecase.ForwardedChat{ID: fc.ID, Title: fc.Title, Kind: telegram.ChatKind(fc.Type)}
	}
	return p, nil
}

// send delivers chunks in order. Replies go out even after shutdown began so
// a cancelled batch still reports what it did.
func (h *Handler) send(ctx context.Context, key domain.SessionKey, chunks []string) error {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
	defer cancel()
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		if err := h.msgr.SendMessage(sendCtx, int64(key), chunk); err != nil {
			return fmt.Errorf("handler: send chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

// Notifier sends progress messages to the operator's chat.
type Notifier struct {
	sender Sender
}

func NewNotifier(sender Sender) (*Notifier, error) {
	if sender == nil {
		return nil, errors.New("handler: sender must not be nil")
	}
	return &Notifier{sender: sender}, nil
}

func (n *Notifier) Notify(ctx context.Context, key domain.SessionKey, text string) error {
	for _, chunk := range domain.ChunkLines(strings.Split(text, "\n"), domain.MaxChunkLen) {
		if err := n.sender.SendMessage(ctx, int64(key), chunk); err != nil {
			return fmt.Errorf("handler: notify: %w", err)
		}
	}
	return nil
}
