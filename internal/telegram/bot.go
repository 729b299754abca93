package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/avlonitis/synapse/internal/config"
	"github.com/avlonitis/synapse/internal/mesh"
	"github.com/avlonitis/synapse/internal/router"
)

// Bot bridges Telegram chats to the mesh. Inbound text is routed to a
// node; results surfacing at that node come back to the chat that asked.
type Bot struct {
	bot     *telego.Bot
	handler *th.BotHandler
	router  *router.Router
	cfg     config.TelegramConfig
	cancel  context.CancelFunc

	mu    sync.Mutex
	chats map[string]int64 // nodeID -> chat awaiting its results
}

func NewBot(cfg config.TelegramConfig, m *mesh.Mesh, rtr *router.Router) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	b := &Bot{
		bot:    bot,
		router: rtr,
		cfg:    cfg,
		chats:  make(map[string]int64),
	}

	// Results arriving at a delegation root go back to the asking chat.
	m.OnResult(func(nodeID, requester, content string, resolved bool) {
		if requester != mesh.UserID {
			return
		}
		chatID, ok := b.chatFor(nodeID)
		if !ok {
			return
		}
		if err := b.SendMessage(context.Background(), chatID, content); err != nil {
			slog.Error("failed to send telegram message", "chat", chatID, "error", err)
		}
	})

	return b, nil
}

func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	b.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.handleMessage(ctx, message)
		return nil
	})

	go handler.Start()

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.handler != nil {
		_ = b.handler.Stop()
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg telego.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID

	// Check allow list
	if len(b.cfg.AllowFrom) > 0 {
		allowed := false
		for _, id := range b.cfg.AllowFrom {
			if id == userID {
				allowed = true
				break
			}
		}
		if !allowed {
			slog.Warn("unauthorized telegram user", "user_id", userID, "chat_id", chatID)
			return
		}
	}

	text := msg.Text
	if text == "" {
		if msg.Caption != "" {
			text = msg.Caption
		} else {
			return
		}
	}

	// Send thinking indicator
	_ = b.sendChatAction(ctx, chatID, "typing")

	nodeID, err := b.router.Deliver(ctx, text)
	if err != nil {
		slog.Error("deliver message failed", "chat", chatID, "error", err)
		_ = b.SendMessage(ctx, chatID, "Sorry, I encountered an error processing your message.")
		return
	}
	b.remember(nodeID, chatID)
}

func (b *Bot) remember(nodeID string, chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chats[nodeID] = chatID
}

func (b *Bot) chatFor(nodeID string) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	chatID, ok := b.chats[nodeID]
	return chatID, ok
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	chunks := chunkMessage(toTelegramMarkdown(text), 4096)
	for _, chunk := range chunks {
		msg := tu.Message(tu.ID(chatID), chunk)
		_, err := b.bot.SendMessage(ctx, msg)
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func (b *Bot) sendChatAction(ctx context.Context, chatID int64, action string) error {
	return b.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), action))
}
