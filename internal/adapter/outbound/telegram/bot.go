package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/palettebot/server/internal/model"
	"github.com/palettebot/server/internal/module/catalog"
	"github.com/palettebot/server/internal/module/dispatch"
	"github.com/palettebot/server/internal/module/quota"
	"github.com/palettebot/server/internal/shared/config"
	"github.com/palettebot/server/internal/shared/logger"
)

const (
	updateTimeout  = 30 // long-poll seconds
	handleTimeout  = 2 * time.Minute
	welcomeMessage = "Hi! Send me a prompt and I'll generate an image.\n" +
		"Attach photos to edit or combine them.\n\n" +
		"/models - choose a model\n" +
		"/balance - check your credits\n" +
		"/help - all commands"
	helpMessage = "Send text to generate an image from it.\n" +
		"Send a photo with a caption to edit it.\n" +
		"Send an album with a caption to combine the photos.\n\n" +
		"/models - list available models\n" +
		"/model <id> - pick your model\n" +
		"/balance - check your credits\n" +
		"/help - show this help"
)

// Bot runs the Telegram update loop, answers commands itself, and forwards
// everything else to the dispatcher as normalized chat events.
//
// Updates are handled serially: photos of one album must reach the batch
// collector in arrival order.
type Bot struct {
	api        *tgbotapi.BotAPI
	transport  *Transport
	dispatcher *dispatch.Dispatcher
	quota      *quota.Service
	catalog    *catalog.Registry
	log        *logger.Logger
}

// NewBot connects to the Telegram Bot API.
func NewBot(
	cfg config.TelegramConfig,
	quotaSvc *quota.Service,
	registry *catalog.Registry,
	log *logger.Logger,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	api.Debug = cfg.Debug

	if cfg.Username != "" && !strings.EqualFold(api.Self.UserName, cfg.Username) {
		log.Warn("telegram username mismatch",
			logger.String("configured", cfg.Username),
			logger.String("actual", api.Self.UserName),
		)
	}

	return &Bot{
		api:       api,
		transport: NewTransport(api),
		quota:     quotaSvc,
		catalog:   registry,
		log:       log.With(logger.String("component", "telegram")),
	}, nil
}

// SetDispatcher wires the dispatcher in after construction; the dispatcher
// needs the outbound transport, which needs the bot handle.
func (b *Bot) SetDispatcher(d *dispatch.Dispatcher) {
	b.dispatcher = d
}

// Transport exposes the outbound message port backed by this connection.
func (b *Bot) Transport() *Transport {
	return b.transport
}

// Run consumes updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeout
	updates := b.api.GetUpdatesChan(u)

	b.log.Info("telegram bot started", logger.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.log.Info("telegram bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	hctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	if msg.IsCommand() {
		b.handleCommand(hctx, msg)
		return
	}

	ev, err := b.toEvent(msg)
	if err != nil {
		b.log.Warn("drop undecodable update", logger.Int64("chat", msg.Chat.ID), logger.Err(err))
		return
	}
	if ev == nil {
		return
	}

	if err := b.dispatcher.Handle(hctx, ev); err != nil {
		b.log.Error("dispatch failed",
			logger.Int64("user", ev.SenderID),
			logger.Err(err),
		)
	}
}

// toEvent normalizes a Telegram message into a chat event. Non-generation
// content (stickers, voice, joins) yields nil.
func (b *Bot) toEvent(msg *tgbotapi.Message) (*model.ChatEvent, error) {
	ev := &model.ChatEvent{
		SenderID: msg.From.ID,
		ChatID:   msg.Chat.ID,
		Text:     strings.TrimSpace(msg.Text),
		BatchID:  msg.MediaGroupID,
	}

	if len(msg.Photo) > 0 {
		// Telegram lists each photo in ascending resolution.
		largest := msg.Photo[len(msg.Photo)-1]
		url, err := b.api.GetFileDirectURL(largest.FileID)
		if err != nil {
			return nil, fmt.Errorf("resolve photo file: %w", err)
		}
		ev.ImageURLs = []string{url}
		ev.Text = strings.TrimSpace(msg.Caption)
	}

	if ev.Text == "" && len(ev.ImageURLs) == 0 {
		return nil, nil
	}
	return ev, nil
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	var (
		reply    string
		keyboard model.Keyboard
	)

	switch msg.Command() {
	case "start":
		reply = welcomeMessage
	case "help":
		reply = helpMessage
	case "models":
		reply = b.modelList()
		keyboard = b.modelKeyboard()
	case "model":
		reply = b.setModel(ctx, msg.From.ID, strings.TrimSpace(msg.CommandArguments()))
	case "balance":
		reply = b.balance(ctx, msg.From.ID)
	default:
		reply = "Unknown command. Try /help."
	}

	if err := b.transport.SendText(ctx, msg.Chat.ID, reply, keyboard); err != nil {
		b.log.Error("command reply failed", logger.Int64("chat", msg.Chat.ID), logger.Err(err))
	}
}

func (b *Bot) modelList() string {
	var sb strings.Builder
	sb.WriteString("Available models:\n")
	for _, m := range b.catalog.All() {
		sb.WriteString(fmt.Sprintf("\n%s (%s)", m.Name, m.ID))
		if m.Tier == model.TierPaid {
			sb.WriteString(" - paid")
		}
		if m.Vision {
			sb.WriteString(" - accepts photos")
		}
	}
	sb.WriteString("\n\nPick one with /model <id>.")
	return sb.String()
}

// modelKeyboard offers one quick-reply button per model; tapping a button
// sends the /model command back.
func (b *Bot) modelKeyboard() model.Keyboard {
	all := b.catalog.All()
	kb := make(model.Keyboard, 0, len(all))
	for _, m := range all {
		kb = append(kb, []string{"/model " + m.ID})
	}
	return kb
}

func (b *Bot) setModel(ctx context.Context, userID int64, id string) string {
	if id == "" {
		return "Usage: /model <id>. See /models for the list."
	}
	m, err := b.catalog.Get(id)
	if err != nil {
		return fmt.Sprintf("I don't know a model called %q. See /models.", id)
	}
	if err := b.quota.SetPreferredModel(ctx, userID, m.ID); err != nil {
		b.log.Error("set preferred model failed", logger.Int64("user", userID), logger.Err(err))
		return "Couldn't save that right now. Please try again."
	}
	if m.Tier == model.TierPaid {
		return fmt.Sprintf("Model set to %s. It needs paid credits; without them I'll fall back to the free default.", m.Name)
	}
	return fmt.Sprintf("Model set to %s.", m.Name)
}

func (b *Bot) balance(ctx context.Context, userID int64) string {
	q, err := b.quota.Resolve(ctx, userID)
	if err != nil {
		b.log.Error("balance lookup failed", logger.Int64("user", userID), logger.Err(err))
		return "Couldn't load your balance right now. Please try again."
	}
	if q.IsPaid() {
		return fmt.Sprintf("You have paid credits. Generations so far: %d.", q.TotalGenerated)
	}
	return fmt.Sprintf("Free generations left: %d. Generations so far: %d.", q.FreeCredits, q.TotalGenerated)
}
