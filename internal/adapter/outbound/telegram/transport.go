// Package telegram adapts the Telegram Bot API to the chat transport
// ports: outbound delivery and the inbound update loop.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/palettebot/server/internal/model"
)

// Transport sends messages through the Telegram Bot API.
type Transport struct {
	api *tgbotapi.BotAPI
}

// NewTransport creates a transport on an existing bot API handle.
func NewTransport(api *tgbotapi.BotAPI) *Transport {
	return &Transport{api: api}
}

// SendText sends a text message, attaching a quick-reply keyboard when one
// is given.
func (t *Transport) SendText(ctx context.Context, chatID int64, text string, keyboard model.Keyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if len(keyboard) > 0 {
		msg.ReplyMarkup = buildKeyboard(keyboard)
	}
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send text to chat %d: %w", chatID, err)
	}
	return nil
}

// SendPhoto sends a photo by URL. Telegram fetches the bytes itself.
func (t *Transport) SendPhoto(ctx context.Context, chatID int64, imageURL, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(imageURL))
	msg.Caption = caption
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send photo to chat %d: %w", chatID, err)
	}
	return nil
}

func buildKeyboard(keyboard model.Keyboard) tgbotapi.ReplyKeyboardMarkup {
	rows := make([][]tgbotapi.KeyboardButton, 0, len(keyboard))
	for _, row := range keyboard {
		buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
		}
		rows = append(rows, buttons)
	}
	markup := tgbotapi.NewReplyKeyboard(rows...)
	markup.OneTimeKeyboard = true
	markup.ResizeKeyboard = true
	return markup
}
