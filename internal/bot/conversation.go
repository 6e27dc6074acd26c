package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/minutron/minutron/internal/session"
)

// Transport is the chat API the router talks to.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error)
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string, kb *tgbotapi.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, id, text string) error
	SendDocument(ctx context.Context, chatID int64, path, caption string) error
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// conversation binds a requester to its chat; it implements
// session.Conversation for every event kind.
type conversation struct {
	api       Transport
	requester string
	chatID    int64
}

func (c conversation) RequesterID() string { return c.requester }
func (c conversation) ChatID() int64       { return c.chatID }

func (c conversation) Send(ctx context.Context, msg session.Message) (int, error) {
	m, err := c.api.SendMessage(ctx, c.chatID, msg.Text, markup(msg.Keyboard))
	return m.MessageID, err
}

func (c conversation) Edit(ctx context.Context, messageID int, msg session.Message) error {
	return c.api.EditMessageText(ctx, c.chatID, messageID, msg.Text, markup(msg.Keyboard))
}

func (c conversation) SendDocument(ctx context.Context, path, caption string) error {
	return c.api.SendDocument(ctx, c.chatID, path, caption)
}

// messageEvent is a text or document message.
type messageEvent struct {
	conversation
	msg *tgbotapi.Message
}

// callbackEvent is a button press; it must be acknowledged.
type callbackEvent struct {
	conversation
	query *tgbotapi.CallbackQuery
}

func (e callbackEvent) Ack(ctx context.Context) error {
	return e.api.AnswerCallbackQuery(ctx, e.query.ID, "")
}

func markup(kb session.Keyboard) *tgbotapi.InlineKeyboardMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, len(kb))
	for i, row := range kb {
		for _, b := range row {
			rows[i] = append(rows[i], tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
	}
	out := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &out
}
