// Package bot routes chat updates to the session engine and handles the
// operator registry commands.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/minutron/minutron/constants"
	"github.com/minutron/minutron/internal/async"
	"github.com/minutron/minutron/internal/common"
	"github.com/minutron/minutron/internal/repository"
	"github.com/minutron/minutron/internal/session"
	"github.com/minutron/minutron/internal/telegram"
)

// MinutasShown is how many archived minutas /minutas lists.
const MinutasShown = 5

// Events is the session engine as seen by the router.
type Events interface {
	DocumentUploaded(ctx context.Context, conv session.Conversation, name string, data []byte) error
	GenerateRequested(ctx context.Context, conv session.Conversation) error
	DateSelected(ctx context.Context, conv session.Conversation, iso string) error
	VolumeDigit(ctx context.Context, conv session.Conversation, digit int) error
	VolumeDelete(ctx context.Context, conv session.Conversation) error
	VolumeConfirmed(ctx context.Context, conv session.Conversation) error
	CarrierSelected(ctx context.Context, conv session.Conversation, index int) error
	CarrierTyped(ctx context.Context, conv session.Conversation, text string) error
	PrintDecision(ctx context.Context, conv session.Conversation, yes bool) error
	LabelDecision(ctx context.Context, conv session.Conversation, yes bool) error
	Cancel(ctx context.Context, conv session.Conversation) error
	Store() *session.Store
}

// Archive lists rendered minutas and drops an operator's files.
type Archive interface {
	ListMinutas(qlid string, n int) ([]string, error)
	DiscardUser(qlid string) error
}

type Router struct {
	api     Transport
	events  Events
	users   repository.UserRepository
	archive Archive
	queue   async.Queue
	adminID int64
	started time.Time
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[int64]*registration
}

func NewRouter(api Transport, events Events, users repository.UserRepository, archive Archive, queue async.Queue, adminID int64, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		api:     api,
		events:  events,
		users:   users,
		archive: archive,
		queue:   queue,
		adminID: adminID,
		started: time.Now(),
		logger:  logger,
		pending: map[int64]*registration{},
	}
}

// Handle queues an update behind earlier updates from the same chat.
func (r *Router) Handle(ctx context.Context, u tgbotapi.Update) {
	chatID, kind := updateChat(u)
	if chatID == 0 {
		return
	}
	err := r.queue.Enqueue(ctx, async.Job{
		Key:  async.ChatKey(chatID),
		Name: kind,
		Run:  func(ctx context.Context) error { return r.Route(ctx, u) },
	})
	if err != nil {
		r.logger.Warn("bot.enqueue.failed", "chat_id", chatID, "error", err)
	}
}

func updateChat(u tgbotapi.Update) (int64, string) {
	switch {
	case u.CallbackQuery != nil:
		if m := u.CallbackQuery.Message; m != nil && m.Chat != nil {
			return m.Chat.ID, "callback"
		}
		if u.CallbackQuery.From != nil {
			return u.CallbackQuery.From.ID, "callback"
		}
	case u.Message != nil && u.Message.Chat != nil:
		if u.Message.Document != nil {
			return u.Message.Chat.ID, "document"
		}
		return u.Message.Chat.ID, "message"
	}
	return 0, ""
}

// Route processes one update synchronously.
func (r *Router) Route(ctx context.Context, u tgbotapi.Update) error {
	chatID, _ := updateChat(u)
	if chatID == 0 {
		return nil
	}
	qlid, user, err := r.users.FindByChatID(ctx, chatID)
	switch {
	case err == nil && user.Blocked:
		r.logger.Info("bot.update.blocked", "chat_id", chatID, "requester", qlid)
		if u.CallbackQuery != nil {
			_ = r.api.AnswerCallbackQuery(ctx, u.CallbackQuery.ID, "")
		}
		return nil
	case err != nil && !errors.Is(err, common.ErrNotFound):
		return fmt.Errorf("find user: %w", err)
	}
	conv := conversation{api: r.api, requester: qlid, chatID: chatID}

	if u.CallbackQuery != nil {
		ev := callbackEvent{conversation: conv, query: u.CallbackQuery}
		if err := ev.Ack(ctx); err != nil {
			r.logger.Debug("bot.callback.ack_failed", "error", err)
		}
		if qlid == "" {
			return r.reply(ctx, chatID, "Use /start para se cadastrar.")
		}
		return r.callback(ctx, ev)
	}

	ev := messageEvent{conversation: conv, msg: u.Message}
	if u.Message.Document != nil {
		if qlid == "" {
			return r.reply(ctx, chatID, "Use /start para se cadastrar antes de enviar DANFEs.")
		}
		return r.document(ctx, ev)
	}
	return r.text(ctx, ev)
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) error {
	_, err := r.api.SendMessage(ctx, chatID, text, nil)
	return err
}

func (r *Router) document(ctx context.Context, ev messageEvent) error {
	doc := ev.msg.Document
	name := doc.FileName
	if name == "" {
		name = "documento.pdf"
	}
	if !constants.IsAllowedFilename(name) {
		return r.events.DocumentUploaded(ctx, ev, name, nil)
	}
	if doc.FileSize > telegram.MaxDownload {
		return r.reply(ctx, ev.chatID, "⚠️ Arquivo grande demais (máximo 20 MB).")
	}
	data, err := r.api.Download(ctx, doc.FileID)
	if err != nil {
		r.logger.Error("bot.document.download_failed", "requester", ev.requester, "file", name, "error", err)
		return r.reply(ctx, ev.chatID, "❌ Não consegui baixar o arquivo. Tente enviar de novo.")
	}
	return r.events.DocumentUploaded(ctx, ev, name, data)
}

func (r *Router) callback(ctx context.Context, ev callbackEvent) error {
	data := ev.query.Data
	switch {
	case data == session.CallbackGenerate:
		return r.events.GenerateRequested(ctx, ev)
	case strings.HasPrefix(data, session.CallbackDatePrefix):
		return r.events.DateSelected(ctx, ev, strings.TrimPrefix(data, session.CallbackDatePrefix))
	case data == session.CallbackVolumeDelete:
		return r.events.VolumeDelete(ctx, ev)
	case data == session.CallbackVolumeOK:
		return r.events.VolumeConfirmed(ctx, ev)
	case strings.HasPrefix(data, session.CallbackVolumePrefix):
		if d, ok := session.IndexSuffix(data, session.CallbackVolumePrefix); ok && d <= 9 {
			return r.events.VolumeDigit(ctx, ev, d)
		}
	case strings.HasPrefix(data, session.CallbackCarrierPref):
		if i, ok := session.IndexSuffix(data, session.CallbackCarrierPref); ok {
			return r.events.CarrierSelected(ctx, ev, i)
		}
	case data == session.CallbackPrintYes, data == session.CallbackPrintNo:
		return r.events.PrintDecision(ctx, ev, data == session.CallbackPrintYes)
	case data == session.CallbackLabelYes, data == session.CallbackLabelNo:
		return r.events.LabelDecision(ctx, ev, data == session.CallbackLabelYes)
	case strings.HasPrefix(data, session.CallbackMinutaPrefix):
		if i, ok := session.IndexSuffix(data, session.CallbackMinutaPrefix); ok {
			return r.sendMinuta(ctx, ev.conversation, i)
		}
	}
	r.logger.Warn("bot.callback.unknown", "requester", ev.requester, "data", data)
	return nil
}

func (r *Router) text(ctx context.Context, ev messageEvent) error {
	text := strings.TrimSpace(ev.msg.Text)
	cmd, arg := splitCommand(text)

	switch cmd {
	case "/start":
		return r.start(ctx, ev)
	case "/cancelar":
		if r.dropRegistration(ev.chatID) && ev.requester == "" {
			return r.reply(ctx, ev.chatID, "Cadastro cancelado.")
		}
		if ev.requester == "" {
			return r.reply(ctx, ev.chatID, "Use /start para se cadastrar.")
		}
		return r.events.Cancel(ctx, ev)
	case "/alterar":
		return r.changeCity(ctx, ev)
	case "/minutas":
		return r.listMinutas(ctx, ev.conversation)
	case "/health", "/status":
		return r.health(ctx, ev.conversation)
	case "/usuarios", "/broadcast", "/bloquear", "/desbloquear", "/remover":
		return r.admin(ctx, ev.conversation, cmd, arg)
	}

	if r.registering(ev.chatID) {
		return r.register(ctx, ev, text)
	}
	if ev.requester == "" {
		return r.reply(ctx, ev.chatID, "Use /start para se cadastrar.")
	}
	if s, ok := r.events.Store().Get(ev.requester); ok && s.State == constants.StateAwaitingCarrier && !strings.HasPrefix(text, "/") {
		return r.events.CarrierTyped(ctx, ev, text)
	}
	return r.reply(ctx, ev.chatID, "📎 Envie os PDFs das DANFEs. Use /minutas para ver as últimas minutas ou /cancelar para descartar o lote.")
}

func splitCommand(text string) (string, string) {
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	cmd, arg, _ := strings.Cut(text, " ")
	// "/start@minutron_bot" addresses the bot explicitly in groups
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func (r *Router) listMinutas(ctx context.Context, conv conversation) error {
	if conv.requester == "" {
		return r.reply(ctx, conv.chatID, "Use /start para se cadastrar.")
	}
	paths, err := r.archive.ListMinutas(conv.requester, MinutasShown)
	if err != nil {
		return fmt.Errorf("list minutas: %w", err)
	}
	if len(paths) == 0 {
		return r.reply(ctx, conv.chatID, "Nenhuma minuta gerada ainda.")
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = p[strings.LastIndexAny(p, `/\`)+1:]
	}
	_, err = conv.Send(ctx, session.Message{Text: "🗂️ Últimas minutas:", Keyboard: session.MinutasKeyboard(names)})
	return err
}

func (r *Router) sendMinuta(ctx context.Context, conv conversation, i int) error {
	paths, err := r.archive.ListMinutas(conv.requester, MinutasShown)
	if err != nil {
		return fmt.Errorf("list minutas: %w", err)
	}
	if i >= len(paths) {
		return r.reply(ctx, conv.chatID, "⚠️ Minuta não encontrada. Use /minutas de novo.")
	}
	return conv.SendDocument(ctx, paths[i], "")
}

func (r *Router) health(ctx context.Context, conv conversation) error {
	ids, _, err := r.users.List(ctx)
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Online há %s\nLotes abertos: %d\nUsuários cadastrados: %d",
		time.Since(r.started).Round(time.Second), r.events.Store().Len(), len(ids))
	if conv.chatID == r.adminID {
		snap := r.events.Store().Snapshot()
		open := make([]string, 0, len(snap))
		for qlid := range snap {
			open = append(open, qlid)
		}
		sort.Strings(open)
		for _, qlid := range open {
			fmt.Fprintf(&b, "\n• %s: %s", qlid, snap[qlid])
		}
	}
	return r.reply(ctx, conv.chatID, b.String())
}
