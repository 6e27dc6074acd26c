package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/minutron/minutron/constants"
	"github.com/minutron/minutron/internal/async"
	"github.com/minutron/minutron/internal/common"
	"github.com/minutron/minutron/internal/repository"
	"github.com/minutron/minutron/internal/session"
	"github.com/minutron/minutron/internal/telegram"
)

const (
	adminChat = int64(1)
	userChat  = int64(500)
)

type sent struct {
	chatID int64
	text   string
	kb     *tgbotapi.InlineKeyboardMarkup
}

type fakeTransport struct {
	sent  []sent
	edits int
	acks  []string
	docs  []string
	files map[string][]byte
}

func (f *fakeTransport) SendMessage(_ context.Context, chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	f.sent = append(f.sent, sent{chatID, text, kb})
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeTransport) EditMessageText(context.Context, int64, int, string, *tgbotapi.InlineKeyboardMarkup) error {
	f.edits++
	return nil
}

func (f *fakeTransport) AnswerCallbackQuery(_ context.Context, id, _ string) error {
	f.acks = append(f.acks, id)
	return nil
}

func (f *fakeTransport) SendDocument(_ context.Context, _ int64, path, _ string) error {
	f.docs = append(f.docs, path)
	return nil
}

func (f *fakeTransport) Download(_ context.Context, fileID string) ([]byte, error) {
	data, ok := f.files[fileID]
	if !ok {
		return nil, fmt.Errorf("no file %s", fileID)
	}
	return data, nil
}

func (f *fakeTransport) last() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].text
}

// fakeEvents records engine calls as "Name(args)".
type fakeEvents struct {
	calls []string
	store *session.Store
}

func (e *fakeEvents) rec(conv session.Conversation, format string, args ...any) error {
	e.calls = append(e.calls, conv.RequesterID()+":"+fmt.Sprintf(format, args...))
	return nil
}

func (e *fakeEvents) DocumentUploaded(_ context.Context, c session.Conversation, name string, data []byte) error {
	return e.rec(c, "Document(%s,%d)", name, len(data))
}
func (e *fakeEvents) GenerateRequested(_ context.Context, c session.Conversation) error {
	return e.rec(c, "Generate")
}
func (e *fakeEvents) DateSelected(_ context.Context, c session.Conversation, iso string) error {
	return e.rec(c, "Date(%s)", iso)
}
func (e *fakeEvents) VolumeDigit(_ context.Context, c session.Conversation, d int) error {
	return e.rec(c, "Digit(%d)", d)
}
func (e *fakeEvents) VolumeDelete(_ context.Context, c session.Conversation) error {
	return e.rec(c, "Delete")
}
func (e *fakeEvents) VolumeConfirmed(_ context.Context, c session.Conversation) error {
	return e.rec(c, "Confirm")
}
func (e *fakeEvents) CarrierSelected(_ context.Context, c session.Conversation, i int) error {
	return e.rec(c, "Carrier(%d)", i)
}
func (e *fakeEvents) CarrierTyped(_ context.Context, c session.Conversation, text string) error {
	return e.rec(c, "CarrierText(%s)", text)
}
func (e *fakeEvents) PrintDecision(_ context.Context, c session.Conversation, yes bool) error {
	return e.rec(c, "Print(%v)", yes)
}
func (e *fakeEvents) LabelDecision(_ context.Context, c session.Conversation, yes bool) error {
	return e.rec(c, "Label(%v)", yes)
}
func (e *fakeEvents) Cancel(_ context.Context, c session.Conversation) error {
	return e.rec(c, "Cancel")
}
func (e *fakeEvents) Store() *session.Store { return e.store }

// inlineQueue runs jobs on the caller's goroutine.
type inlineQueue struct{}

func (inlineQueue) Enqueue(ctx context.Context, job async.Job) error { return job.Run(ctx) }
func (inlineQueue) Shutdown(context.Context)                         {}

type fakeArchive struct {
	paths     []string
	discarded []string
}

func (a *fakeArchive) ListMinutas(_ string, n int) ([]string, error) {
	if len(a.paths) > n {
		return a.paths[:n], nil
	}
	return a.paths, nil
}

func (a *fakeArchive) DiscardUser(qlid string) error {
	a.discarded = append(a.discarded, qlid)
	return nil
}

type fixture struct {
	router  *Router
	api     *fakeTransport
	events  *fakeEvents
	archive *fakeArchive
	users   repository.UserRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		api:    &fakeTransport{files: map[string][]byte{"f1": []byte("%PDF-1.4")}},
		events: &fakeEvents{store: session.NewStore()},
		users:  repository.NewUserRepository(t.TempDir(), nil),
	}
	f.archive = &fakeArchive{paths: []string{"/data/users/AB123456/minutas/AB123456_07032025_100000.pdf"}}
	f.router = NewRouter(f.api, f.events, f.users, f.archive, inlineQueue{}, adminChat, nil)
	return f
}

func (f *fixture) register(t *testing.T, qlid string, chatID int64) {
	t.Helper()
	if err := f.users.Upsert(context.Background(), qlid, repository.User{TelegramID: chatID, City: "Campinas"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
}

func callbackData(b tgbotapi.InlineKeyboardButton) string {
	if b.CallbackData == nil {
		return ""
	}
	return *b.CallbackData
}

func text(chatID int64, s string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, Text: s}}
}

func press(chatID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-" + data,
		Data:    data,
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
	}}
}

func TestRegistrationFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.Handle(ctx, text(userChat, "/start"))
	if !strings.Contains(f.api.last(), "QLID") {
		t.Fatalf("reply = %q", f.api.last())
	}
	f.router.Handle(ctx, text(userChat, "ab12"))
	if !strings.Contains(f.api.last(), "QLID inválido") {
		t.Fatalf("reply = %q", f.api.last())
	}
	f.router.Handle(ctx, text(userChat, "ab123456"))
	if !strings.Contains(f.api.last(), "cidade") {
		t.Fatalf("reply = %q", f.api.last())
	}
	f.router.Handle(ctx, text(userChat, "sao 123"))
	if !strings.Contains(f.api.last(), "Cidade inválida") {
		t.Fatalf("reply = %q", f.api.last())
	}
	f.router.Handle(ctx, text(userChat, "  são   josé dos campos "))

	qlid, u, err := f.users.FindByChatID(ctx, userChat)
	if err != nil {
		t.Fatalf("user not saved: %v", err)
	}
	if qlid != "AB123456" || u.City != "São José Dos Campos" {
		t.Fatalf("saved %s %+v", qlid, u)
	}

	f.router.Handle(ctx, text(userChat, "/start"))
	if !strings.Contains(f.api.last(), "Olá, AB123456") {
		t.Fatalf("welcome = %q", f.api.last())
	}
}

func TestRegistrationRejectsTakenQLID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "AB123456", 999)

	f.router.Handle(ctx, text(userChat, "/start"))
	f.router.Handle(ctx, text(userChat, "AB123456"))
	if !strings.Contains(f.api.last(), "outra conta") {
		t.Fatalf("reply = %q", f.api.last())
	}
	f.router.Handle(ctx, text(userChat, "/cancelar"))
	if f.api.last() != "Cadastro cancelado." {
		t.Fatalf("reply = %q", f.api.last())
	}
}

func TestChangeCityKeepsCarrier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "AB123456", userChat)
	_ = f.users.SetCarrier(ctx, "AB123456", "ACME")

	f.router.Handle(ctx, text(userChat, "/alterar"))
	f.router.Handle(ctx, text(userChat, "recife"))
	u, _ := f.users.Get(ctx, "AB123456")
	if u.City != "Recife" || u.Carrier != "ACME" {
		t.Fatalf("user = %+v", u)
	}
}

func TestCallbacksMapToEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "AB123456", userChat)

	for _, data := range []string{
		"gerar_minuta", "data_2025-03-07", "vol_4", "vol_del", "vol_ok",
		"carrier_1", "print_yes", "label_no", "vol_x", "bogus",
	} {
		f.router.Handle(ctx, press(userChat, data))
	}
	want := []string{
		"AB123456:Generate",
		"AB123456:Date(2025-03-07)",
		"AB123456:Digit(4)",
		"AB123456:Delete",
		"AB123456:Confirm",
		"AB123456:Carrier(1)",
		"AB123456:Print(true)",
		"AB123456:Label(false)",
	}
	if strings.Join(f.events.calls, "|") != strings.Join(want, "|") {
		t.Fatalf("calls = %v", f.events.calls)
	}
	if len(f.api.acks) != 10 {
		t.Fatalf("acks = %d, want every press acknowledged", len(f.api.acks))
	}
}

func TestUnregisteredAndBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.Handle(ctx, press(userChat, "gerar_minuta"))
	if len(f.events.calls) != 0 || !strings.Contains(f.api.last(), "/start") {
		t.Fatalf("unregistered press reached engine: %v", f.events.calls)
	}

	f.register(t, "AB123456", userChat)
	_ = f.users.SetBlocked(ctx, "AB123456", true)
	before := len(f.api.sent)
	f.router.Handle(ctx, text(userChat, "/minutas"))
	f.router.Handle(ctx, press(userChat, "gerar_minuta"))
	if len(f.events.calls) != 0 || len(f.api.sent) != before {
		t.Fatalf("blocked user was served")
	}
}

func TestDocumentUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "AB123456", userChat)

	up := func(name, id string, size int) tgbotapi.Update {
		return tgbotapi.Update{Message: &tgbotapi.Message{
			Chat:     &tgbotapi.Chat{ID: userChat},
			Document: &tgbotapi.Document{FileID: id, FileName: name, FileSize: size},
		}}
	}
	f.router.Handle(ctx, up("nf1.pdf", "f1", 8))
	f.router.Handle(ctx, up("foto.jpg", "f2", 8))
	f.router.Handle(ctx, up("grande.pdf", "f3", telegram.MaxDownload+1))
	f.router.Handle(ctx, up("sumiu.pdf", "missing", 8))

	want := "AB123456:Document(nf1.pdf,8)|AB123456:Document(foto.jpg,0)"
	if strings.Join(f.events.calls, "|") != want {
		t.Fatalf("calls = %v", f.events.calls)
	}
	if !strings.Contains(f.api.last(), "baixar") {
		t.Fatalf("reply = %q", f.api.last())
	}
}

func TestFreeTextDuringCarrierConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "AB123456", userChat)

	f.router.Handle(ctx, text(userChat, "Rapido Sul"))
	if len(f.events.calls) != 0 {
		t.Fatalf("free text without session reached engine")
	}

	s := f.events.store.Create("AB123456", userChat, "")
	s.State = constants.StateAwaitingCarrier
	f.router.Handle(ctx, text(userChat, "Rapido Sul"))
	if strings.Join(f.events.calls, "|") != "AB123456:CarrierText(Rapido Sul)" {
		t.Fatalf("calls = %v", f.events.calls)
	}
	f.router.Handle(ctx, text(userChat, "/cancelar"))
	if f.events.calls[len(f.events.calls)-1] != "AB123456:Cancel" {
		t.Fatalf("cancel not routed: %v", f.events.calls)
	}
}

func TestMinutasCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "AB123456", userChat)

	f.router.Handle(ctx, text(userChat, "/minutas"))
	got := f.api.sent[len(f.api.sent)-1]
	if got.kb == nil || callbackData(got.kb.InlineKeyboard[0][0]) != "minuta_0" {
		t.Fatalf("keyboard = %+v", got.kb)
	}
	if !strings.Contains(got.kb.InlineKeyboard[0][0].Text, "AB123456_07032025_100000.pdf") {
		t.Fatalf("button = %q", got.kb.InlineKeyboard[0][0].Text)
	}
	f.router.Handle(ctx, press(userChat, "minuta_0"))
	if len(f.api.docs) != 1 {
		t.Fatalf("minuta not sent")
	}
	f.router.Handle(ctx, press(userChat, "minuta_3"))
	if !strings.Contains(f.api.last(), "não encontrada") {
		t.Fatalf("reply = %q", f.api.last())
	}
}

func TestAdminCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "AB123456", userChat)
	f.register(t, "CD654321", 600)
	f.register(t, "EF111111", adminChat)

	f.router.Handle(ctx, text(userChat, "/usuarios"))
	if !strings.Contains(f.api.last(), "restrito") {
		t.Fatalf("non-admin got %q", f.api.last())
	}

	f.router.Handle(ctx, text(adminChat, "/bloquear cd654321"))
	if f.api.last() != "CD654321 bloqueado." {
		t.Fatalf("reply = %q", f.api.last())
	}
	f.router.Handle(ctx, text(adminChat, "/usuarios"))
	list := f.api.last()
	if !strings.Contains(list, "3 usuário(s)") || !strings.Contains(list, "CD654321 | Campinas | bloqueado") {
		t.Fatalf("list = %q", list)
	}

	before := len(f.api.sent)
	f.router.Handle(ctx, text(adminChat, "/broadcast manutenção às 18h"))
	var recipients []int64
	for _, s := range f.api.sent[before:] {
		if strings.HasPrefix(s.text, "📢") {
			recipients = append(recipients, s.chatID)
		}
	}
	if len(recipients) != 2 {
		t.Fatalf("broadcast recipients = %v", recipients)
	}
	if f.api.last() != "Mensagem enviada para 2 usuário(s)." {
		t.Fatalf("reply = %q", f.api.last())
	}

	f.events.store.Create("AB123456", userChat, "")
	f.router.Handle(ctx, text(adminChat, "/remover ab123456"))
	if f.api.last() != "AB123456 tem um lote em andamento." {
		t.Fatalf("reply = %q", f.api.last())
	}
	f.router.Handle(ctx, text(adminChat, "/remover cd654321"))
	if f.api.last() != "CD654321 removido." {
		t.Fatalf("reply = %q", f.api.last())
	}
	if len(f.archive.discarded) != 1 || f.archive.discarded[0] != "CD654321" {
		t.Fatalf("discarded = %v", f.archive.discarded)
	}
	if _, err := f.users.Get(ctx, "CD654321"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("removed user still registered: %v", err)
	}
	f.router.Handle(ctx, text(adminChat, "/remover cd654321"))
	if f.api.last() != "QLID não encontrado." {
		t.Fatalf("reply = %q", f.api.last())
	}
}

func TestHealthCommand(t *testing.T) {
	f := newFixture(t)
	f.register(t, "AB123456", userChat)
	f.events.store.Create("AB123456", userChat, "")
	f.router.Handle(context.Background(), text(userChat, "/health@minutron_bot"))
	if !strings.Contains(f.api.last(), "Lotes abertos: 1") || !strings.Contains(f.api.last(), "Usuários cadastrados: 1") {
		t.Fatalf("health = %q", f.api.last())
	}
	if strings.Contains(f.api.last(), "AB123456") {
		t.Fatalf("per-batch states shown to an operator: %q", f.api.last())
	}

	f.router.Handle(context.Background(), text(adminChat, "/status"))
	if !strings.Contains(f.api.last(), "• AB123456: "+string(constants.StateAccumulating)) {
		t.Fatalf("admin health = %q", f.api.last())
	}
}

func TestUpdateWithoutChatIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.router.Handle(ctx, tgbotapi.Update{Message: &tgbotapi.Message{Text: "/start"}})
	f.router.Handle(ctx, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "cb", Data: session.CallbackGenerate}})
	f.router.Handle(ctx, tgbotapi.Update{UpdateID: 3})
	if len(f.api.sent) != 0 || len(f.api.acks) != 0 || len(f.events.calls) != 0 {
		t.Fatalf("sent=%v acks=%v calls=%v", f.api.sent, f.api.acks, f.events.calls)
	}
}
