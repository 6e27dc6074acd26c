package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/minutron/minutron/constants"
	"github.com/minutron/minutron/internal/async"
	"github.com/minutron/minutron/internal/carrier"
	"github.com/minutron/minutron/internal/common"
	"github.com/minutron/minutron/internal/danfe"
	"github.com/minutron/minutron/internal/entity"
	"github.com/minutron/minutron/internal/fingerprint"
	"github.com/minutron/minutron/internal/render"
	"github.com/minutron/minutron/internal/repository"
)

// DocumentParser extracts documents once and merges a batch.
type DocumentParser interface {
	Parse(ctx context.Context, path string) (danfe.Parsed, error)
	ExtractBatch(ctx context.Context, paths []string) (entity.Header, []entity.LineItem, error)
	Forget(paths ...string)
}

// StatusResolver fills ResolvedStatus on every item.
type StatusResolver interface {
	Resolve(ctx context.Context, items []entity.LineItem, timeout time.Duration) error
}

// UserStore is the part of the registry the engine reads and updates.
type UserStore interface {
	Get(ctx context.Context, qlid string) (repository.User, error)
	SetCarrier(ctx context.Context, qlid, carrier string) error
}

// CarrierStore is the shared carrier-name directory.
type CarrierStore interface {
	Add(ctx context.Context, name string) error
	BestMatch(ctx context.Context, query string) (string, bool)
}

// Files is the per-batch holding area and the minuta archive.
type Files interface {
	SaveUpload(qlid, sid, name string, data []byte) (string, error)
	Remove(path string) error
	Discard(qlid, sid string) error
	MinutaPath(qlid string) (string, error)
}

// Deps are the engine's collaborators. Decisions may be nil.
type Deps struct {
	Parser    DocumentParser
	Resolver  StatusResolver
	Renderer  render.Renderer
	Users     UserStore
	Carriers  CarrierStore
	Files     Files
	Decisions Decisions
}

// Engine applies inbound events to sessions. Events for one requester
// must be delivered one at a time.
type Engine struct {
	store *Store
	deps  Deps

	lookupTimeout time.Duration
	renderTimeout time.Duration
	labelCopies   int
	privileged    func(chatID int64) bool
	now           func() time.Time
	background    async.Queue

	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLookupTimeout bounds each status lookup.
func WithLookupTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lookupTimeout = d
		}
	}
}

// WithRenderTimeout bounds status resolution plus rendering of one batch.
func WithRenderTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.renderTimeout = d
		}
	}
}

// WithBackground renders off the caller's queue lane. The result comes
// back as a job on q keyed by async.ChatKey, so it is applied in order
// with the requester's other events.
func WithBackground(q async.Queue) Option {
	return func(e *Engine) { e.background = q }
}

// WithLabelCopies sets how many labels each line item gets.
func WithLabelCopies(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.labelCopies = n
		}
	}
}

// WithPrivileged decides which chats are offered print and label choices.
func WithPrivileged(fn func(chatID int64) bool) Option {
	return func(e *Engine) { e.privileged = fn }
}

// WithClock overrides time.Now, used for the date menu.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store *Store, deps Deps, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Decisions == nil {
		deps.Decisions = NewLogDecisions(logger)
	}
	e := &Engine{
		store:         store,
		deps:          deps,
		lookupTimeout: 90 * time.Second,
		renderTimeout: 30 * time.Minute,
		labelCopies:   1,
		privileged:    func(int64) bool { return false },
		now:           time.Now,
		logger:        logger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Store exposes the session store to the transport layer.
func (e *Engine) Store() *Store { return e.store }

// replyTimeout bounds a reply sent after the event's own context ended.
const replyTimeout = 15 * time.Second

// replyContext keeps replies deliverable when the event's deadline has
// already passed, e.g. after a slow status lookup.
func replyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
}

// traceAttrs returns the correlation ids carried on ctx.
func traceAttrs(ctx context.Context) []any {
	var attrs []any
	if id := common.RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	if id := common.SessionIDFromContext(ctx); id != "" {
		attrs = append(attrs, "session_id", id)
	}
	return attrs
}

func (e *Engine) say(ctx context.Context, conv Conversation, text string, kb Keyboard) int {
	ctx, cancel := replyContext(ctx)
	defer cancel()
	id, err := conv.Send(ctx, Message{Text: text, Keyboard: kb})
	if err != nil {
		e.logger.Warn("session.reply.failed",
			append([]any{"requester", conv.RequesterID(), "error", err}, traceAttrs(ctx)...)...)
	}
	return id
}

func (e *Engine) reject(ctx context.Context, conv Conversation, event string, state constants.SessionState, hint string) error {
	e.logger.Info("session.transition.rejected",
		append([]any{"requester", conv.RequesterID(), "event", event, "state", state}, traceAttrs(ctx)...)...)
	if hint != "" {
		e.say(ctx, conv, hint, nil)
	}
	return common.TransitionError(event, state)
}

func (e *Engine) invalid(ctx context.Context, conv Conversation, field string, value any, text string) error {
	e.say(ctx, conv, text, nil)
	return common.ValidationError{Field: field, Value: value, Message: text}
}

// DocumentUploaded admits one uploaded file into the requester's batch,
// opening a session on the first accepted document.
func (e *Engine) DocumentUploaded(ctx context.Context, conv Conversation, name string, data []byte) error {
	req := conv.RequesterID()
	if !constants.IsAllowedFilename(name) {
		return e.invalid(ctx, conv, "file", name, "⚠️ Envie apenas arquivos PDF de DANFE.")
	}

	s, open := e.store.Get(req)
	if open && s.State != constants.StateAccumulating {
		return e.reject(ctx, conv, "document", s.State,
			"⚠️ Finalize a minuta em andamento ou use /cancelar antes de enviar novas DANFEs.")
	}

	var token string
	if open {
		token = s.Token
	} else {
		token = e.store.NewToken()
	}
	ctx = common.WithSessionID(ctx, token)
	path, err := e.deps.Files.SaveUpload(req, token, name, data)
	if err != nil {
		e.logger.Error("session.upload.save_failed",
			append([]any{"requester", req, "error", err}, traceAttrs(ctx)...)...)
		e.say(ctx, conv, "❌ Não consegui salvar o arquivo. Tente novamente.", nil)
		return err
	}
	discard := func() {
		e.deps.Parser.Forget(path)
		if open {
			_ = e.deps.Files.Remove(path)
		} else {
			_ = e.deps.Files.Discard(req, token)
		}
	}

	key, hash := "", fingerprint.ContentHash(data)
	parsed, perr := e.deps.Parser.Parse(ctx, path)
	switch {
	case perr != nil:
		e.logger.Warn("session.upload.extract_failed",
			append([]any{"requester", req, "path", path, "error", perr}, traceAttrs(ctx)...)...)
	case !parsed.Doc.IsDANFE:
		discard()
		if open {
			s.Counts.Received++
			s.Counts.Rejected++
		}
		e.say(ctx, conv, "❌ O arquivo "+name+" não parece ser uma DANFE válida.", nil)
		return common.NewAppError("NOT_DANFE", name, common.ErrNotDANFE)
	default:
		key = parsed.Doc.AccessKey
	}

	if !open {
		s = e.store.Create(req, conv.ChatID(), token)
		e.logger.Info("session.opened", append([]any{"requester", req}, traceAttrs(ctx)...)...)
	}
	s.Counts.Received++

	v := s.Dedup.AdmitFingerprint(key, hash)
	if v.Outcome == fingerprint.Duplicate {
		discard()
		s.Counts.Duplicate++
		e.logger.Info("session.upload.duplicate", "requester", req, "session_id", s.Token, "key", v.Key)
		e.say(ctx, conv, "♻️ "+name+" já está neste lote e foi ignorado.", nil)
		return nil
	}

	s.Docs = append(s.Docs, path)
	s.Counts.Accepted++
	e.logger.Info("session.upload.accepted",
		"requester", req,
		"session_id", s.Token,
		"documents", s.Counts.Accepted,
		"keyed", v.Key != "",
	)
	if perr != nil {
		e.say(ctx, conv, "⚠️ Não consegui ler "+name+"; ele foi mantido no lote mas pode ficar de fora da minuta.", nil)
	}
	return e.progress(ctx, conv, s)
}

// ProgressText is the running-total prompt for a batch.
func ProgressText(accepted int) string {
	return fmt.Sprintf("📄 Recebidas %d DANFE(s). Envie mais arquivos ou toque em Gerar Minuta.", accepted)
}

// progress edits the previous prompt in place when it belongs to the same
// session and its text changed; otherwise a new prompt is sent.
func (e *Engine) progress(ctx context.Context, conv Conversation, s *Session) error {
	text := ProgressText(s.Counts.Accepted)
	msg := Message{Text: text, Keyboard: GenerateKeyboard()}

	prev, ok := e.store.Progress(s.Requester)
	sameSession := ok && prev.Token == s.Token && prev.MessageID != 0
	if sameSession && prev.Text == text {
		return nil
	}
	if sameSession {
		err := conv.Edit(ctx, prev.MessageID, msg)
		if err == nil {
			e.store.SetProgress(s.Requester, Progress{MessageID: prev.MessageID, Token: s.Token, Text: text})
			return nil
		}
		e.logger.Warn("session.progress.edit_failed", "requester", s.Requester, "error", err)
	}

	id, err := conv.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("send progress: %w", err)
	}
	e.store.SetProgress(s.Requester, Progress{MessageID: id, Token: s.Token, Text: text})
	return nil
}

// GenerateRequested closes the batch for input and asks for the date.
func (e *Engine) GenerateRequested(ctx context.Context, conv Conversation) error {
	s, ok := e.store.Get(conv.RequesterID())
	if !ok || s.Counts.Accepted == 0 {
		e.say(ctx, conv, "⚠️ Nenhuma DANFE recebida ainda. Envie os PDFs primeiro.", nil)
		return common.NewAppError("NO_DOCUMENTS", "generate requested on an empty batch", common.ErrNoDocuments)
	}
	if s.State != constants.StateAccumulating {
		return e.reject(ctx, conv, "generate", s.State, "⚠️ A minuta já está em andamento.")
	}

	s.State = constants.StateAwaitingDateVolume
	s.Date, s.VolumeBuf, s.Volumes = "", "", 0
	e.logger.Info("session.generate", "requester", s.Requester, "session_id", s.Token, "documents", len(s.Docs))
	e.say(ctx, conv, "📅 Selecione a data da coleta:", DateKeyboard(e.now()))
	return nil
}

// DateSelected records the collection date chosen from the menu.
func (e *Engine) DateSelected(ctx context.Context, conv Conversation, iso string) error {
	s, ok := e.store.Get(conv.RequesterID())
	if !ok || s.State != constants.StateAwaitingDateVolume {
		return e.reject(ctx, conv, "date", stateOf(s, ok), "⚠️ Toque em Gerar Minuta antes de escolher a data.")
	}
	if !slices.Contains(DateOptions(e.now()), iso) {
		return e.invalid(ctx, conv, "date", iso, "⚠️ Data fora das opções. Escolha uma das datas do menu.")
	}

	s.Date = iso
	s.VolumeBuf = ""
	s.promptID = e.say(ctx, conv, volumePrompt(s.VolumeBuf), VolumeKeyboard())
	return nil
}

func volumePrompt(buf string) string {
	if buf == "" {
		buf = "_"
	}
	return "📦 Quantidade de volumes: " + buf
}

func (e *Engine) volumeState(ctx context.Context, conv Conversation, event string) (*Session, error) {
	s, ok := e.store.Get(conv.RequesterID())
	if !ok || s.State != constants.StateAwaitingDateVolume {
		return nil, e.reject(ctx, conv, event, stateOf(s, ok), "")
	}
	if s.Date == "" {
		return nil, e.reject(ctx, conv, event, s.State, "⚠️ Selecione a data primeiro.")
	}
	return s, nil
}

func (e *Engine) showVolume(ctx context.Context, conv Conversation, s *Session) {
	msg := Message{Text: volumePrompt(s.VolumeBuf), Keyboard: VolumeKeyboard()}
	if s.promptID != 0 {
		if err := conv.Edit(ctx, s.promptID, msg); err == nil {
			return
		}
	}
	s.promptID = e.say(ctx, conv, msg.Text, msg.Keyboard)
}

// VolumeDigit appends one digit to the volume buffer.
func (e *Engine) VolumeDigit(ctx context.Context, conv Conversation, digit int) error {
	s, err := e.volumeState(ctx, conv, "volume_digit")
	if err != nil {
		return err
	}
	if digit < 0 || digit > 9 {
		return common.ValidationError{Field: "volume", Value: digit, Message: "not a digit"}
	}
	if len(s.VolumeBuf) >= constants.MaxVolumeDigits {
		return nil
	}
	if s.VolumeBuf == "0" {
		s.VolumeBuf = ""
	}
	s.VolumeBuf += strconv.Itoa(digit)
	e.showVolume(ctx, conv, s)
	return nil
}

// VolumeDelete removes the last typed digit.
func (e *Engine) VolumeDelete(ctx context.Context, conv Conversation) error {
	s, err := e.volumeState(ctx, conv, "volume_delete")
	if err != nil {
		return err
	}
	if s.VolumeBuf == "" {
		return nil
	}
	s.VolumeBuf = s.VolumeBuf[:len(s.VolumeBuf)-1]
	e.showVolume(ctx, conv, s)
	return nil
}

// VolumeConfirmed fixes the volume count, reconciles the carrier and
// renders when no confirmation is needed.
func (e *Engine) VolumeConfirmed(ctx context.Context, conv Conversation) error {
	s, err := e.volumeState(ctx, conv, "volume_confirm")
	if err != nil {
		return err
	}
	n, perr := strconv.Atoi(s.VolumeBuf)
	if perr != nil || n <= 0 {
		return e.invalid(ctx, conv, "volume", s.VolumeBuf, "⚠️ Informe uma quantidade de volumes maior que zero.")
	}
	s.Volumes = n

	if !s.Extracted {
		header, items, err := e.deps.Parser.ExtractBatch(ctx, s.Docs)
		if err != nil {
			s.State = constants.StateAccumulating
			e.logger.Error("session.extract.failed", "requester", s.Requester, "session_id", s.Token, "error", err)
			e.say(ctx, conv, "❌ Não consegui ler nenhuma DANFE do lote. Envie os arquivos novamente ou use /cancelar.", GenerateKeyboard())
			return err
		}
		s.Header, s.Items, s.Extracted = header, items, true
	}

	def := ""
	if u, err := e.deps.Users.Get(ctx, s.Requester); err == nil {
		def = u.Carrier
	} else if !errors.Is(err, common.ErrNotFound) {
		e.logger.Warn("session.user.lookup_failed", "requester", s.Requester, "error", err)
	}

	d := carrier.Resolve(s.Header.SeenCarriers, def)
	e.logger.Info("session.carrier.resolved",
		"requester", s.Requester,
		"session_id", s.Token,
		"chosen", d.Chosen,
		"needs_confirmation", d.NeedsConfirmation,
	)
	if d.NeedsConfirmation {
		s.State = constants.StateAwaitingCarrier
		s.Carrier = d.Chosen
		s.CarrierOptions = d.Options
		e.say(ctx, conv,
			"🚚 Confirme a transportadora (ou digite outro nome):",
			CarrierKeyboard(d.Options))
		return nil
	}
	s.Carrier = d.Chosen
	return e.render(ctx, conv, s)
}

// CarrierSelected picks one of the offered carrier names.
func (e *Engine) CarrierSelected(ctx context.Context, conv Conversation, index int) error {
	s, ok := e.store.Get(conv.RequesterID())
	if !ok || s.State != constants.StateAwaitingCarrier {
		return e.reject(ctx, conv, "carrier", stateOf(s, ok), "")
	}
	if index < 0 || index >= len(s.CarrierOptions) {
		return e.invalid(ctx, conv, "carrier", index, "⚠️ Opção inválida. Escolha uma transportadora do menu.")
	}
	return e.chooseCarrier(ctx, conv, s, s.CarrierOptions[index])
}

// CarrierTyped accepts a free-text carrier name, snapped to the closest
// known name when the directory has one.
func (e *Engine) CarrierTyped(ctx context.Context, conv Conversation, text string) error {
	s, ok := e.store.Get(conv.RequesterID())
	if !ok || s.State != constants.StateAwaitingCarrier {
		return e.reject(ctx, conv, "carrier_text", stateOf(s, ok), "")
	}
	name := strings.ToUpper(strings.Join(strings.Fields(text), " "))
	if len(name) < 2 {
		return e.invalid(ctx, conv, "carrier", text, "⚠️ Digite o nome da transportadora.")
	}
	if match, ok := e.deps.Carriers.BestMatch(ctx, name); ok {
		name = match
	}
	return e.chooseCarrier(ctx, conv, s, name)
}

func (e *Engine) chooseCarrier(ctx context.Context, conv Conversation, s *Session, name string) error {
	s.Carrier = name
	s.CarrierOptions = nil
	if err := e.deps.Users.SetCarrier(ctx, s.Requester, name); err != nil {
		e.logger.Warn("session.carrier.persist_failed", "requester", s.Requester, "error", err)
	}
	if err := e.deps.Carriers.Add(ctx, name); err != nil {
		e.logger.Warn("session.carrier.directory_failed", "carrier", name, "error", err)
	}
	return e.render(ctx, conv, s)
}

// renderJob is the part of a session a render works on. It is a copy,
// so a background render never touches the live session.
type renderJob struct {
	requester string
	token     string
	city      string
	header    entity.Header
	items     []entity.LineItem
	docs      []string
	started   time.Time
}

func (e *Engine) render(ctx context.Context, conv Conversation, s *Session) error {
	s.State = constants.StateRendering
	e.say(ctx, conv, fmt.Sprintf("⏳ Gerando a minuta com %d item(ns)...", len(s.Items)), nil)

	job := renderJob{
		requester: s.Requester,
		token:     s.Token,
		header:    s.Header,
		items:     slices.Clone(s.Items),
		docs:      slices.Clone(s.Docs),
		started:   time.Now(),
	}
	if u, err := e.deps.Users.Get(ctx, s.Requester); err == nil {
		job.city = u.City
	}
	job.header.Carrier = s.Carrier
	job.header.Date = s.Date
	job.header.Volumes = s.Volumes
	job.header.TotalValue = entity.SumLineValues(job.items)

	if e.background == nil {
		out, err := e.produce(ctx, &job)
		return e.finishRender(ctx, conv, job, out, err)
	}
	go e.renderInBackground(ctx, conv, job)
	return nil
}

// renderInBackground resolves and renders outside the requester's lane
// and posts the outcome back onto it.
func (e *Engine) renderInBackground(ctx context.Context, conv Conversation, job renderJob) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.renderTimeout)
	defer cancel()
	out, err := e.produce(bctx, &job)

	qctx, qcancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer qcancel()
	qerr := e.background.Enqueue(qctx, async.Job{
		Key:  async.ChatKey(conv.ChatID()),
		Name: "render_done",
		Run: func(ctx context.Context) error {
			return e.finishRender(ctx, conv, job, out, err)
		},
	})
	if qerr != nil {
		e.logger.Error("session.render.requeue_failed",
			"requester", job.requester,
			"session_id", job.token,
			"error", qerr,
		)
	}
}

// finishRender applies a render outcome to the session it was started
// from. Outcomes for a cancelled or replaced session are dropped.
func (e *Engine) finishRender(ctx context.Context, conv Conversation, job renderJob, out string, err error) error {
	s, ok := e.store.Get(job.requester)
	if !ok || s.Token != job.token || s.State != constants.StateRendering {
		e.logger.Info("session.render.stale",
			"requester", job.requester,
			"session_id", job.token,
			"state", stateOf(s, ok),
		)
		return nil
	}
	s.Items = job.items

	if err != nil {
		s.State = constants.StateAccumulating
		s.Date, s.VolumeBuf, s.Volumes = "", "", 0
		e.logger.Error("session.render.failed",
			"requester", s.Requester,
			"session_id", s.Token,
			"elapsed_ms", time.Since(job.started).Milliseconds(),
			"error", err,
		)
		e.say(ctx, conv, "❌ Falha ao gerar a minuta. Toque em Gerar Minuta para tentar de novo ou use /cancelar.", GenerateKeyboard())
		return common.NewAppError("RENDER_FAILED", "minuta rendering failed", errors.Join(common.ErrRenderFailed, err))
	}

	s.Rendered = true
	s.OutPath = out
	e.logger.Info("session.render.done",
		"requester", s.Requester,
		"session_id", s.Token,
		"items", len(s.Items),
		"elapsed_ms", time.Since(job.started).Milliseconds(),
	)
	dctx, cancel := replyContext(ctx)
	defer cancel()
	if err := conv.SendDocument(dctx, out, fmt.Sprintf("✅ Minuta gerada (%d item(ns)).", len(s.Items))); err != nil {
		e.logger.Warn("session.render.delivery_failed", "requester", s.Requester, "error", err)
		e.say(ctx, conv, "⚠️ A minuta foi gerada mas não consegui enviá-la. Use /minutas para baixar.", nil)
	}

	if e.privileged(conv.ChatID()) {
		s.State = constants.StatePostRenderDecisions
		s.PrintPending, s.LabelPending = true, true
		e.say(ctx, conv, "🖨️ Deseja imprimir a minuta?", YesNoKeyboard(CallbackPrintYes, CallbackPrintNo))
		return nil
	}
	return e.maybeReset(ctx, conv, s)
}

// produce resolves statuses and hands the batch to the renderer. Once
// every item carries a status the batch is rendered even if the lookups
// ran out of time; the renderer then gets a fresh budget.
func (e *Engine) produce(ctx context.Context, job *renderJob) (string, error) {
	if err := e.deps.Resolver.Resolve(ctx, job.items, e.lookupTimeout); err != nil {
		if !allResolved(job.items) {
			return "", fmt.Errorf("resolve statuses: %w", err)
		}
		e.logger.Warn("session.resolve.partial", "requester", job.requester, "session_id", job.token, "error", err)
	}

	rctx, cancel := ctx, context.CancelFunc(func() {})
	if ctx.Err() != nil {
		rctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), e.renderTimeout)
	}
	defer cancel()

	out, err := e.deps.Files.MinutaPath(job.requester)
	if err != nil {
		return "", fmt.Errorf("minuta path: %w", err)
	}
	err = e.deps.Renderer.Render(rctx, render.Request{
		City:        job.city,
		Header:      job.header,
		Items:       job.items,
		Date:        job.header.Date,
		Volumes:     job.header.Volumes,
		OutPath:     out,
		Attachments: job.docs,
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func allResolved(items []entity.LineItem) bool {
	for i := range items {
		if !items[i].Resolved {
			return false
		}
	}
	return true
}

// PrintDecision answers the print question.
func (e *Engine) PrintDecision(ctx context.Context, conv Conversation, yes bool) error {
	s, ok := e.store.Get(conv.RequesterID())
	if !ok || s.State != constants.StatePostRenderDecisions || !s.PrintPending {
		return e.reject(ctx, conv, "print", stateOf(s, ok), "")
	}
	if yes {
		if err := e.deps.Decisions.Print(ctx, s.Requester, s.OutPath); err != nil {
			e.logger.Warn("session.print.failed", "requester", s.Requester, "error", err)
			e.say(ctx, conv, "⚠️ Não consegui enviar para a impressora.", nil)
		} else {
			e.say(ctx, conv, "🖨️ Minuta enviada para impressão.", nil)
		}
	}
	s.PrintPending = false
	if s.LabelPending {
		e.say(ctx, conv, "🏷️ Deseja imprimir as etiquetas?", YesNoKeyboard(CallbackLabelYes, CallbackLabelNo))
	}
	return e.maybeReset(ctx, conv, s)
}

// LabelDecision answers the label question.
func (e *Engine) LabelDecision(ctx context.Context, conv Conversation, yes bool) error {
	s, ok := e.store.Get(conv.RequesterID())
	if !ok || s.State != constants.StatePostRenderDecisions || !s.LabelPending {
		return e.reject(ctx, conv, "label", stateOf(s, ok), "")
	}
	if yes {
		if err := e.deps.Decisions.Labels(ctx, s.Requester, s.Items, e.labelCopies); err != nil {
			e.logger.Warn("session.labels.failed", "requester", s.Requester, "error", err)
			e.say(ctx, conv, "⚠️ Não consegui imprimir as etiquetas.", nil)
		} else {
			e.say(ctx, conv, fmt.Sprintf("🏷️ %d etiqueta(s) enviadas.", len(s.Items)*e.labelCopies), nil)
		}
	}
	s.LabelPending = false
	return e.maybeReset(ctx, conv, s)
}

func (e *Engine) maybeReset(ctx context.Context, conv Conversation, s *Session) error {
	if !s.ResetReady() {
		return nil
	}
	e.reset(s)
	e.say(ctx, conv, "✅ Lote finalizado. Envie novas DANFEs quando quiser.", nil)
	return nil
}

// Cancel discards the requester's batch from any state.
func (e *Engine) Cancel(ctx context.Context, conv Conversation) error {
	s, ok := e.store.Get(conv.RequesterID())
	if !ok {
		e.say(ctx, conv, "Nenhum lote em andamento.", nil)
		return nil
	}
	e.logger.Info("session.cancelled", "requester", s.Requester, "session_id", s.Token, "state", s.State)
	e.reset(s)
	e.say(ctx, conv, "🗑️ Lote cancelado. Os arquivos enviados foram descartados.", nil)
	return nil
}

func (e *Engine) reset(s *Session) {
	e.deps.Parser.Forget(s.Docs...)
	if err := e.deps.Files.Discard(s.Requester, s.Token); err != nil {
		e.logger.Warn("session.reset.discard_failed", "requester", s.Requester, "session_id", s.Token, "error", err)
	}
	e.logger.Info("session.reset", "requester", s.Requester, "session_id", s.Token)
	e.store.Reset(s.Requester)
	s.clear()
}

func stateOf(s *Session, ok bool) constants.SessionState {
	if !ok {
		return constants.StateIdle
	}
	return s.State
}
