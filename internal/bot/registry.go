package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/minutron/minutron/internal/common"
	"github.com/minutron/minutron/internal/repository"
)

type regStep int

const (
	askQLID regStep = iota
	askCity
)

// registration is an in-progress /start or /alterar dialogue.
type registration struct {
	step regStep
	qlid string
}

var titleCase = cases.Title(language.BrazilianPortuguese)

func (r *Router) registering(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[chatID]
	return ok
}

func (r *Router) dropRegistration(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[chatID]
	delete(r.pending, chatID)
	return ok
}

func (r *Router) start(ctx context.Context, ev messageEvent) error {
	if ev.requester != "" {
		return r.reply(ctx, ev.chatID, fmt.Sprintf("👋 Olá, %s! Envie os PDFs das DANFEs para montar a minuta.", ev.requester))
	}
	r.mu.Lock()
	r.pending[ev.chatID] = &registration{step: askQLID}
	r.mu.Unlock()
	return r.reply(ctx, ev.chatID, "👋 Bem-vindo! Informe seu QLID (ex.: AB123456):")
}

func (r *Router) changeCity(ctx context.Context, ev messageEvent) error {
	if ev.requester == "" {
		return r.reply(ctx, ev.chatID, "Use /start para se cadastrar.")
	}
	r.mu.Lock()
	r.pending[ev.chatID] = &registration{step: askCity, qlid: ev.requester}
	r.mu.Unlock()
	return r.reply(ctx, ev.chatID, "🏙️ Informe a nova cidade:")
}

func (r *Router) register(ctx context.Context, ev messageEvent, text string) error {
	r.mu.Lock()
	reg := r.pending[ev.chatID]
	r.mu.Unlock()
	if reg == nil {
		return nil
	}

	switch reg.step {
	case askQLID:
		qlid := strings.ToUpper(strings.TrimSpace(text))
		if !common.ValidQLID(qlid) {
			return r.reply(ctx, ev.chatID, "⚠️ QLID inválido. Use 2 letras e 6 números (ex.: AB123456).")
		}
		if u, err := r.users.Get(ctx, qlid); err == nil && u.TelegramID != ev.chatID {
			return r.reply(ctx, ev.chatID, "⚠️ Este QLID já está cadastrado em outra conta. Fale com o administrador.")
		} else if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
		reg.qlid = qlid
		reg.step = askCity
		return r.reply(ctx, ev.chatID, "🏙️ Agora informe sua cidade:")

	case askCity:
		city := strings.Join(strings.Fields(text), " ")
		if !common.ValidCity(city) {
			return r.reply(ctx, ev.chatID, "⚠️ Cidade inválida. Use apenas letras e espaços.")
		}
		city = titleCase.String(city)

		u, err := r.users.Get(ctx, reg.qlid)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
		u.TelegramID = ev.chatID
		u.City = city
		if err := r.users.Upsert(ctx, reg.qlid, u); err != nil {
			return r.reply(ctx, ev.chatID, "⚠️ "+err.Error())
		}
		r.dropRegistration(ev.chatID)
		r.logger.Info("bot.user.registered", "requester", reg.qlid, "chat_id", ev.chatID, "city", city)
		return r.reply(ctx, ev.chatID, fmt.Sprintf("✅ Cadastro salvo: %s (%s). Envie os PDFs das DANFEs.", reg.qlid, city))
	}
	return nil
}

func (r *Router) admin(ctx context.Context, conv conversation, cmd, arg string) error {
	if r.adminID == 0 || conv.chatID != r.adminID {
		return r.reply(ctx, conv.chatID, "⛔ Comando restrito ao administrador.")
	}
	switch cmd {
	case "/usuarios":
		return r.listUsers(ctx, conv)
	case "/broadcast":
		return r.broadcast(ctx, conv, arg)
	case "/bloquear", "/desbloquear":
		qlid := strings.ToUpper(arg)
		if !common.ValidQLID(qlid) {
			return r.reply(ctx, conv.chatID, "Uso: "+cmd+" AB123456")
		}
		blocked := cmd == "/bloquear"
		if err := r.users.SetBlocked(ctx, qlid, blocked); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return r.reply(ctx, conv.chatID, "QLID não encontrado.")
			}
			return err
		}
		state := "desbloqueado"
		if blocked {
			state = "bloqueado"
		}
		return r.reply(ctx, conv.chatID, fmt.Sprintf("%s %s.", qlid, state))
	case "/remover":
		return r.removeUser(ctx, conv, strings.ToUpper(arg))
	}
	return nil
}

// removeUser deletes an operator's registration and stored files. An
// operator with an open batch must finish or cancel it first.
func (r *Router) removeUser(ctx context.Context, conv conversation, qlid string) error {
	if !common.ValidQLID(qlid) {
		return r.reply(ctx, conv.chatID, "Uso: /remover AB123456")
	}
	if _, open := r.events.Store().Get(qlid); open {
		return r.reply(ctx, conv.chatID, qlid+" tem um lote em andamento.")
	}
	if err := r.users.Delete(ctx, qlid); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return r.reply(ctx, conv.chatID, "QLID não encontrado.")
		}
		return err
	}
	if err := r.archive.DiscardUser(qlid); err != nil {
		r.logger.Warn("bot.user.discard_failed", "requester", qlid, "error", err)
	}
	r.logger.Info("bot.user.removed", "requester", qlid)
	return r.reply(ctx, conv.chatID, qlid+" removido.")
}

func (r *Router) listUsers(ctx context.Context, conv conversation) error {
	ids, users, err := r.users.List(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return r.reply(ctx, conv.chatID, "Nenhum usuário cadastrado.")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "👥 %d usuário(s):\n", len(ids))
	for _, id := range ids {
		b.WriteString(describeUser(id, users[id]))
	}
	return r.reply(ctx, conv.chatID, b.String())
}

func describeUser(qlid string, u repository.User) string {
	line := fmt.Sprintf("• %s | %s", qlid, u.City)
	if u.Carrier != "" {
		line += " | " + u.Carrier
	}
	if u.Blocked {
		line += " | bloqueado"
	}
	return line + "\n"
}

func (r *Router) broadcast(ctx context.Context, conv conversation, text string) error {
	if text == "" {
		return r.reply(ctx, conv.chatID, "Uso: /broadcast mensagem")
	}
	ids, users, err := r.users.List(ctx)
	if err != nil {
		return err
	}
	sent := 0
	for _, id := range ids {
		u := users[id]
		if u.Blocked || u.TelegramID == 0 {
			continue
		}
		if _, err := r.api.SendMessage(ctx, u.TelegramID, "📢 "+text, nil); err != nil {
			r.logger.Warn("bot.broadcast.failed", "requester", id, "error", err)
			continue
		}
		sent++
	}
	return r.reply(ctx, conv.chatID, fmt.Sprintf("Mensagem enviada para %d usuário(s).", sent))
}
