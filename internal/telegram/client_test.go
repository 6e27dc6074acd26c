package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type recorded struct {
	path   string
	params map[string]string
}

// apiFailure makes the fake server answer ok=false.
type apiFailure struct {
	code        int
	description string
}

type fakeServer struct {
	mu     sync.Mutex
	calls  []recorded
	handle func(method string, params map[string]string) any
	block  chan struct{}
}

func (f *fakeServer) recorded() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.calls...)
}

func newServer(t *testing.T, handle func(method string, params map[string]string) any) (*Client, *fakeServer) {
	t.Helper()
	fs := &fakeServer{handle: handle}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/file/") {
			_, _ = io.WriteString(w, "%PDF-1.4 body")
			return
		}
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		if method == "getMe" {
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{
				"id": 1, "is_bot": true, "first_name": "Minutron", "username": "minutron_bot",
			}})
			return
		}

		params := map[string]string{}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("multipart: %v", err)
			}
			for k, v := range r.MultipartForm.Value {
				params[k] = v[0]
			}
			for k, fh := range r.MultipartForm.File {
				params[k] = fh[0].Filename
			}
		} else {
			if err := r.ParseForm(); err != nil {
				t.Errorf("form: %v", err)
			}
			for k := range r.PostForm {
				params[k] = r.PostForm.Get(k)
			}
		}
		fs.mu.Lock()
		fs.calls = append(fs.calls, recorded{r.URL.Path, params})
		block := fs.block
		fs.mu.Unlock()
		if block != nil {
			select {
			case <-block:
			case <-r.Context().Done():
			}
		}

		result := fs.handle(method, params)
		if fail, ok := result.(apiFailure); ok {
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": fail.code, "description": fail.description})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL+"/", "TOKEN", srv.Client(), nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c, fs
}

func TestNewClientChecksToken(t *testing.T) {
	c, _ := newServer(t, func(string, map[string]string) any { return true })
	if c.Self().UserName != "minutron_bot" || c.Self().ID != 1 {
		t.Fatalf("Self() = %+v", c.Self())
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 401, "description": "Unauthorized"})
	}))
	defer srv.Close()
	_, err := NewClient(srv.URL, "BAD", srv.Client(), nil)
	if APICode(err) != 401 {
		t.Fatalf("NewClient() error = %v, want 401", err)
	}
}

func TestSendMessageWithKeyboard(t *testing.T) {
	c, fs := newServer(t, func(string, map[string]string) any {
		return map[string]any{"message_id": 42, "chat": map[string]any{"id": 7}}
	})
	kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Gerar", "gerar_minuta"),
	))
	m, err := c.SendMessage(context.Background(), 7, "olá", &kb)
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if m.MessageID != 42 {
		t.Fatalf("message id = %d", m.MessageID)
	}
	got := fs.recorded()[0]
	if got.path != "/botTOKEN/sendMessage" {
		t.Fatalf("path = %q", got.path)
	}
	if got.params["text"] != "olá" || got.params["chat_id"] != "7" {
		t.Fatalf("params = %v", got.params)
	}
	var markup tgbotapi.InlineKeyboardMarkup
	if err := json.Unmarshal([]byte(got.params["reply_markup"]), &markup); err != nil {
		t.Fatalf("reply_markup = %q: %v", got.params["reply_markup"], err)
	}
	if b := markup.InlineKeyboard[0][0]; b.CallbackData == nil || *b.CallbackData != "gerar_minuta" {
		t.Fatalf("markup = %+v", markup)
	}
}

func TestEditWithoutKeyboardOmitsMarkup(t *testing.T) {
	c, fs := newServer(t, func(string, map[string]string) any {
		return map[string]any{"message_id": 2, "chat": map[string]any{"id": 1}}
	})
	if err := c.EditMessageText(context.Background(), 1, 2, "x", nil); err != nil {
		t.Fatalf("EditMessageText() error = %v", err)
	}
	got := fs.recorded()[0].params
	if got["message_id"] != "2" || got["text"] != "x" {
		t.Fatalf("params = %v", got)
	}
	if _, ok := got["reply_markup"]; ok {
		t.Fatalf("reply_markup sent for a nil keyboard: %v", got)
	}
}

func TestAPIError(t *testing.T) {
	c, _ := newServer(t, func(string, map[string]string) any {
		return apiFailure{code: 400, description: "Bad Request: message is not modified"}
	})
	err := c.EditMessageText(context.Background(), 1, 2, "x", nil)
	if APICode(err) != 400 || !strings.Contains(err.Error(), "editMessageText") {
		t.Fatalf("err = %v", err)
	}
}

func TestAnswerCallbackQuery(t *testing.T) {
	c, fs := newServer(t, func(string, map[string]string) any { return true })
	if err := c.AnswerCallbackQuery(context.Background(), "cb-1", ""); err != nil {
		t.Fatalf("AnswerCallbackQuery() error = %v", err)
	}
	got := fs.recorded()[0]
	if got.path != "/botTOKEN/answerCallbackQuery" || got.params["callback_query_id"] != "cb-1" {
		t.Fatalf("call = %+v", got)
	}
}

func TestSendDocumentMultipart(t *testing.T) {
	c, fs := newServer(t, func(string, map[string]string) any {
		return map[string]any{"message_id": 1, "chat": map[string]any{"id": 9}}
	})
	path := filepath.Join(t.TempDir(), "minuta.pdf")
	if err := os.WriteFile(path, []byte("%PDF"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.SendDocument(context.Background(), 9, path, "✅ pronto"); err != nil {
		t.Fatalf("SendDocument() error = %v", err)
	}
	got := fs.recorded()[0].params
	if got["chat_id"] != "9" || got["caption"] != "✅ pronto" || got["document"] != "minuta.pdf" {
		t.Fatalf("form = %v", got)
	}
}

func TestDownload(t *testing.T) {
	c, _ := newServer(t, func(method string, p map[string]string) any {
		if method != "getFile" || p["file_id"] != "abc" {
			t.Errorf("unexpected %s %v", method, p)
		}
		return map[string]any{"file_id": "abc", "file_path": "documents/file_1.pdf"}
	})
	data, err := c.Download(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if string(data) != "%PDF-1.4 body" {
		t.Fatalf("data = %q", data)
	}
}

func TestCallStopsWaitingOnCancel(t *testing.T) {
	c, fs := newServer(t, func(string, map[string]string) any { return true })
	fs.mu.Lock()
	fs.block = make(chan struct{})
	fs.mu.Unlock()
	defer close(fs.block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := c.AnswerCallbackQuery(ctx, "cb-slow", "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("call outlived its context")
	}
}

type scriptedUpdater struct {
	mu      sync.Mutex
	offsets []int
	batches [][]tgbotapi.Update
	cancel  context.CancelFunc
}

func (s *scriptedUpdater) GetUpdates(ctx context.Context, offset int, _ time.Duration) ([]tgbotapi.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets = append(s.offsets, offset)
	if len(s.batches) == 0 {
		s.cancel()
		return nil, ctx.Err()
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	if b == nil {
		return nil, errors.New("connection reset")
	}
	return b, nil
}

func TestPollerAdvancesOffset(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	up := &scriptedUpdater{
		cancel: cancel,
		batches: [][]tgbotapi.Update{
			{{UpdateID: 10}, {UpdateID: 11}},
			nil,
			{{UpdateID: 12}},
		},
	}
	p := NewPoller(up, time.Second, nil)
	p.backoff = time.Millisecond

	var seen []int
	if err := p.Run(ctx, func(_ context.Context, u tgbotapi.Update) { seen = append(seen, u.UpdateID) }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(seen) != 3 || seen[2] != 12 {
		t.Fatalf("seen = %v", seen)
	}
	want := []int{0, 12, 12, 13}
	if len(up.offsets) != len(want) {
		t.Fatalf("offsets = %v, want %v", up.offsets, want)
	}
	for i := range want {
		if up.offsets[i] != want[i] {
			t.Fatalf("offsets = %v, want %v", up.offsets, want)
		}
	}
}
