// Package telegram adapts the Bot API library to the router: context-aware
// calls, long-poll updates and size-capped document downloads.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MaxDownload caps document downloads; the Bot API refuses larger files anyway.
const MaxDownload = 20 << 20

// Client wraps tgbotapi.BotAPI. The library does not take a context, so
// each call runs on its own goroutine and the caller stops waiting when
// ctx ends; the request itself is bounded by the HTTP client's timeout.
type Client struct {
	api     *tgbotapi.BotAPI
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient connects to baseURL (e.g. https://api.telegram.org) and checks
// the token with getMe. A nil httpClient gets one sized for long polling.
func NewClient(baseURL, token string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	baseURL = strings.TrimRight(baseURL, "/")
	api, err := tgbotapi.NewBotAPIWithClient(token, baseURL+"/bot%s/%s", httpClient)
	if err != nil {
		return nil, fmt.Errorf("telegram getMe: %w", err)
	}
	return &Client{api: api, baseURL: baseURL, http: httpClient, logger: logger}, nil
}

// Self is the bot identity returned by getMe at construction.
func (c *Client) Self() tgbotapi.User {
	return c.api.Self
}

// await runs fn and gives up waiting when ctx ends first.
func await[T any](ctx context.Context, c *Client, method string, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	type result struct {
		v   T
		err error
	}
	start := time.Now()
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		attrs := []any{"method", method, "elapsed_ms", time.Since(start).Milliseconds()}
		if r.err != nil {
			c.logger.Debug("telegram.call.failed", append(attrs, "error", r.err)...)
			return zero, fmt.Errorf("telegram %s: %w", method, r.err)
		}
		c.logger.Debug("telegram.call.done", attrs...)
		return r.v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// APICode returns the Bot API error code carried by err, or 0.
func APICode(err error) int {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]tgbotapi.Update, error) {
	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = int(timeout.Seconds())
	cfg.AllowedUpdates = []string{"message", "callback_query"}
	return await(ctx, c, "getUpdates", func() ([]tgbotapi.Update, error) {
		return c.api.GetUpdates(cfg)
	})
}

// SendMessage posts text with an optional inline keyboard.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if kb != nil {
		msg.ReplyMarkup = *kb
	}
	return await(ctx, c, "sendMessage", func() (tgbotapi.Message, error) {
		return c.api.Send(msg)
	})
}

// EditMessageText replaces a message's text and keyboard.
func (c *Client) EditMessageText(ctx context.Context, chatID int64, messageID int, text string, kb *tgbotapi.InlineKeyboardMarkup) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ReplyMarkup = kb
	_, err := await(ctx, c, "editMessageText", func() (*tgbotapi.APIResponse, error) {
		return c.api.Request(edit)
	})
	return err
}

// AnswerCallbackQuery acknowledges a button press; text may be empty.
func (c *Client) AnswerCallbackQuery(ctx context.Context, id, text string) error {
	_, err := await(ctx, c, "answerCallbackQuery", func() (*tgbotapi.APIResponse, error) {
		return c.api.Request(tgbotapi.NewCallback(id, text))
	})
	return err
}

// SendDocument uploads a local file.
func (c *Client) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{Name: filepath.Base(path), Reader: f})
	doc.Caption = caption
	_, err = await(ctx, c, "sendDocument", func() (tgbotapi.Message, error) {
		return c.api.Send(doc)
	})
	return err
}

// Download fetches a document's bytes by file id.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	f, err := await(ctx, c, "getFile", func() (tgbotapi.File, error) {
		return c.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	})
	if err != nil {
		return nil, err
	}
	if f.FilePath == "" {
		return nil, fmt.Errorf("telegram getFile: no file_path for %s", fileID)
	}

	// File.Link always points at api.telegram.org; honour a custom base
	url := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.api.Token, f.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Warn("telegram.download.body_close_error", "error", err)
		}
	}(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("download %s: status %d", f.FilePath, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownload+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxDownload {
		return nil, fmt.Errorf("download %s: larger than %d bytes", f.FilePath, MaxDownload)
	}
	return data, nil
}
