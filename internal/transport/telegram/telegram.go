// Package telegram delivers push notifications through the Telegram Bot API.
//
// The client is send-only: it never polls for updates, so it needs no
// webhook or long-poll loop.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "chime/pkg/logx"
)

type Config struct {
	Token     string
	ChatID    int64
	ThreadID  int // forum topic; 0 for none
	ParseMode string
	Timeout   time.Duration
}

type Client struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, log: log, bot: b}, nil
}

// SendText posts text to the configured chat, splitting it when it exceeds
// the Telegram message limit.
func (c *Client) SendText(ctx context.Context, text string) error {
	chunks := splitText(text, textLimit)
	if len(chunks) == 0 {
		return nil
	}
	chat := &tele.Chat{ID: c.cfg.ChatID}
	opt := &tele.SendOptions{
		ParseMode:             c.cfg.ParseMode,
		DisableWebPagePreview: true,
		ThreadID:              c.cfg.ThreadID,
	}
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.bot.Send(chat, chunk, opt); err != nil {
			return err
		}
	}
	c.log.Debug("telegram message sent", logx.Int64("chat_id", c.cfg.ChatID), logx.Int("chunks", len(chunks)))
	return nil
}

const textLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries that do not leave tiny chunks.
func splitText(s string, limit int) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		if chunk := strings.TrimRight(string(rs[start:end]), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
