package notifier

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"chime/internal/reminder"
)

// Sink delivers one notification. Deliver may block; it runs on a worker.
type Sink interface {
	Name() string
	Wants(ch reminder.Channel) bool
	Deliver(ctx context.Context, n Notification) error
}

var (
	popupBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("81")).
				Padding(0, 1)
	popupTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("81")).
			Bold(true)
	popupMetaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
	popupTextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))
)

// Popup renders an in-process notification box to w.
type Popup struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPopup(w io.Writer) *Popup { return &Popup{w: w} }

func (p *Popup) Name() string { return "popup" }

func (p *Popup) Wants(ch reminder.Channel) bool { return ch.Wants(reminder.ChannelPopup) }

func (p *Popup) Deliver(_ context.Context, n Notification) error {
	body := lipgloss.JoinVertical(lipgloss.Left,
		popupTitleStyle.Render("⏰ Reminder"),
		popupTextStyle.Render(n.Message),
		popupMetaStyle.Render(fmt.Sprintf("%s · %s", n.FireAt.Local().Format("Mon 02 Jan 15:04"), n.Schedule)),
	)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintln(p.w, popupBorderStyle.Render(body))
	return err
}

// TextSender is the push transport (the Telegram client).
type TextSender interface {
	SendText(ctx context.Context, text string) error
}

// Push sends an out-of-process notification through a TextSender.
type Push struct {
	sender TextSender
}

func NewPush(sender TextSender) *Push { return &Push{sender: sender} }

func (p *Push) Name() string { return "push" }

func (p *Push) Wants(ch reminder.Channel) bool { return ch.Wants(reminder.ChannelPush) }

func (p *Push) Deliver(ctx context.Context, n Notification) error {
	var b strings.Builder
	b.WriteString("⏰ ")
	b.WriteString(n.Message)
	if n.Schedule != "" {
		b.WriteString("\n")
		b.WriteString(n.Schedule)
	}
	return p.sender.SendText(ctx, b.String())
}

// Sound rings the Player for every presentation regardless of channel.
type Sound struct {
	player *Player
}

func NewSound(p *Player) *Sound { return &Sound{player: p} }

func (s *Sound) Name() string { return "sound" }

func (s *Sound) Wants(reminder.Channel) bool { return s.player.Enabled() }

func (s *Sound) Deliver(context.Context, Notification) error { return s.player.PlayDefault() }
