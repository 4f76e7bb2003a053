// Package notify delivers the daily metrics report to a Telegram chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/theirongolddev/callpulse/internal/model"
)

// MaxMessageLen is Telegram's limit for one text message.
const MaxMessageLen = 4096

// ErrNotConfigured is returned by a nil *Telegram.
var ErrNotConfigured = errors.New("notify: telegram is not configured")

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends reports to one chat.
type Telegram struct {
	api    sender
	chatID int64
	log    zerolog.Logger
}

// NewTelegram authorizes the bot. It returns nil, nil when token or chat
// id is unset.
func NewTelegram(token string, chatID int64, log zerolog.Logger) (*Telegram, error) {
	if strings.TrimSpace(token) == "" || chatID == 0 {
		return nil, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	log = log.With().Str("component", "notify").Logger()
	log.Info().Str("bot", api.Self.UserName).Msg("telegram authorized")
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

// SendDaily posts rep as an HTML message.
func (t *Telegram) SendDaily(ctx context.Context, rep model.Report) error {
	if t == nil {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, FormatDaily(rep))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	t.log.Info().Str("date", rep.End).Int("rows", len(rep.Rows)).Msg("daily report sent")
	return nil
}

// FormatDaily renders rep as Telegram HTML. Rows that do not fit in one
// message are summarized in a trailing line.
func FormatDaily(rep model.Report) string {
	var head strings.Builder
	title := rep.Start
	if rep.End != rep.Start {
		title = rep.Start + " – " + rep.End
	}
	fmt.Fprintf(&head, "<b>Итоги %s</b>", html.EscapeString(title))
	if rep.Branch != "" {
		fmt.Fprintf(&head, " · %s", html.EscapeString(rep.Branch))
	}
	head.WriteString("\n")

	t := rep.Totals
	fmt.Fprintf(&head, "Звонки %d · диалоги %d · дозвон %.1f%% · ср. %s\n",
		t.Counters.AllCalls, t.Counters.Dialogs, t.Reach, clock(t.AvgTalk))
	fmt.Fprintf(&head, "Согласия %d · встречи %d · сделки %d · выручка %d\n",
		t.Counters.Agreement+t.Counters.CRMAgreements, t.Counters.MeetingsHeld, t.Counters.DealsWon, t.Counters.Revenue)
	if len(rep.MissingDates) > 0 {
		fmt.Fprintf(&head, "⚠ нет данных: %s\n", strings.Join(rep.MissingDates, ", "))
	}

	const preOpen, preClose = "<pre>", "</pre>"
	budget := MaxMessageLen - len(head.String()) - len(preOpen) - len(preClose) - 64

	var body strings.Builder
	shown := 0
	for _, r := range rep.Rows {
		line := fmt.Sprintf("%-18.18s %4d %4d %5.1f%% %s\n",
			r.Name, r.Counters.AllCalls, r.Counters.Dialogs, r.Reach, clock(r.AvgTalk))
		line = html.EscapeString(line)
		if body.Len()+len(line) > budget {
			break
		}
		body.WriteString(line)
		shown++
	}

	out := head.String()
	if shown > 0 {
		out += preOpen + body.String() + preClose
	}
	if rest := len(rep.Rows) - shown; rest > 0 {
		out += fmt.Sprintf("\n…и ещё %d", rest)
	}
	return out
}

func clock(secs int64) string {
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
