package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/theirongolddev/callpulse/internal/model"
)

type fakeSender struct {
	got []tgbotapi.Chattable
	err error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.got = append(f.got, c)
	return tgbotapi.Message{}, f.err
}

func sampleReport(rows int) model.Report {
	rep := model.Report{Start: "2025-03-07", End: "2025-03-07"}
	for i := range rows {
		rep.Rows = append(rep.Rows, model.OperatorTotals{
			OperatorID: "op",
			Name:       "Operator <" + strings.Repeat("x", i%5) + ">",
			Counters:   model.Counters{AllCalls: 14, Dialogs: 7},
			AvgTalk:    114,
			Reach:      50,
		})
	}
	rep.Totals = model.Totals{Counters: model.Counters{AllCalls: 14, Dialogs: 7}, AvgTalk: 114, Reach: 50}
	return rep
}

func TestFormatDailyEscapesAndSummarizes(t *testing.T) {
	out := FormatDaily(sampleReport(2))
	if !strings.Contains(out, "Звонки 14 · диалоги 7 · дозвон 50.0% · ср. 1:54") {
		t.Fatalf("missing totals line:\n%s", out)
	}
	if strings.Contains(out, "Operator <") || !strings.Contains(out, "Operator &lt;") {
		t.Fatalf("row names not escaped:\n%s", out)
	}
}

func TestFormatDailyFitsOneMessage(t *testing.T) {
	rep := sampleReport(500)
	rep.MissingDates = []string{"2025-03-06"}
	out := FormatDaily(rep)

	if len(out) > MaxMessageLen {
		t.Fatalf("len = %d, want <= %d", len(out), MaxMessageLen)
	}
	if !strings.Contains(out, "…и ещё ") {
		t.Fatal("truncated report should say how many rows were left out")
	}
	if !strings.Contains(out, "нет данных: 2025-03-06") {
		t.Fatal("missing dates not reported")
	}
}

func TestSendDaily(t *testing.T) {
	var nilTG *Telegram
	if err := nilTG.SendDaily(context.Background(), model.Report{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("nil SendDaily err = %v, want ErrNotConfigured", err)
	}

	fs := &fakeSender{}
	tg := &Telegram{api: fs, chatID: 42, log: zerolog.Nop()}
	if err := tg.SendDaily(context.Background(), sampleReport(1)); err != nil {
		t.Fatalf("SendDaily: %v", err)
	}
	msg, ok := fs.got[0].(tgbotapi.MessageConfig)
	if !ok || msg.ChatID != 42 || msg.ParseMode != tgbotapi.ModeHTML {
		t.Fatalf("sent %#v", fs.got[0])
	}

	fs.err = errors.New("Bad Request: chat not found")
	if err := tg.SendDaily(context.Background(), sampleReport(1)); err == nil {
		t.Fatal("expected send error")
	}
}

func TestNewTelegramUnconfigured(t *testing.T) {
	tg, err := NewTelegram("", 42, zerolog.Nop())
	if tg != nil || err != nil {
		t.Fatalf("NewTelegram = %v, %v; want nil, nil", tg, err)
	}
}
