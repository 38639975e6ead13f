// Package notify posts sweep completion notices to a Telegram chat.
package notify

import (
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"stylesweep/logging"
	"stylesweep/types"
)

// Notifier sends one-way messages to a single chat. A nil Notifier is
// valid and drops every message, so callers need no configuration checks.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// New connects to the Telegram API. An empty token or chat returns a nil
// notifier without error.
func New(token, chat string) (*Notifier, error) {
	if token == "" || chat == "" {
		return nil, nil
	}

	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid Telegram chat id '%s': %v", chat, err)
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to Telegram: %v", err)
	}
	logging.LogInfo("Telegram notifications enabled as %s", api.Self.UserName)

	return &Notifier{api: api, chatID: chatID}, nil
}

// SweepFinished sends a short completion notice
func (n *Notifier) SweepFinished(stats *types.SweepStats) error {
	if n == nil {
		return nil
	}

	state := "finished"
	if stats.Interrupted {
		state = "interrupted"
	}
	text := fmt.Sprintf("Sweep %s %s: %d/%d done, %d skipped, %d errors in %.0fs",
		stats.SweepID, state, stats.Completed, stats.Planned, stats.Skipped, stats.Errors, stats.ElapsedSecs)

	if _, err := n.api.Send(tgbotapi.NewMessage(n.chatID, text)); err != nil {
		return fmt.Errorf("cannot send Telegram message: %v", err)
	}
	return nil
}

// SendReport uploads the PDF contact sheet as a document
func (n *Notifier) SendReport(path string) error {
	if n == nil {
		return nil
	}

	doc := tgbotapi.NewDocument(n.chatID, tgbotapi.FilePath(path))
	doc.Caption = "Sweep contact sheet"
	if _, err := n.api.Send(doc); err != nil {
		return fmt.Errorf("cannot send report: %v", err)
	}
	return nil
}
