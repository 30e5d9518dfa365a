// Package bot connects the knock controls to Telegram: it renders the
// button menu and handles commands and button taps one at a time.
package bot

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"knockbot/logger"
)

// Sender is the part of *tgbotapi.BotAPI the dispatcher talks to.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

var _ Sender = (*tgbotapi.BotAPI)(nil)

// Init logs in with token and registers the command list.
func Init(token string, debug bool) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	api.Debug = debug

	logger.WithComponent("bot").Infof("Authorized on account: %s", api.Self.UserName)

	if err := RegisterCommands(api); err != nil {
		logger.WithComponent("bot").WithError(err).Warn("failed to register bot commands")
	}
	return api, nil
}

// commands is the menu Telegram clients offer. Telegram rejects the whole
// list unless every name is lowercase letters, digits or underscores.
var commands = []tgbotapi.BotCommand{
	{Command: "start", Description: "Show the welcome message and available options"},
	{Command: "help", Description: "Show the help message"},
	{Command: "changeip", Description: "Whitelist an IP address: /changeIP <ip_address>"},
}

// RegisterCommands publishes the command list shown by Telegram clients.
func RegisterCommands(api Sender) error {
	_, err := api.Request(tgbotapi.NewSetMyCommands(commands...))
	return err
}

// Updates starts long polling with the given timeout in seconds.
func Updates(api *tgbotapi.BotAPI, timeout int) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	return api.GetUpdatesChan(u)
}

// MaskToken hides the secret half of a bot token for logging.
func MaskToken(token string) string {
	return strings.Split(token, ":")[0] + ":***"
}
