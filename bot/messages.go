package bot

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Callback data of the inline buttons.
const (
	ShareIP   = "share_ip"
	KnockDoor = "knock_door"
	Refresh   = "refresh"
	// AllowPrefix is followed by the address to whitelist.
	AllowPrefix = "allow:"
)

const (
	helpText = "Welcome to the bot! Here are the available commands:\n" +
		"/start - Show the welcome message and available options.\n" +
		"/help - Show this help message.\n" +
		"/changeIP <ip_address> - Change the IP address and update iptables rules."

	unauthorizedText = "Unauthorized user."
	usageChangeIP    = "Usage: /changeIP <ip_address>"
	menuText         = "Click a button to perform an action:"
	shareText        = "Click the link to share your IP:"
	knockToast       = "✊✊ Knock knock... Who's there? 🚪"
	noAddressText    = "Unable to get public IP address at the moment."
	addressHolder    = "<IP>"
)

func whitelistedText(ip string) string {
	return fmt.Sprintf("IP address %s added to whitelist.", ip)
}

func whitelistErrorText(ip string) string {
	return fmt.Sprintf("Error adding IP address %s to whitelist.", ip)
}

func changeFailedText(err error) string {
	return fmt.Sprintf("Failed to update IP: %s", err)
}

func knockLabel(ip string) string {
	if ip == "" {
		ip = addressHolder
	}
	return fmt.Sprintf("✊🚪 Knock Door w/ %s", ip)
}

func refreshRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔄 Refresh 🔄", Refresh))
}

func newMenu(chatID int64, ip string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, menuText)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📡 Update IP for door knocking", ShareIP)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(knockLabel(ip), KnockDoor)),
	)
	return msg
}

func newShareMessage(chatID int64, url string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, shareText)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Share Public IP", url)),
		refreshRow(),
	)
	return msg
}

// newStatus is an outcome line prefixed with emoji, with a Refresh button.
func newStatus(chatID int64, text, emoji string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, emoji+" "+text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(refreshRow())
	return msg
}

func newKnockAlert(chatID int64, ip string, port uint16) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("<b>ALERT.</b> New SYN from <u>%s:%d</u>", ip, port))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Allow "+ip, AllowPrefix+ip)),
	)
	return msg
}

// parseAllow extracts the address from "allow:<ip>" callback data.
func parseAllow(data string) (string, bool) {
	if !strings.HasPrefix(data, AllowPrefix) {
		return "", false
	}
	ip := strings.TrimPrefix(data, AllowPrefix)
	return ip, ip != ""
}
