package telegram

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

// botAPI is the part of *tgbotapi.BotAPI the bot uses.
type botAPI interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}
