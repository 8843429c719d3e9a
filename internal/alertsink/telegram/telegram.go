// Package telegram implements an alertsink.AlertSink that delivers every
// alert as a formatted Telegram message. Grounded on the teacher's
// notification_service.go NotificationService (bot init, persisted chat
// ID, Notify helper), generalized from the teacher's single
// trade-approval message to the Signal Tracker's eight alert kinds.
package telegram

import (
	"fmt"
	"os"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sentineldesk/tracker/internal/alertsink"
	"github.com/sentineldesk/tracker/internal/obslog"
)

const chatIDFile = "telegram_chat_id.txt"

// Sink sends every alert to a single configured Telegram chat. A nil bot
// (no TELEGRAM_BOT_TOKEN configured) makes every method a silent no-op, so
// callers never need to check whether Telegram is enabled.
type Sink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *obslog.Logger
}

// New initializes the bot from the environment, matching the teacher's
// NewNotificationService. Returns a disabled Sink (nil bot) rather than an
// error when no token is configured, since Telegram delivery is optional.
func New() *Sink {
	log := obslog.New("alertsink.telegram")
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Printf("TELEGRAM_BOT_TOKEN not set, Telegram alerts disabled")
		return &Sink{log: log}
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Printf("failed to init Telegram bot: %v", err)
		return &Sink{log: log}
	}

	s := &Sink{bot: bot, log: log}
	if id := os.Getenv("TELEGRAM_CHAT_ID"); id != "" {
		if parsed, err := strconv.ParseInt(id, 10, 64); err == nil {
			s.chatID = parsed
		}
	}
	if s.chatID == 0 {
		s.chatID = s.loadChatID()
	}
	return s
}

func (s *Sink) loadChatID() int64 {
	data, err := os.ReadFile(chatIDFile)
	if err != nil {
		return 0
	}
	id, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (s *Sink) saveChatID(id int64) {
	if err := os.WriteFile(chatIDFile, []byte(fmt.Sprintf("%d", id)), 0o644); err != nil {
		s.log.Printf("failed to persist chat id: %v", err)
	}
}

// ListenForChatID blocks, consuming Telegram updates only to capture the
// admin's chat ID on their first /start, matching the teacher's
// auto-configure step in StartEventListener.
func (s *Sink) ListenForChatID() {
	if s.bot == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.bot.GetUpdatesChan(u)
	for update := range updates {
		if update.Message == nil {
			continue
		}
		if s.chatID == 0 || s.chatID != update.Message.Chat.ID {
			s.chatID = update.Message.Chat.ID
			s.saveChatID(s.chatID)
			s.log.Printf("chat id captured: %d", s.chatID)
		}
	}
}

func (s *Sink) send(text string) {
	if s.bot == nil || s.chatID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := s.bot.Send(msg); err != nil {
		s.log.Printf("send failed: %v", err)
	}
}

func (s *Sink) Approach(a alertsink.ApproachAlert) {
	s.send(fmt.Sprintf("🔔 *APPROACHING*\n%s %s limit #%d @ %s (%s away)",
		a.Signal.Instrument, a.Signal.Direction, a.Limit.SequenceNumber, a.Limit.PriceLevel, a.DistanceTo))
}

func (s *Sink) LimitHit(a alertsink.LimitHitAlert) {
	s.send(fmt.Sprintf("✅ *LIMIT HIT*\n%s %s limit #%d hit @ %s",
		a.Signal.Instrument, a.Signal.Direction, a.Limit.SequenceNumber, a.HitPrice))
}

func (s *Sink) StopLoss(a alertsink.StopLossAlert) {
	s.send(fmt.Sprintf("🛑 *STOP LOSS HIT*\n%s %s stopped out @ %s",
		a.Signal.Instrument, a.Signal.Direction, a.Price))
}

func (s *Sink) SpreadHourCancel(a alertsink.SpreadHourCancelAlert) {
	s.send(fmt.Sprintf("⏱️ *CANCELLED — SPREAD HOUR*\n%s signal #%d cancelled during the daily spread window",
		a.Signal.Instrument, a.Signal.ID))
}

func (s *Sink) NewsCancel(a alertsink.NewsCancelAlert) {
	s.send(fmt.Sprintf("📰 *CANCELLED — NEWS BLACKOUT*\n%s signal #%d cancelled (%s news window)",
		a.Signal.Instrument, a.Signal.ID, a.Event.Category))
}

func (s *Sink) NewsActivated(a alertsink.NewsActivatedAlert) {
	s.send(fmt.Sprintf("📰 *NEWS WINDOW OPEN*\n%s category affecting %s", a.Event.Category, a.Instrument))
}

func (s *Sink) AutoTP(a alertsink.AutoTPAlert) {
	s.send(fmt.Sprintf("💰 *AUTO TAKE-PROFIT*\n%s %s closed automatically (last %s, earlier %s)",
		a.Signal.Instrument, a.Signal.Direction, a.LastPnL.StringFixed(2), a.EarlierSum.StringFixed(2)))
}

func (s *Sink) AdminNotification(a alertsink.AdminNotification) {
	s.send("⚠️ " + a.Message)
}
