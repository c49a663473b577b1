package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"boorubot/pkg/apperr"
	"boorubot/pkg/bus"
	"boorubot/pkg/channel"
	"boorubot/pkg/config"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const channelName = "telegram"
const messagePreviewLimit = 240
const longPollTimeoutSeconds = 30

// botAPI is the part of *telego.Bot used for replies.
type botAPI interface {
	SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Adapter bridges Telegram updates into relay inbound messages and sends replies back.
type Adapter struct {
	bot *telego.Bot
	api botAPI
	log *slog.Logger
}

// NewAdapter validates the token and constructs the Bot API client.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, apperr.New(apperr.KindConfiguration, "BOT_TOKEN is required")
	}

	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "channel.telegram")

	opts := []telego.BotOption{
		telego.WithLogger(botLogger{log: log, token: token}),
	}
	if proxy := strings.TrimSpace(cfg.Proxy); proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindConfiguration, "invalid TELEGRAM_PROXY", err)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}

	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, "initialize telegram bot", err)
	}

	return &Adapter{
		bot: bot,
		api: bot,
		log: log,
	}, nil
}

// Name returns the channel identifier used in bus metadata and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and dispatches every text message to handler
// on its own goroutine, so slow lookups never hold up the polling loop.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}
	if a.bot == nil {
		return errors.New("telegram bot is not initialized")
	}

	updates, err := a.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        longPollTimeoutSeconds,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started", "username", a.bot.Username())
	return a.serve(ctx, updates, handler)
}

func (a *Adapter) serve(ctx context.Context, updates <-chan telego.Update, handler channel.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			inbound, ok := toInbound(update)
			if !ok {
				continue
			}
			a.log.Debug("Received message", "chat_id", inbound.ChatID, "sender_id", inbound.SenderID, "request_id", inbound.RequestID, "content", previewText(inbound.Content))

			go a.dispatch(ctx, handler, inbound)
		}
	}
}

// dispatch runs one handler invocation. Failures that escape the handler are
// logged and do not affect other messages.
func (a *Adapter) dispatch(ctx context.Context, handler channel.Handler, inbound bus.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("Handler panicked", "request_id", inbound.RequestID, "chat_id", inbound.ChatID, "panic", fmt.Sprint(r))
		}
	}()

	if err := handler(ctx, inbound); err != nil {
		a.log.Error("Unhandled failure processing message", "request_id", inbound.RequestID, "chat_id", inbound.ChatID, "kind", apperr.KindOf(err), "error", err)
	}
}

// Send delivers a photo with caption or a text message.
func (a *Adapter) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return err
	}

	var reply *telego.ReplyParameters
	if msg.ReplyTo > 0 {
		reply = &telego.ReplyParameters{MessageID: msg.ReplyTo}
	}

	if msg.IsPhoto() {
		params := tu.Photo(tu.ID(chatID), tu.FileFromURL(msg.PhotoURL)).
			WithCaption(msg.Content).
			WithParseMode(parseMode(msg.ParseMode))
		if reply != nil {
			params = params.WithReplyParameters(reply)
		}

		if _, err := a.api.SendPhoto(ctx, params); err != nil {
			return fmt.Errorf("send telegram photo: %w", err)
		}
		return nil
	}

	params := tu.Message(tu.ID(chatID), msg.Content).WithParseMode(parseMode(msg.ParseMode))
	if reply != nil {
		params = params.WithReplyParameters(reply)
	}

	a.log.Debug("Sending message", "chat_id", chatID, "content", previewText(msg.Content))
	if _, err := a.api.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// toInbound extracts a relay message from a text update. The text is kept
// as received so routing sees exactly what the user sent.
func toInbound(update telego.Update) (bus.InboundMessage, bool) {
	message := update.Message
	if message == nil {
		return bus.InboundMessage{}, false
	}

	if strings.TrimSpace(message.Text) == "" {
		return bus.InboundMessage{}, false
	}

	senderID := ""
	if message.From != nil {
		senderID = strconv.FormatInt(message.From.ID, 10)
	}

	return bus.InboundMessage{
		Channel:   channelName,
		SenderID:  senderID,
		ChatID:    strconv.FormatInt(message.Chat.ID, 10),
		MessageID: message.MessageID,
		Content:   message.Text,
		RequestID: uuid.NewString(),
		Metadata: map[string]string{
			"update_id": strconv.Itoa(update.UpdateID),
		},
	}, true
}

func parseMode(mode string) string {
	switch mode {
	case bus.ParseModeHTML:
		return telego.ModeHTML
	default:
		return ""
	}
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	return id, nil
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

// botLogger forwards telego diagnostics to slog with the token redacted.
type botLogger struct {
	log   *slog.Logger
	token string
}

func (l botLogger) Debugf(format string, args ...any) {
	l.log.Debug(l.redact(fmt.Sprintf(format, args...)))
}

func (l botLogger) Errorf(format string, args ...any) {
	l.log.Error(l.redact(fmt.Sprintf(format, args...)))
}

func (l botLogger) redact(text string) string {
	if l.token == "" {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(strings.ReplaceAll(text, l.token, "BOT_TOKEN"))
}
