package telegram

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"klbot/pkg/channel"
	"klbot/pkg/config"
	"klbot/pkg/message"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const channelName = "telegram"
const messagePreviewLimit = 240

// Adapter bridges Telegram updates into bot messages and delivers replies.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom map[string]struct{}
	log       *slog.Logger

	mu   sync.RWMutex
	bot  *telego.Bot
	self telego.User
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       log.With("component", "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in messages and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and publishes every accepted text message.
func (a *Adapter) Run(ctx context.Context, publish channel.Publisher) error {
	if publish == nil {
		return errors.New("publisher is required")
	}

	opts, err := botOptions(a.cfg)
	if err != nil {
		return err
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token), opts...)
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	self, err := bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("resolve bot identity: %w", err)
	}

	a.mu.Lock()
	a.bot = bot
	a.self = *self
	a.mu.Unlock()

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started", "bot_id", self.ID, "username", self.Username)

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

			if update.Message == nil {
				continue
			}
			if update.Message.From == nil {
				a.log.Debug("Ignoring message without sender")
				continue
			}

			senderID := strconv.FormatInt(update.Message.From.ID, 10)
			if !a.senderAllowed(senderID) {
				a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
				continue
			}

			msg, ok := toMessage(update.Message, *self)
			if !ok {
				continue
			}
			a.log.Info("Received message", "chat_id", update.Message.Chat.ID, "sender_id", senderID, "context", msg.Context, "content", previewText(msg.PlainText()))

			if !publish(ctx, msg) {
				a.log.Warn("Dropping message, bot queue unavailable", "chat_id", update.Message.Chat.ID)
			}
		}
	}
}

// Deliver sends the text part of a reply as one message and each media element
// as a photo or voice message.
func (a *Adapter) Deliver(ctx context.Context, out message.Outbound) error {
	a.mu.RLock()
	bot := a.bot
	a.mu.RUnlock()
	if bot == nil {
		return errors.New("telegram channel is not running")
	}

	chatID := tu.ID(out.TargetID)

	if text := strings.TrimSpace(renderText(out.Chain)); text != "" {
		a.log.Info("Sending message", "chat_id", out.TargetID, "module_id", out.ModuleID, "content", previewText(text))
		if _, err := bot.SendMessage(ctx, tu.Message(chatID, text)); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}

	for _, elem := range out.Chain.Media() {
		file, closeFile, err := inputFile(elem)
		if err != nil {
			return err
		}

		switch elem.Type {
		case message.ElementImage:
			_, err = bot.SendPhoto(ctx, tu.Photo(chatID, file))
		case message.ElementVoice:
			_, err = bot.SendVoice(ctx, tu.Voice(chatID, file))
		}
		closeFile()
		if err != nil {
			return fmt.Errorf("send telegram %s: %w", strings.ToLower(string(elem.Type)), err)
		}
	}

	return nil
}

// botOptions routes API calls through the configured proxy, if any.
func botOptions(cfg config.TelegramConfig) ([]telego.BotOption, error) {
	proxy := strings.TrimSpace(cfg.Proxy)
	if proxy == "" {
		return nil, nil
	}

	proxyURL, err := url.Parse(proxy)
	if err != nil || proxyURL.Host == "" {
		return nil, fmt.Errorf("invalid channels.telegram.proxy %q", proxy)
	}

	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
	return []telego.BotOption{telego.WithHTTPClient(client)}, nil
}

// toMessage maps a Telegram message onto the bot message model. Private chats
// are direct messages addressed to the bot; everything else is a group
// message addressed to the chat. Naming the bot or replying to it counts as
// mentioning it.
func toMessage(tm *telego.Message, self telego.User) (message.Message, bool) {
	content := strings.TrimSpace(tm.Text)
	if content == "" {
		content = strings.TrimSpace(tm.Caption)
	}
	if content == "" || tm.From == nil {
		return message.Message{}, false
	}

	msg := message.Message{
		Channel:  channelName,
		Context:  message.Group,
		SenderID: tm.From.ID,
		TargetID: tm.Chat.ID,
		Payload:  message.Text{Text: content},
	}
	if tm.Chat.Type == telego.ChatTypePrivate {
		msg.Context = message.Direct
		msg.TargetID = self.ID
	}

	if self.Username != "" && strings.Contains(strings.ToLower(content), "@"+strings.ToLower(self.Username)) {
		msg.Mentions = append(msg.Mentions, self.ID)
	}
	if reply := tm.ReplyToMessage; reply != nil && reply.From != nil && reply.From.ID == self.ID && !msg.Mentioned(self.ID) {
		msg.Mentions = append(msg.Mentions, self.ID)
	}
	for _, entity := range tm.Entities {
		if entity.User != nil && !msg.Mentioned(entity.User.ID) {
			msg.Mentions = append(msg.Mentions, entity.User.ID)
		}
	}

	return msg, true
}

// renderText flattens the non-media elements of a chain.
func renderText(chain message.Chain) string {
	var text []message.Element
	for _, elem := range chain.Elements {
		if !elem.IsMedia() {
			text = append(text, elem)
		}
	}

	return message.NewChain(text...).PlainText()
}

// inputFile resolves a media element to an upload. The returned func releases
// any opened local file.
func inputFile(elem message.Element) (telego.InputFile, func(), error) {
	noop := func() {}

	switch elem.Source {
	case message.SourceBase64:
		data, err := base64.StdEncoding.DecodeString(elem.Value)
		if err != nil {
			return telego.InputFile{}, noop, fmt.Errorf("decode base64 media: %w", err)
		}
		name := "image.png"
		if elem.Type == message.ElementVoice {
			name = "voice.ogg"
		}
		return tu.File(tu.NameReader(bytes.NewReader(data), name)), noop, nil
	case message.SourceURL:
		parsed, err := url.Parse(elem.Value)
		if err != nil {
			return telego.InputFile{}, noop, fmt.Errorf("parse media url: %w", err)
		}
		if parsed.Scheme != "file" {
			return tu.FileFromURL(elem.Value), noop, nil
		}

		f, err := os.Open(parsed.Path)
		if err != nil {
			return telego.InputFile{}, noop, fmt.Errorf("open media file: %w", err)
		}
		return tu.File(f), func() { _ = f.Close() }, nil
	default:
		return telego.InputFile{}, noop, fmt.Errorf("unsupported media source %q", elem.Source)
	}
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= messagePreviewLimit {
		return string(runes)
	}

	return string(runes[:messagePreviewLimit]) + "..."
}
