package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"airose/pkg/api"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TextOnlyNotice answers updates that carry no text (stickers, photos, voice).
const TextOnlyNotice = "Sorry, I can only read text messages for now."

// TelegramConfig encapsulates the credentials required to authenticate with
// the Telegram Bot API.
type TelegramConfig struct {
	Token string `json:"token"` // The secret BOT API string provided by @BotFather
	// AllowedChats restricts the bot to these chat ids. Empty allows everyone.
	AllowedChats []int64 `json:"allowed_chats,omitempty"`
}

// botAPI is the part of *tgbotapi.BotAPI the channel uses.
type botAPI interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramChannel is the production implementation of gateway.Channel for
// the Telegram platform. It long-polls for updates and splits long replies
// into several bubbles.
type TelegramChannel struct {
	config       TelegramConfig     // Auth credentials
	bot          botAPI             // Underlying Telegram SDK client
	httpClient   *http.Client       // Client used by the bot, aborted on Stop
	messageLimit int                // Maximum character count per single message bubble
	allowed      map[int64]bool     // Empty means every chat is allowed
	pollTimeout  int                // Long-poll timeout in seconds
	retryDelay   time.Duration      // Wait after a failed poll
	stopCtx      context.Context    // Context used to forcibly abort the long-polling HTTP request
	stopCancel   context.CancelFunc // Function to trigger the abort
	done         chan struct{}
}

func NewTelegramChannel(cfg TelegramConfig, msgLimit int) (*TelegramChannel, error) {
	ctx, cancel := context.WithCancel(context.Background())

	// 綁定 stopCtx 到 DialContext，Stop() 時能中斷進行中的 long-poll，避免 409 Conflict
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	botHTTPClient := &http.Client{
		Timeout: 90 * time.Second,
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				mergedCtx, mergedCancel := context.WithCancel(dialCtx)
				go func() {
					select {
					case <-ctx.Done():
						mergedCancel()
					case <-mergedCtx.Done():
					}
				}()
				return dialer.DialContext(mergedCtx, network, addr)
			},
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, botHTTPClient)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	t := newChannel(cfg, bot, msgLimit)
	t.httpClient = botHTTPClient
	t.stopCancel()
	t.stopCtx, t.stopCancel = ctx, cancel
	return t, nil
}

func newChannel(cfg TelegramConfig, bot botAPI, msgLimit int) *TelegramChannel {
	if msgLimit <= 0 {
		msgLimit = 4000
	}
	allowed := make(map[int64]bool, len(cfg.AllowedChats))
	for _, id := range cfg.AllowedChats {
		allowed[id] = true
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TelegramChannel{
		config:       cfg,
		bot:          bot,
		messageLimit: msgLimit,
		allowed:      allowed,
		pollTimeout:  60,
		retryDelay:   3 * time.Second,
		stopCtx:      ctx,
		stopCancel:   cancel,
		done:         make(chan struct{}),
	}
}

// ID returns the unique platform identifier "telegram".
func (t *TelegramChannel) ID() string {
	return "telegram"
}

// Start initiates the long-polling update loop in a background goroutine.
func (t *TelegramChannel) Start(ctx api.ChannelContext) error {
	go t.poll(ctx)
	return nil
}

func (t *TelegramChannel) poll(ctx api.ChannelContext) {
	defer close(t.done)
	offset := 0
	for {
		select {
		case <-t.stopCtx.Done():
			return
		default:
		}

		reqConfig := tgbotapi.NewUpdate(offset)
		reqConfig.Timeout = t.pollTimeout

		// tgbotapi v5 的 GetUpdates 沒有 context，靠 Stop() 取消底層連線
		updates, err := t.bot.GetUpdates(reqConfig)
		if err != nil {
			select {
			case <-t.stopCtx.Done():
				return
			case <-time.After(t.retryDelay):
				slog.Debug("Failed to get telegram updates", "error", err)
				continue
			}
		}

		for _, update := range updates {
			if update.UpdateID < offset {
				continue
			}
			offset = update.UpdateID + 1
			t.dispatch(ctx, update)
		}
	}
}

// dispatch turns one update into a gateway message.
func (t *TelegramChannel) dispatch(ctx api.ChannelContext, update tgbotapi.Update) {
	m := update.Message
	if m == nil || m.Chat == nil {
		return
	}
	if len(t.allowed) > 0 && !t.allowed[m.Chat.ID] {
		slog.Warn("Ignoring message from unlisted chat", "chat_id", m.Chat.ID)
		return
	}

	session := api.SessionContext{
		ChannelID: t.ID(),
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
	}
	if m.From != nil {
		session.UserID = strconv.FormatInt(m.From.ID, 10)
		session.Username = m.From.UserName
		if session.Username == "" {
			session.Username = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
		}
	}

	content := m.Text
	if content == "" {
		content = m.Caption
	}
	if strings.TrimSpace(content) == "" {
		if err := t.Send(session, TextOnlyNotice); err != nil {
			slog.Error("Failed to send text-only notice", "error", err)
		}
		return
	}

	ctx.OnMessage(t.ID(), &api.UnifiedMessage{
		Session: session,
		Content: content,
		Raw:     update,
	})
}

// SendSignal implements the gateway.SignalingChannel interface
func (t *TelegramChannel) SendSignal(session api.SessionContext, signal string) error {
	if signal != "thinking" {
		return nil
	}
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return err
	}
	_, err = t.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

func (t *TelegramChannel) Stop() error {
	t.stopCancel() // Cancel our custom long-polling loop immediately

	// 清掉閒置連線，進行中的請求由 DialContext 綁定的 stopCtx 中斷
	if t.httpClient != nil {
		if transport, ok := t.httpClient.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
	}
	return nil
}

func (t *TelegramChannel) Send(session api.SessionContext, message string) error {
	// Telegram Chat ID must be int64
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id for telegram: %s", session.ChatID)
	}

	for i, chunk := range splitMessage(message, t.messageLimit) {
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("telegram send chunk %d failed: %w", i, err)
		}
	}
	return nil
}

// splitMessage cuts text into pieces of at most limit runes, preferring to
// break after a newline in the second half of a piece.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var out []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i >= limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
