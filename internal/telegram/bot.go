// Package telegram connects the session state machine to a Telegram bot
// over long polling, and delivers reminders to chats.
package telegram

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hpungsan/classmate/internal/errors"
	"github.com/hpungsan/classmate/internal/session"
)

// Defaults.
const (
	DefaultWorkers     = 4
	DefaultPollTimeout = 60
	// DefaultDownloadTimeout bounds one photo download.
	DefaultDownloadTimeout = 60 * time.Second
	// MaxPhotoBytes caps a downloaded timetable image.
	MaxPhotoBytes = 20 << 20
)

// Inline keyboard labels for the delete confirmation.
const (
	labelConfirmDelete = "Yes, delete"
	labelCancelDelete  = "Cancel"
)

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Handler turns chat events into replies. *session.Manager implements it.
type Handler interface {
	HandleCommand(ctx context.Context, userID, command, args string) session.Reply
	HandlePhoto(ctx context.Context, userID string, image []byte) session.Reply
	HandleText(ctx context.Context, userID, text string) session.Reply
	HandleCallback(ctx context.Context, userID, data string) session.Reply
}

// Connect authenticates against the Bot API with token. Every API request
// is bounded by the long poll window plus timeout.
func Connect(token string, timeout time.Duration, logger *slog.Logger) (*tgbotapi.BotAPI, error) {
	if logger == nil {
		logger = slog.Default()
	}
	_ = tgbotapi.SetLogger(slog.NewLogLogger(logger.With("component", "telegram-api").Handler(), slog.LevelDebug))
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, newAPIClient(timeout))
	if err != nil {
		return nil, errors.NewCollaborator("telegram", err)
	}
	logger.Info("telegram bot authorized", "component", "telegram", "username", bot.Self.UserName)
	return bot, nil
}

// newAPIClient returns the HTTP client for Bot API calls. getUpdates holds
// its connection for up to DefaultPollTimeout seconds.
func newAPIClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: DefaultPollTimeout*time.Second + timeout}
}

// Option configures a Bot.
type Option func(*Bot)

// WithWorkers sets how many updates are handled concurrently. Updates from
// one user always go to the same worker, so they are handled in order.
func WithWorkers(n int) Option {
	return func(b *Bot) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithHTTPClient sets the client used to download photos.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bot) {
		if c != nil {
			b.http = c
		}
	}
}

// WithDownloadTimeout bounds each photo download.
func WithDownloadTimeout(d time.Duration) Option {
	return func(b *Bot) {
		if d > 0 {
			b.downloadTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) {
		if l != nil {
			b.logger = l
		}
	}
}

// Bot receives updates and answers them through a Handler.
type Bot struct {
	api             API
	handler         Handler
	workers         int
	http            *http.Client
	downloadTimeout time.Duration
	logger          *slog.Logger
}

// New creates a Bot.
func New(api API, handler Handler, opts ...Option) *Bot {
	b := &Bot{
		api:             api,
		handler:         handler,
		workers:         DefaultWorkers,
		http:            http.DefaultClient,
		downloadTimeout: DefaultDownloadTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "telegram")
	return b
}

// Run polls for updates until ctx is done. In-flight updates finish before
// Run returns.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = DefaultPollTimeout
	updates := b.api.GetUpdatesChan(u)

	shards := make([]chan tgbotapi.Update, b.workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan tgbotapi.Update, 16)
		wg.Add(1)
		go func(in <-chan tgbotapi.Update) {
			defer wg.Done()
			for update := range in {
				b.handle(ctx, update)
			}
		}(shards[i])
	}
	defer func() {
		for _, s := range shards {
			close(s)
		}
		wg.Wait()
	}()

	b.logger.Info("polling for updates", "workers", b.workers)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			user := updateUser(update)
			if user == 0 {
				continue
			}
			select {
			case shards[shardFor(user, len(shards))] <- update:
			case <-ctx.Done():
				b.api.StopReceivingUpdates()
				return nil
			}
		}
	}
}

func updateUser(u tgbotapi.Update) int64 {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return u.Message.From.ID
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		return u.CallbackQuery.From.ID
	}
	return 0
}

func shardFor(user int64, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(user, 10)))
	return int(h.Sum32() % uint32(n))
}

// handle processes one update. A panic is logged and the update dropped.
func (b *Bot) handle(ctx context.Context, u tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("update handler panicked", "update_id", u.UpdateID, "panic", fmt.Sprint(r))
		}
	}()

	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := strconv.FormatInt(msg.From.ID, 10)
	logger := b.logger.With("user_id", userID, "message_id", msg.MessageID)

	var reply session.Reply
	switch {
	case msg.IsCommand():
		reply = b.handler.HandleCommand(ctx, userID, msg.Command(), msg.CommandArguments())
	case len(msg.Photo) > 0:
		image, err := b.downloadPhoto(ctx, msg.Photo)
		if err != nil {
			logger.Error("download photo", "error", err, "error_kind", errors.Kind(err))
		}
		// An empty image fails extraction and gets the usual retry message.
		reply = b.handler.HandlePhoto(ctx, userID, image)
	case msg.Text != "":
		reply = b.handler.HandleText(ctx, userID, msg.Text)
	default:
		logger.Debug("ignoring unsupported message")
		return
	}

	if err := b.send(newMessage(msg.Chat.ID, reply)); err != nil {
		logger.Error("send reply", "error", err, "error_kind", errors.Kind(err))
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	userID := strconv.FormatInt(q.From.ID, 10)
	logger := b.logger.With("user_id", userID, "callback", q.Data)

	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		logger.Warn("answer callback", "error", err)
	}

	reply := b.handler.HandleCallback(ctx, userID, q.Data)

	if q.Message == nil {
		return
	}
	edit := tgbotapi.NewEditMessageText(q.Message.Chat.ID, q.Message.MessageID, reply.Text)
	if reply.Markdown {
		edit.ParseMode = tgbotapi.ModeMarkdown
	}
	_, err := b.api.Send(edit)
	if err != nil && reply.Markdown {
		edit.ParseMode = ""
		_, err = b.api.Send(edit)
	}
	if err != nil {
		logger.Error("edit message", "error", err)
	}
}

// downloadPhoto fetches the largest size Telegram offers within the
// download timeout.
func (b *Bot) downloadPhoto(ctx context.Context, sizes []tgbotapi.PhotoSize) ([]byte, error) {
	largest := sizes[len(sizes)-1]
	url, err := b.api.GetFileDirectURL(largest.FileID)
	if err != nil {
		return nil, errors.NewCollaborator("telegram", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, errors.NewCollaborator("telegram", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewCollaborator("telegram", fmt.Errorf("download photo: status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxPhotoBytes))
	if err != nil {
		return nil, errors.NewCollaborator("telegram", err)
	}
	return data, nil
}

func (b *Bot) send(msg tgbotapi.MessageConfig) error {
	return sendMessage(b.api, b.logger, msg)
}

// sendMessage sends msg, retrying as plain text when Telegram rejects the
// Markdown.
func sendMessage(api API, logger *slog.Logger, msg tgbotapi.MessageConfig) error {
	_, err := api.Send(msg)
	if err == nil || msg.ParseMode == "" {
		return err
	}
	logger.Warn("markdown rejected; resending as plain text", "chat_id", msg.ChatID, "error", err)
	msg.ParseMode = ""
	_, err = api.Send(msg)
	return err
}

func newMessage(chatID int64, reply session.Reply) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, reply.Text)
	if reply.Markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	if reply.Confirm {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(labelConfirmDelete, session.CallbackConfirmDelete),
				tgbotapi.NewInlineKeyboardButtonData(labelCancelDelete, session.CallbackCancelDelete),
			),
		)
	}
	return msg
}

// Deliverer sends reminders to the private chat whose id equals the user id.
type Deliverer struct {
	api    API
	logger *slog.Logger
}

// NewDeliverer returns a dispatch.Deliverer sending through api.
func NewDeliverer(api API, logger *slog.Logger) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{api: api, logger: logger.With("component", "telegram")}
}

// Deliver implements dispatch.Deliverer. It returns ctx.Err() once ctx is
// done even if the send is still in flight; the abandoned send ends with
// the API client timeout.
func (d *Deliverer) Deliver(ctx context.Context, userID, text string) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("user id %q is not a telegram chat id", userID))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- sendMessage(d.api, d.logger, newMessage(chatID, session.Reply{Text: text, Markdown: true}))
	}()
	select {
	case err := <-done:
		if err != nil {
			return errors.NewCollaborator("telegram", err)
		}
		return nil
	case <-ctx.Done():
		d.logger.Warn("delivery abandoned", "user_id", userID, "error", ctx.Err())
		return ctx.Err()
	}
}
