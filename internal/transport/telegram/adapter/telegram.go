// Package adapter implements the chat gateway on Telegram via telebot.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "pepitobot/internal/runtime/supervisor"
	kit "pepitobot/internal/transport"
	logx "pepitobot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns adapter internal goroutines (poll loop, drop logger, stop watcher).
	// It is created on Start() and cancelled on Stop().
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop; reported periodically instead of per update.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Chat == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				ThreadID:     m.ThreadID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
				IsGroup:      isGroup(m.Chat),
				ChatTitle:    m.Chat.Title,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnAddedToGroup, func(c tele.Context) error {
		ch := c.Chat()
		if ch == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind:   kit.UpdateJoined,
			Server: &kit.Server{ID: kit.FormatServerID(ch.ID), Name: ch.Title},
		})
		return nil
	})

	// my_chat_member covers both supergroup admission (where added_to_group
	// does not fire) and removal.
	a.bot.Handle(tele.OnMyChatMember, func(c tele.Context) error {
		cm := c.ChatMember()
		if cm == nil || cm.Chat == nil || cm.NewChatMember == nil {
			return nil
		}
		if !isGroup(cm.Chat) {
			return nil
		}
		srv := &kit.Server{ID: kit.FormatServerID(cm.Chat.ID), Name: cm.Chat.Title}
		switch cm.NewChatMember.Role {
		case tele.Left, tele.Kicked:
			a.sendUpdate(kit.Update{Kind: kit.UpdateLeft, Server: srv})
		case tele.Member, tele.Administrator:
			var oldRole tele.MemberStatus
			if cm.OldChatMember != nil {
				oldRole = cm.OldChatMember.Role
			}
			if oldRole == tele.Left || oldRole == tele.Kicked || oldRole == "" {
				a.sendUpdate(kit.Update{Kind: kit.UpdateJoined, Server: srv})
			}
		}
		return nil
	})
}

func isGroup(c *tele.Chat) bool {
	return c.Type == tele.ChatGroup || c.Type == tele.ChatSuperGroup
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		// adapter errors should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
	})

	// Telebot's Start() is a long-running loop. In some failure modes it can
	// exit unexpectedly; run it under a restart loop so the adapter self-heals.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started")
		if a.bot != nil {
			a.bot.Start()
		}
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		a.log.Debug("telegram stop called but not running")
		return nil
	}

	if sup != nil {
		sup.Cancel()
	}
	// telebot Stop is expected to be fast; run it async just in case.
	if a.bot != nil {
		go a.bot.Stop()
	}
	if sup == nil {
		return nil
	}

	// Grace window: keep shutdown snappy even if getUpdates long-poll is
	// still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		if sup.Context().Err() != nil {
			a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
			return nil
		}
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

const telegramTextLimit = 4000

// splitTelegramText splits long messages into chunks safe to send to
// Telegram, preferring newline boundaries.
func splitTelegramText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitTelegramText(text, telegramTextLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range chunks {
		select {
		case <-ctx.Done():
			if first.MessageID != 0 {
				return first, ctx.Err()
			}
			return kit.MessageRef{}, ctx.Err()
		default:
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			if first.MessageID != 0 {
				return first, err
			}
			return kit.MessageRef{}, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, photo kit.Photo, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	select {
	case <-ctx.Done():
		return kit.MessageRef{}, ctx.Err()
	default:
	}
	p := &tele.Photo{File: tele.FromURL(photo.URL), Caption: photo.Caption}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, p, &tele.SendOptions{
		ParseMode: opt.ParseMode,
		ThreadID:  to.ThreadID,
	})
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

// Channels returns the locations the bot could post into on the given
// server. Telegram exposes no topic listing over the Bot API, so the main
// chat is the only enumerable channel; forum topics become reachable once an
// admin configures one explicitly.
func (a *Adapter) Channels(ctx context.Context, serverID string) ([]kit.Channel, error) {
	chatID, err := kit.ParseServerID(serverID)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	ch, err := a.bot.ChatByID(chatID)
	if err != nil {
		return nil, err
	}
	return []kit.Channel{{Target: kit.ChatTarget{ChatID: ch.ID}, Name: ch.Title}}, nil
}

func (a *Adapter) CanSend(ctx context.Context, to kit.ChatTarget) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	m, err := a.bot.ChatMemberOf(&tele.Chat{ID: to.ChatID}, a.bot.Me)
	if err != nil {
		return false
	}
	switch m.Role {
	case tele.Left, tele.Kicked:
		return false
	case tele.Restricted:
		return m.Rights.CanSendMessages
	default:
		return true
	}
}

func (a *Adapter) Owner(ctx context.Context, serverID string) (kit.User, error) {
	chatID, err := kit.ParseServerID(serverID)
	if err != nil {
		return kit.User{}, err
	}
	select {
	case <-ctx.Done():
		return kit.User{}, ctx.Err()
	default:
	}
	admins, err := a.bot.AdminsOf(&tele.Chat{ID: chatID})
	if err != nil {
		return kit.User{}, err
	}
	for _, m := range admins {
		if m.Role == tele.Creator && m.User != nil {
			return kit.User{ID: m.User.ID, Username: m.User.Username, FirstName: m.User.FirstName}, nil
		}
	}
	return kit.User{}, fmt.Errorf("no creator among %d admins", len(admins))
}

func (a *Adapter) Member(ctx context.Context, serverID string) (kit.Server, error) {
	chatID, err := kit.ParseServerID(serverID)
	if err != nil {
		return kit.Server{}, err
	}
	select {
	case <-ctx.Done():
		return kit.Server{}, ctx.Err()
	default:
	}
	ch, err := a.bot.ChatByID(chatID)
	if err != nil {
		return kit.Server{}, err
	}
	m, err := a.bot.ChatMemberOf(ch, a.bot.Me)
	if err != nil {
		return kit.Server{}, err
	}
	if m.Role == tele.Left || m.Role == tele.Kicked {
		return kit.Server{}, fmt.Errorf("not a member of chat %d", chatID)
	}
	return kit.Server{ID: serverID, Name: ch.Title}, nil
}

func (a *Adapter) IsAdmin(ctx context.Context, serverID string, userID int64) (bool, error) {
	chatID, err := kit.ParseServerID(serverID)
	if err != nil {
		return false, err
	}
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	m, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return false, err
	}
	return m.Role == tele.Creator || m.Role == tele.Administrator, nil
}
