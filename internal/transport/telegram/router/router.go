// Package router turns gateway updates into registry mutations and bot
// commands.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	kit "pepitobot/internal/transport"
	logx "pepitobot/pkg/logx"
)

// Registrar is the registry surface the router mutates.
type Registrar interface {
	Observe(ctx context.Context, srv kit.Server) error
	Configure(ctx context.Context, srv kit.Server, channelID string) error
	Remove(ctx context.Context, serverID string) error
}

// Announcer broadcasts operator text to all configured destinations and
// reports the server names that failed.
type Announcer interface {
	Announce(ctx context.Context, text string) ([]string, error)
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    string // raw remainder after the command word
}

type Router struct {
	log logx.Logger
	gw  kit.Gateway
	reg Registrar
	ann Announcer

	mu     sync.RWMutex
	owners []int64

	cmdTimeout time.Duration
}

func New(gw kit.Gateway, reg Registrar, ann Announcer, owners []int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:        log,
		gw:         gw,
		reg:        reg,
		ann:        ann,
		owners:     append([]int64(nil), owners...),
		cmdTimeout: 30 * time.Second,
	}
}

// SetOwners replaces the owner list. Safe to call during hot-reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.owners {
		if o == id {
			return true
		}
	}
	return false
}

// DispatchLoop consumes gateway updates until ctx is canceled or the channel
// closes. Updates are handled inline; the command set is small enough that a
// worker pool buys nothing.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	r.log.Info("update dispatcher started")
	defer r.log.Info("update dispatcher stopped")
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateJoined:
		r.onJoined(ctx, up)
	case kit.UpdateLeft:
		r.onLeft(ctx, up)
	case kit.UpdateMessage:
		r.onMessage(ctx, up)
	}
}

func (r *Router) onJoined(ctx context.Context, up kit.Update) {
	if up.Server == nil {
		return
	}
	if err := r.reg.Observe(ctx, *up.Server); err != nil {
		r.log.Warn("join not recorded", logx.String("server_id", up.Server.ID), logx.Err(err))
		return
	}
	chatID, err := kit.ParseServerID(up.Server.ID)
	if err != nil {
		return
	}
	welcome := "Thanks for adding me! I post Pépito's comings and goings here once a channel is picked. An admin can run /setchannel in the topic where updates should land."
	if _, err := r.gw.SendText(ctx, kit.ChatTarget{ChatID: chatID}, welcome, &kit.SendOptions{DisablePreview: true}); err != nil {
		r.log.Debug("welcome message failed", logx.String("server_id", up.Server.ID), logx.Err(err))
	}
}

func (r *Router) onLeft(ctx context.Context, up kit.Update) {
	if up.Server == nil {
		return
	}
	if err := r.reg.Remove(ctx, up.Server.ID); err != nil {
		r.log.Warn("removal not recorded", logx.String("server_id", up.Server.ID), logx.Err(err))
	}
}

func (r *Router) onMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}

	// any group traffic keeps the registry's name fresh
	if msg.IsGroup {
		srv := kit.Server{ID: kit.FormatServerID(msg.ChatID), Name: msg.ChatTitle}
		if err := r.reg.Observe(ctx, srv); err != nil {
			r.log.Debug("observe failed", logx.String("server_id", srv.ID), logx.Err(err))
		}
	}

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	word, args, _ := strings.Cut(text, " ")
	word = strings.TrimPrefix(word, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}

	var handler HandlerFunc
	switch word {
	case "start", "help":
		handler = r.cmdHelp
	case "setchannel":
		handler = r.cmdSetChannel
	case "announce":
		handler = r.cmdAnnounce
	default:
		return
	}

	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: word,
		Args:    strings.TrimSpace(args),
	}
	final := Chain(handler,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(r.cmdTimeout),
	)
	_ = final(ctx, req)
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	help := strings.Join([]string{
		"I relay Pépito the cat's door events.",
		"",
		"/setchannel  pick this channel for event posts (group admins)",
		"/announce <text>  broadcast to all configured groups (bot owner)",
	}, "\n")
	_, err := r.gw.SendText(ctx, req.Chat, help, &kit.SendOptions{DisablePreview: true})
	return err
}

func (r *Router) cmdSetChannel(ctx context.Context, req *Request) error {
	msg := req.Update.Message
	if !msg.IsGroup {
		_, err := r.gw.SendText(ctx, req.Chat, "Run /setchannel inside the group that should receive updates.", nil)
		return err
	}
	serverID := kit.FormatServerID(msg.ChatID)
	admin, err := r.gw.IsAdmin(ctx, serverID, req.FromID)
	if err != nil {
		r.log.Warn("admin check failed", logx.String("server_id", serverID), logx.Err(err))
		_, serr := r.gw.SendText(ctx, req.Chat, "Could not verify admin rights, try again.", nil)
		if serr != nil {
			return serr
		}
		return err
	}
	if !admin {
		_, err := r.gw.SendText(ctx, req.Chat, "Only group admins can set the notification channel.", nil)
		return err
	}

	srv := kit.Server{ID: serverID, Name: msg.ChatTitle}
	channelID := kit.FormatChannelID(req.Chat)
	if err := r.reg.Configure(ctx, srv, channelID); err != nil {
		_, serr := r.gw.SendText(ctx, req.Chat, "Saving the channel failed, try again.", nil)
		if serr != nil {
			return serr
		}
		return err
	}
	_, err = r.gw.SendText(ctx, req.Chat, "Done! Pépito updates will be posted here.", nil)
	return err
}

func (r *Router) cmdAnnounce(ctx context.Context, req *Request) error {
	if !r.isOwner(req.FromID) {
		_, err := r.gw.SendText(ctx, req.Chat, "unauthorized", nil)
		return err
	}
	if req.Args == "" {
		_, err := r.gw.SendText(ctx, req.Chat, "Usage: /announce <text>", nil)
		return err
	}

	failed, err := r.ann.Announce(ctx, req.Args)
	if err != nil {
		_, serr := r.gw.SendText(ctx, req.Chat, "Announcement failed: "+err.Error(), nil)
		if serr != nil {
			return serr
		}
		return err
	}
	reply := "Announcement delivered to all configured groups."
	if len(failed) > 0 {
		reply = fmt.Sprintf("Announcement sent, but %d group(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	_, err = r.gw.SendText(ctx, req.Chat, reply, &kit.SendOptions{DisablePreview: true})
	return err
}
