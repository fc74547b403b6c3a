// Package twitch maintains the chat connection for a single channel.
package twitch

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	irc "github.com/gempir/go-twitch-irc/v4"

	"github.com/715209/belabot/internal/config"
)

// Message is one chat line with the sender's channel roles resolved
// from their badges.
type Message struct {
	Sender      string
	Text        string
	Broadcaster bool
	Moderator   bool
	Vip         bool
}

// Client wraps the IRC connection. The underlying library reconnects
// on its own, so Run only returns on shutdown or a fatal error such as
// rejected credentials.
type Client struct {
	irc      *irc.Client
	channel  string
	logger   *slog.Logger
	messages chan Message
}

// NewClient prepares a chat client for the configured channel. The
// connection is not opened until Run.
func NewClient(cfg config.TwitchConfig, logger *slog.Logger) *Client {
	c := &Client{
		irc:      irc.NewClient(cfg.BotUsername, oauthToken(cfg.BotOauth)),
		channel:  cfg.Channel,
		logger:   logger,
		messages: make(chan Message, 64),
	}

	c.irc.OnConnect(func() {
		c.logger.Info("connected to chat", "channel", c.channel)
	})
	c.irc.OnNoticeMessage(func(m irc.NoticeMessage) {
		c.logger.Warn("chat notice", "msg", m.Message)
	})
	c.irc.OnPrivateMessage(func(m irc.PrivateMessage) {
		select {
		case c.messages <- fromPrivateMessage(m):
		default:
			c.logger.Warn("chat message dropped, consumer not keeping up")
		}
	})
	c.irc.Join(cfg.Channel)

	return c
}

// oauthToken normalizes the configured token to the "oauth:" form the
// IRC server expects.
func oauthToken(token string) string {
	if strings.HasPrefix(token, "oauth:") {
		return token
	}
	return "oauth:" + token
}

func fromPrivateMessage(m irc.PrivateMessage) Message {
	return Message{
		Sender:      strings.ToLower(m.User.Name),
		Text:        m.Message,
		Broadcaster: m.User.Badges["broadcaster"] > 0,
		Moderator:   m.User.Badges["moderator"] > 0,
		Vip:         m.User.Badges["vip"] > 0,
	}
}

// Run connects and blocks until ctx is cancelled or the connection
// fails fatally. Transient drops are retried by the library.
func (c *Client) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := c.irc.Disconnect(); err != nil {
			c.logger.Debug("chat disconnect", "error", err)
		}
	}()

	err := c.irc.Connect()
	if errors.Is(err, irc.ErrClientDisconnected) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Messages returns the stream of incoming chat lines.
func (c *Client) Messages() <-chan Message { return c.messages }

// Send posts a message to the channel.
func (c *Client) Send(text string) error {
	c.irc.Say(c.channel, text)
	return nil
}
