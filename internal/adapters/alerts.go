package adapters

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/Marketen/validator-watcher/internal/application/ports"
	"github.com/Marketen/validator-watcher/internal/logger"
)

// slackAlerts posts alerts to one Slack channel.
type slackAlerts struct {
	client  *slack.Client
	channel string
	log     zerolog.Logger
}

// NewSlackAlerts returns an AlertSink posting to channel with a bot token.
func NewSlackAlerts(token, channel string) ports.AlertSink {
	return &slackAlerts{
		client:  slack.New(token),
		channel: channel,
		log:     logger.With("slack"),
	}
}

func (s *slackAlerts) Send(ctx context.Context, text string) error {
	// mirrored to the log
	s.log.Info().Msg(text)
	if _, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack post to %s: %w", s.channel, err)
	}
	return nil
}

// logAlerts writes alerts to the process log when no Slack token is configured.
type logAlerts struct {
	log zerolog.Logger
}

// NewLogAlerts returns an AlertSink that only logs.
func NewLogAlerts() ports.AlertSink {
	return &logAlerts{log: logger.With("alerts")}
}

func (l *logAlerts) Send(_ context.Context, text string) error {
	l.log.Info().Msg(text)
	return nil
}
