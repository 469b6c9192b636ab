package platform

import (
	"context"

	logx "homepulse/pkg/logx"
)

// LogDeliverer writes notifications to the log. It is the fallback
// channel when no Telegram target is configured, and doubles as a
// development aid.
type LogDeliverer struct {
	log logx.Logger
}

func NewLogDeliverer(log logx.Logger) *LogDeliverer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogDeliverer{log: log}
}

func (d *LogDeliverer) Deliver(ctx context.Context, req Request) error {
	_ = ctx
	d.log.Info("notification",
		logx.String("id", req.ID),
		logx.String("title", req.Message.Title),
		logx.String("body", req.Message.Body),
		logx.Int("priority", req.Message.Priority))
	return nil
}
