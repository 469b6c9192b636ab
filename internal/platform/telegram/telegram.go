package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"homepulse/internal/platform"
	logx "homepulse/pkg/logx"
)

// Config configures the Telegram delivery channel.
type Config struct {
	Token       string
	ChatID      int64
	PollTimeout time.Duration
	RatePerSec  int
}

// Deliverer sends rendered notifications to a Telegram chat with inline
// open/dismiss buttons and reports button taps back as outcomes.
type Deliverer struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	limiter *rate.Limiter

	mu      sync.Mutex
	handler func(platform.Outcome)

	// denied flips when the API tells us we are blocked or the token is
	// revoked; further scheduling is refused with ErrPermission.
	denied atomic.Bool

	runMu   sync.Mutex
	running bool
}

func New(cfg Config, log logx.Logger) (*Deliverer, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}

	d := &Deliverer{
		cfg: cfg,
		log: log,
		bot: b,
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(perSec), perSec),
	}
	d.registerHandlers()
	return d, nil
}

// Start begins long-polling so button taps reach us. Blocks until the
// poller exits; run it in a goroutine and cancel ctx to stop.
func (d *Deliverer) Start(ctx context.Context) {
	d.runMu.Lock()
	if d.running {
		d.runMu.Unlock()
		return
	}
	d.running = true
	d.runMu.Unlock()

	go func() {
		<-ctx.Done()
		d.bot.Stop()
	}()
	d.bot.Start()

	d.runMu.Lock()
	d.running = false
	d.runMu.Unlock()
}

func (d *Deliverer) SetOutcomeHandler(fn func(platform.Outcome)) {
	d.mu.Lock()
	d.handler = fn
	d.mu.Unlock()
}

func (d *Deliverer) emit(o platform.Outcome) {
	d.mu.Lock()
	fn := d.handler
	d.mu.Unlock()
	if fn != nil {
		fn(o)
	}
}

func (d *Deliverer) Permitted(ctx context.Context) error {
	_ = ctx
	if d.denied.Load() {
		return platform.ErrPermission
	}
	return nil
}

func (d *Deliverer) Deliver(ctx context.Context, req platform.Request) error {
	if d.denied.Load() {
		return platform.ErrPermission
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	text := formatMessage(req.Message)
	rm := &tele.ReplyMarkup{}
	rm.Inline(rm.Row(
		tele.Btn{Text: "Open", Data: "open|" + req.ID},
		tele.Btn{Text: "Dismiss", Data: "dismiss|" + req.ID},
	))

	chat := &tele.Chat{ID: d.cfg.ChatID}
	_, err := d.bot.Send(chat, text, &tele.SendOptions{
		ParseMode:   tele.ModeHTML,
		ReplyMarkup: rm,
	})
	if err != nil {
		if isPermissionErr(err) {
			d.denied.Store(true)
			return fmt.Errorf("%w: %v", platform.ErrPermission, err)
		}
		return err
	}
	return nil
}

func (d *Deliverer) registerHandlers() {
	d.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil {
			return nil
		}
		// telebot prefixes unique-less callback data with "\f".
		data := strings.TrimPrefix(cb.Data, "\f")
		verb, id, ok := strings.Cut(data, "|")
		if !ok {
			return nil
		}
		now := time.Now()
		switch verb {
		case "open":
			d.emit(platform.Outcome{RequestID: id, Kind: platform.OutcomeOpened, At: now})
			_ = c.Respond(&tele.CallbackResponse{Text: "Opened"})
		case "dismiss":
			d.emit(platform.Outcome{RequestID: id, Kind: platform.OutcomeDismissed, At: now})
			_ = c.Respond(&tele.CallbackResponse{Text: "Dismissed"})
		case "action":
			// action|<id>|<name>
			rid, action, _ := strings.Cut(id, "|")
			d.emit(platform.Outcome{RequestID: rid, Kind: platform.OutcomeAction, At: now, Action: action})
			_ = c.Respond(&tele.CallbackResponse{Text: "Done"})
		}
		return nil
	})
}

func formatMessage(m platform.Message) string {
	var b strings.Builder
	if m.Emoji != "" {
		b.WriteString(m.Emoji)
		b.WriteString(" ")
	}
	b.WriteString("<b>")
	b.WriteString(escapeHTML(m.Title))
	b.WriteString("</b>\n")
	b.WriteString(escapeHTML(m.Body))
	return b.String()
}

func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func isPermissionErr(err error) bool {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 401 || apiErr.Code == 403
	}
	return false
}
