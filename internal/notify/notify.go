package notify

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

	"droidpilot/internal/eventbus"
	"droidpilot/internal/model"
	"droidpilot/internal/status"
	logx "droidpilot/pkg/logx"
)

// Config for the Telegram notifier.
type Config struct {
	Enabled bool
	Token   string
	// ChatID receives the notifications.
	ChatID int64
}

// Notifier announces terminal task transitions to a Telegram chat. It is a
// pure bus consumer; failures to deliver a message never affect task
// processing.
type Notifier struct {
	cfg Config
	bus eventbus.Bus
	log logx.Logger
	bot *tele.Bot

	mu      sync.Mutex
	started bool
	unsub   func()
	done    chan struct{}
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger) (*Notifier, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{cfg: cfg, bus: bus, log: log}
	if !cfg.Enabled {
		return n, nil
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("notify: telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("notify: chat_id is required")
	}
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	n.bot = bot
	return n, nil
}

func (n *Notifier) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.bot == nil || n.started {
		return
	}
	n.started = true
	ch, unsub := n.bus.Subscribe(64)
	n.unsub = unsub
	n.done = make(chan struct{})
	go n.consume(ch)
	n.log.Info("notifier started", logx.Int64("chat_id", n.cfg.ChatID))
}

func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started {
		return
	}
	n.started = false
	n.unsub()
	<-n.done
}

func (n *Notifier) consume(ch <-chan eventbus.Event) {
	defer close(n.done)
	for ev := range ch {
		if ev.Type != status.EventTransition {
			continue
		}
		te, ok := ev.Data.(status.TransitionEvent)
		if !ok || !te.To.Terminal() {
			continue
		}
		if err := n.send(te); err != nil {
			n.log.Warn("notification send failed",
				logx.Int64("task", te.TaskID),
				logx.Err(err),
			)
		}
	}
}

func (n *Notifier) send(te status.TransitionEvent) error {
	var b strings.Builder
	switch te.To {
	case model.StatusSuccess:
		fmt.Fprintf(&b, "✅ task %d on %s succeeded", te.TaskID, te.DeviceName)
		if te.RetryCount > 0 {
			fmt.Fprintf(&b, " after %d retries", te.RetryCount)
		}
	case model.StatusFailed:
		fmt.Fprintf(&b, "❌ task %d on %s failed (retries: %d)", te.TaskID, te.DeviceName, te.RetryCount)
		if te.LastError != "" {
			fmt.Fprintf(&b, "\n%s", te.LastError)
		}
	default:
		return nil
	}
	_, err := n.bot.Send(tele.ChatID(n.cfg.ChatID), b.String())
	return err
}
