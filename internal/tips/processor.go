package tips

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ichi0g0y/tip-roulette/internal/broadcast"
	"github.com/ichi0g0y/tip-roulette/internal/commands"
	"github.com/ichi0g0y/tip-roulette/internal/roulette"
	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"go.uber.org/zap"
)

// DefaultQueueSize is used when Options.QueueSize is not positive.
const DefaultQueueSize = 1000

var ErrQueueFull = errors.New("tip queue is full")

// Tip is one tipping event (bits cheer, debug tip, ...).
type Tip struct {
	UserID   string
	Username string
	Tokens   int
	Message  string
}

// SpinEvent is the overlay payload emitted after a successful spin.
type SpinEvent struct {
	Username    string                `json:"username"`
	TipAmount   int                   `json:"tipAmount"`
	SpinsEarned int                   `json:"spinsEarned"`
	Results     []roulette.SpinResult `json:"results"`
	Animation   roulette.Animation    `json:"animation"`
	Animations  []roulette.Animation  `json:"animations"`
	Timestamp   int64                 `json:"timestamp"`
}

type Options struct {
	QueueSize      int
	NoticesEnabled bool
}

type job struct {
	tip *Tip
	cmd *commandJob
}

type commandJob struct {
	cmd  commands.Command
	user commands.ChatUser
}

// Processor serializes tips and chat commands through one worker.
type Processor struct {
	resolver   *roulette.Resolver
	dispatcher *commands.Dispatcher
	notifier   Notifier
	emitter    broadcast.Emitter
	notices    bool

	queue chan job

	// spinMu は同一ユーザーのクールダウン確認と書き込みの間に割り込ませないためのロック
	spinMu sync.Mutex

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewProcessor(resolver *roulette.Resolver, dispatcher *commands.Dispatcher, notifier Notifier, emitter broadcast.Emitter, opts Options) *Processor {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if emitter == nil {
		emitter = broadcast.Nop
	}
	return &Processor{
		resolver:   resolver,
		dispatcher: dispatcher,
		notifier:   notifier,
		emitter:    emitter,
		notices:    opts.NoticesEnabled,
		queue:      make(chan job, size),
	}
}

// Start launches the worker. Calling Start on a running processor does nothing.
func (p *Processor) Start(ctx context.Context) {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if p.cancel != nil {
		return
	}

	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(workerCtx, p.done)
}

// Stop halts the worker and waits for the job in progress. Queued jobs stay queued
// and are handled by the next Start.
func (p *Processor) Stop() {
	p.lifeMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.lifeMu.Unlock()

	if cancel == nil {
		return
	}
	logger.Info("Stopping tip queue worker")
	cancel()
	<-done
}

func (p *Processor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	logger.Info("Tip queue worker started", zap.Int("queue_size", cap(p.queue)))
	for {
		select {
		case <-ctx.Done():
			logger.Info("Tip queue worker stopped")
			return
		case j := <-p.queue:
			switch {
			case j.tip != nil:
				p.ProcessTip(ctx, *j.tip)
			case j.cmd != nil:
				p.HandleCommand(ctx, j.cmd.cmd, j.cmd.user)
			}
		}
	}
}

// EnqueueTip queues a tip without blocking.
func (p *Processor) EnqueueTip(tip Tip) error {
	select {
	case p.queue <- job{tip: &tip}:
		return nil
	default:
		logger.Error("Tip queue full, dropping tip",
			zap.String("username", tip.Username),
			zap.Int("tokens", tip.Tokens),
			zap.Int("queue_size", cap(p.queue)))
		return ErrQueueFull
	}
}

// EnqueueCommand queues a chat command without blocking.
func (p *Processor) EnqueueCommand(cmd commands.Command, user commands.ChatUser) error {
	select {
	case p.queue <- job{cmd: &commandJob{cmd: cmd, user: user}}:
		return nil
	default:
		logger.Error("Tip queue full, dropping command",
			zap.String("command", cmd.Name),
			zap.String("user", user.Login),
			zap.Int("queue_size", cap(p.queue)))
		return ErrQueueFull
	}
}

// ProcessTip resolves a tip, sends the chat notices and emits the overlay spin event.
// Tips with no tokens or no username are ignored and return a zero Outcome.
func (p *Processor) ProcessTip(ctx context.Context, tip Tip) roulette.Outcome {
	username := strings.TrimSpace(tip.Username)
	if username == "" || tip.Tokens <= 0 {
		logger.Debug("Ignoring empty tip",
			zap.String("username", tip.Username),
			zap.Int("tokens", tip.Tokens))
		return roulette.Outcome{}
	}

	p.spinMu.Lock()
	outcome := p.resolver.Resolve(ctx, username, tip.Tokens)
	p.spinMu.Unlock()

	if !outcome.Success {
		fields := []zap.Field{
			zap.String("username", username),
			zap.Int("tokens", tip.Tokens),
			zap.String("reason", string(outcome.Error)),
		}
		if outcome.Cause != nil {
			fields = append(fields, zap.Error(outcome.Cause))
		}
		logger.Info("Spin refused", fields...)
	} else {
		if outcome.Cause != nil {
			logger.Warn("Spin persisted partially",
				zap.String("username", username),
				zap.Bool("tracking_degraded", outcome.TrackingDegraded),
				zap.Bool("cooldown_degraded", outcome.CooldownDegraded),
				zap.Error(outcome.Cause))
		}
		p.emitter.Emit("spin", newSpinEvent(outcome))
	}

	p.sendNotices(ctx, FormatNotices(outcome))
	return outcome
}

// HandleCommand runs a chat command and posts its reply. Unknown commands are ignored.
func (p *Processor) HandleCommand(ctx context.Context, cmd commands.Command, user commands.ChatUser) string {
	if p.dispatcher == nil {
		return ""
	}
	reply, err := p.dispatcher.Handle(ctx, cmd, user)
	if errors.Is(err, commands.ErrUnknownCommand) {
		return ""
	}
	if reply != "" {
		p.sendNotices(ctx, []string{reply})
	}
	return reply
}

func (p *Processor) sendNotices(ctx context.Context, lines []string) {
	for _, line := range lines {
		if !p.notices {
			logger.Debug("Chat notices disabled", zap.String("text", line))
			continue
		}
		if err := p.notifier.SendNotice(ctx, line); err != nil {
			logger.Warn("Failed to send chat notice", zap.String("text", line), zap.Error(err))
		}
	}
}

func newSpinEvent(o roulette.Outcome) SpinEvent {
	ev := SpinEvent{
		Username:    o.Username,
		TipAmount:   o.TipAmount,
		SpinsEarned: o.SpinsEarned,
		Results:     o.Results,
		Animations:  o.Animations,
		Timestamp:   o.Timestamp,
	}
	if len(o.Animations) > 0 {
		ev.Animation = o.Animations[0]
	}
	return ev
}
