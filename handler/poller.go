package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"group-adder/internal/governor"
	"group-adder/internal/integrations/telegram"
)

const (
	defaultPollTimeout = 25
	minBackoff         = time.Second
	maxBackoff         = time.Minute
)

// UpdateSource long-polls the platform for operator updates.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]telegram.Update, error)
}

// Poller feeds updates from the platform into the dispatcher.
type Poller struct {
	src     UpdateSource
	handler *Handler
	disp    *Dispatcher
	timeout int
	sleep   governor.SleepFunc
	logger  *slog.Logger
}

func NewPoller(src UpdateSource, h *Handler, d *Dispatcher, timeoutSeconds int, logger *slog.Logger) (*Poller, error) {
	if src == nil {
		return nil, errors.New("handler: update source must not be nil")
	}
	if h == nil {
		return nil, errors.New("handler: handler must not be nil")
	}
	if d == nil {
		return nil, errors.New("handler: dispatcher must not be nil")
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultPollTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{src: src, handler: h, disp: d, timeout: timeoutSeconds, sleep: governor.Sleep, logger: logger}, nil
}

// Run polls until ctx is done. Fetch errors back off exponentially.
func (p *Poller) Run(ctx context.Context) error {
	var offset int64
	backoff := minBackoff
	for ctx.Err() == nil {
		updates, err := p.src.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.logger.Warn("getUpdates failed", "err", err, "retry_in", backoff)
			if err := p.sleep(ctx, backoff); err != nil {
				break
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff
		for _, u := range updates {
			offset = max(offset, u.UpdateID+1)
			p.dispatch(u)
		}
	}
	p.logger.Info("poller stopped", "offset", offset)
	return nil
}

func (p *Poller) dispatch(u telegram.Update) {
	key, ok := SessionKey(u)
	if !ok {
		return
	}
	job := func(ctx context.Context) {
		// Errors are logged inside Handle.
		_ = p.handler.Handle(ctx, u)
	}
	var err error
	if IsInterrupt(u) {
		err = p.disp.Go(job)
	} else {
		err = p.disp.Submit(key, job)
	}
	if err != nil {
		p.logger.Warn("update dropped", "update_id", u.UpdateID, "session", key, "err", err)
	}
}
