package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"group-adder/internal/domain"
	"group-adder/internal/governor"
)

const defaultCooldown = 60 * time.Second

// Platform is the external social-platform API the batch runs against.
type Platform interface {
	Self(ctx context.Context) (int64, error)
	ResolveAccount(ctx context.Context, destinationID int64, handle domain.TargetHandle) (domain.Account, error)
	GetMembershipStatus(ctx context.Context, destinationID, selfID int64) (domain.Membership, error)
	AddMember(ctx context.Context, destinationID, accountID int64) error
	GetChatMetadata(ctx context.Context, destinationID int64) (domain.Destination, error)
}

// ReportArchive stores finished batch reports.
type ReportArchive interface {
	SaveBatch(ctx context.Context, report domain.Report) error
}

// Executor runs one batch of additions for a session.
type Executor struct {
	platform Platform
	governor *governor.Governor
	archive  ReportArchive
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewExecutor wires a batch executor. archive may be nil to disable archiving.
func NewExecutor(p Platform, g *governor.Governor, archive ReportArchive, cooldown time.Duration, logger *slog.Logger) (*Executor, error) {
	if p == nil {
		return nil, errors.New("usecase: platform must not be nil")
	}
	if g == nil {
		return nil, errors.New("usecase: governor must not be nil")
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		platform: p,
		governor: g,
		archive:  archive,
		cooldown: cooldown,
		now:      time.Now,
		logger:   logger,
	}, nil
}

// Execute attempts every target in order and returns the report. A cancelled
// ctx stops the batch before the next target; calls already dispatched run to
// completion. The returned report is always usable, even alongside an error.
func (e *Executor) Execute(ctx context.Context, s *domain.Session, dest domain.Destination) (report domain.Report, err error) {
	if s == nil {
		return domain.Report{}, newError(ErrorInternal, "nil_session", nil)
	}
	if len(s.Targets) == 0 {
		return domain.Report{}, newError(ErrorInvalidInput, "empty_target_list", nil)
	}
	if !dest.Kind.IsGroup() {
		return domain.Report{}, newError(ErrorInvalidInput, "destination_not_group", nil)
	}
	if !dest.CanAddMembers {
		return domain.Report{}, newError(ErrorUnauthorized, "missing_add_permission", nil)
	}

	report = domain.Report{
		BatchID:         newUUID(),
		DestinationID:   dest.ID,
		OperatorContact: s.OperatorContact,
		Total:           len(s.Targets),
		StartedAt:       e.now(),
	}
	log := e.logger.With("batch_id", report.BatchID, "destination_id", dest.ID)
	log.Info("batch started", "targets", len(s.Targets))

	defer func() {
		if r := recover(); r != nil {
			err = newError(ErrorFatal, "batch_panic", fmt.Errorf("%v", r))
		}
		report.FinishedAt = e.now()
		e.archiveReport(ctx, log, report)
		if err != nil {
			log.Error("batch stopped", "err", err, "attempted", report.Attempted())
			return
		}
		log.Info("batch finished", "added", len(report.Successes), "failed", len(report.Failures))
	}()

	for _, handle := range s.Targets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rec, attemptErr := e.attempt(ctx, log, s, dest, handle)
		if rec.Handle != "" {
			report.Add(rec)
		}
		if attemptErr != nil {
			return report, attemptErr
		}
	}
	return report, nil
}

// attempt processes one target. A non-empty record is returned even when err is
// set if a call was made, so no outcome is lost.
func (e *Executor) attempt(ctx context.Context, log *slog.Logger, s *domain.Session, dest domain.Destination, handle domain.TargetHandle) (domain.OutcomeRecord, error) {
	ok, err := e.governor.TryAcquire(ctx, &s.Rate)
	if err != nil {
		return domain.OutcomeRecord{}, err
	}
	if !ok {
		return e.record(log, handle, Classify(AttemptResult{Denied: true})), nil
	}

	// Dispatched calls are never interrupted by cancellation.
	callCtx := context.WithoutCancel(ctx)

	acct, err := e.platform.ResolveAccount(callCtx, dest.ID, handle)
	if err != nil {
		c := Classify(AttemptResult{Err: err})
		return e.record(log, handle, c), e.cooldownIfNeeded(ctx, log, c)
	}
	if acct.Kind != domain.KindPrivate || acct.InDestination {
		return e.record(log, handle, Classify(AttemptResult{Account: &acct})), nil
	}

	if err := e.governor.Jitter(ctx); err != nil {
		return domain.OutcomeRecord{}, err
	}
	addErr := e.platform.AddMember(callCtx, dest.ID, acct.ID)
	c := Classify(AttemptResult{Account: &acct, Err: addErr})
	pauseErr := e.cooldownIfNeeded(ctx, log, c)
	e.governor.RecordMutation(&s.Rate)
	return e.record(log, handle, c), pauseErr
}

func (e *Executor) cooldownIfNeeded(ctx context.Context, log *slog.Logger, c Classification) error {
	if c.Category != domain.CategoryCooldownTriggered {
		return nil
	}
	log.Warn("platform flood signal, cooling down", "pause", e.cooldown)
	return e.governor.Pause(ctx, e.cooldown)
}

func (e *Executor) record(log *slog.Logger, handle domain.TargetHandle, c Classification) domain.OutcomeRecord {
	rec := domain.OutcomeRecord{
		Handle:   handle,
		Category: c.Category,
		Detail:   c.Detail,
		At:       e.now(),
	}
	log.Debug("target processed", "handle", handle, "category", c.Category, "detail", c.Detail)
	return rec
}

func (e *Executor) archiveReport(ctx context.Context, log *slog.Logger, report domain.Report) {
	if e.archive == nil {
		return
	}
	if err := e.archive.SaveBatch(context.WithoutCancel(ctx), report); err != nil {
		log.Error("failed to archive batch report", "err", err)
	}
}

var newUUID = func() string {
	return uuid.NewString()
}
