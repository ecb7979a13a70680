package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"group-adder/internal/domain"
)

const (
	maxFatalDetailLen = 200
	maxLookupErrLen   = 200
	invalidPreviewLen = 5
)

var operatorContactPattern = regexp.MustCompile(`^\+\d{10,15}$`)

const (
	msgWelcome = "Welcome to Group Adder Bot!\n\n" +
		"Please send your admin phone number (with country code, e.g., +1234567890) for verification."
	msgBadContact      = "Invalid format. Please use +1234567890 format."
	msgAskTargets      = "Now send the usernames: a .txt file (one per line) or a message separated by commas or spaces."
	msgOnlyTxt         = "Only .txt files accepted."
	msgNoValidTargets  = "No valid usernames found. Send another list."
	msgUnreadableFile  = "Error processing file. Send a UTF-8 .txt file."
	msgAskDestination  = "Now send the group chat ID or forward a message from the group."
	msgBadDestination  = "Send a numeric group chat ID or forward a message from the group."
	msgNeedsAdmin      = "Bot needs admin privileges with permission to add members."
	msgCancelled       = "Operation cancelled."
	msgBatchCancelled  = "Batch cancelled."
)

// Payload is one inbound operator message after transport decoding.
type Payload struct {
	Text     string
	Document *Document
	Forward  *ForwardedChat
}

// Document is an uploaded file already downloaded by the transport.
type Document struct {
	FileName string
	Content  []byte
}

// ForwardedChat is chat metadata carried by a forwarded message.
type ForwardedChat struct {
	ID    int64
	Title string
	Kind  domain.ChatKind
}

// Reply is the text sent back to the operator, pre-chunked for the transport.
type Reply struct {
	Chunks []string
}

func textReply(lines ...string) Reply {
	return Reply{Chunks: domain.ChunkLines(lines, domain.MaxChunkLen)}
}

// Text joins all chunks; convenient for logs and tests.
func (r Reply) Text() string {
	return strings.Join(r.Chunks, "\n")
}

// Notifier sends out-of-band progress messages while a batch runs.
type Notifier interface {
	Notify(ctx context.Context, key domain.SessionKey, text string) error
}

// BatchRunner executes a confirmed batch.
type BatchRunner interface {
	Execute(ctx context.Context, s *domain.Session, dest domain.Destination) (domain.Report, error)
}

// DestinationInspector is the subset of the platform used to verify a destination.
type DestinationInspector interface {
	Self(ctx context.Context) (int64, error)
	GetMembershipStatus(ctx context.Context, destinationID, selfID int64) (domain.Membership, error)
	GetChatMetadata(ctx context.Context, destinationID int64) (domain.Destination, error)
}

type entry struct {
	// mu serializes transitions; it is held for the whole batch.
	mu      sync.Mutex
	session *domain.Session

	abortMu sync.Mutex
	abort   context.CancelFunc
	// pendingCancel is set by a cancel that found no batch to abort. It is
	// cleared once the cancel holds mu.
	pendingCancel bool
}

// arm registers the abort func of a batch about to start. It reports false
// when a cancel arrived first; the caller must not start the batch.
func (e *entry) arm(cancel context.CancelFunc) bool {
	e.abortMu.Lock()
	defer e.abortMu.Unlock()
	if e.pendingCancel {
		return false
	}
	e.abort = cancel
	return true
}

func (e *entry) disarm() {
	e.abortMu.Lock()
	e.abort = nil
	e.abortMu.Unlock()
}

func (e *entry) abortBatch() bool {
	e.abortMu.Lock()
	defer e.abortMu.Unlock()
	if e.abort == nil {
		e.pendingCancel = true
		return false
	}
	e.abort()
	return true
}

func (e *entry) clearPendingCancel() {
	e.abortMu.Lock()
	e.pendingCancel = false
	e.abortMu.Unlock()
}

// Conversation drives one state machine per operator session.
type Conversation struct {
	inspector DestinationInspector
	runner    BatchRunner
	notifier  Notifier
	perTarget time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[domain.SessionKey]*entry
}

// NewConversation wires the state machine. perTarget is the expected time per
// target used in the estimate shown before a batch starts.
func NewConversation(inspector DestinationInspector, runner BatchRunner, notifier Notifier, perTarget time.Duration, logger *slog.Logger) (*Conversation, error) {
	if inspector == nil {
		return nil, errors.New("usecase: destination inspector must not be nil")
	}
	if runner == nil {
		return nil, errors.New("usecase: batch runner must not be nil")
	}
	if notifier == nil {
		return nil, errors.New("usecase: notifier must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Conversation{
		inspector: inspector,
		runner:    runner,
		notifier:  notifier,
		perTarget: perTarget,
		logger:    logger,
		sessions:  map[domain.SessionKey]*entry{},
	}, nil
}

func (c *Conversation) entry(key domain.SessionKey) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.sessions[key]
	if !ok {
		e = &entry{session: domain.NewSession(key)}
		c.sessions[key] = e
	}
	return e
}

// State returns the current state of a session, creating it if needed.
func (c *Conversation) State(key domain.SessionKey) domain.State {
	e := c.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.State
}

// OnStart resets the session and greets the operator.
func (c *Conversation) OnStart(_ context.Context, key domain.SessionKey) Reply {
	e := c.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.Reset()
	return textReply(msgWelcome)
}

// OnCancel stops any running batch before its next target and resets the session.
func (c *Conversation) OnCancel(_ context.Context, key domain.SessionKey) Reply {
	e := c.entry(key)
	aborted := e.abortBatch()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearPendingCancel()
	e.session.Finish(domain.StateCancelled)
	c.logger.Info("session cancelled", "session", key, "batch_running", aborted)
	return textReply(msgCancelled)
}

// OnOperatorMessage feeds one message through the session's state machine.
func (c *Conversation) OnOperatorMessage(ctx context.Context, key domain.SessionKey, p Payload) Reply {
	e := c.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	before := s.State
	var reply Reply
	switch s.State {
	case domain.StateAwaitingOperatorIdentity:
		reply = c.onOperatorIdentity(s, p)
	case domain.StateAwaitingTargets:
		reply = c.onTargets(s, p)
	case domain.StateAwaitingDestination:
		reply = c.onDestination(ctx, e, p)
	default:
		// Terminal states never persist; treat as a fresh session.
		s.Reset()
		reply = c.onOperatorIdentity(s, p)
	}
	if s.State != before {
		c.logger.Debug("session transition", "session", key, "from", before, "to", s.State)
	}
	return reply
}

func (c *Conversation) onOperatorIdentity(s *domain.Session, p Payload) Reply {
	contact := strings.TrimSpace(p.Text)
	if !operatorContactPattern.MatchString(contact) {
		return textReply(msgBadContact)
	}
	s.OperatorContact = contact
	s.State = domain.StateAwaitingTargets
	return textReply(fmt.Sprintf("Verified: %s", contact), "", msgAskTargets)
}

func (c *Conversation) onTargets(s *domain.Session, p Payload) Reply {
	var valid []domain.TargetHandle
	var invalid []string
	switch {
	case p.Document != nil:
		if !strings.EqualFold(path.Ext(p.Document.FileName), ".txt") {
			return textReply(msgOnlyTxt)
		}
		if !utf8.Valid(p.Document.Content) {
			return textReply(msgUnreadableFile)
		}
		valid, invalid = domain.ParseTargetFile(p.Document.Content)
	case strings.TrimSpace(p.Text) != "":
		valid, invalid = domain.ParseTargets(p.Text)
	default:
		return textReply(msgAskTargets)
	}
	if len(valid) == 0 {
		return textReply(msgNoValidTargets)
	}

	s.Targets = valid
	s.State = domain.StateAwaitingDestination

	lines := []string{
		"Processed:",
		fmt.Sprintf("- Valid: %d", len(valid)),
		fmt.Sprintf("- Invalid: %d", len(invalid)),
		"",
		msgAskDestination,
	}
	if len(invalid) > 0 {
		lines = append(lines, "", "Invalid entries:", domain.Preview(invalid, invalidPreviewLen))
	}
	return textReply(lines...)
}

func (c *Conversation) onDestination(ctx context.Context, e *entry, p Payload) Reply {
	s := e.session

	// Registered before any lookup so a cancel during verification is not lost.
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !e.arm(cancel) {
		// The pending cancel resets the session and replies once it gets mu.
		return Reply{}
	}
	defer e.disarm()

	dest, reply, ok := c.resolveDestination(batchCtx, p)
	if !ok {
		return reply
	}
	s.Destination = &dest

	estimate := time.Duration(len(s.Targets)) * c.perTarget
	notice := fmt.Sprintf("Adding %d users...\nEstimated time: %.1f minutes", len(s.Targets), math.Round(estimate.Minutes()*10)/10)
	if err := c.notifier.Notify(batchCtx, s.Key, notice); err != nil {
		c.logger.Warn("failed to send progress notice", "session", s.Key, "err", err)
	}

	report, err := c.runBatch(batchCtx, s, dest)
	switch {
	case err == nil:
		s.Finish(domain.StateCompleted)
		return Reply{Chunks: report.Chunks(domain.MaxChunkLen)}
	case errors.Is(err, context.Canceled):
		s.Finish(domain.StateCancelled)
		return Reply{Chunks: domain.ChunkLines(append([]string{msgBatchCancelled, ""}, report.Lines()...), domain.MaxChunkLen)}
	default:
		s.Finish(domain.StateCompleted)
		lines := []string{fmt.Sprintf("Failed: %s", truncate(errorDetail(err), maxFatalDetailLen))}
		if report.Total > 0 {
			lines = append(lines, "")
			lines = append(lines, report.Lines()...)
		}
		return Reply{Chunks: domain.ChunkLines(lines, domain.MaxChunkLen)}
	}
}

// runBatch turns a panic escaping the runner into a fatal error so the
// session still completes.
func (c *Conversation) runBatch(ctx context.Context, s *domain.Session, dest domain.Destination) (report domain.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newError(ErrorFatal, "batch_panic", fmt.Errorf("%v", r))
		}
	}()
	return c.runner.Execute(ctx, s, dest)
}

// resolveDestination validates the destination reference, kind and privilege.
// On failure it returns the reply to send and false; the state does not advance.
func (c *Conversation) resolveDestination(ctx context.Context, p Payload) (domain.Destination, Reply, bool) {
	var dest domain.Destination
	if p.Forward != nil {
		dest = domain.Destination{ID: p.Forward.ID, Title: p.Forward.Title, Kind: p.Forward.Kind}
	} else {
		id, err := strconv.ParseInt(strings.TrimSpace(p.Text), 10, 64)
		if err != nil {
			return dest, textReply(msgBadDestination), false
		}
		meta, err := c.inspector.GetChatMetadata(ctx, id)
		if err != nil {
			return dest, c.lookupFailed("chat_metadata", err), false
		}
		dest = meta
		dest.ID = id
	}

	if !dest.Kind.IsGroup() {
		return dest, textReply(fmt.Sprintf("Destination must be a group or supergroup, not %s.", dest.Kind)), false
	}

	selfID, err := c.inspector.Self(ctx)
	if err != nil {
		return dest, c.lookupFailed("self", err), false
	}
	membership, err := c.inspector.GetMembershipStatus(ctx, dest.ID, selfID)
	if err != nil {
		return dest, c.lookupFailed("membership_status", err), false
	}
	if !membership.Elevated() {
		return dest, textReply(msgNeedsAdmin), false
	}
	dest.CanAddMembers = true
	return dest, Reply{}, true
}

// lookupFailed logs a platform error met while verifying a destination and
// returns the operator reply for it.
func (c *Conversation) lookupFailed(reason string, err error) Reply {
	uerr := newError(ErrorUpstream, reason, err)
	c.logger.Warn("destination lookup failed", "err", uerr)
	return textReply(fmt.Sprintf("Error: %s", truncate(errorDetail(uerr), maxLookupErrLen)))
}

// errorDetail prefers the innermost cause of a usecase error.
func errorDetail(err error) string {
	var uerr *Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		return uerr.Err.Error()
	}
	return err.Error()
}
