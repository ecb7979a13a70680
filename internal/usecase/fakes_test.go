package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"group-adder/internal/domain"
	"group-adder/internal/governor"
)

type statusErr struct {
	code int
	msg  string
}

func (e *statusErr) Error() string       { return e.msg }
func (e *statusErr) HTTPStatusCode() int { return e.code }

type fakePlatform struct {
	mu sync.Mutex

	selfID        int64
	selfErr       error
	accounts      map[domain.TargetHandle]domain.Account
	resolveErrs   map[domain.TargetHandle]error
	addErrs       map[int64]error
	membership    domain.Membership
	membershipErr error
	chat          domain.Destination
	chatErr       error

	onAdd    func(accountID int64)
	resolved []domain.TargetHandle
	added    []int64
}

func (f *fakePlatform) Self(_ context.Context) (int64, error) {
	return f.selfID, f.selfErr
}

func (f *fakePlatform) ResolveAccount(_ context.Context, _ int64, handle domain.TargetHandle) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, handle)
	if err, ok := f.resolveErrs[handle]; ok {
		return domain.Account{}, err
	}
	acct, ok := f.accounts[handle]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return acct, nil
}

func (f *fakePlatform) GetMembershipStatus(_ context.Context, _, _ int64) (domain.Membership, error) {
	return f.membership, f.membershipErr
}

func (f *fakePlatform) AddMember(_ context.Context, _, accountID int64) error {
	f.mu.Lock()
	f.added = append(f.added, accountID)
	hook := f.onAdd
	err := f.addErrs[accountID]
	f.mu.Unlock()
	if hook != nil {
		hook(accountID)
	}
	return err
}

func (f *fakePlatform) GetChatMetadata(_ context.Context, id int64) (domain.Destination, error) {
	if f.chatErr != nil {
		return domain.Destination{}, f.chatErr
	}
	d := f.chat
	d.ID = id
	return d, nil
}

func private(id int64) domain.Account {
	return domain.Account{ID: id, Kind: domain.KindPrivate}
}

// virtualClock advances on sleep so tests never wait for real.
type virtualClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *virtualClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func newVirtualClock() *virtualClock {
	return &virtualClock{now: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}
}

func newTestGovernor(t *testing.T, limits governor.Limits, c *virtualClock) *governor.Governor {
	t.Helper()
	g, err := governor.New(limits,
		governor.WithClock(c.Now),
		governor.WithSleep(c.Sleep),
		governor.WithJitterSource(func(lo, _ time.Duration) time.Duration { return lo }),
	)
	require.NoError(t, err)
	return g
}

type fakeArchive struct {
	saved []domain.Report
	err   error
}

func (a *fakeArchive) SaveBatch(_ context.Context, r domain.Report) error {
	a.saved = append(a.saved, r)
	return a.err
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (n *fakeNotifier) Notify(_ context.Context, _ domain.SessionKey, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return n.err
}

var errBoom = errors.New("boom")
