package usecase

import (
	"errors"
	"net/http"
	"strings"

	"group-adder/internal/domain"
)

const maxDetailLen = 50

// AttemptResult is everything known about one target after its attempt.
type AttemptResult struct {
	// Denied is set when the governor refused the attempt; no call was made.
	Denied bool
	// Account is the resolved account, nil when resolution failed or was not reached.
	Account *domain.Account
	// Err is the platform error from resolution or from the add call.
	Err error
}

// Classification is the outcome category plus a short detail for OtherError.
type Classification struct {
	Category domain.Category
	Detail   string
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Classify maps an attempt to its outcome category. Rules are checked in
// priority order and anything unrecognized becomes OtherError.
func Classify(r AttemptResult) Classification {
	msg := ""
	if r.Err != nil {
		msg = strings.ToLower(r.Err.Error())
	}
	individual := r.Account != nil && r.Account.Kind == domain.KindPrivate

	switch {
	case r.Err == nil && !r.Denied && individual && !r.Account.InDestination:
		return Classification{Category: domain.CategoryAdded}
	case (r.Err == nil && r.Account != nil && r.Account.InDestination) ||
		containsAny(msg, "already a member", "already a participant", "user_already_participant"):
		return Classification{Category: domain.CategoryAlreadyMember}
	case r.Account != nil && !individual:
		return Classification{Category: domain.CategoryNotAPrivateAccount}
	// Only a failed resolution says anything about the target; once the account
	// resolved, "not found" from the add call refers to the destination.
	case r.Account == nil && (errors.Is(r.Err, domain.ErrNotFound) ||
		containsAny(msg, "not found", "username_not_occupied", "username_invalid", "user_id_invalid")):
		return Classification{Category: domain.CategoryNotFound}
	case containsAny(msg, "privacy"):
		return Classification{Category: domain.CategoryPrivacyRestricted}
	case isTooManyRequests(r.Err) || containsAny(msg, "flood", "too many requests", "retry after"):
		return Classification{Category: domain.CategoryCooldownTriggered}
	case r.Denied:
		return Classification{Category: domain.CategoryRateLimited}
	case r.Err == nil:
		return Classification{Category: domain.CategoryOtherError, Detail: "no result"}
	default:
		return Classification{Category: domain.CategoryOtherError, Detail: truncate(r.Err.Error(), maxDetailLen)}
	}
}

func isTooManyRequests(err error) bool {
	var coder httpStatusCoder
	return errors.As(err, &coder) && coder.HTTPStatusCode() == http.StatusTooManyRequests
}

func containsAny(s string, needles ...string) bool {
	if s == "" {
		return false
	}
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
