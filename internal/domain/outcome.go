package domain

import (
	"fmt"
	"time"
)

// Category is the fixed classification of one target's attempt.
type Category string

const (
	CategoryAdded              Category = "added"
	CategoryAlreadyMember      Category = "already_member"
	CategoryNotFound           Category = "not_found"
	CategoryNotAPrivateAccount Category = "not_private"
	CategoryPrivacyRestricted  Category = "privacy_restricted"
	CategoryCooldownTriggered  Category = "cooldown"
	CategoryRateLimited        Category = "rate_limited"
	CategoryOtherError         Category = "error"
)

// ParseCategory maps a stored category code back to a Category.
func ParseCategory(s string) (Category, bool) {
	switch c := Category(s); c {
	case CategoryAdded, CategoryAlreadyMember, CategoryNotFound, CategoryNotAPrivateAccount,
		CategoryPrivacyRestricted, CategoryCooldownTriggered, CategoryRateLimited, CategoryOtherError:
		return c, true
	default:
		return "", false
	}
}

// Success reports whether the category counts as a success in reports.
func (c Category) Success() bool {
	return c == CategoryAdded || c == CategoryAlreadyMember
}

func (c Category) label() string {
	switch c {
	case CategoryAlreadyMember:
		return "exists"
	case CategoryNotFound:
		return "not found"
	case CategoryNotAPrivateAccount:
		return "not user"
	case CategoryPrivacyRestricted:
		return "privacy"
	case CategoryCooldownTriggered:
		return "flood"
	case CategoryRateLimited:
		return "rate limit"
	case CategoryOtherError:
		return "error"
	default:
		return ""
	}
}

// OutcomeRecord is the immutable result of one attempted target.
type OutcomeRecord struct {
	Handle   TargetHandle
	Category Category
	Detail   string
	At       time.Time
}

// String renders the record as a single report line.
func (r OutcomeRecord) String() string {
	switch {
	case r.Category == CategoryAdded:
		return r.Handle.String()
	case r.Category == CategoryOtherError && r.Detail != "":
		return fmt.Sprintf("%s (error: %s)", r.Handle, r.Detail)
	default:
		return fmt.Sprintf("%s (%s)", r.Handle, r.Category.label())
	}
}
