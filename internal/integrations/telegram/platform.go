package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"group-adder/internal/domain"
)

// Self returns the bot's own user id. A successful lookup is cached.
func (c *Client) Self(ctx context.Context) (int64, error) {
	c.selfMu.Lock()
	defer c.selfMu.Unlock()
	if c.self != nil {
		return c.self.ID, nil
	}
	u, err := c.GetMe(ctx)
	if err != nil {
		return 0, err
	}
	c.self = &u
	return u.ID, nil
}

// ResolveAccount looks a handle up and, for individual accounts, checks whether
// it is already present in the destination.
func (c *Client) ResolveAccount(ctx context.Context, destinationID int64, handle domain.TargetHandle) (domain.Account, error) {
	chat, err := c.GetChat(ctx, "@"+handle.String())
	if err != nil {
		if isNotFound(err) {
			return domain.Account{}, fmt.Errorf("telegram: resolve @%s: %w: %w", handle, domain.ErrNotFound, err)
		}
		return domain.Account{}, err
	}
	acct := domain.Account{ID: chat.ID, Kind: ChatKind(chat.Type)}
	if acct.Kind != domain.KindPrivate {
		return acct, nil
	}
	// Users the bot has never seen make getChatMember fail; treat them as absent.
	if m, err := c.GetChatMember(ctx, destinationID, chat.ID); err == nil {
		acct.InDestination = present(m)
	}
	return acct, nil
}

func (c *Client) GetMembershipStatus(ctx context.Context, destinationID, selfID int64) (domain.Membership, error) {
	m, err := c.GetChatMember(ctx, destinationID, selfID)
	if err != nil {
		return domain.Membership{}, err
	}
	return domain.Membership{Role: domain.Role(m.Status), CanAddMembers: m.CanInviteUsers}, nil
}

func (c *Client) AddMember(ctx context.Context, destinationID, accountID int64) error {
	return c.AddChatMember(ctx, destinationID, accountID)
}

func (c *Client) GetChatMetadata(ctx context.Context, destinationID int64) (domain.Destination, error) {
	chat, err := c.GetChat(ctx, destinationID)
	if err != nil {
		if isNotFound(err) {
			return domain.Destination{}, fmt.Errorf("telegram: chat %d: %w: %w", destinationID, domain.ErrNotFound, err)
		}
		return domain.Destination{}, err
	}
	return domain.Destination{ID: chat.ID, Title: chat.Title, Kind: ChatKind(chat.Type)}, nil
}

// ChatKind maps a Bot API chat type to a domain kind.
func ChatKind(t string) domain.ChatKind {
	switch t {
	case "private":
		return domain.KindPrivate
	case "group":
		return domain.KindGroup
	case "supergroup":
		return domain.KindSupergroup
	case "channel":
		return domain.KindChannel
	case "bot":
		return domain.KindBot
	default:
		return domain.KindUnknown
	}
}

func present(m ChatMember) bool {
	switch m.Status {
	case "creator", "administrator", "member":
		return true
	case "restricted":
		return m.IsMember
	default:
		return false
	}
}

func isNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Description), "not found")
}
