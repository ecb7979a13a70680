package domain

// ChatKind is the platform's classification of a chat or account.
type ChatKind string

const (
	KindPrivate    ChatKind = "private"
	KindGroup      ChatKind = "group"
	KindSupergroup ChatKind = "supergroup"
	KindChannel    ChatKind = "channel"
	// KindBot is reported only by gateways that expose account type. The
	// public Bot API describes bot accounts as "private".
	KindBot        ChatKind = "bot"
	KindUnknown    ChatKind = ""
)

// IsGroup reports whether members can be added to a chat of this kind.
func (k ChatKind) IsGroup() bool {
	return k == KindGroup || k == KindSupergroup
}

func (k ChatKind) String() string {
	if k == KindUnknown {
		return "unknown"
	}
	return string(k)
}

// Role is the membership status of an identity inside a chat.
type Role string

const (
	RoleCreator       Role = "creator"
	RoleAdministrator Role = "administrator"
	RoleMember        Role = "member"
	RoleRestricted    Role = "restricted"
	RoleLeft          Role = "left"
	RoleKicked        Role = "kicked"
)

// Membership is the executing identity's standing in a destination.
type Membership struct {
	Role          Role
	CanAddMembers bool
}

// Elevated reports whether the membership allows adding members.
func (m Membership) Elevated() bool {
	switch m.Role {
	case RoleCreator:
		return true
	case RoleAdministrator:
		return m.CanAddMembers
	default:
		return false
	}
}

// Destination is a verified group the batch adds members to.
type Destination struct {
	ID            int64
	Title         string
	Kind          ChatKind
	CanAddMembers bool
}

// Account is a resolved platform account for one target handle.
type Account struct {
	ID            int64
	Kind          ChatKind
	InDestination bool
}
