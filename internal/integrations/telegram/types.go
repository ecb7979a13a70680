package telegram

// User is a Bot API user.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// Chat is a Bot API chat.
type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title,omitempty"`
	Username string `json:"username,omitempty"`
}

// Document is an uploaded file attached to a message.
type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// MessageOrigin describes where a forwarded message came from.
type MessageOrigin struct {
	Type       string `json:"type"`
	Chat       *Chat  `json:"chat,omitempty"`
	SenderChat *Chat  `json:"sender_chat,omitempty"`
}

type Message struct {
	MessageID       int64          `json:"message_id"`
	From            *User          `json:"from,omitempty"`
	Chat            Chat           `json:"chat"`
	Text            string         `json:"text,omitempty"`
	Document        *Document      `json:"document,omitempty"`
	ForwardOrigin   *MessageOrigin `json:"forward_origin,omitempty"`
	ForwardFromChat *Chat          `json:"forward_from_chat,omitempty"`
}

// ForwardedChat returns the chat a forwarded message originated from, if any.
func (m *Message) ForwardedChat() *Chat {
	if m == nil {
		return nil
	}
	if o := m.ForwardOrigin; o != nil {
		if o.Chat != nil {
			return o.Chat
		}
		if o.SenderChat != nil {
			return o.SenderChat
		}
	}
	return m.ForwardFromChat
}

// Command returns the bot command ("/start", "/cancel") at the start of the text, without any @botname suffix.
func (m *Message) Command() string {
	if m == nil || len(m.Text) == 0 || m.Text[0] != '/' {
		return ""
	}
	cmd := m.Text
	for i, r := range cmd {
		if r == ' ' || r == '\n' {
			cmd = cmd[:i]
			break
		}
	}
	for i, r := range cmd {
		if r == '@' {
			return cmd[:i]
		}
	}
	return cmd
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// ChatMember is a user's standing in a chat.
type ChatMember struct {
	Status         string `json:"status"`
	User           User   `json:"user"`
	CanInviteUsers bool   `json:"can_invite_users,omitempty"`
	IsMember       bool   `json:"is_member,omitempty"`
}

// File is a downloadable file reference.
type File struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}
