package telegram

import (
	"context"
	"errors"
)

func (c *Client) GetMe(ctx context.Context) (User, error) {
	var u User
	err := c.call(ctx, "getMe", struct{}{}, &u)
	return u, err
}

// GetChat looks a chat up by numeric id or "@username".
func (c *Client) GetChat(ctx context.Context, chatID any) (Chat, error) {
	var chat Chat
	err := c.call(ctx, "getChat", map[string]any{"chat_id": chatID}, &chat)
	return chat, err
}

func (c *Client) GetChatMember(ctx context.Context, chatID, userID int64) (ChatMember, error) {
	var m ChatMember
	err := c.call(ctx, "getChatMember", map[string]any{"chat_id": chatID, "user_id": userID}, &m)
	return m, err
}

// AddChatMember adds a user to a group. The method is served by Bot API
// compatible gateways that act with user-account rights.
func (c *Client) AddChatMember(ctx context.Context, chatID, userID int64) error {
	return c.call(ctx, "addChatMember", map[string]any{"chat_id": chatID, "user_id": userID}, nil)
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.call(ctx, "sendMessage", map[string]any{"chat_id": chatID, "text": text}, nil)
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         timeoutSeconds,
		"allowed_updates": []string{"message"},
	}, &updates)
	return updates, err
}

// DownloadFile resolves a file id and returns its contents.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	var f File
	if err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &f); err != nil {
		return nil, err
	}
	if f.FilePath == "" {
		return nil, errors.New("telegram: getFile returned no file path")
	}
	return c.download(ctx, f.FilePath)
}
