package api

import (
	"context"

	"github.com/rickgao/chatrelay/internal/model"
)

// History API paths.
const (
	HistoryPath     = "/api/v1/database"
	PostMessagePath = "/api/v1/database/post"
)

// PostMessageRequest is the body of a history append.
type PostMessageRequest struct {
	Text string `json:"text"`
}

// GetHistory returns the latest stored messages, oldest first.
func (c *Client) GetHistory(ctx context.Context) ([]model.Message, error) {
	var messages []model.Message
	if err := c.get(ctx, HistoryPath, &messages); err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []model.Message{}
	}
	return messages, nil
}

// PostMessage appends text to the history and returns the stored message.
func (c *Client) PostMessage(ctx context.Context, text string) (model.Message, error) {
	var stored model.Message
	if err := c.post(ctx, PostMessagePath, PostMessageRequest{Text: text}, &stored); err != nil {
		return model.Message{}, err
	}
	return stored, nil
}
