// Package anthropic wraps the official SDK behind the small token-counting
// surface the context builder consumes.
package anthropic

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// TokenCounter counts input tokens for a text against a specific model.
type TokenCounter interface {
	CountTokens(ctx context.Context, model, text string) (int, error)
}

// sdkCounter implements TokenCounter using the official anthropic-sdk-go.
type sdkCounter struct {
	client sdk.Client
}

// NewTokenCounter creates a counter backed by the Anthropic API.
func NewTokenCounter(apiKey string) TokenCounter {
	return &sdkCounter{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
	}
}

func (c *sdkCounter) CountTokens(ctx context.Context, model, text string) (int, error) {
	count, err := c.client.Messages.CountTokens(ctx, sdk.MessageCountTokensParams{
		Model: sdk.Model(model),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(text)),
		},
	})
	if err != nil {
		return 0, eris.Wrap(err, "anthropic: count tokens")
	}
	return int(count.InputTokens), nil
}
