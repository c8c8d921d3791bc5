package tools

import (
	"context"
	"encoding/json"

	"memchat/internal/chat"
)

type Tool interface {
	Name() string
	Definition() chat.ToolDef
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}
