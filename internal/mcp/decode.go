package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/classmate/internal/errors"
)

// decode unmarshals MCP request arguments into a typed struct.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return result, fmt.Errorf("marshal args: %w", err)
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, fmt.Errorf("unmarshal args: %w", err)
	}
	return result, nil
}

// userRequest is embedded by every request; all tools are scoped to one user.
type userRequest struct {
	UserID string `json:"user_id"`
}

func (r userRequest) user() (string, error) {
	id := strings.TrimSpace(r.UserID)
	if id == "" {
		return "", errors.NewInvalidRequest("user_id is required")
	}
	return id, nil
}
