package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/courier/internal/broker"
	"github.com/btouchard/courier/internal/message"
)

// AddMessage returns a handler that appends one message to a session's log.
func AddMessage(bm *broker.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		sess, errResult := session(bm, args)
		if errResult != nil {
			return errResult, nil
		}

		fields := message.Fields{}
		if extra, ok := args["fields"].(map[string]any); ok {
			maps.Copy(fields, extra)
		}
		fields[message.KeyMessage] = stringArg(args, "message", "")
		fields[message.KeyType] = stringArg(args, "type", message.DefaultType)
		target, _ := args["target"].(string)

		msg, err := sess.AddMessage(ctx, fields, target)
		if err != nil {
			return failure(err), nil
		}

		text := fmt.Sprintf("Message added\n\n- ID: %s\n- Timestamp: %d\n- Target: %s\n- Type: %s\n",
			msg.ID, msg.Timestamp, msg.Target, msg.Type)
		return mcp.NewToolResultText(text), nil
	}
}

// GetMessages returns a handler that reads a session's log as JSON.
func GetMessages(bm *broker.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		sess, errResult := session(bm, args)
		if errResult != nil {
			return errResult, nil
		}
		target, _ := args["target"].(string)

		var (
			msgs []message.Message
			err  error
		)
		if ts, ok := args["last_timestamp"].(float64); ok {
			msgs, err = sess.GetMessagesSince(ctx, target, int64(ts))
		} else {
			msgs, err = sess.GetMessages(ctx, target)
		}
		if err != nil {
			return failure(err), nil
		}

		data, err := json.Marshal(msgs)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding messages: %s", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

// ClearMessages returns a handler that clears a target or a whole log.
func ClearMessages(bm *broker.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		sess, errResult := session(bm, args)
		if errResult != nil {
			return errResult, nil
		}
		target, _ := args["target"].(string)

		if err := sess.ClearMessages(ctx, target); err != nil {
			return failure(err), nil
		}

		if target == "" {
			return mcp.NewToolResultText("All messages cleared"), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Messages for target %q cleared", target)), nil
	}
}

func session(bm *broker.Manager, args map[string]any) (*broker.Session, *mcp.CallToolResult) {
	id, _ := args["session_id"].(string)
	sess, err := bm.Session(id)
	if err != nil {
		return nil, mcp.NewToolResultError("session_id is required")
	}
	return sess, nil
}

func stringArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

// failure hides backend details from the caller; they are already logged.
func failure(err error) *mcp.CallToolResult {
	if errors.Is(err, broker.ErrStorage) {
		return mcp.NewToolResultError("Storage error")
	}
	return mcp.NewToolResultError(err.Error())
}
