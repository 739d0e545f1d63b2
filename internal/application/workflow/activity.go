package workflow

import (
	"context"
	"encoding/json"
	"fmt"
)

// NewActivity adapts a typed function to an ActivityFunc. Undecodable input
// fails permanently.
func NewActivity[In, Out any](fn func(ctx context.Context, in In) (Out, error)) ActivityFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var in In
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, Permanent(fmt.Errorf("invalid activity input: %w", err))
			}
		}
		return fn(ctx, in)
	}
}

// CallActivity invokes an activity and decodes its result into T
func CallActivity[T any](ctx Context, name string, input any, retry *RetryOptions) (T, error) {
	var out T
	raw, err := ctx.CallActivity(name, input, retry)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode %s result: %w", name, err)
	}
	return out, nil
}
