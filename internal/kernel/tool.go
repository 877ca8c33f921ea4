package kernel

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Tool is any callable the kernel can dispatch to. Invoke receives the
// request's argument map and either returns a value or errors; the kernel
// normalizes both into a SyscallResult. Long-running tools simply block
// their own request; other agents' syscalls proceed concurrently.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

type toolFunc struct {
	name string
	fn   func(ctx context.Context, args map[string]any) (any, error)
}

// NewTool wraps a plain function as a Tool.
func NewTool(name string, fn func(ctx context.Context, args map[string]any) (any, error)) Tool {
	return &toolFunc{name: name, fn: fn}
}

func (t *toolFunc) Name() string { return t.name }

func (t *toolFunc) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return t.fn(ctx, args)
}

type typedTool[T any] struct {
	name string
	fn   func(ctx context.Context, input T) (any, error)
}

// NewTypedTool wraps a function taking a typed input struct. The request's
// argument map is decoded into T before the call; json field tags are
// honored and compatible types are coerced.
func NewTypedTool[T any](name string, fn func(ctx context.Context, input T) (any, error)) Tool {
	return &typedTool[T]{name: name, fn: fn}
}

func (t *typedTool[T]) Name() string { return t.name }

func (t *typedTool[T]) Invoke(ctx context.Context, args map[string]any) (any, error) {
	var input T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &input,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(args); err != nil {
		return nil, fmt.Errorf("invalid arguments for tool %q: %w", t.name, err)
	}
	return t.fn(ctx, input)
}
