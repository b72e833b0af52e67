package builtin

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/officefloor/officefloor/internal/escalation"
	"github.com/officefloor/officefloor/internal/function"
	"github.com/officefloor/officefloor/internal/log"
)

// logSource builds functions that log their parameter and pass it on.
type logSource struct{}

func (logSource) Function(ctx function.SourceContext) (function.Function, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(ctx.Property("level", "info"))); err != nil {
		return nil, fmt.Errorf("invalid level %q: %w", ctx.Property("level", ""), err)
	}
	logger := log.WithFunction(ctx.Office(), ctx.Name())
	message := ctx.Property("message", "function executed")
	return function.Func(func(fc function.Context) (any, error) {
		logger.Log(fc.Context(), level, message, "process_id", fc.ProcessID(), "parameter", fc.Parameter())
		return fc.Parameter(), nil
	}), nil
}

// Failure is the error returned by fail functions. It escalates as the
// configured kind.
type Failure struct {
	Kind    string
	Message string
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) EscalationKind() string { return f.Kind }

// Unwrap exposes the sentinel of the built in kinds so errors.Is works.
func (f *Failure) Unwrap() error {
	switch f.Kind {
	case escalation.KindIllegalState:
		return escalation.ErrIllegalState
	case escalation.KindIllegalArgument:
		return escalation.ErrIllegalArgument
	default:
		return nil
	}
}

// failSource builds functions that always escalate.
type failSource struct{}

func (failSource) Function(ctx function.SourceContext) (function.Function, error) {
	kind := ctx.Property("kind", escalation.KindError)
	message := ctx.Property("message", fmt.Sprintf("%s failed", ctx.Name()))
	return function.Func(func(function.Context) (any, error) {
		return nil, &Failure{Kind: kind, Message: message}
	}), nil
}

// flowSource builds functions that instigate flows with their parameter.
// Property flows lists the keys, comma separated; by default every
// configured flow is instigated in declaration order.
type flowSource struct{}

func (flowSource) Function(ctx function.SourceContext) (function.Function, error) {
	keys := ctx.FlowKeys()
	if raw := ctx.Property("flows", ""); raw != "" {
		keys = nil
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
	}
	return function.Func(func(fc function.Context) (any, error) {
		for _, key := range keys {
			if err := fc.DoFlow(key, fc.Parameter()); err != nil {
				return nil, err
			}
		}
		return fc.Parameter(), nil
	}), nil
}
