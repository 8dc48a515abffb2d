package agent

import (
	"context"

	"github.com/haasonsaas/clawcore/pkg/models"
)

// ExecContext describes who a tool is running for. Tools read it from the
// context to scope file access, memory namespaces and replies.
type ExecContext struct {
	AgentID   string
	SessionID string
	Channel   models.ChannelType
	ChatID    string
	Workspace string
	Origin    models.Origin
	Policy    ToolPolicy
}

type execContextKey struct{}

// WithExecContext attaches ec to ctx.
func WithExecContext(ctx context.Context, ec ExecContext) context.Context {
	return context.WithValue(ctx, execContextKey{}, ec)
}

// ExecContextFrom returns the ExecContext attached to ctx.
func ExecContextFrom(ctx context.Context) (ExecContext, bool) {
	ec, ok := ctx.Value(execContextKey{}).(ExecContext)
	return ec, ok
}
