// Package trans implements the process-wide transaction manager of
// spec.md §4.6: begin/add_to_trans/commit/abort over a cohort of
// entities, coordinating the WAL queue and the volume's block allocator.
package trans

import "context"

// TxHandle is the stack-scoped replacement for thread-local "current
// transaction" state (spec.md §9 DESIGN NOTES): callers carry it
// explicitly, usually via the context.Context returned by Begin, instead
// of relying on goroutine-local storage.
type TxHandle struct {
	txid uint64
}

// Txid returns the handle's transaction id.
func (h *TxHandle) Txid() uint64 { return h.txid }

type ctxKey struct{}

// WithHandle returns a context carrying h, for passing through call
// chains that use context.Context rather than explicit parameters.
func WithHandle(ctx context.Context, h *TxHandle) context.Context {
	return context.WithValue(ctx, ctxKey{}, h)
}

// HandleFromContext extracts a handle previously attached with
// WithHandle, ok=false if ctx carries none.
func HandleFromContext(ctx context.Context) (*TxHandle, bool) {
	h, ok := ctx.Value(ctxKey{}).(*TxHandle)
	return h, ok
}
