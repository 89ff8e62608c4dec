package research

import "context"

// ProgressFunc receives coarse completion percentages (0-100) from a
// long-running node.
type ProgressFunc func(percent int)

type progressKey struct{}

// WithProgress returns a context carrying a progress reporter for the node
// being executed. The orchestrator installs one per fetch step so sources can
// report without depending on the event stream.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress invokes the context's progress reporter, if any. Percent is
// clamped to [0, 100].
func ReportProgress(ctx context.Context, percent int) {
	fn, _ := ctx.Value(progressKey{}).(ProgressFunc)
	if fn == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	fn(percent)
}
