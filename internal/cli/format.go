package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fpang/prism/internal/explain"
	"github.com/fpang/prism/internal/plan"
)

// FormatBytes renders n with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}

// WritePlan prints one numbered line per operation, each followed by its
// explanation when one is cached. Stale explanations are marked.
func WritePlan(w io.Writer, snap plan.Snapshot, explanations []explain.Entry) {
	if snap.Empty() {
		fmt.Fprintln(w, "  (empty plan)")
		return
	}
	byKind := make(map[plan.Kind]explain.Entry, len(explanations))
	for _, e := range explanations {
		byKind[e.Kind] = e
	}
	for i, op := range snap.Ops() {
		fmt.Fprintf(w, "  %d. %s\n", i+1, formatOp(op))
		e, ok := byKind[op.Kind]
		if !ok {
			continue
		}
		marker := ""
		if e.Stale {
			marker = " (outdated)"
		}
		fmt.Fprintf(w, "     > %s%s\n", e.Text, marker)
	}
}

func formatOp(op plan.Operation) string {
	names := op.ParamNames()
	if len(names) == 0 {
		return string(op.Kind)
	}
	parts := make([]string, 0, len(names))
	for _, name := range names {
		v, _ := op.Param(name)
		parts = append(parts, name+"="+v.String())
	}
	return string(op.Kind) + "  " + strings.Join(parts, " ")
}
