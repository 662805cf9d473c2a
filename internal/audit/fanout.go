package audit

import (
	"github.com/yudame/valor/internal/logger"
	"github.com/yudame/valor/internal/workspace"
)

// Fanout delivers each decision to every auditor in order. A panicking
// auditor is logged and skipped; the rest still receive the decision.
type Fanout []workspace.Auditor

// NewFanout drops nil entries.
func NewFanout(auditors ...workspace.Auditor) Fanout {
	out := make(Fanout, 0, len(auditors))
	for _, a := range auditors {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

func (f Fanout) Record(d workspace.Decision) {
	for _, a := range f {
		deliver(a, d)
	}
}

func deliver(a workspace.Auditor, d workspace.Decision) {
	defer func() {
		if r := recover(); r != nil {
			logger.Global().WithPrefix("audit").Error("auditor %T panicked: %v", a, r)
		}
	}()
	a.Record(d)
}
