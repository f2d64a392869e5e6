// Package diag reports advisory conditions that layers recover from on their
// own, such as padding undersized inputs or falling back to a slower backend.
package diag

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Condition identifies a kind of advisory notice.
type Condition string

const (
	// PadOnTheFly fires when a convolution input is padded because some
	// sample would otherwise produce an empty output.
	PadOnTheFly Condition = "pad_on_the_fly"
	// FusedUnavailable fires when a layer runs on the composed fallback path.
	FusedUnavailable Condition = "fused_unavailable"
	// RecurrentPlaceholder fires when a 2D-LSTM runs without fused kernels
	// and emits zeros instead of a real sweep.
	RecurrentPlaceholder Condition = "recurrent_placeholder"
)

// Reporter logs each condition at most once. The "already reported" state
// belongs to the reporter, so sharing one reporter between layers scopes the
// notices to a run.
type Reporter struct {
	mu     sync.Mutex
	logger logrus.FieldLogger
	seen   map[Condition]int
}

// NewReporter creates a reporter writing to logger. A nil logger uses the
// logrus standard logger.
func NewReporter(logger logrus.FieldLogger) *Reporter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reporter{logger: logger, seen: make(map[Condition]int)}
}

// Once logs msg at warning level the first time cond is raised and returns
// true; later calls only count the occurrence and return false.
func (r *Reporter) Once(cond Condition, fields logrus.Fields, msg string) bool {
	r.mu.Lock()
	n := r.seen[cond]
	r.seen[cond] = n + 1
	r.mu.Unlock()
	if n > 0 {
		return false
	}
	r.logger.WithField("condition", string(cond)).WithFields(fields).Warn(msg)
	return true
}

// Reported reports whether cond has been raised.
func (r *Reporter) Reported(cond Condition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[cond] > 0
}

// Occurrences returns how many times cond has been raised, including the
// calls that were not logged.
func (r *Reporter) Occurrences(cond Condition) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[cond]
}

// Logger returns the underlying logger.
func (r *Reporter) Logger() logrus.FieldLogger {
	return r.logger
}
