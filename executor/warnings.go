package executor

import (
	"strings"
	"sync"
)

// WarningCategory classifies a warning emitted by a test body.
type WarningCategory string

const (
	CategoryUser               WarningCategory = "user"
	CategoryDeprecation        WarningCategory = "deprecation"
	CategoryPendingDeprecation WarningCategory = "pending-deprecation"
	CategoryImport             WarningCategory = "import"
	CategoryResource           WarningCategory = "resource"
	CategoryExperimental       WarningCategory = "experimental"
)

// Warning is one recorded warning.
type Warning struct {
	Category WarningCategory
	Message  string
}

// Recorder collects warnings emitted during one test execution. It is
// created fresh per test, so recorded warnings never leak across tests.
type Recorder struct {
	mu       sync.Mutex
	warnings []Warning
	muted    int
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Warn records a warning unless the recorder is muted.
func (r *Recorder) Warn(category WarningCategory, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.muted > 0 {
		return
	}
	r.warnings = append(r.warnings, Warning{Category: category, Message: message})
}

// Warnings returns a copy of everything recorded so far.
func (r *Recorder) Warnings() []Warning {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Warning, len(r.warnings))
	copy(out, r.warnings)
	return out
}

// Len returns the number of recorded warnings.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.warnings)
}

// CategorySince reports whether a warning of the given category was
// recorded at or after position mark.
func (r *Recorder) CategorySince(mark int, category WarningCategory) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := mark; i < len(r.warnings); i++ {
		if r.warnings[i].Category == category {
			return true
		}
	}
	return false
}

func (r *Recorder) mute() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.muted++
}

func (r *Recorder) unmute() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.muted--
}

// StrictPolicy decides which warnings are escalated to failures when the
// strict flag is set. Some categories are noise from outside the system
// under test and stay exempt even in strict mode.
type StrictPolicy struct {
	IgnoredCategories []WarningCategory
	IgnoredPatterns   []string // substring match against the message
}

// DefaultStrictPolicy exempts the categories Python-side tooling ignores by
// default, plus known third-party message patterns.
func DefaultStrictPolicy() StrictPolicy {
	return StrictPolicy{
		IgnoredCategories: []WarningCategory{
			CategoryPendingDeprecation,
			CategoryImport,
			CategoryResource,
			CategoryExperimental,
		},
		IgnoredPatterns: []string{
			"Using or importing the ABCs from",
		},
	}
}

// Violation returns the first warning not exempted by the policy, or nil.
func (p StrictPolicy) Violation(warnings []Warning) *Warning {
	for i := range warnings {
		w := warnings[i]
		if p.exempt(w) {
			continue
		}
		return &w
	}
	return nil
}

func (p StrictPolicy) exempt(w Warning) bool {
	for _, cat := range p.IgnoredCategories {
		if w.Category == cat {
			return true
		}
	}
	for _, pat := range p.IgnoredPatterns {
		if strings.Contains(w.Message, pat) {
			return true
		}
	}
	return false
}
