package models

import (
	"fmt"
	"regexp"
)

// FragmentKind distinguishes the two named-text stores a workspace carries.
type FragmentKind string

const (
	FragmentRule      FragmentKind = "rule"
	FragmentReference FragmentKind = "reference"
)

// IncludeMode controls when a fragment (or a tool) joins the model context:
// always at session creation, manually by the caller, or on the model's own
// request through the management toolset.
type IncludeMode string

const (
	IncludeAlways IncludeMode = "always"
	IncludeManual IncludeMode = "manual"
	IncludeAgent  IncludeMode = "agent"
)

// ValidIncludeMode reports whether s is a recognized include mode.
func ValidIncludeMode(s string) bool {
	switch IncludeMode(s) {
	case IncludeAlways, IncludeManual, IncludeAgent:
		return true
	}
	return false
}

// Fragment default field values applied when front matter omits them.
const (
	DefaultPriorityLevel = 500
	MinPriorityLevel     = 0
	MaxPriorityLevel     = 999
)

var fragmentNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidFragmentName reports whether name is usable as a rule or reference
// name (and therefore as a file stem).
func ValidFragmentName(name string) bool {
	return fragmentNameRe.MatchString(name)
}

// Fragment is a named text body with inclusion metadata. Rules and
// references share this shape; they differ only in which directory the
// store keeps them in and the prefix they receive at context-build time.
type Fragment struct {
	Name          string      `json:"name" yaml:"name"`
	Description   string      `json:"description,omitempty" yaml:"description,omitempty"`
	PriorityLevel int         `json:"priorityLevel" yaml:"priorityLevel"`
	Enabled       bool        `json:"enabled" yaml:"enabled"`
	Include       IncludeMode `json:"include" yaml:"include"`
	Text          string      `json:"text,omitempty" yaml:"-"`
}

// Validate checks the fields that gate persistence.
func (f *Fragment) Validate() error {
	if !ValidFragmentName(f.Name) {
		return fmt.Errorf("invalid name %q: must match [A-Za-z0-9_-]+", f.Name)
	}
	if f.PriorityLevel < MinPriorityLevel || f.PriorityLevel > MaxPriorityLevel {
		return fmt.Errorf("priorityLevel %d out of range [%d, %d]", f.PriorityLevel, MinPriorityLevel, MaxPriorityLevel)
	}
	if !ValidIncludeMode(string(f.Include)) {
		return fmt.Errorf("invalid include mode %q", f.Include)
	}
	return nil
}

// ApplyDefaults fills omitted metadata with the documented defaults.
// Enabled and PriorityLevel take explicit set flags because false and 0 are
// both meaningful stored values.
func (f *Fragment) ApplyDefaults(enabledSet, prioritySet bool) {
	if !prioritySet {
		f.PriorityLevel = DefaultPriorityLevel
	}
	if f.Include == "" {
		f.Include = IncludeManual
	}
	if !enabledSet {
		f.Enabled = true
	}
}

// Summary is a fragment without its text body, the shape list operations
// return to keep tool output small.
func (f *Fragment) Summary() Fragment {
	out := *f
	out.Text = ""
	return out
}
