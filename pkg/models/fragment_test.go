package models

import "testing"

func TestValidFragmentName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"simple", "style", true},
		{"mixed case with digits", "Rule42", true},
		{"underscore and hyphen", "be_concise-v2", true},
		{"empty", "", false},
		{"space", "two words", false},
		{"dot", "a.b", false},
		{"slash", "a/b", false},
		{"unicode", "règle", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidFragmentName(tt.input); got != tt.want {
				t.Errorf("ValidFragmentName(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestFragment_ApplyDefaults(t *testing.T) {
	f := Fragment{Name: "style"}
	f.ApplyDefaults(false, false)

	if f.PriorityLevel != DefaultPriorityLevel {
		t.Errorf("PriorityLevel = %d, want %d", f.PriorityLevel, DefaultPriorityLevel)
	}
	if f.Include != IncludeManual {
		t.Errorf("Include = %q, want %q", f.Include, IncludeManual)
	}
	if !f.Enabled {
		t.Error("Enabled should default to true")
	}

	// Explicit enabled=false and priorityLevel 0 must survive defaulting.
	f = Fragment{Name: "off", Enabled: false, PriorityLevel: 0}
	f.ApplyDefaults(true, true)
	if f.Enabled {
		t.Error("explicit enabled=false was overridden")
	}
	if f.PriorityLevel != 0 {
		t.Errorf("explicit priorityLevel 0 became %d", f.PriorityLevel)
	}
}

func TestFragment_Validate(t *testing.T) {
	tests := []struct {
		name    string
		f       Fragment
		wantErr bool
	}{
		{"valid", Fragment{Name: "ok", PriorityLevel: 500, Include: IncludeManual}, false},
		{"bad name", Fragment{Name: "no spaces", PriorityLevel: 500, Include: IncludeManual}, true},
		{"priority too high", Fragment{Name: "ok", PriorityLevel: 1000, Include: IncludeManual}, true},
		{"priority negative", Fragment{Name: "ok", PriorityLevel: -1, Include: IncludeManual}, true},
		{"bad include", Fragment{Name: "ok", PriorityLevel: 1, Include: "sometimes"}, true},
		{"always include", Fragment{Name: "ok", PriorityLevel: 0, Include: IncludeAlways}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.f.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFragment_Summary(t *testing.T) {
	f := Fragment{Name: "style", Description: "d", PriorityLevel: 10, Enabled: true, Include: IncludeAlways, Text: "body"}
	s := f.Summary()
	if s.Text != "" {
		t.Error("summary should omit the text body")
	}
	if s.Name != f.Name || s.PriorityLevel != f.PriorityLevel || s.Include != f.Include {
		t.Errorf("summary dropped metadata: %+v", s)
	}
	if f.Text != "body" {
		t.Error("Summary() must not mutate the receiver")
	}
}
