package service

import "testing"

func TestParseIntent(t *testing.T) {
	tests := []struct {
		raw    string
		want   Intent
		wantOK bool
	}{
		{`{"intent": "comparison"}`, IntentComparison, true},
		{`{"intent": " Procedure "}`, IntentProcedure, true},
		{"```json\n{\"intent\": \"factual\"}\n```", IntentFactual, true},
		{`{"intent": "smalltalk"}`, "", false},
		{`comparison`, "", false},
		{``, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := parseIntent(tt.raw)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("parseIntent(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRewriteQuery(t *testing.T) {
	tests := []struct {
		name   string
		intent Intent
		query  string
		topic  string
		want   string
	}{
		{"question unchanged", IntentQuestion, "What is the LSO?", "LSO", "What is the LSO?"},
		{"comparison", IntentComparison, "pump A vs pump B", "", "Compare and contrast: pump A vs pump B"},
		{"clarification adds topic", IntentClarification, "what do you mean?", "torque limit", "what do you mean? (regarding torque limit)"},
		{"clarification skips present topic", IntentClarification, "what is the torque limit again?", "torque limit", "what is the torque limit again?"},
		{"clarification without topic", IntentClarification, "what do you mean?", "", "what do you mean?"},
		{"unknown intent", Intent("other"), "q", "", "q"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rewriteQuery(tt.intent, tt.query, tt.topic); got != tt.want {
				t.Errorf("rewriteQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEveryIntentHasTemplates(t *testing.T) {
	for _, in := range Intents {
		if _, ok := intentTemplates[in]; !ok {
			t.Errorf("intent %q has no rewrite template", in)
		}
		if got := templatedFollowUps(in, "the hydraulic pump", 3); len(got) != 3 {
			t.Errorf("intent %q: expected 3 follow-ups, got %d", in, len(got))
		}
	}
}

func TestTemplatedFollowUpsBounded(t *testing.T) {
	got := templatedFollowUps(IntentFactual, "the torque limit?", 1)
	if len(got) != 1 || got[0] != "What is the tolerance for the torque limit?" {
		t.Errorf("templatedFollowUps() = %v", got)
	}
	if got := templatedFollowUps(IntentFactual, "x", 0); len(got) != 0 {
		t.Errorf("expected no follow-ups for limit 0, got %v", got)
	}
}
