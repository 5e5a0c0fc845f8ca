package catalog

import "testing"

func TestNormalizeAliases(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"POST_MI", "POST_MI"},
		{"post-mi", "POST_MI"},
		{"Post MI", "POST_MI"},
		{"mi", "POST_MI"},
		{"chf", "HEART_FAILURE"},
		{"HF", "HEART_FAILURE"},
		{"heart failure", "HEART_FAILURE"},
		{"general", "GENERAL_MONITORING"},
		{"ILD", "ILD_POST_COVID"},
		{"ild post covid", "ILD_POST_COVID"},
		{"copd", "COPD"},
		{"", DefaultProtocol},
		{"xyz", DefaultProtocol},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQuestionsNeverEmpty(t *testing.T) {
	for _, name := range []string{"POST_MI", "HEART_FAILURE", "COPD", "xyz", ""} {
		qs := Questions(name)
		if len(qs) == 0 {
			t.Fatalf("Questions(%q) is empty", name)
		}
	}
}

func TestUnknownProtocolFallsBackToGeneral(t *testing.T) {
	got := Questions("xyz")
	want := Questions(DefaultProtocol)
	if len(got) != len(want) {
		t.Fatalf("len=%d, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i].ID != want[i].ID {
			t.Fatalf("question[%d]=%q, want %q", i, got[i].ID, want[i].ID)
		}
	}
}

func TestProtocolQuestionIDsResolve(t *testing.T) {
	for name, ids := range protocols {
		for _, id := range ids {
			if _, ok := Lookup(id); !ok {
				t.Fatalf("protocol %s references unknown question %q", name, id)
			}
		}
	}
}

func TestAdherenceFlagsImplyEscalation(t *testing.T) {
	for id, q := range questions {
		if q.Adherence && !q.Escalation {
			t.Fatalf("question %q marked adherence without escalation", id)
		}
		if q.Shape == ShapeNone && q.Escalation {
			t.Fatalf("question %q with no answer shape cannot escalate", id)
		}
	}
}

func TestPromptDefault(t *testing.T) {
	q, ok := Lookup("chest_pain")
	if !ok {
		t.Fatal("chest_pain missing")
	}
	if q.Prompt() != q.Prompts[0] {
		t.Fatalf("Prompt()=%q, want first canonical phrasing", q.Prompt())
	}
}
