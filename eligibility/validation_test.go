package eligibility

import (
	"strings"
	"testing"
)

func TestDecodeRule(t *testing.T) {
	rule, err := DecodeRule([]byte(`{"minAge": 15, "gender": "Female", "requiresSehatCard": false}`))
	if err != nil {
		t.Fatalf("DecodeRule() failed: %v", err)
	}
	want := Rule{MinAge: 15, Gender: GenderFemale}
	if rule != want {
		t.Errorf("DecodeRule() = %+v, want %+v", rule, want)
	}
}

func TestDecodeRule_Rejects(t *testing.T) {
	testCases := []struct {
		name    string
		doc     string
		wantMsg string
	}{
		{"missing minAge", `{"gender": "any", "requiresSehatCard": true}`, "minAge"},
		{"missing gender", `{"minAge": 0, "requiresSehatCard": true}`, "gender"},
		{"missing card flag", `{"minAge": 0, "gender": "any"}`, "requiresSehatCard"},
		{"unknown field", `{"minAge": 0, "gender": "any", "requiresSehatCard": true, "maxAge": 3}`, "maxAge"},
		{"wrong type", `{"minAge": "ten", "gender": "any", "requiresSehatCard": true}`, "invalid"},
		{"negative age", `{"minAge": -2, "gender": "any", "requiresSehatCard": true}`, ">= 0"},
		{"bad gender", `{"minAge": 0, "gender": "both", "requiresSehatCard": true}`, "gender"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeRule([]byte(tc.doc))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error %q should mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestRuleExpression(t *testing.T) {
	testCases := []struct {
		rule Rule
		want string
	}{
		{Rule{MinAge: 0, Gender: GenderAny}, `patient.age >= 0`},
		{Rule{MinAge: 15, Gender: GenderFemale}, `patient.age >= 15 && patient.gender == "female"`},
		{Rule{MinAge: 0, Gender: GenderAny, RequiresCard: true}, `patient.age >= 0 && patient.hasCard`},
	}

	for _, tc := range testCases {
		if got := tc.rule.Expression(); got != tc.want {
			t.Errorf("Expression() = %q, want %q", got, tc.want)
		}
	}
}
