package orchestrator

import "testing"

func TestDecideFromText(t *testing.T) {
	cases := map[string]Decision{
		"yes":                      DecisionConfirm,
		"Yes please":               DecisionConfirm,
		"ok":                       DecisionConfirm,
		"sure, go ahead":           DecisionConfirm,
		"confirm":                  DecisionConfirm,
		"no":                       DecisionDecline,
		"no, don't":                DecisionDecline,
		"yes... actually no":       DecisionDecline,
		"I don't think so":         DecisionDecline,
		"what is the weather like": DecisionDecline,
		"":                         DecisionDecline,
	}
	for msg, want := range cases {
		if got := DecideFromText(msg); got != want {
			t.Fatalf("%q: expected %s got %s", msg, want, got)
		}
	}
}

func TestParseDecision(t *testing.T) {
	if d, ok := ParseDecision(" Confirm "); !ok || d != DecisionConfirm {
		t.Fatalf("expected confirm, got %q %v", d, ok)
	}
	if d, ok := ParseDecision("decline"); !ok || d != DecisionDecline {
		t.Fatalf("expected decline, got %q %v", d, ok)
	}
	if _, ok := ParseDecision("maybe"); ok {
		t.Fatal("unknown values must not parse")
	}
	if _, ok := ParseDecision(""); ok {
		t.Fatal("empty value must not parse")
	}
}

func TestConfirmationButtonsRoundTrip(t *testing.T) {
	for _, b := range ConfirmationButtons() {
		if _, ok := ParseDecision(b.Value); !ok {
			t.Fatalf("button %q does not parse", b.Value)
		}
	}
}
