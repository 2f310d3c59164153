package keywords

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		body string
		want Class
	}{
		{"STOP", OptOut},
		{"stop", OptOut},
		{"Stop!", OptOut},
		{"please UNSUBSCRIBE me", OptOut},
		{"CANCEL", OptOut},
		{"end", OptOut},
		{"quit", OptOut},
		{"stopall", OptOut},
		{"START", OptIn},
		{"unstop", OptIn},
		{"yes", OptIn},
		{"HELP", Help},
		{"info", Help},
		{"what is the gate code", None},
		{"", None},
		{"stopwatch", None}, // no partial word matches
		{"yesterday", None},
	}
	for _, tt := range tests {
		if got := Classify(tt.body); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestOptOutBeatsHelp(t *testing.T) {
	if got := Classify("STOP HELP"); got != OptOut {
		t.Errorf("Classify(STOP HELP) = %v, want OptOut", got)
	}
	if got := Classify("help me stop"); got != OptOut {
		t.Errorf("Classify(help me stop) = %v, want OptOut", got)
	}
}

func TestOptOutBeatsOptIn(t *testing.T) {
	if got := Classify("stop start"); got != OptOut {
		t.Errorf("Classify(stop start) = %v, want OptOut", got)
	}
}

func TestContains(t *testing.T) {
	if !Contains("START password please", "PASSWORD") {
		t.Error("keyword match should be case-insensitive")
	}
	if !Contains("the magic word", "magic word") {
		t.Error("phrases should match as substrings")
	}
	if Contains("anything", "") {
		t.Error("empty keyword never matches")
	}
	if Contains("pass word", "password") {
		t.Error("split keyword should not match")
	}
}

func TestClassString(t *testing.T) {
	tests := map[Class]string{
		OptOut: "opt_out",
		OptIn:  "opt_in",
		Help:   "help",
		None:   "none",
	}
	for c, want := range tests {
		if c.String() != want {
			t.Errorf("%d.String() = %q, want %q", c, c.String(), want)
		}
	}
}
