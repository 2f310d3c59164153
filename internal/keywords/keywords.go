// Package keywords classifies inbound message text against the
// carrier compliance word lists (STOP/START/HELP families).
// Classification is pure; recording opt-outs is the caller's job.
package keywords

import "strings"

// Class is the compliance classification of a message body.
type Class int

const (
	None Class = iota
	OptOut
	OptIn
	Help
)

func (c Class) String() string {
	switch c {
	case OptOut:
		return "opt_out"
	case OptIn:
		return "opt_in"
	case Help:
		return "help"
	default:
		return "none"
	}
}

var (
	optOutWords = []string{"STOP", "STOPALL", "UNSUBSCRIBE", "CANCEL", "END", "QUIT"}
	optInWords  = []string{"START", "UNSTOP", "YES"}
	helpWords   = []string{"HELP", "INFO"}
)

// Classify returns the compliance class of body. Opt-out words beat
// everything else: "STOP HELP" is an opt-out, not a help request.
func Classify(body string) Class {
	words := tokenize(body)
	if containsAny(words, optOutWords) {
		return OptOut
	}
	if containsAny(words, helpWords) {
		return Help
	}
	if containsAny(words, optInWords) {
		return OptIn
	}
	return None
}

// Contains reports whether body contains keyword, case-insensitively.
// Used for the gating keyword, which may be a phrase rather than a
// single word.
func Contains(body, keyword string) bool {
	if keyword == "" {
		return false
	}
	return strings.Contains(strings.ToLower(body), strings.ToLower(keyword))
}

// tokenize uppercases body and splits on anything that isn't a letter
// or digit, so "stop!" and "Stop." still match.
func tokenize(body string) []string {
	return strings.FieldsFunc(strings.ToUpper(body), func(r rune) bool {
		return !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9')
	})
}

func containsAny(words, list []string) bool {
	for _, w := range words {
		for _, l := range list {
			if w == l {
				return true
			}
		}
	}
	return false
}
