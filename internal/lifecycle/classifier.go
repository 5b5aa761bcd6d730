package lifecycle

import "strings"

// Classifier reports whether a client error is transient and worth a
// reinitialization.
type Classifier func(errMsg string) bool

// SubstringClassifier treats an error as transient when its message
// contains any of the given fragments.
func SubstringClassifier(fragments []string) Classifier {
	frags := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if f != "" {
			frags = append(frags, f)
		}
	}
	return func(errMsg string) bool {
		for _, f := range frags {
			if strings.Contains(errMsg, f) {
				return true
			}
		}
		return false
	}
}
