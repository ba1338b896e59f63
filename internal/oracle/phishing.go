package oracle

import (
	"context"
	"regexp"
	"strings"
)

// LexicalPhishingOracle is the built-in fallback classifier for payment
// message text, used when no remote phishing model endpoint is configured.
// It counts lexical phishing signals and normalizes the raw signal weight s
// to a confidence via s/(s+1), so a single weak signal stays well below the
// ambiguous band while stacked signals asymptotically approach 1.
type LexicalPhishingOracle struct{}

// NewLexicalPhishingOracle creates the lexical classifier.
func NewLexicalPhishingOracle() *LexicalPhishingOracle {
	return &LexicalPhishingOracle{}
}

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// signalWeights are lexical markers with their raw weights. Tuned against
// the same SMS corpus conventions the verification templates use.
var signalWeights = []struct {
	marker string
	weight float64
}{
	{"urgent", 0.8},
	{"click here", 1.0},
	{"verify", 0.5},
	{"kyc", 0.7},
	{"prize", 0.9},
	{"winner", 0.9},
	{"claim", 0.7},
	{"blocked", 0.6},
	{"suspended", 0.6},
	{"expire", 0.5},
	{"immediately", 0.5},
	{"password", 0.7},
	{"otp", 0.4},
	{"lottery", 1.0},
	{"free", 0.4},
}

// Score classifies the message text. Empty text scores zero.
func (o *LexicalPhishingOracle) Score(_ context.Context, f Features) (float64, error) {
	text := strings.ToLower(f.Message)
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}

	var raw float64
	for _, s := range signalWeights {
		if strings.Contains(text, s.marker) {
			raw += s.weight
		}
	}

	// Embedded links are the strongest single signal.
	if urlPattern.MatchString(text) {
		raw += 1.2
	}

	// Shouting (mostly upper-case letters) is a weak signal.
	if upperRatio(f.Message) > 0.5 {
		raw += 0.4
	}

	return clamp01(raw / (raw + 1)), nil
}

func upperRatio(s string) float64 {
	var letters, upper int
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			letters++
			upper++
		case r >= 'a' && r <= 'z':
			letters++
		}
	}
	if letters < 8 {
		return 0
	}
	return float64(upper) / float64(letters)
}
