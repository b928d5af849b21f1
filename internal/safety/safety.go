// Package safety scores page content against unsafe-content categories and
// redacts what should not be stored.
package safety

import (
	"context"
	"maps"
	"slices"
	"strings"

	"golang.org/x/text/cases"
)

// DefaultThreshold is the score from which a category counts as present.
const DefaultThreshold = 7

// MaxScore is the highest category score.
const MaxScore = 10

// Categories scored by KeywordClassifier.
const (
	CategoryNSFW              = "NSFW"
	CategoryViolence          = "Violence"
	CategoryIllegalActivity   = "Illegal activity"
	CategoryHateSpeech        = "Hate speech"
	CategoryHarassment        = "Harassment"
	CategorySelfHarm          = "Self-harm"
	CategoryChildExploitation = "Child exploitation"
)

// Classifier scores content per category on a 0..10 scale.
type Classifier interface {
	Classify(ctx context.Context, content, url string) (map[string]int, error)
}

// Verdict is the outcome of Evaluate.
type Verdict struct {
	// Filtered is true when at least one category reached the threshold.
	Filtered bool
	// Reason lists the offending categories, sorted and comma separated.
	Reason string
	// Scores holds only the categories at or above the threshold.
	Scores map[string]int
}

// Evaluate classifies content and reports which categories reach threshold.
// Empty content is never filtered. A threshold <= 0 uses DefaultThreshold.
func Evaluate(ctx context.Context, c Classifier, content, url string, threshold int) (Verdict, error) {
	if c == nil || strings.TrimSpace(content) == "" {
		return Verdict{}, nil
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	scores, err := c.Classify(ctx, content, url)
	if err != nil {
		return Verdict{}, err
	}

	unsafe := make(map[string]int)
	for category, score := range scores {
		if score >= threshold {
			unsafe[category] = score
		}
	}
	if len(unsafe) == 0 {
		return Verdict{}, nil
	}
	return Verdict{
		Filtered: true,
		Reason:   strings.Join(slices.Sorted(maps.Keys(unsafe)), ", "),
		Scores:   unsafe,
	}, nil
}

// Redact returns the placeholder stored instead of filtered content.
func Redact(reason string) string {
	return "[Content filtered due to safety concerns: " + reason + "]"
}

// KeywordClassifier scores content by counting category keywords.
// Every occurrence adds Weight points, capped at MaxScore.
type KeywordClassifier struct {
	Keywords map[string][]string
	Weight   int
}

// NewKeywordClassifier returns a classifier with the built-in keyword lists.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		Keywords: map[string][]string{
			CategoryNSFW:              {"porn", "xxx", "nude", "explicit sex", "camgirl"},
			CategoryViolence:          {"gore", "murder", "torture", "beheading", "hitman"},
			CategoryIllegalActivity:   {"carding", "counterfeit", "fake passport", "stolen credit", "ransomware kit", "cocaine", "heroin"},
			CategoryHateSpeech:        {"white power", "racial holy war", "ethnic cleansing"},
			CategoryHarassment:        {"doxx", "swatting", "revenge porn"},
			CategorySelfHarm:          {"suicide method", "self-harm", "pro-ana"},
			CategoryChildExploitation: {"child porn", "cp links", "jailbait", "preteen"},
		},
		Weight: 3,
	}
}

var fold = cases.Fold()

// Classify implements Classifier. Matching is case-insensitive.
func (k *KeywordClassifier) Classify(_ context.Context, content, _ string) (map[string]int, error) {
	text := fold.String(content)
	weight := k.Weight
	if weight <= 0 {
		weight = 1
	}

	scores := make(map[string]int, len(k.Keywords))
	for category, words := range k.Keywords {
		hits := 0
		for _, w := range words {
			hits += strings.Count(text, fold.String(w))
		}
		scores[category] = min(hits*weight, MaxScore)
	}
	return scores, nil
}
