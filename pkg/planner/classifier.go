package planner

import "github.com/jllopis/orchestra/pkg/core"

// Classifier maps a request to a complexity tier and an intent label.
// Implementations must be pure and total.
type Classifier interface {
	Classify(request string) (core.Complexity, string)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(request string) (core.Complexity, string)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(request string) (core.Complexity, string) { return f(request) }

// DefaultIntent is returned when no intent category matches.
const DefaultIntent = "General assistance"

var (
	veryComplexTerms = []string{
		"full stack", "fullstack", "full-stack", "enterprise", "microservice",
		"distributed", "platform", "scalable", "multi-tenant",
	}
	complexTerms = []string{
		"database", "api", "backend", "authentication", "auth", "deploy",
		"integration", "real-time", "realtime", "dashboard", "payment", "server",
	}
	moderateTerms = []string{
		"build", "create", "page", "component", "app", "website", "landing",
		"form", "feature", "implement", "design",
	}
)

type intentRule struct {
	label string
	terms []string
}

// Categories are tried in order; the first match wins.
var intentRules = []intentRule{
	{"Web UI development", []string{"website", "web", "page", "landing", "ui", "ux", "frontend", "front end", "component", "css", "html", "react", "vue", "form"}},
	{"API/Backend development", []string{"api", "backend", "back end", "server", "endpoint", "database", "rest", "graphql", "microservice"}},
	{"Bug fixing", []string{"bug", "fix", "error", "issue", "broken", "crash"}},
	{"Deployment", []string{"deploy", "docker", "kubernetes", "ci", "hosting", "release"}},
	{"Testing", []string{"test", "qa", "coverage", "e2e"}},
	{"Documentation", []string{"document", "docs", "readme", "guide", "tutorial"}},
	{"Data/ML", []string{"data", "machine learning", "ml", "model", "analytics", "etl"}},
	{"Mobile development", []string{"mobile", "ios", "android", "react native", "flutter"}},
	{"Refactoring", []string{"refactor", "clean up", "cleanup", "optimize", "restructure"}},
}

// KeywordClassifier classifies requests with keyword and length heuristics.
type KeywordClassifier struct{}

// Classify implements Classifier.
func (KeywordClassifier) Classify(request string) (core.Complexity, string) {
	t := newText(request)
	return complexityOf(t), intentOf(t)
}

func complexityOf(t text) core.Complexity {
	switch {
	case t.words > 50,
		t.words > 20 && t.any(veryComplexTerms...),
		t.distinct(complexTerms...) >= 4:
		return core.ComplexityVeryComplex
	case t.words > 25, t.any(complexTerms...):
		return core.ComplexityComplex
	case t.words > 10, t.any(moderateTerms...):
		return core.ComplexityModerate
	}
	return core.ComplexitySimple
}

func intentOf(t text) string {
	for _, rule := range intentRules {
		if t.any(rule.terms...) {
			return rule.label
		}
	}
	return DefaultIntent
}
