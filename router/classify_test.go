package router

import (
	"strings"
	"testing"

	"github.com/jbctechsolutions/inferswitch/canonical"
	"github.com/jbctechsolutions/inferswitch/config"
)

func testCatalog() *config.Catalog {
	return &config.Catalog{
		Tasks: map[string]config.TaskSpec{
			"code": {Patterns: []string{"function", "implement", "bug"}, RequiredStrengths: []string{"code"}, MinQuality: 0.8},
		},
		RouteClasses: map[string]config.RouteClass{
			"interactive": {DefaultTier: "premium", QualityFloor: 0.5},
			"background": {
				DefaultTier:  "budget",
				QualityFloor: 0.3,
				Detection:    config.DetectionConfig{ContentPatterns: []string{"summarize this document"}, Headers: []string{"background"}},
			},
		},
	}
}

func textReq(text string) canonical.Request {
	return canonical.Request{Messages: []canonical.Message{
		{Role: canonical.RoleUser, Content: []canonical.ContentBlock{{Type: canonical.BlockText, Text: text}}},
	}}
}

func TestClassifyDetectsTaskType(t *testing.T) {
	c := NewClassifier(testCatalog())
	got := c.Classify(textReq("please implement this function to fix the bug"), nil)
	if got.TaskType != "code" {
		t.Errorf("expected code task, got %q", got.TaskType)
	}
	if got.MinQuality != 0.8 {
		t.Errorf("expected task min quality 0.8, got %v", got.MinQuality)
	}
}

func TestClassifyDetectsRouteClassByContent(t *testing.T) {
	c := NewClassifier(testCatalog())
	got := c.Classify(textReq("please summarize this document for me"), nil)
	if got.RouteClass != "background" {
		t.Errorf("expected background route class, got %q", got.RouteClass)
	}
}

func TestClassifyDefaultsToInteractiveAndChat(t *testing.T) {
	c := NewClassifier(testCatalog())
	got := c.Classify(textReq("hello there"), nil)
	if got.RouteClass != "interactive" || got.TaskType != "chat" {
		t.Errorf("expected interactive/chat defaults, got %+v", got)
	}
}

func TestClassifyRouteClassFromHeaders(t *testing.T) {
	c := NewClassifier(testCatalog())
	headers := map[string]string{"x-request-type": "background"}
	got := c.Classify(textReq("do something"), headers)
	if got.RouteClass != "background" {
		t.Errorf("expected background route class from header, got %q", got.RouteClass)
	}
}

func TestClassifyExpertPicksNameMatchingPrompt(t *testing.T) {
	c := NewClassifier(nil)
	expert := c.ClassifyExpert(textReq("write me some code please"), []string{"writer prose", "coder", "code reviewer"})
	if expert != "coder" && expert != "code reviewer" {
		t.Errorf("expected a code-related expert, got %q", expert)
	}
}

func TestClassifyExpertEmptyList(t *testing.T) {
	c := NewClassifier(nil)
	if got := c.ClassifyExpert(textReq("hi"), nil); got != "" {
		t.Errorf("expected empty string for no experts, got %q", got)
	}
}

func TestClassifyDifficultyScalesWithLength(t *testing.T) {
	c := NewClassifier(nil)
	short := textReq("hi")
	long := textReq(strings.Repeat("word ", 500))

	if c.ClassifyDifficulty(short) >= c.ClassifyDifficulty(long) {
		t.Error("expected longer prompt to classify as more difficult than a short one")
	}
}
