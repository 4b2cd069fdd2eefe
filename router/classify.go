package router

import (
	"regexp"
	"strings"

	"github.com/jbctechsolutions/inferswitch/canonical"
	"github.com/jbctechsolutions/inferswitch/config"
)

// Classification holds the two-layer classification result for a request:
// a route class (interactive, background, compaction, ...) and a task type
// (code, architecture, chat, ...), grounded on the teacher's classify.go.
type Classification struct {
	RouteClass        string
	TaskType          string
	Tier              string
	MinQuality        float64
	LatencyBudgetMs   int
	RequiredStrengths []string
	Confidence        float64
}

// Classifier performs two-layer classification against a catalog's task and
// route-class pattern definitions, pre-compiling every regexp at construction
// so Classify stays cheap on the request path.
type Classifier struct {
	catalog       *config.Catalog
	taskPatterns  map[string][]*regexp.Regexp
	routePatterns map[string]*compiledRoutePatterns
}

type compiledRoutePatterns struct {
	contentPatterns      []*regexp.Regexp
	systemPromptPatterns []*regexp.Regexp
}

// NewClassifier constructs a Classifier from the given catalog. Invalid
// regexp patterns are silently skipped, matching the teacher's tolerance for
// hand-edited catalog files.
func NewClassifier(catalog *config.Catalog) *Classifier {
	c := &Classifier{
		catalog:       catalog,
		taskPatterns:  make(map[string][]*regexp.Regexp),
		routePatterns: make(map[string]*compiledRoutePatterns),
	}
	if catalog == nil {
		return c
	}

	for name, task := range catalog.Tasks {
		for _, p := range task.Patterns {
			if re, err := regexp.Compile("(?i)" + p); err == nil {
				c.taskPatterns[name] = append(c.taskPatterns[name], re)
			}
		}
	}

	for name, rc := range catalog.RouteClasses {
		crp := &compiledRoutePatterns{}
		for _, p := range rc.Detection.ContentPatterns {
			if re, err := regexp.Compile("(?i)" + p); err == nil {
				crp.contentPatterns = append(crp.contentPatterns, re)
			}
		}
		for _, p := range rc.Detection.SystemPromptPatterns {
			if re, err := regexp.Compile("(?i)" + p); err == nil {
				crp.systemPromptPatterns = append(crp.systemPromptPatterns, re)
			}
		}
		c.routePatterns[name] = crp
	}

	return c
}

// Classify runs the two-layer classification against a canonical request and
// optional HTTP headers. Layer 1 determines the route class; layer 2
// determines the task type. The resulting quality floor is the task's
// MinQuality when the task is known, else the route class's floor.
func (c *Classifier) Classify(req canonical.Request, headers map[string]string) Classification {
	prompt := promptText(req)
	routeClass := c.detectRouteClass(prompt, headers)
	taskType, strengths, confidence := c.detectTaskType(prompt)

	var rc config.RouteClass
	if c.catalog != nil {
		rc = c.catalog.RouteClasses[routeClass]
	}

	minQuality := rc.QualityFloor
	if c.catalog != nil {
		if task, ok := c.catalog.Tasks[taskType]; ok {
			minQuality = task.MinQuality
		}
	}

	return Classification{
		RouteClass:        routeClass,
		TaskType:          taskType,
		Tier:              rc.DefaultTier,
		MinQuality:        minQuality,
		LatencyBudgetMs:   rc.LatencyBudgetMs,
		RequiredStrengths: strengths,
		Confidence:        confidence,
	}
}

// ClassifyExpert implements the opaque classify(messages, experts) capability
// spec.md §4.5 rule 3 calls for: given the candidate expert names, it returns
// the single best-matching expert by reusing the task-type detector's
// pattern-hit scoring against the expert name itself. Callers outside this
// package treat expert internals as opaque per spec.md's explicit non-goal.
func (c *Classifier) ClassifyExpert(req canonical.Request, experts []string) string {
	if len(experts) == 0 {
		return ""
	}
	prompt := strings.ToLower(promptText(req))
	best := experts[0]
	bestHits := -1
	for _, name := range experts {
		hits := 0
		for _, word := range strings.Fields(strings.ToLower(name)) {
			if strings.Contains(prompt, word) {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			best = name
		}
	}
	return best
}

// ClassifyDifficulty implements the legacy integer-bucket classifier spec.md
// §4.5 rule 4 consults. Buckets run 0 (trivial) through 9 (hardest), derived
// from prompt length and tool-use presence — a coarse proxy kept only for
// routing tables still keyed on difficulty_models.
func (c *Classifier) ClassifyDifficulty(req canonical.Request) int {
	chars := len(promptText(req))
	bucket := chars / 400
	if len(req.Tools) > 0 {
		bucket++
	}
	if bucket > 9 {
		bucket = 9
	}
	return bucket
}

func promptText(req canonical.Request) string {
	var b strings.Builder
	for _, blk := range req.System {
		b.WriteString(blk.Text)
		b.WriteString(" ")
	}
	for _, m := range req.Messages {
		for _, blk := range m.Content {
			b.WriteString(blk.Text)
			b.WriteString(" ")
		}
	}
	return b.String()
}

// detectRouteClass applies a three-priority decision: an explicit
// x-request-type header, then content-pattern matches, then "interactive".
func (c *Classifier) detectRouteClass(prompt string, headers map[string]string) string {
	if rt, ok := headers["x-request-type"]; ok && c.catalog != nil {
		for name := range c.catalog.RouteClasses {
			for _, h := range c.catalog.RouteClasses[name].Detection.Headers {
				if strings.Contains(h, rt) {
					return name
				}
			}
		}
	}

	for name, crp := range c.routePatterns {
		for _, re := range crp.contentPatterns {
			if re.MatchString(prompt) {
				return name
			}
		}
	}

	return "interactive"
}

// detectTaskType scans all task patterns and returns the task name with the
// most pattern hits, its required strengths, and a confidence score derived
// from the hit count. Defaults to "chat" with confidence 0.5 on no match.
func (c *Classifier) detectTaskType(prompt string) (string, []string, float64) {
	bestType := "chat"
	bestCount := 0
	var bestStrengths []string

	for name, patterns := range c.taskPatterns {
		count := 0
		for _, re := range patterns {
			if re.MatchString(prompt) {
				count++
			}
		}
		if count > bestCount {
			bestCount = count
			bestType = name
			if c.catalog != nil {
				if task, ok := c.catalog.Tasks[name]; ok {
					bestStrengths = task.RequiredStrengths
				}
			}
		}
	}

	confidence := 0.5
	switch {
	case bestCount >= 2:
		confidence = 0.85
	case bestCount == 1:
		confidence = 0.70
	}

	return bestType, bestStrengths, confidence
}
