package gate

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// CognitiveLevel is the ordinal rubric scale. Higher is more demanding.
type CognitiveLevel int

const (
	LevelRemember CognitiveLevel = iota
	LevelUnderstand
	LevelApply
	LevelAnalyze
	LevelEvaluate
	LevelCreate
)

var levelNames = map[string]CognitiveLevel{
	"remember":   LevelRemember,
	"understand": LevelUnderstand,
	"apply":      LevelApply,
	"analyze":    LevelAnalyze,
	"evaluate":   LevelEvaluate,
	"create":     LevelCreate,
}

func (l CognitiveLevel) String() string {
	for name, level := range levelNames {
		if level == l {
			return name
		}
	}
	return "unknown"
}

// RubricReport is the evaluator's structured judgment of one draft.
type RubricReport struct {
	GroundedInRealLife    bool
	UsesConcreteMaterials bool
	HasClearGoal          bool
	LinksToStandard       bool
	CognitiveLevel        CognitiveLevel
	EngagementHooks       []string
	Fix                   string
}

// Passes applies the pass rule: all four booleans true and the cognitive
// level at apply or above. The level floor is independent of the booleans,
// so recall-level content always fails.
func (r *RubricReport) Passes() bool {
	return r.GroundedInRealLife &&
		r.UsesConcreteMaterials &&
		r.HasClearGoal &&
		r.LinksToStandard &&
		r.CognitiveLevel >= LevelApply
}

// FailReasons names the criteria the report failed on.
func (r *RubricReport) FailReasons() []string {
	var reasons []string
	if !r.GroundedInRealLife {
		reasons = append(reasons, "not grounded in real life")
	}
	if !r.UsesConcreteMaterials {
		reasons = append(reasons, "no concrete materials")
	}
	if !r.HasClearGoal {
		reasons = append(reasons, "no clear goal")
	}
	if !r.LinksToStandard {
		reasons = append(reasons, "no standard link")
	}
	if r.CognitiveLevel < LevelApply {
		reasons = append(reasons, fmt.Sprintf("cognitive level %s below apply", r.CognitiveLevel))
	}
	return reasons
}

// ParseReport extracts a rubric report from evaluator output. Evaluators
// tend to wrap JSON in markdown fences or preamble text, so parsing is
// lenient about the envelope but strict about required fields: a missing
// boolean or unknown cognitive level is a parse error, which the gate
// treats as fail-open.
func ParseReport(raw string) (*RubricReport, error) {
	body := extractJSON(raw)
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("evaluator output is not valid JSON")
	}

	parsed := gjson.Parse(body)

	var report RubricReport
	for field, dst := range map[string]*bool{
		"grounded_in_real_life":   &report.GroundedInRealLife,
		"uses_concrete_materials": &report.UsesConcreteMaterials,
		"has_clear_goal":          &report.HasClearGoal,
		"links_to_standard":       &report.LinksToStandard,
	} {
		v := parsed.Get(field)
		if !v.Exists() {
			return nil, fmt.Errorf("evaluator output missing %q", field)
		}
		*dst = v.Bool()
	}

	levelName := strings.ToLower(strings.TrimSpace(parsed.Get("cognitive_level").String()))
	level, ok := levelNames[levelName]
	if !ok {
		return nil, fmt.Errorf("unknown cognitive level %q", levelName)
	}
	report.CognitiveLevel = level

	for _, hook := range parsed.Get("engagement_hooks").Array() {
		if s := hook.String(); s != "" {
			report.EngagementHooks = append(report.EngagementHooks, s)
		}
	}
	report.Fix = strings.TrimSpace(parsed.Get("fix").String())

	return &report, nil
}

// extractJSON strips anything outside the outermost JSON object.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}
