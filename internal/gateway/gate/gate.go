// Package gate applies the pedagogical rubric to generated drafts before
// they are accepted. It is an evaluate/revise state machine bounded by a
// maximum attempt count; liveness wins over strictness, so an exhausted or
// broken gate still delivers content, tagged for offline review.
package gate

import (
	"context"
	"log/slog"
)

type state int

const (
	stateDraft state = iota
	stateEvaluating
	stateRevising
	stateAccepted
	stateAcceptedWithWarning
)

// Verdict is the terminal outcome of a gate run.
type Verdict string

const (
	// VerdictAccepted means the draft passed the rubric, or the evaluator
	// malfunctioned and the gate failed open.
	VerdictAccepted Verdict = "accepted"
	// VerdictAcceptedWithWarning means attempts were exhausted and the last
	// draft was accepted anyway.
	VerdictAcceptedWithWarning Verdict = "accepted_with_warning"
)

// Result is what a gate run returns. Content is always usable.
type Result struct {
	Content  string
	Verdict  Verdict
	Attempts int
	// FailOpen is set when the evaluator malfunctioned and the draft was
	// accepted without a judgment.
	FailOpen bool
	// LastReport is the final parsed report, nil on fail-open.
	LastReport *RubricReport
}

// Evaluator submits a draft for rubric judgment and returns the raw
// structured report.
type Evaluator interface {
	Evaluate(ctx context.Context, draft string) (string, error)
}

// Regenerator produces a new draft with the evaluator's fix instruction
// appended verbatim to the generation instructions.
type Regenerator func(ctx context.Context, fix string) (string, error)

type Gate struct {
	eval        Evaluator
	maxAttempts int
	logger      *slog.Logger
}

// New creates a gate. maxAttempts bounds evaluator calls per run.
func New(eval Evaluator, maxAttempts int, logger *slog.Logger) *Gate {
	if maxAttempts < 1 {
		maxAttempts = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{eval: eval, maxAttempts: maxAttempts, logger: logger}
}

// Run drives the draft through the state machine. For maxAttempts = N the
// evaluator is called at most N times. Run never fails: every path ends in
// an accepted draft.
func (g *Gate) Run(ctx context.Context, draft string, regen Regenerator) Result {
	current := stateDraft
	attempt := 0
	var lastReport *RubricReport

	for {
		switch current {
		case stateDraft:
			current = stateEvaluating

		case stateEvaluating:
			attempt++
			raw, err := g.eval.Evaluate(ctx, draft)
			var report *RubricReport
			if err == nil {
				report, err = ParseReport(raw)
			}
			if err != nil {
				// Evaluator malfunction: fail open so a broken evaluator
				// never blocks delivery. Logged apart from quality failures.
				g.logger.Warn("quality gate evaluation error, failing open",
					"attempt", attempt,
					"error", err)
				return Result{
					Content:  draft,
					Verdict:  VerdictAccepted,
					Attempts: attempt,
					FailOpen: true,
				}
			}

			lastReport = report
			if report.Passes() {
				g.logger.Info("quality gate passed",
					"attempt", attempt,
					"cognitive_level", report.CognitiveLevel.String())
				current = stateAccepted
				break
			}

			g.logger.Info("quality gate failed",
				"attempt", attempt,
				"reasons", report.FailReasons(),
				"fix", report.Fix)

			if attempt >= g.maxAttempts {
				current = stateAcceptedWithWarning
				break
			}
			current = stateRevising

		case stateRevising:
			revised, err := regen(ctx, lastReport.Fix)
			if err != nil {
				// The revision call failed; keep the last draft rather than
				// losing content we already have.
				g.logger.Warn("quality gate revision failed, keeping prior draft",
					"attempt", attempt,
					"error", err)
				current = stateAcceptedWithWarning
				break
			}
			g.logger.Info("quality gate revised draft",
				"attempt", attempt,
				"fix", lastReport.Fix)
			draft = revised
			current = stateDraft

		case stateAccepted:
			return Result{
				Content:    draft,
				Verdict:    VerdictAccepted,
				Attempts:   attempt,
				LastReport: lastReport,
			}

		case stateAcceptedWithWarning:
			g.logger.Warn("quality gate attempts exhausted, accepting with warning",
				"attempts", attempt)
			return Result{
				Content:    draft,
				Verdict:    VerdictAcceptedWithWarning,
				Attempts:   attempt,
				LastReport: lastReport,
			}
		}
	}
}

// MaxAttempts returns the configured attempt bound.
func (g *Gate) MaxAttempts() int { return g.maxAttempts }
