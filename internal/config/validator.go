package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator runs struct-tag validation plus the cross-field checks that
// validator/v10 tags can't express, mirroring the teacher's
// pkg/config/validator.go two-pass approach.
type Validator struct {
	v *validator.Validate
}

// NewValidator builds a Validator with a single long-lived validate.Validate
// instance, as the library recommends.
func NewValidator() *Validator {
	return &Validator{v: validator.New()}
}

// ValidateAll runs struct-tag validation and then the hand-written
// cross-field checks the spec calls out explicitly (§6 Configuration):
// debate_rounds ∈ {1,2}, timeout_seconds > 0, concurrency ≥ 1.
func (vr *Validator) ValidateAll(cfg *Convergence) error {
	if err := vr.v.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{Field: fe.Namespace(), Err: fmt.Errorf("%s", fe.Tag())}
		}
		return &ValidationError{Field: "convergence", Err: err}
	}

	if cfg.Budget.MaxParallelAgents < 1 {
		return &ValidationError{Field: "budget.max_parallel_agents", Err: fmt.Errorf("must be >= 1")}
	}
	if cfg.Budget.TimeoutSeconds <= 0 {
		return &ValidationError{Field: "budget.timeout_seconds", Err: fmt.Errorf("must be > 0")}
	}
	if cfg.Budget.DebateRounds != 1 && cfg.Budget.DebateRounds != 2 {
		return &ValidationError{Field: "budget.debate_rounds", Err: fmt.Errorf("must be 1 or 2")}
	}
	if cfg.MinIssuesForConvergence < 0 {
		return &ValidationError{Field: "min_issues_for_convergence", Err: fmt.Errorf("must be >= 0")}
	}
	return nil
}
