// Package validation checks job lists before a cook starts
package validation

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cookfarm/cookfarm/pkg/types"
)

// TargetValidator validates jobs against a source root
type TargetValidator struct {
	sourceRoot string
}

// NewTargetValidator creates a new target validator
func NewTargetValidator(sourceRoot string) *TargetValidator {
	return &TargetValidator{
		sourceRoot: sourceRoot,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Target  string
	Field   string
	Message string
	Level   ValidationLevel
}

// ValidationLevel represents error severity
type ValidationLevel string

const (
	ValidationLevelError   ValidationLevel = "error"
	ValidationLevelWarning ValidationLevel = "warning"
)

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s.%s: %s", e.Level, e.Target, e.Field, e.Message)
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// AddError adds an error to the validation result
func (r *ValidationResult) AddError(target, field, message string, level ValidationLevel) {
	r.Errors = append(r.Errors, ValidationError{
		Target:  target,
		Field:   field,
		Message: message,
		Level:   level,
	})
	if level == ValidationLevelError {
		r.Valid = false
	}
}

// Warnings returns the warning-level entries
func (r *ValidationResult) Warnings() []ValidationError {
	var out []ValidationError
	for _, e := range r.Errors {
		if e.Level == ValidationLevelWarning {
			out = append(out, e)
		}
	}
	return out
}

// Err folds the error-level entries into one error, or returns nil
func (r *ValidationResult) Err() error {
	var msgs []string
	for _, e := range r.Errors {
		if e.Level == ValidationLevelError {
			msgs = append(msgs, e.Error())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid targets:\n  %s", strings.Join(msgs, "\n  "))
}

// Validate validates a single job identifier
func (v *TargetValidator) Validate(job types.Job, field string) *ValidationResult {
	result := &ValidationResult{Valid: true}
	v.validateName(job.String(), field, result)
	if result.Valid {
		v.validateSource(job.String(), field, result)
	}
	return result
}

// ValidateMultiple validates the startup batch and the job list of one run.
// A job may appear only once across both.
func (v *TargetValidator) ValidateMultiple(startup []string, jobs []types.Job) *ValidationResult {
	result := &ValidationResult{Valid: true}
	seen := make(map[string]string, len(startup)+len(jobs))

	check := func(name, field string) {
		if prev, dup := seen[name]; dup {
			result.AddError(name, field, fmt.Sprintf("duplicate of an entry in %s", prev), ValidationLevelError)
			return
		}
		seen[name] = field

		r := v.Validate(types.Job(name), field)
		result.Errors = append(result.Errors, r.Errors...)
		if !r.Valid {
			result.Valid = false
		}
	}

	for _, s := range startup {
		check(s, "startupBatch")
	}
	for _, j := range jobs {
		check(j.String(), "targets")
	}

	if len(jobs) == 0 && len(startup) == 0 {
		result.AddError("config", "targets", "no targets selected", ValidationLevelWarning)
	}
	return result
}

func (v *TargetValidator) validateName(name, field string, result *ValidationResult) {
	if name == "" {
		result.AddError("", field, "target name is required", ValidationLevelError)
		return
	}
	if types.IsReserved(name) {
		result.AddError(name, field, "target name is a reserved channel token", ValidationLevelError)
		return
	}
	if strings.ContainsAny(name, "\r\n") {
		result.AddError(name, field, "target name cannot contain line breaks", ValidationLevelError)
		return
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		result.AddError(name, field, "target must be relative to the source root", ValidationLevelError)
		return
	}
	if clean := path.Clean(name); clean == ".." || strings.HasPrefix(clean, "../") {
		result.AddError(name, field, "target escapes the source root", ValidationLevelError)
		return
	}
	if strings.Contains(name, "\\") {
		result.AddError(name, field, "target should use forward slashes", ValidationLevelWarning)
	}
}

func (v *TargetValidator) validateSource(name, field string, result *ValidationResult) {
	if v.sourceRoot == "" {
		return
	}
	info, err := os.Stat(filepath.Join(v.sourceRoot, filepath.FromSlash(name)))
	switch {
	case os.IsNotExist(err):
		result.AddError(name, field, "source file does not exist", ValidationLevelError)
	case err != nil:
		result.AddError(name, field, fmt.Sprintf("cannot stat source: %v", err), ValidationLevelError)
	case info.IsDir():
		result.AddError(name, field, "source is a directory", ValidationLevelError)
	}
}

// ValidateConfiguration validates the literal entries of a farm config.
// Glob targets are resolved at cook time and only checked for syntax.
func (v *TargetValidator) ValidateConfiguration(cfg *types.FarmConfig) *ValidationResult {
	result := &ValidationResult{Valid: true}

	var literal []types.Job
	for _, t := range cfg.Targets {
		if strings.ContainsAny(t, "*?[") {
			if _, err := path.Match(t, ""); err != nil {
				result.AddError(t, "targets", fmt.Sprintf("malformed pattern: %v", err), ValidationLevelError)
			}
			continue
		}
		literal = append(literal, types.Job(t))
	}

	r := v.ValidateMultiple(cfg.StartupBatch, literal)
	result.Errors = append(result.Errors, r.Errors...)
	if !r.Valid {
		result.Valid = false
	}
	if len(literal) < len(cfg.Targets) || len(cfg.Targets) == 0 {
		// patterns and an empty list are resolved against the source root
		result.Errors = removeNoTargets(result.Errors)
	}
	return result
}

func removeNoTargets(errs []ValidationError) []ValidationError {
	out := errs[:0]
	for _, e := range errs {
		if e.Target == "config" && e.Field == "targets" {
			continue
		}
		out = append(out, e)
	}
	return out
}
