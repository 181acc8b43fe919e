// Package specialist maps lab test codes to the medical specialists who
// typically handle abnormalities in them.
package specialist

import (
	"context"
	"fmt"
	"strings"
)

// Completer produces a short free-text completion. Satisfied by the
// narrative generator; used as a fallback for codes outside the rulebook.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

var codeSets = []struct {
	codes       map[string]struct{}
	specialists []string
}{
	{set("HGB", "HCT", "RBC", "MCV", "MCH", "MCHC", "PLT"), []string{"Hematologist", "Internal Medicine"}},
	{set("TSH", "T3", "T4", "FT3", "FT4"), []string{"Endocrinologist", "Internal Medicine"}},
	{set("TC", "LDL", "HDL", "TG", "VLDL", "NONHDL"), []string{"Cardiologist", "Internal Medicine"}},
	{set("FBG", "RBG", "PPBG", "FBS", "RBS", "HBA1C"), []string{"Endocrinologist", "Diabetologist"}},
	{set("CREAT", "UREA", "BUN", "EGFR"), []string{"Nephrologist", "Internal Medicine"}},
	{set("ALT", "AST", "SGPT", "SGOT", "ALP", "GGT", "BILIT"), []string{"Hepatologist", "Gastroenterologist", "Internal Medicine"}},
}

func set(codes ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		m[c] = struct{}{}
	}
	return m
}

// Recommender resolves specialists per test code, optionally consulting a
// completer for codes the rulebook does not cover.
type Recommender struct {
	fallback Completer
}

// NewRecommender builds a Recommender. fallback may be nil, in which case
// unknown codes resolve to Internal Medicine directly.
func NewRecommender(fallback Completer) *Recommender {
	return &Recommender{fallback: fallback}
}

// Recommend returns 1-3 specialist roles for a test code. It never fails:
// any fallback error collapses to the Internal Medicine default.
func (r *Recommender) Recommend(ctx context.Context, code string) []string {
	code = strings.ToUpper(strings.TrimSpace(code))

	for _, cs := range codeSets {
		if _, ok := cs.codes[code]; ok {
			out := make([]string, len(cs.specialists))
			copy(out, cs.specialists)
			return out
		}
	}

	if r.fallback != nil {
		if roles := r.consultFallback(ctx, code); len(roles) > 0 {
			return roles
		}
	}

	return []string{"Internal Medicine"}
}

func (r *Recommender) consultFallback(ctx context.Context, code string) []string {
	prompt := fmt.Sprintf(`You are a medical triage assistant.
Which medical specialist is most appropriate to consult for an abnormal result in the lab test: "%s"?
Return ONLY a comma-separated list of 1-2 specialist roles (e.g. "Neurologist, Immunologist").`, code)

	content, err := r.fallback.Complete(ctx, prompt)
	if err != nil {
		return nil
	}

	content = strings.ReplaceAll(content, `"`, "")
	var roles []string
	for _, part := range strings.Split(content, ",") {
		if role := strings.TrimSpace(part); role != "" {
			roles = append(roles, role)
		}
	}
	if len(roles) > 2 {
		roles = roles[:2]
	}
	return roles
}
