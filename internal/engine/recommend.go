package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"foundry/internal/config"
	"foundry/internal/domain"
	"foundry/internal/telemetry"
)

func workloadScore(cfg *config.Config, counts map[domain.RiskLevel]int, capacity float64) float64 {
	if capacity <= 0 {
		capacity = cfg.Recommender.DefaultCapacity
	}
	var load float64
	for level, n := range counts {
		load += cfg.RiskWeight(level) * float64(n)
	}
	return round2(math.Min(100, 100*load/capacity))
}

// CalculateWorkloadScore rates how loaded a member is, 0 (idle) to 100
// (at or over capacity), from the risk of their open tasks.
func (e Engine) CalculateWorkloadScore(ctx context.Context, foundryID, profileID string) (score float64, err error) {
	ctx, span := telemetry.Start(ctx, "engine.CalculateWorkloadScore", attribute.String("profile_id", profileID))
	defer func() { telemetry.End(span, err) }()

	m, err := e.Repo.GetMember(ctx, e.DB, foundryID, profileID)
	if err != nil {
		return 0, fmt.Errorf("member %s: %w", profileID, err)
	}
	cfg, err := e.configFor(ctx, e.DB, foundryID)
	if err != nil {
		return 0, err
	}
	load, err := e.Repo.OpenWorkload(ctx, foundryID)
	if err != nil {
		return 0, err
	}
	return workloadScore(cfg, load[profileID], m.CapacityScore), nil
}

type SuggestOptions struct {
	FoundryID string
	Required  []string
	Preferred []string
	Exclude   []string
	Limit     int
}

func matchSkills(have map[string]bool, want []string) []string {
	var hits []string
	for _, s := range want {
		if have[strings.ToLower(s)] {
			hits = append(hits, s)
		}
	}
	return hits
}

func fraction(hits, total int) float64 {
	if total == 0 {
		return 1
	}
	return float64(hits) / float64(total)
}

func matchReason(required, preferred, reqHits, prefHits []string, workload float64) string {
	var parts []string
	if len(required) > 0 {
		parts = append(parts, fmt.Sprintf("required %d/%d (%s)", len(reqHits), len(required), strings.Join(reqHits, ", ")))
	}
	if len(preferred) > 0 {
		if len(prefHits) > 0 {
			parts = append(parts, fmt.Sprintf("preferred %d/%d (%s)", len(prefHits), len(preferred), strings.Join(prefHits, ", ")))
		} else {
			parts = append(parts, fmt.Sprintf("preferred 0/%d", len(preferred)))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "no skill criteria")
	}
	parts = append(parts, fmt.Sprintf("workload %.0f%%", workload))
	return strings.Join(parts, "; ")
}

// SuggestTaskAssignees ranks foundry members for a task needing the given
// skills. Members matching none of a non-empty required list are dropped.
func (e Engine) SuggestTaskAssignees(ctx context.Context, opts SuggestOptions) (out []domain.AssigneeSuggestion, err error) {
	ctx, span := telemetry.Start(ctx, "engine.SuggestTaskAssignees",
		attribute.String("foundry_id", opts.FoundryID),
		attribute.StringSlice("required", opts.Required),
		attribute.StringSlice("preferred", opts.Preferred))
	defer func() {
		span.SetAttributes(attribute.Int("suggestions", len(out)))
		telemetry.End(span, err)
	}()

	cfg, err := e.configFor(ctx, e.DB, opts.FoundryID)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = cfg.Recommender.DefaultLimit
	}
	required := normalizeList(opts.Required)
	preferred := normalizeList(opts.Preferred)
	excluded := map[string]bool{}
	for _, id := range opts.Exclude {
		excluded[id] = true
	}
	members, err := e.Repo.ListMembers(ctx, e.DB, opts.FoundryID)
	if err != nil {
		return nil, err
	}
	load, err := e.Repo.OpenWorkload(ctx, opts.FoundryID)
	if err != nil {
		return nil, err
	}
	rw := cfg.Recommender.RequiredWeight
	sw, ww := cfg.Recommender.SkillWeight, cfg.Recommender.WorkloadWeight

	out = []domain.AssigneeSuggestion{}
	for _, m := range members {
		if excluded[m.ID] {
			continue
		}
		have := map[string]bool{}
		for _, s := range m.Skills {
			have[strings.ToLower(s)] = true
		}
		reqHits := matchSkills(have, required)
		if len(required) > 0 && len(reqHits) == 0 {
			continue
		}
		prefHits := matchSkills(have, preferred)
		skill := round2(100 * (rw*fraction(len(reqHits), len(required)) + (1-rw)*fraction(len(prefHits), len(preferred))))
		workload := workloadScore(cfg, load[m.ID], m.CapacityScore)
		out = append(out, domain.AssigneeSuggestion{
			UserID:          m.ID,
			FullName:        m.FullName,
			Role:            m.Role,
			Skills:          m.Skills,
			SkillMatchScore: skill,
			WorkloadScore:   workload,
			TotalScore:      round2(sw*skill + ww*(100-workload)),
			MatchReason:     matchReason(required, preferred, reqHits, prefHits, workload),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if a.WorkloadScore != b.WorkloadScore {
			return a.WorkloadScore < b.WorkloadScore
		}
		return a.FullName < b.FullName
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
