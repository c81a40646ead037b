// Package guard keeps known-bad seed combinations away from the features
// service: a deny list of combination fingerprints, pre-call validation with
// auto-balancing, and fallback repair strategies for rejected combinations.
package guard

import (
	"context"
	"crypto/md5" //nolint:gosec // fingerprinting, not security
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"moodlist/internal/cache"
)

// SeedParams is one candidate call to the recommendation endpoint.
type SeedParams struct {
	Seeds     []string           `json:"seeds"`
	Negatives []string           `json:"negatives,omitempty"`
	Size      int                `json:"size"`
	Features  map[string]float64 `json:"features,omitempty"`
}

// DenyEntry records why a combination is deny-listed. Entries live 24 hours so
// transiently-broken combinations are retried daily.
type DenyEntry struct {
	Fingerprint       string    `json:"combination_fingerprint"`
	Reason            string    `json:"reason"`
	Timestamp         time.Time `json:"timestamp"`
	SeedCount         int       `json:"seed_count"`
	NegativeSeedCount int       `json:"negative_seed_count"`
}

// FallbackStrategy names one of the documented repairs.
type FallbackStrategy string

const (
	FallbackDropNegatives      FallbackStrategy = "drop_negatives"
	FallbackReduceNegatives    FallbackStrategy = "reduce_negatives"
	FallbackReduceSeeds        FallbackStrategy = "reduce_seeds"
	FallbackRemoveAllNegatives FallbackStrategy = "remove_all_negatives"
)

// Fallback is a suggested repaired call.
type Fallback struct {
	Strategy FallbackStrategy `json:"strategy"`
	Params   SeedParams       `json:"params"`
}

// permanentFailureMarkers are upstream error substrings that no retry with the
// same parameters can fix.
var permanentFailureMarkers = []string{
	"validation",
	"invalid",
	"overlap",
	"empty id",
	"must not be empty",
	"negative seed ratio",
	"too many negative",
	"bad request",
	"must be between",
}

const (
	minSize = 1
	maxSize = 100
)

// Guardrails is the deny-list and validator for seed combinations.
type Guardrails struct {
	cache  *cache.Manager
	logger *zap.Logger
}

func New(cacheManager *cache.Manager, logger *zap.Logger) *Guardrails {
	return &Guardrails{
		cache:  cacheManager,
		logger: logger,
	}
}

// Fingerprint hashes a combination order-insensitively: permutations of the
// same seeds, negatives, and feature params yield the same fingerprint.
func Fingerprint(seeds, negatives []string, features map[string]float64) string {
	sortedSeeds := append([]string(nil), seeds...)
	sort.Strings(sortedSeeds)
	sortedNegs := append([]string(nil), negatives...)
	sort.Strings(sortedNegs)

	featureParts := make([]string, 0, len(features))
	for name, value := range features {
		featureParts = append(featureParts, fmt.Sprintf("%s=%g", name, value))
	}
	sort.Strings(featureParts)

	payload := strings.Join(sortedSeeds, ",") + "|" +
		strings.Join(sortedNegs, ",") + "|" +
		strings.Join(featureParts, ",")

	h := md5.Sum([]byte(payload)) //nolint:gosec
	return hex.EncodeToString(h[:])
}

// IsCombinationDenied reports whether the combination is deny-listed and the
// recorded reason.
func (g *Guardrails) IsCombinationDenied(ctx context.Context, seeds, negatives []string, features map[string]float64) (bool, string) {
	var entry DenyEntry
	if g.cache.Get(ctx, cache.CategoryDenyList, &entry, Fingerprint(seeds, negatives, features)) {
		return true, entry.Reason
	}
	return false, ""
}

// AddToDenyList records a failing combination for 24 hours. The write is
// idempotent; concurrent writers produce identical entries.
func (g *Guardrails) AddToDenyList(ctx context.Context, seeds, negatives []string, features map[string]float64, reason string) {
	fp := Fingerprint(seeds, negatives, features)
	entry := DenyEntry{
		Fingerprint:       fp,
		Reason:            reason,
		Timestamp:         time.Now(),
		SeedCount:         len(seeds),
		NegativeSeedCount: len(negatives),
	}
	g.cache.Set(ctx, cache.CategoryDenyList, entry, fp)

	g.logger.Info("seed combination deny-listed",
		zap.String("fingerprint", fp),
		zap.String("reason", reason),
		zap.Int("seeds", len(seeds)),
		zap.Int("negatives", len(negatives)))
}

// ShouldSkipRetry reports whether the upstream error message marks a permanent
// failure that retrying with the same parameters cannot fix.
func ShouldSkipRetry(errorMessage string) bool {
	lowered := strings.ToLower(errorMessage)
	for _, marker := range permanentFailureMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// SuggestFallback picks the first applicable repair for a rejected
// combination. Every suggestion re-validates cleanly.
func SuggestFallback(seeds, negatives []string, reason string) *Fallback {
	if len(seeds) == 0 {
		return nil
	}

	lowered := strings.ToLower(reason)

	if strings.Contains(lowered, "negative") || strings.Contains(lowered, "ratio") {
		return &Fallback{
			Strategy: FallbackDropNegatives,
			Params:   SeedParams{Seeds: seeds},
		}
	}

	if len(negatives)*2 >= len(seeds) {
		limit := len(seeds)/2 - 1
		if limit < 0 {
			limit = 0
		}
		reduced := withoutOverlap(negatives, seeds)
		if len(reduced) > limit {
			reduced = reduced[:limit]
		}
		return &Fallback{
			Strategy: FallbackReduceNegatives,
			Params:   SeedParams{Seeds: seeds, Negatives: reduced},
		}
	}

	if len(seeds) > 3 {
		return &Fallback{
			Strategy: FallbackReduceSeeds,
			Params:   SeedParams{Seeds: seeds[:3]},
		}
	}

	return &Fallback{
		Strategy: FallbackRemoveAllNegatives,
		Params:   SeedParams{Seeds: seeds},
	}
}

// ValidateAndAutoBalance checks a combination before any upstream call. On a
// repairable violation it returns both the error and suggested params so the
// caller can retry in-line instead of failing upward. Rules run in order;
// the first violated rule reports.
func (g *Guardrails) ValidateAndAutoBalance(ctx context.Context, params SeedParams) (bool, error, *SeedParams) {
	if hasBlankID(params.Seeds) || hasBlankID(params.Negatives) {
		return false, fmt.Errorf("seed combination contains empty id"), nil
	}
	if len(params.Seeds) == 0 {
		return false, fmt.Errorf("at least one seed is required"), nil
	}

	if params.Size < minSize || params.Size > maxSize {
		return false, fmt.Errorf("size %d out of range [%d,%d]", params.Size, minSize, maxSize), nil
	}

	if denied, reason := g.IsCombinationDenied(ctx, params.Seeds, params.Negatives, params.Features); denied {
		var suggested *SeedParams
		if fb := SuggestFallback(params.Seeds, params.Negatives, reason); fb != nil {
			fb.Params.Size = params.Size
			suggested = &fb.Params
		}
		return false, fmt.Errorf("combination deny-listed: %s", reason), suggested
	}

	if len(params.Negatives) >= len(params.Seeds) {
		// The suggestion must survive its own re-validation, so the cap is
		// applied to overlap-free negatives.
		reduced := withoutOverlap(params.Negatives, params.Seeds)
		if limit := len(params.Seeds) / 2; len(reduced) > limit {
			reduced = reduced[:limit]
		}
		suggested := params
		suggested.Negatives = reduced
		return false, fmt.Errorf("negative seed count %d must stay below seed count %d",
			len(params.Negatives), len(params.Seeds)), &suggested
	}

	if overlapping := intersection(params.Seeds, params.Negatives); len(overlapping) > 0 {
		suggested := params
		suggested.Negatives = withoutOverlap(params.Negatives, params.Seeds)
		return false, fmt.Errorf("seeds and negatives overlap: %s",
			strings.Join(overlapping, ",")), &suggested
	}

	return true, nil, nil
}

func hasBlankID(ids []string) bool {
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return true
		}
	}
	return false
}

func intersection(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	var out []string
	for _, v := range b {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

func withoutOverlap(negatives, seeds []string) []string {
	set := make(map[string]bool, len(seeds))
	for _, v := range seeds {
		set[v] = true
	}
	out := make([]string, 0, len(negatives))
	for _, v := range negatives {
		if !set[v] {
			out = append(out, v)
		}
	}
	return out
}
