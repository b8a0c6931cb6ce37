package workflow

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/fatoora-app/intake_backend/models"
	"github.com/fatoora-app/intake_backend/utils"
)

// Entity matching: resolve an extracted counterpart or product line against
// the master catalog. Pure ranking over a catalog snapshot: same candidate,
// same catalog, same ranked result, every time. Nothing is linked or created
// until the owning workflow step is confirmed.

type MatchReason string

const (
	MatchReasonIdentifierExact MatchReason = "identifier_exact"
	MatchReasonNameContains    MatchReason = "name_contains"
	MatchReasonReferenceExact  MatchReason = "reference_exact"
	MatchReasonEanExact        MatchReason = "ean_exact"
	MatchReasonNameExact       MatchReason = "name_exact"
	MatchReasonNameFuzzy       MatchReason = "name_fuzzy"
)

const (
	scoreExactKey  = 3
	scoreExactName = 2
	scoreFuzzyName = 1

	// autoSelectThreshold: a match below this never auto-applies; it only
	// offers itself as the first-ranked suggestion.
	autoSelectThreshold = 2
)

type CounterpartMatch struct {
	Counterpart *models.Counterpart `json:"counterpart"`
	Score       int                 `json:"score"`
	Reason      MatchReason         `json:"reason"`
}

type ProductMatch struct {
	Product *models.Product `json:"product"`
	Score   int             `json:"score"`
	Reason  MatchReason     `json:"reason"`
}

// RankCounterpartMatches scores an extracted counterpart against the catalog.
// Precedence: exact identifier > name containment (either direction) > none.
func RankCounterpartMatches(extracted models.ExtractedCounterpart, catalog []*models.Counterpart) []CounterpartMatch {
	matches := make([]CounterpartMatch, 0)
	wantName := utils.NormalizeName(extracted.Name)

	for _, c := range catalog {
		if extracted.IdentifierValue != "" && c.IdentifierValue != "" &&
			extracted.IdentifierValue == c.IdentifierValue {
			matches = append(matches, CounterpartMatch{Counterpart: c, Score: scoreExactKey, Reason: MatchReasonIdentifierExact})
			continue
		}
		if wantName == "" {
			continue
		}
		haveName := utils.NormalizeName(c.DisplayName())
		if haveName == "" {
			continue
		}
		if strings.Contains(haveName, wantName) || strings.Contains(wantName, haveName) {
			matches = append(matches, CounterpartMatch{Counterpart: c, Score: scoreExactName, Reason: MatchReasonNameContains})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Counterpart.ID < matches[j].Counterpart.ID
	})
	return matches
}

// RankProductMatches scores an extracted line against the product catalog.
// Precedence: exact reference (3) > exact EAN (3) > exact case-insensitive
// name (2). Fuzzy substring search is a manual-search tool only; it never
// participates in automatic ranking.
func RankProductMatches(line models.ExtractedLine, catalog []*models.Product) []ProductMatch {
	matches := make([]ProductMatch, 0)
	wantName := utils.NormalizeName(line.Name)

	for _, p := range catalog {
		switch {
		case line.Reference != "" && p.Reference != "" && line.Reference == p.Reference:
			matches = append(matches, ProductMatch{Product: p, Score: scoreExactKey, Reason: MatchReasonReferenceExact})
		case line.Ean != "" && p.Ean != "" && line.Ean == p.Ean:
			matches = append(matches, ProductMatch{Product: p, Score: scoreExactKey, Reason: MatchReasonEanExact})
		case wantName != "" && utils.NormalizeName(p.Name) == wantName:
			matches = append(matches, ProductMatch{Product: p, Score: scoreExactName, Reason: MatchReasonNameExact})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		// reference beats EAN at equal score
		if matches[i].Score == scoreExactKey && matches[i].Reason != matches[j].Reason {
			return matches[i].Reason == MatchReasonReferenceExact
		}
		return matches[i].Product.ID < matches[j].Product.ID
	})
	return matches
}

// RecommendDecision turns a ranked match set into the matcher's recommendation.
// The top match is only a suggestion: "matched" still requires the user to
// confirm or override.
func RecommendDecision(topScore int, hasMatches bool) models.MatchDecision {
	if !hasMatches {
		return models.MatchDecisionCreateNew
	}
	if topScore >= autoSelectThreshold {
		return models.MatchDecisionMatched
	}
	return models.MatchDecisionSelectExisting
}

// MatchCounterpart resolves an extracted counterpart against the org's
// catalog (one of the workflow's suspension points). An extracted fiscal
// identifier is answered by a single indexed lookup; the full catalog scan
// only runs for name-based candidates.
func MatchCounterpart(ctx context.Context, role models.CounterpartRole, extracted models.ExtractedCounterpart) ([]CounterpartMatch, models.MatchDecision, error) {
	if extracted.IdentifierValue != "" {
		c, err := models.FindCounterpartByIdentifier(ctx, role, extracted.IdentifierValue)
		if err == nil {
			matches := []CounterpartMatch{{Counterpart: c, Score: scoreExactKey, Reason: MatchReasonIdentifierExact}}
			return matches, RecommendDecision(scoreExactKey, true), nil
		}
		if !errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, "", err
		}
	}

	catalog, err := models.ListCounterparts(ctx, role)
	if err != nil {
		return nil, "", err
	}
	matches := RankCounterpartMatches(extracted, catalog)
	topScore := 0
	if len(matches) > 0 {
		topScore = matches[0].Score
	}
	return matches, RecommendDecision(topScore, len(matches) > 0), nil
}

// MatchProductLine resolves one extracted line against the org's catalog.
func MatchProductLine(ctx context.Context, line models.ExtractedLine) ([]ProductMatch, models.MatchDecision, error) {
	catalog, err := models.ListProducts(ctx)
	if err != nil {
		return nil, "", err
	}
	matches := RankProductMatches(line, catalog)
	topScore := 0
	if len(matches) > 0 {
		topScore = matches[0].Score
	}
	return matches, RecommendDecision(topScore, len(matches) > 0), nil
}
