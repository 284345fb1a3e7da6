package insights

import (
	"context"
	"fmt"

	"rent360.org/internal/auth"
	"rent360.org/internal/datasource"
	"rent360.org/internal/properties"
)

type MarketplaceSummary struct {
	ActiveListings       int `json:"activeListings"`
	MonthlyLeads         int `json:"monthlyLeads"`
	ConversionRate       int `json:"conversionRate"`
	VacancyImpactPercent int `json:"vacancyImpactPercent"`
}

// fileKey names the fixture of a persona.
func fileKey(p Persona) string {
	switch p {
	case PersonaTenant:
		return "tenant"
	case PersonaSocietyAdmin:
		return "society-admin"
	}
	return "owner"
}

// LoadMarketplaceFallback fetches the canned summary of persona.
func LoadMarketplaceFallback(ctx context.Context, src datasource.Source, persona Persona) (MarketplaceSummary, error) {
	key := fileKey(persona)
	var s MarketplaceSummary
	err := src.Get(ctx, datasource.Request{
		Endpoint: "marketplace/summary/" + key,
		MockPath: "marketplace/summary-" + key + ".json",
	}, &s)
	if err != nil {
		return MarketplaceSummary{}, fmt.Errorf("marketplace summary %s: %w", key, err)
	}
	return s, nil
}

// MonthlyLeads estimates leads from listings and units, never below 8.
func MonthlyLeads(activeListings, totalUnits int) int {
	return max(8, activeListings*6+totalUnits*2)
}

// ConversionRate falls with vacancy and stays within [8, 45].
func ConversionRate(vacantUnits int) int {
	return max(8, min(45, 28-vacantUnits))
}

// Marketplace derives the summary from props. An empty collection yields
// fallback. Owners are scoped to their properties with the usual fallback.
func Marketplace(props []properties.Property, user auth.User, persona Persona, fallback MarketplaceSummary) MarketplaceSummary {
	if len(props) == 0 {
		return fallback
	}
	scoped := props
	if persona == PersonaOwner {
		scoped = scopeOwner(props, user)
	}
	active, total, vacant := 0, 0, 0
	for _, p := range scoped {
		if p.Status == properties.StatusActive {
			active++
		}
		for _, u := range p.Units {
			total++
			if u.OccupancyStatus == properties.Vacant {
				vacant++
			}
		}
	}
	return MarketplaceSummary{
		ActiveListings:       active,
		MonthlyLeads:         MonthlyLeads(active, total),
		ConversionRate:       ConversionRate(vacant),
		VacancyImpactPercent: percentOf(vacant, total),
	}
}
