package httpapi

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"rent360.org/internal/audit"
	"rent360.org/internal/insights"
	"rent360.org/internal/obs"
	"rent360.org/internal/properties"
)

func (a *API) handleListProperties(w http.ResponseWriter, r *http.Request) {
	props, err := a.Properties.Properties(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"properties": props})
}

func (a *API) handleCreateProperty(w http.ResponseWriter, r *http.Request) {
	var req properties.PropertyInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.Properties.CreateProperty(r.Context(), req)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "properties.create", map[string]any{"property_id": created.ID, "name": created.Name})
	w.Header().Set("Location", fmt.Sprintf("/v1/properties/%s", created.ID))
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleUpdateProperty(w http.ResponseWriter, r *http.Request) {
	var req properties.PropertyInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	updated, err := a.Properties.UpdateProperty(r.Context(), properties.PropertyUpdate{ID: id, PropertyInput: req})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "properties.update", map[string]any{"property_id": id})
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleUpsertUnit(w http.ResponseWriter, r *http.Request) {
	var req properties.UnitInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.PropertyID = chi.URLParam(r, "id")
	unit, err := a.Properties.UpsertUnit(r.Context(), req)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "properties.unit.upsert", map[string]any{
		"property_id": req.PropertyID,
		"unit_id":     unit.ID,
		"unit_code":   unit.UnitCode,
	})
	writeJSON(w, http.StatusOK, unit)
}

// persona picks ?persona= when the caller holds it, else the first one.
func persona(r *http.Request, available []insights.Persona) (insights.Persona, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("persona"))
	if raw == "" {
		return available[0], true
	}
	p := insights.ParsePersona(raw)
	return p, string(p) == raw && slices.Contains(available, p)
}

// period reads ?mode=&month=&year=; month and year default to now.
func (a *API) period(r *http.Request) (insights.Period, bool, error) {
	q := r.URL.Query()
	mode := strings.TrimSpace(q.Get("mode"))
	if mode == "" {
		return insights.Period{}, false, nil
	}
	now := a.now()
	p := insights.Period{Mode: insights.Mode(mode), Month: int(now.Month()), Year: now.Year()}
	for name, dst := range map[string]*int{"month": &p.Month, "year": &p.Year} {
		if raw := q.Get(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return insights.Period{}, false, insights.ErrInvalidPeriod
			}
			*dst = n
		}
	}
	if err := p.Validate(); err != nil {
		return insights.Period{}, false, err
	}
	return p, true, nil
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	_, user := currentUser(r)
	p, ok := persona(r, insights.Personas(user))
	if !ok {
		writeError(w, r, http.StatusForbidden, "persona not available")
		return
	}
	period, scaled, err := a.period(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	props, err := a.Properties.Properties(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	ov := insights.Dashboard(props, user, p)
	if scaled {
		ov = insights.ApplyPeriod(ov, period)
	}
	writeJSON(w, http.StatusOK, ov)
}

func (a *API) handleMarketplace(w http.ResponseWriter, r *http.Request) {
	_, user := currentUser(r)
	p, ok := persona(r, insights.Personas(user))
	if !ok {
		writeError(w, r, http.StatusForbidden, "persona not available")
		return
	}
	props, err := a.Properties.Properties(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	var fallback insights.MarketplaceSummary
	if len(props) == 0 && a.Source != nil {
		if fallback, err = insights.LoadMarketplaceFallback(r.Context(), a.Source, p); err != nil {
			obs.Logger().WithError(err).Warn("marketplace fallback unavailable")
		}
	}
	writeJSON(w, http.StatusOK, insights.Marketplace(props, user, p, fallback))
}

func (a *API) handleTenants(w http.ResponseWriter, r *http.Request) {
	_, user := currentUser(r)
	props, err := a.Properties.Properties(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	q := r.URL.Query()
	rows := insights.Filter(insights.TenantRoster(props, user, a.now()), insights.RosterFilter{
		Search:   q.Get("search"),
		Property: q.Get("property"),
		Status:   q.Get("status"),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"tenants": rows,
		"summary": insights.Summarize(rows),
	})
}
