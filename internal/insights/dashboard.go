package insights

import (
	"strings"

	"rent360.org/internal/auth"
	"rent360.org/internal/properties"
)

// Fixed policy splits of estimated rent.
const (
	CollectedShare   = 0.86
	OutstandingShare = 0.14
	MaintenanceShare = 0.08
	maxCharges       = 8
)

type Kind string

const (
	KindCount Kind = "count"
	KindMoney Kind = "money"
)

type Tone string

const (
	ToneSuccess Tone = "success"
	ToneInfo    Tone = "info"
	ToneWarning Tone = "warning"
	ToneDanger  Tone = "danger"
)

type ChargeStatus string

const (
	ChargePaid ChargeStatus = "Paid"
	ChargeDue  ChargeStatus = "Due"
	ChargeLate ChargeStatus = "Late"
)

type KPI struct {
	Key   string  `json:"key"`
	Label string  `json:"label"`
	Kind  Kind    `json:"kind"`
	Value float64 `json:"value"`
}

type Band struct {
	Label   string `json:"label"`
	Percent int    `json:"percent"`
	Tone    Tone   `json:"tone"`
}

type Charge struct {
	Amount      float64      `json:"amount"`
	Property    string       `json:"property"`
	Unit        string       `json:"unit"`
	Description string       `json:"description"`
	Status      ChargeStatus `json:"status"`
	Action      string       `json:"action"`
}

type Defaulter struct {
	Tenant         string  `json:"tenant"`
	Property       string  `json:"property"`
	Unit           string  `json:"unit"`
	RentDue        float64 `json:"rentDue"`
	MaintenanceDue float64 `json:"maintenanceDue"`
	DaysLate       int     `json:"daysLate"`
}

// AdminView is the portfolio-wide panel shown to admins and society admins.
type AdminView struct {
	OwnerInsights      []KPI       `json:"ownerInsights"`
	TenantInsights     []KPI       `json:"tenantInsights"`
	OperationsInsights []KPI       `json:"operationsInsights"`
	Defaulters         []Defaulter `json:"defaulters"`
}

type Overview struct {
	Persona          Persona    `json:"persona"`
	KPIs             []KPI      `json:"kpis"`
	CollectionHealth []Band     `json:"collectionHealth"`
	Charges          []Charge   `json:"charges"`
	AdminView        *AdminView `json:"adminView,omitempty"`
}

type scopedUnit struct {
	property properties.Property
	unit     properties.Unit
}

// scopeFor selects the properties and units a persona reports on. Owners
// fall back to the full portfolio; tenants only see units they rent.
func scopeFor(props []properties.Property, user auth.User, persona Persona) ([]properties.Property, []scopedUnit) {
	switch persona {
	case PersonaTenant:
		name := displayName(user)
		var ps []properties.Property
		var us []scopedUnit
		for _, p := range props {
			matched := false
			for _, u := range p.Units {
				if tenantOf(u, name) {
					us = append(us, scopedUnit{p, u})
					matched = true
				}
			}
			if matched {
				ps = append(ps, p)
			}
		}
		return ps, us
	case PersonaOwner:
		props = scopeOwner(props, user)
	}
	var us []scopedUnit
	for _, p := range props {
		for _, u := range p.Units {
			us = append(us, scopedUnit{p, u})
		}
	}
	return props, us
}

// Dashboard computes the overview of persona for user.
func Dashboard(props []properties.Property, user auth.User, persona Persona) Overview {
	scopedProps, units := scopeFor(props, user, persona)

	activeProps := 0
	for _, p := range scopedProps {
		if p.Status == properties.StatusActive {
			activeProps++
		}
	}
	var occupied, vacant, activeTenants int
	var rent float64
	for _, su := range units {
		switch su.unit.OccupancyStatus {
		case properties.Occupied:
			occupied++
			rent += su.unit.Rent
			if strings.TrimSpace(su.unit.TenantName) != "" {
				activeTenants++
			}
		case properties.Vacant:
			vacant++
		}
	}

	ov := Overview{
		Persona: persona,
		KPIs: []KPI{
			{Key: "activeProperties", Label: "Active Properties", Kind: KindCount, Value: float64(activeProps)},
			{Key: "activeTenants", Label: "Active Tenants", Kind: KindCount, Value: float64(activeTenants)},
			{Key: "estimatedRent", Label: "Estimated Rent", Kind: KindMoney, Value: roundCents(rent)},
			{Key: "collected", Label: "Collected", Kind: KindMoney, Value: roundCents(rent * CollectedShare)},
			{Key: "outstanding", Label: "Outstanding", Kind: KindMoney, Value: roundCents(rent * OutstandingShare)},
		},
		CollectionHealth: []Band{
			{Label: "Collected", Percent: int(round(CollectedShare * 100)), Tone: ToneSuccess},
			{Label: "Occupancy", Percent: percentOf(occupied, len(units)), Tone: ToneInfo},
			{Label: "Outstanding", Percent: int(round(OutstandingShare * 100)), Tone: ToneWarning},
			{Label: "Vacancy", Percent: percentOf(vacant, len(units)), Tone: ToneDanger},
		},
		Charges: charges(units, persona),
	}
	if persona == PersonaSocietyAdmin || user.HasRole(auth.RoleAdmin) {
		ov.AdminView = adminView(props)
	}
	return ov
}

func chargeStatus(seed int32) ChargeStatus {
	switch absMod(seed, 3) {
	case 0:
		return ChargePaid
	case 1:
		return ChargeDue
	}
	return ChargeLate
}

func charges(units []scopedUnit, persona Persona) []Charge {
	out := []Charge{}
	for _, su := range units {
		if su.unit.OccupancyStatus != properties.Occupied {
			continue
		}
		status := chargeStatus(hashCode(su.property.ID + "-" + su.unit.ID))
		action := "View Receipt"
		if status != ChargePaid {
			action = "Send Reminder"
			if persona == PersonaTenant {
				action = "Pay Now"
			}
		}
		out = append(out, Charge{
			Amount:      roundCents(su.unit.Rent),
			Property:    su.property.Name,
			Unit:        su.unit.UnitCode,
			Description: "Monthly rent",
			Status:      status,
			Action:      action,
		})
		if len(out) == maxCharges {
			break
		}
	}
	return out
}

func adminView(props []properties.Property) *AdminView {
	owners := map[string]struct{}{}
	var tenants, maintenance, vacant int
	var pending float64
	defaulters := []Defaulter{}
	for _, p := range props {
		for _, o := range strings.Split(p.OwnerName, ",") {
			if o = strings.ToLower(strings.TrimSpace(o)); o != "" {
				owners[o] = struct{}{}
			}
		}
		for _, u := range p.Units {
			switch u.OccupancyStatus {
			case properties.Maintenance:
				maintenance++
			case properties.Vacant:
				vacant++
			case properties.Occupied:
				tenants++
				seed := hashCode(p.ID + "-" + u.ID)
				if chargeStatus(seed) != ChargeLate {
					continue
				}
				d := Defaulter{
					Tenant:         strings.TrimSpace(u.TenantName),
					Property:       p.Name,
					Unit:           u.UnitCode,
					RentDue:        roundCents(u.Rent),
					MaintenanceDue: roundCents(u.Rent * MaintenanceShare),
					DaysLate:       5 + absMod(seed, 25),
				}
				pending += d.RentDue + d.MaintenanceDue
				defaulters = append(defaulters, d)
			}
		}
	}
	return &AdminView{
		OwnerInsights: []KPI{
			{Key: "owners", Label: "Owners", Kind: KindCount, Value: float64(len(owners))},
			{Key: "properties", Label: "Properties", Kind: KindCount, Value: float64(len(props))},
		},
		TenantInsights: []KPI{
			{Key: "tenants", Label: "Tenants", Kind: KindCount, Value: float64(tenants)},
			{Key: "pendingDues", Label: "Pending Dues", Kind: KindMoney, Value: roundCents(pending)},
		},
		OperationsInsights: []KPI{
			{Key: "maintenanceUnits", Label: "Units In Maintenance", Kind: KindCount, Value: float64(maintenance)},
			{Key: "vacantUnits", Label: "Vacant Units", Kind: KindCount, Value: float64(vacant)},
		},
		Defaulters: defaulters,
	}
}

func (o Overview) clone() Overview {
	o.KPIs = copyOf(o.KPIs)
	o.CollectionHealth = copyOf(o.CollectionHealth)
	o.Charges = copyOf(o.Charges)
	if o.AdminView != nil {
		av := *o.AdminView
		av.OwnerInsights = copyOf(av.OwnerInsights)
		av.TenantInsights = copyOf(av.TenantInsights)
		av.OperationsInsights = copyOf(av.OperationsInsights)
		av.Defaulters = copyOf(av.Defaulters)
		o.AdminView = &av
	}
	return o
}

func copyOf[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}
