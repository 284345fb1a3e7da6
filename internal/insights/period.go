package insights

import (
	"errors"
	"math"
)

type Mode string

const (
	Monthly Mode = "monthly"
	Yearly  Mode = "yearly"
)

// Period selects the month or year a dashboard is rescaled to.
type Period struct {
	Mode  Mode `json:"mode"`
	Month int  `json:"month"`
	Year  int  `json:"year"`
}

var ErrInvalidPeriod = errors.New("insights: invalid period")

func (p Period) Validate() error {
	if p.Mode != Monthly && p.Mode != Yearly {
		return ErrInvalidPeriod
	}
	if p.Month < 1 || p.Month > 12 || p.Year < 1 {
		return ErrInvalidPeriod
	}
	return nil
}

var monthFactors = map[int]float64{
	1: 0.92, 2: 0.94, 3: 0.97, 4: 0.99, 5: 1.01, 6: 1.03,
	7: 1.05, 8: 1.04, 9: 1.02, 10: 1.01, 11: 0.98, 12: 0.95,
}

// MonthFactor is the seasonal weight of month; unknown months weigh 1.
func MonthFactor(month int) float64 {
	if f, ok := monthFactors[month]; ok {
		return f
	}
	return 1
}

func YearFactor(year int) float64 {
	switch {
	case year <= 2024:
		return 0.9
	case year == 2025:
		return 0.96
	case year == 2026:
		return 1
	}
	return 1.08
}

// ClampPercent bounds a rescaled band.
func ClampPercent(v int) int {
	if v < 3 {
		return 3
	}
	if v > 98 {
		return 98
	}
	return v
}

// ApplyPeriod rescales base to p. base is never modified, so applying the
// same period twice yields the same result.
func ApplyPeriod(base Overview, p Period) Overview {
	out := base.clone()
	mf := MonthFactor(p.Month)
	yf := YearFactor(p.Year)
	yearly := p.Mode == Yearly

	moneyFactor := mf * yf
	countFactor := mf * yf
	if yearly {
		moneyFactor = yf * 12
		countFactor = math.Max(1, yf*12)
	}

	scale := func(k KPI) KPI {
		if k.Kind == KindMoney {
			k.Value = roundCents(k.Value * moneyFactor)
			return k
		}
		v := round(k.Value * countFactor)
		if !yearly {
			v = math.Max(0, v)
		}
		k.Value = v
		return k
	}
	scaleAll := func(ks []KPI) {
		for i := range ks {
			ks[i] = scale(ks[i])
		}
	}

	scaleAll(out.KPIs)
	for i := range out.Charges {
		out.Charges[i].Amount = roundCents(out.Charges[i].Amount * moneyFactor)
	}
	shift := int(round((mf-1)*20 + (yf-1)*12))
	for i, b := range out.CollectionHealth {
		s := shift
		if b.Tone == ToneWarning || b.Tone == ToneDanger {
			s = -shift
		}
		out.CollectionHealth[i].Percent = ClampPercent(b.Percent + s)
	}
	if out.AdminView != nil {
		scaleAll(out.AdminView.OwnerInsights)
		scaleAll(out.AdminView.TenantInsights)
		scaleAll(out.AdminView.OperationsInsights)
		for i, d := range out.AdminView.Defaulters {
			d.RentDue = roundCents(d.RentDue * moneyFactor)
			d.MaintenanceDue = roundCents(d.MaintenanceDue * moneyFactor)
			if yearly {
				d.DaysLate = min(365, d.DaysLate*4)
			}
			out.AdminView.Defaulters[i] = d
		}
	}
	return out
}
