package insights

import (
	"math"
	"strings"
	"time"

	"rent360.org/internal/auth"
	"rent360.org/internal/properties"
)

type Health string

const (
	OnTrack Health = "On Track"
	DueSoon Health = "Due Soon"
	Overdue Health = "Overdue"
)

// FilterAll disables a roster filter.
const FilterAll = "All"

type TenantRow struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Property    string               `json:"property"`
	Unit        string               `json:"unit"`
	City        string               `json:"city"`
	OwnerName   string               `json:"ownerName"`
	Rent        float64              `json:"rent"`
	LeaseEnd    string               `json:"leaseEnd"`
	PendingDues float64              `json:"pendingDues"`
	Status      Health               `json:"status"`
	Occupancy   properties.Occupancy `json:"occupancy"`
}

// TenantRoster lists tenanted units visible to user. Admins and society
// admins see every row; owners see rows of their properties and tenants
// their own rows. There is no unscoped fallback.
func TenantRoster(props []properties.Property, user auth.User, now time.Time) []TenantRow {
	rows := []TenantRow{}
	for _, p := range props {
		for _, u := range p.Units {
			name := strings.TrimSpace(u.TenantName)
			if name == "" {
				continue
			}
			id := p.ID + "-" + u.ID
			seed := hashCode(id)
			leaseEnd := leaseEndDate(now, seed)
			pending := pendingDues(u.Rent, seed)
			rows = append(rows, TenantRow{
				ID:          id,
				Name:        name,
				Property:    p.Name,
				Unit:        u.UnitCode,
				City:        p.City,
				OwnerName:   p.OwnerName,
				Rent:        u.Rent,
				LeaseEnd:    leaseEnd.Format(time.DateOnly),
				PendingDues: pending,
				Status:      health(pending, leaseEnd, now),
				Occupancy:   u.OccupancyStatus,
			})
		}
	}
	return scopeRows(rows, user)
}

func scopeRows(rows []TenantRow, user auth.User) []TenantRow {
	if user.HasAnyRole(auth.RoleAdmin, auth.RoleSocietyAdmin) {
		return rows
	}
	name := displayName(user)
	out := []TenantRow{}
	if name == "" {
		return out
	}
	owner, tenant := user.HasRole(auth.RoleOwner), user.HasRole(auth.RoleTenant)
	for _, r := range rows {
		if owner && ownedBy(properties.Property{OwnerName: r.OwnerName}, name) {
			out = append(out, r)
			continue
		}
		if tenant && strings.ToLower(r.Name) == name {
			out = append(out, r)
		}
	}
	return out
}

func pendingDues(rent float64, seed int32) float64 {
	switch absMod(seed, 4) {
	case 1:
		return round(rent * 0.1)
	case 2:
		return round(rent * 0.2)
	case 3:
		return round(rent * 0.35)
	}
	return 0
}

func leaseEndDate(now time.Time, seed int32) time.Time {
	now = now.UTC()
	months := 1 + absMod(seed, 18)
	return time.Date(now.Year(), now.Month()+time.Month(months), 5+absMod(seed, 20), 0, 0, 0, 0, time.UTC)
}

func health(pending float64, leaseEnd, now time.Time) Health {
	if pending > 500 {
		return Overdue
	}
	if pending > 0 {
		return DueSoon
	}
	daysLeft := math.Round(leaseEnd.Sub(now).Hours() / 24)
	if daysLeft <= 30 {
		return DueSoon
	}
	return OnTrack
}

// RosterFilter narrows a roster. Empty or FilterAll values match everything.
type RosterFilter struct {
	Search   string `json:"search"`
	Property string `json:"property"`
	Status   string `json:"status"`
}

// Filter applies f; search matches name, property, unit, city and owners.
func Filter(rows []TenantRow, f RosterFilter) []TenantRow {
	key := strings.ToLower(strings.TrimSpace(f.Search))
	out := []TenantRow{}
	for _, r := range rows {
		if f.Property != "" && f.Property != FilterAll && r.Property != f.Property {
			continue
		}
		if f.Status != "" && f.Status != FilterAll && string(r.Status) != f.Status {
			continue
		}
		if key != "" {
			hay := strings.ToLower(strings.Join([]string{r.Name, r.Property, r.Unit, r.City, r.OwnerName}, " "))
			if !strings.Contains(hay, key) {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// RosterSummary totals a (filtered) roster.
type RosterSummary struct {
	Total       int      `json:"total"`
	Overdue     int      `json:"overdue"`
	DueSoon     int      `json:"dueSoon"`
	PendingDues float64  `json:"pendingDues"`
	Properties  []string `json:"properties"`
}

func Summarize(rows []TenantRow) RosterSummary {
	s := RosterSummary{Total: len(rows), Properties: []string{}}
	seen := map[string]bool{}
	for _, r := range rows {
		switch r.Status {
		case Overdue:
			s.Overdue++
		case DueSoon:
			s.DueSoon++
		}
		s.PendingDues += r.PendingDues
		if !seen[r.Property] {
			seen[r.Property] = true
			s.Properties = append(s.Properties, r.Property)
		}
	}
	return s
}
