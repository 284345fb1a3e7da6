package properties

import (
	"math"
	"strings"

	"rent360.org/internal/ids"
)

// identityKey is the duplicate-detection key of a property.
func identityKey(name, city, address string) string {
	return foldSpace(name) + "\x00" + foldSpace(city) + "\x00" + foldSpace(address)
}

func foldSpace(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func unitCodeKey(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func nonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

func nonNegativeInt(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func normalizeGas(s string) string {
	if strings.ToLower(strings.TrimSpace(s)) == GasYes {
		return GasYes
	}
	return GasNo
}

func normalizeWater(s string) string {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case WaterBorewell, WaterMixed, WaterCorporation:
		return v
	}
	return WaterCorporation
}

func normalizeParking(p Parking) Parking {
	return Parking{
		TwoWheelerSlots:  nonNegativeInt(p.TwoWheelerSlots),
		FourWheelerSlots: nonNegativeInt(p.FourWheelerSlots),
	}
}

func normalizeUtilities(u Utilities) Utilities {
	return Utilities{
		ElectricityProvider: strings.TrimSpace(u.ElectricityProvider),
		MeterNumber:         strings.TrimSpace(u.MeterNumber),
		GasLine:             normalizeGas(u.GasLine),
		WaterSupply:         normalizeWater(u.WaterSupply),
	}
}

// normalizeMedia drops entries without a URL, coerces unknown types to
// images and assigns missing ids.
func normalizeMedia(in []Media) []Media {
	out := make([]Media, 0, len(in))
	for _, m := range in {
		m.URL = strings.TrimSpace(m.URL)
		if m.URL == "" {
			continue
		}
		m.Type = strings.ToLower(strings.TrimSpace(m.Type))
		if m.Type != MediaVideo {
			m.Type = MediaImage
		}
		m.Title = strings.TrimSpace(m.Title)
		if strings.TrimSpace(m.ID) == "" {
			m.ID = ids.Prefixed("media")
		}
		out = append(out, m)
	}
	return out
}

// normalizeUnit backfills fields missing from older records.
func normalizeUnit(u Unit) Unit {
	if strings.TrimSpace(u.Configuration) == "" {
		u.Configuration = strings.TrimSpace(u.LegacyType)
	}
	if u.Configuration == "" {
		u.Configuration = DefaultConfiguration
	}
	u.LegacyType = ""
	if strings.TrimSpace(u.Furnishing) == "" {
		u.Furnishing = DefaultFurnishing
	}
	if !u.OccupancyStatus.Valid() {
		u.OccupancyStatus = Vacant
	}
	u.Rent = nonNegative(u.Rent)
	u.CarpetAreaSqFt = nonNegative(u.CarpetAreaSqFt)
	u.Parking = normalizeParking(u.Parking)
	u.Utilities = normalizeUtilities(u.Utilities)
	u.Media = normalizeMedia(u.Media)
	return u
}

func normalizeProperty(p Property) Property {
	if !p.Status.Valid() {
		p.Status = StatusActive
	}
	units := make([]Unit, 0, len(p.Units))
	for _, u := range p.Units {
		units = append(units, normalizeUnit(u))
	}
	p.Units = units
	return p
}

func normalizeAll(props []Property) []Property {
	out := make([]Property, 0, len(props))
	for _, p := range props {
		out = append(out, normalizeProperty(p))
	}
	return out
}

func (in PropertyInput) trimmed() PropertyInput {
	in.Name = strings.TrimSpace(in.Name)
	in.City = strings.TrimSpace(in.City)
	in.Address = strings.TrimSpace(in.Address)
	in.Description = strings.TrimSpace(in.Description)
	in.OwnerName = strings.TrimSpace(in.OwnerName)
	if !in.Status.Valid() {
		in.Status = StatusActive
	}
	return in
}

func (in PropertyInput) validate() error {
	if in.Name == "" || in.City == "" {
		return ErrInvalidInput
	}
	return nil
}

// unit builds the stored unit for in; id must already be resolved.
func (in UnitInput) unit(id string) Unit {
	u := Unit{
		ID:              id,
		UnitCode:        strings.TrimSpace(in.UnitCode),
		Configuration:   strings.TrimSpace(in.Configuration),
		Furnishing:      strings.TrimSpace(in.Furnishing),
		Rent:            in.Rent,
		OccupancyStatus: in.OccupancyStatus,
		TenantName:      strings.TrimSpace(in.TenantName),
		CarpetAreaSqFt:  in.CarpetAreaSqFt,
		Media:           in.Media,
	}
	if in.Parking != nil {
		u.Parking = *in.Parking
	}
	if in.Utilities != nil {
		u.Utilities = *in.Utilities
	}
	return normalizeUnit(u)
}
