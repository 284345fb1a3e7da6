package properties

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

func (s Status) Valid() bool { return s == StatusActive || s == StatusInactive }

type Occupancy string

const (
	Occupied    Occupancy = "occupied"
	Vacant      Occupancy = "vacant"
	Maintenance Occupancy = "maintenance"
)

func (o Occupancy) Valid() bool { return o == Occupied || o == Vacant || o == Maintenance }

const (
	GasYes = "yes"
	GasNo  = "no"

	WaterCorporation = "corporation"
	WaterBorewell    = "borewell"
	WaterMixed       = "mixed"

	MediaImage = "image"
	MediaVideo = "video"

	DefaultConfiguration = "1BHK"
	DefaultFurnishing    = "unfurnished"
)

type Parking struct {
	TwoWheelerSlots  int `json:"twoWheelerSlots"`
	FourWheelerSlots int `json:"fourWheelerSlots"`
}

type Utilities struct {
	ElectricityProvider string `json:"electricityProvider"`
	MeterNumber         string `json:"meterNumber"`
	GasLine             string `json:"gasLine"`
	WaterSupply         string `json:"waterSupply"`
}

type Media struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Unit is one rentable unit. LegacyType is the pre-configuration field of
// older records; it is folded into Configuration on read.
type Unit struct {
	ID              string    `json:"id"`
	UnitCode        string    `json:"unitCode"`
	Configuration   string    `json:"configuration"`
	LegacyType      string    `json:"type,omitempty"`
	Furnishing      string    `json:"furnishing"`
	Rent            float64   `json:"rent"`
	OccupancyStatus Occupancy `json:"occupancyStatus"`
	TenantName      string    `json:"tenantName"`
	CarpetAreaSqFt  float64   `json:"carpetAreaSqFt"`
	Parking         Parking   `json:"parking"`
	Utilities       Utilities `json:"utilities"`
	Media           []Media   `json:"media"`
}

// Property owns its units. OwnerName is a comma separated list of owner
// display names.
type Property struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	City        string `json:"city"`
	Address     string `json:"address"`
	Description string `json:"description"`
	OwnerName   string `json:"ownerName"`
	Status      Status `json:"status"`
	Units       []Unit `json:"units"`
}

// PropertyInput is the create payload.
type PropertyInput struct {
	Name        string `json:"name"`
	City        string `json:"city"`
	Address     string `json:"address"`
	Description string `json:"description"`
	OwnerName   string `json:"ownerName"`
	Status      Status `json:"status"`
}

// PropertyUpdate is the update payload; units are left untouched.
type PropertyUpdate struct {
	ID string `json:"id"`
	PropertyInput
}

// UnitInput inserts a unit when ID is empty and replaces it otherwise.
type UnitInput struct {
	PropertyID      string     `json:"propertyId"`
	ID              string     `json:"id,omitempty"`
	UnitCode        string     `json:"unitCode"`
	Configuration   string     `json:"configuration"`
	Furnishing      string     `json:"furnishing"`
	Rent            float64    `json:"rent"`
	OccupancyStatus Occupancy  `json:"occupancyStatus"`
	TenantName      string     `json:"tenantName"`
	CarpetAreaSqFt  float64    `json:"carpetAreaSqFt"`
	Parking         *Parking   `json:"parking,omitempty"`
	Utilities       *Utilities `json:"utilities,omitempty"`
	Media           []Media    `json:"media,omitempty"`
}

func cloneUnit(u Unit) Unit {
	u.Media = append([]Media{}, u.Media...)
	return u
}

func cloneProperty(p Property) Property {
	units := make([]Unit, len(p.Units))
	for i, u := range p.Units {
		units[i] = cloneUnit(u)
	}
	p.Units = units
	return p
}

func cloneAll(props []Property) []Property {
	out := make([]Property, len(props))
	for i, p := range props {
		out[i] = cloneProperty(p)
	}
	return out
}
