package features

// Key names a platform feature that gates modules and permissions.
type Key string

const (
	Marketplace       Key = "enableMarketplace"
	SocietyModule     Key = "enableSocietyModule"
	VisitorManagement Key = "enableVisitorManagement"
	Parking           Key = "enableParking"
)

// Known lists every feature key in declaration order.
var Known = []Key{Marketplace, SocietyModule, VisitorManagement, Parking}

// Resolver answers whether a feature is switched on.
type Resolver interface {
	IsEnabled(key Key) bool
}

// Flags is a static Resolver built from configuration. Unknown keys are off.
type Flags map[Key]bool

// FromConfig converts the config feature map.
func FromConfig(raw map[string]bool) Flags {
	f := make(Flags, len(raw))
	for k, v := range raw {
		f[Key(k)] = v
	}
	return f
}

func (f Flags) IsEnabled(key Key) bool {
	return f[key]
}

// Enabled lists the known features that are on.
func (f Flags) Enabled() []Key {
	var out []Key
	for _, k := range Known {
		if f[k] {
			out = append(out, k)
		}
	}
	return out
}
