package features

import "testing"

func TestFlags(t *testing.T) {
	f := FromConfig(map[string]bool{"enableMarketplace": true, "enableParking": false})
	if !f.IsEnabled(Marketplace) {
		t.Fatal("marketplace should be enabled")
	}
	if f.IsEnabled(Parking) || f.IsEnabled(SocietyModule) || f.IsEnabled(Key("enableTeleport")) {
		t.Fatal("disabled and unknown keys must report false")
	}
	if got := f.Enabled(); len(got) != 1 || got[0] != Marketplace {
		t.Fatalf("unexpected enabled list %v", got)
	}
	var none Flags
	if none.IsEnabled(Marketplace) {
		t.Fatal("nil flags must be all off")
	}
}
