package pricing

import "context"

// Settings holds the shipping configuration resolved once per operation.
type Settings struct {
	FreeShippingThreshold int64
	FlatShippingFee       int64
}

// Shipping returns the shipping cost for a cart with the given subtotal.
func (s Settings) Shipping(subtotal int64) int64 {
	if subtotal >= s.FreeShippingThreshold {
		return 0
	}
	return s.FlatShippingFee
}

// SettingsSource resolves current shipping settings.
type SettingsSource interface {
	ShippingSettings(ctx context.Context) (Settings, error)
}

// StaticSettings is a SettingsSource returning fixed values.
type StaticSettings Settings

func (s StaticSettings) ShippingSettings(context.Context) (Settings, error) {
	return Settings(s), nil
}
