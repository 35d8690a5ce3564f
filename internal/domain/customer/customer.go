package customer

import "context"

// Address is a shipping address. Two addresses are the same saved address
// when every field matches exactly.
type Address struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Country    string
	Phone      string
}

// LoyaltyReader provides a customer's cumulative spend in minor units.
// Unknown users have spent zero.
type LoyaltyReader interface {
	TotalSpent(ctx context.Context, userID string) (int64, error)
}

// AddressBook stores a user's saved shipping addresses.
type AddressBook interface {
	// SaveIfNew stores addr for userID unless an identical address is
	// already saved. It reports whether a row was inserted.
	SaveIfNew(ctx context.Context, userID string, addr Address) (bool, error)
}
