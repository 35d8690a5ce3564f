package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/customer"
)

const (
	getTotalSpentSQL = `SELECT total_spent FROM customer_loyalty WHERE user_id = $1`

	saveAddressSQL = `INSERT INTO customer_addresses
		(id, user_id, name, line1, line2, city, postal_code, country, phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, name, line1, line2, city, postal_code, country, phone) DO NOTHING`
)

var (
	_ customer.LoyaltyReader = (*LoyaltyReader)(nil)
	_ customer.AddressBook   = (*AddressBook)(nil)
)

// LoyaltyReader reads lifetime spend maintained by accounting.
type LoyaltyReader struct {
	db dbtx
}

// NewLoyaltyReader returns a LoyaltyReader that uses the given pool.
func NewLoyaltyReader(pool *pgxpool.Pool) *LoyaltyReader {
	return &LoyaltyReader{db: pool}
}

// TotalSpent returns zero for users without a loyalty row.
func (r *LoyaltyReader) TotalSpent(ctx context.Context, userID string) (int64, error) {
	var spent int64
	if err := r.db.QueryRow(ctx, getTotalSpentSQL, userID).Scan(&spent); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "get total spent of %q", userID)
	}
	return spent, nil
}

// AddressBook stores saved shipping addresses.
type AddressBook struct {
	db dbtx
}

// NewAddressBook returns an AddressBook that uses the given pool.
func NewAddressBook(pool *pgxpool.Pool) *AddressBook {
	return &AddressBook{db: pool}
}

// SaveIfNew relies on the unique constraint over every address field for
// deduplication.
func (b *AddressBook) SaveIfNew(ctx context.Context, userID string, a customer.Address) (bool, error) {
	tag, err := b.db.Exec(ctx, saveAddressSQL,
		uuid.NewString(), userID, a.Name, a.Line1, a.Line2, a.City, a.PostalCode, a.Country, a.Phone,
	)
	if err != nil {
		return false, errors.Wrapf(err, "save address of %q", userID)
	}
	return tag.RowsAffected() == 1, nil
}
