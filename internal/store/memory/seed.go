package memory

import (
	"context"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/store"
)

// Fixtures is a set of rows loaded before the store serves requests.
type Fixtures struct {
	Pharmacies    []domain.Pharmacy
	Users         []domain.User
	Medicines     []domain.Medicine
	Prescriptions []domain.Prescription
	Sales         []domain.Sale
	Payments      []domain.PaymentTransaction
}

// Seed inserts fixtures in one unit. Medicine stock is taken as given; it is
// the opening balance, not a ledger movement.
func (s *Store) Seed(ctx context.Context, f Fixtures) error {
	return s.Update(ctx, store.PlatformScope, func(tx store.Tx) error {
		for i := range f.Pharmacies {
			if err := tx.InsertPharmacy(ctx, &f.Pharmacies[i]); err != nil {
				return err
			}
		}
		for i := range f.Users {
			if err := tx.InsertUser(ctx, &f.Users[i]); err != nil {
				return err
			}
		}
		for i := range f.Medicines {
			if err := tx.InsertMedicine(ctx, &f.Medicines[i]); err != nil {
				return err
			}
		}
		for i := range f.Prescriptions {
			if err := tx.InsertPrescription(ctx, &f.Prescriptions[i]); err != nil {
				return err
			}
		}
		for i := range f.Sales {
			if err := tx.InsertSale(ctx, &f.Sales[i]); err != nil {
				return err
			}
		}
		for i := range f.Payments {
			if err := tx.InsertPaymentTransaction(ctx, &f.Payments[i]); err != nil {
				return err
			}
		}
		return nil
	})
}
