package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/fhir/r5"
)

// ImportPrescriptions turns FHIR MedicationRequests into prescriptions of one
// pharmacy. Medicines are matched by NDC, then by name. Requests already
// imported under the same external id are rejected. All requests commit
// together.
func (s *Service) ImportPrescriptions(ctx context.Context, p domain.Principal, pharmacyID string, reqs []r5.MedicationRequest) ([]domain.Prescription, error) {
	const op = "prescriptions.Import"
	scope, err := tenantScope(op, p, pharmacyID)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, domain.Invalid(op, "no medication requests")
	}
	for i := range reqs {
		if err := reqs[i].Validate(); err != nil {
			return nil, domain.Invalid(op, "request %d: %v", i+1, err)
		}
	}

	var out []domain.Prescription
	err = s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermManagePrescriptions, scope); err != nil {
			return err
		}
		meds, err := u.ListMedicines(ctx, scope)
		if err != nil {
			return err
		}
		existing, err := u.ListPrescriptions(ctx, scope)
		if err != nil {
			return err
		}
		seen := map[string]bool{}
		for _, rx := range existing {
			if rx.ExternalID != "" {
				seen[rx.ExternalID] = true
			}
		}

		out = make([]domain.Prescription, 0, len(reqs))
		for i := range reqs {
			req := &reqs[i]
			ext := req.ExternalID()
			if ext != "" && seen[ext] {
				return domain.Conflict(op, "medication request %q already imported", ext)
			}
			seen[ext] = ext != ""

			m := matchMedicine(meds, req.NDC(), req.MedicationDisplay())
			if m == nil {
				return domain.NotFound(op, "medicine", firstNonEmpty(req.NDC(), req.MedicationDisplay()))
			}
			rx, err := u.newPrescription(ctx, scope, PrescriptionInput{
				PatientName:    req.PatientName(),
				DoctorName:     req.PrescriberName(),
				Items:          []domain.PrescriptionItem{{MedicineID: m.ID, Quantity: req.Quantity(), Dosage: req.Sig()}},
				RefillsAllowed: req.Fills(),
				Notes:          req.Notes(),
				ExternalID:     ext,
			})
			if err != nil {
				return err
			}
			if err := u.InsertPrescription(ctx, rx); err != nil {
				return err
			}
			if err := u.emit(ctx, domain.AggregatePrescription, rx.ID, scope, domain.EventPrescriptionCreated, rx); err != nil {
				return err
			}
			out = append(out, *rx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("prescriptions imported", zap.String("pharmacy_id", scope), zap.Int("count", len(out)))
	return out, nil
}

func matchMedicine(meds []domain.Medicine, ndc, name string) *domain.Medicine {
	if ndc != "" {
		for i := range meds {
			if meds[i].NDC == ndc {
				return &meds[i]
			}
		}
	}
	if name != "" {
		for i := range meds {
			if strings.EqualFold(meds[i].Name, name) || strings.EqualFold(meds[i].GenericName, name) {
				return &meds[i]
			}
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
