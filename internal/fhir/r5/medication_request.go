package r5

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MedicationRequest is a FHIR R5 prescription order.
type MedicationRequest struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id,omitempty"`
	Identifier   []Identifier `json:"identifier,omitempty"`

	// active | on-hold | cancelled | completed | entered-in-error | stopped | draft | unknown
	Status string `json:"status"`
	// proposal | plan | order | original-order | reflex-order | filler-order | instance-order | option
	Intent string `json:"intent"`

	Medication                CodeableReference `json:"medication"`
	Subject                   Reference         `json:"subject"`
	Requester                 *Reference        `json:"requester,omitempty"`
	Note                      []Annotation      `json:"note,omitempty"`
	RenderedDosageInstruction string            `json:"renderedDosageInstruction,omitempty"`
	DosageInstruction         []Dosage          `json:"dosageInstruction,omitempty"`
	DispenseRequest           *DispenseRequest  `json:"dispenseRequest,omitempty"`
}

// Dosage carries the human-readable sig.
type Dosage struct {
	Text string `json:"text,omitempty"`
}

// DispenseRequest holds the dispensing authorisation.
type DispenseRequest struct {
	// NumberOfRepeatsAllowed counts fills after the initial one.
	NumberOfRepeatsAllowed int       `json:"numberOfRepeatsAllowed,omitempty"`
	Quantity               *Quantity `json:"quantity,omitempty"`
}

// Bundle is a collection of resources. Only MedicationRequest entries are
// read.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// BundleEntry wraps one resource of a bundle.
type BundleEntry struct {
	Resource json.RawMessage `json:"resource"`
}

var (
	ErrWrongResource = errors.New("not a MedicationRequest")
	ErrNotOrderable  = errors.New("request is not an active order")
)

// ParseMedicationRequests decodes a MedicationRequest or a Bundle of them.
func ParseMedicationRequests(data []byte) ([]MedicationRequest, error) {
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	switch head.ResourceType {
	case "MedicationRequest":
		var m MedicationRequest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode MedicationRequest: %w", err)
		}
		return []MedicationRequest{m}, nil
	case "Bundle":
		var b Bundle
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("decode Bundle: %w", err)
		}
		var out []MedicationRequest
		for i, e := range b.Entry {
			var m MedicationRequest
			if err := json.Unmarshal(e.Resource, &m); err != nil {
				return nil, fmt.Errorf("decode entry %d: %w", i, err)
			}
			if m.ResourceType == "MedicationRequest" {
				out = append(out, m)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("bundle: %w", ErrWrongResource)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%q: %w", head.ResourceType, ErrWrongResource)
	}
}

// Validate checks the request can become a dispensable prescription.
func (m *MedicationRequest) Validate() error {
	if m.ResourceType != "MedicationRequest" {
		return ErrWrongResource
	}
	if m.Status != "active" && m.Status != "draft" {
		return fmt.Errorf("status %q: %w", m.Status, ErrNotOrderable)
	}
	switch m.Intent {
	case "order", "original-order", "instance-order", "filler-order":
	default:
		return fmt.Errorf("intent %q: %w", m.Intent, ErrNotOrderable)
	}
	if m.NDC() == "" && m.MedicationDisplay() == "" {
		return errors.New("medication has no NDC code or name")
	}
	if m.PatientName() == "" {
		return errors.New("subject has no display name")
	}
	return nil
}

// ExternalID is the request id, or the first identifier value.
func (m *MedicationRequest) ExternalID() string {
	if m.ID != "" {
		return m.ID
	}
	for _, id := range m.Identifier {
		if id.Value != "" {
			return id.Value
		}
	}
	return ""
}

// NDC returns the NDC coding of the medication.
func (m *MedicationRequest) NDC() string {
	return m.code(SystemNDC)
}

// RxNorm returns the RxNorm coding of the medication.
func (m *MedicationRequest) RxNorm() string {
	return m.code(SystemRxNorm)
}

func (m *MedicationRequest) code(system string) string {
	if m.Medication.Concept == nil {
		return ""
	}
	for _, c := range m.Medication.Concept.Coding {
		if c.System == system {
			return c.Code
		}
	}
	return ""
}

// MedicationDisplay returns the display name of the medication.
func (m *MedicationRequest) MedicationDisplay() string {
	c := m.Medication.Concept
	if c == nil {
		if m.Medication.Reference != nil {
			return m.Medication.Reference.Display
		}
		return ""
	}
	if c.Text != "" {
		return c.Text
	}
	for _, coding := range c.Coding {
		if coding.Display != "" {
			return coding.Display
		}
	}
	return ""
}

// PatientName is the display of the subject.
func (m *MedicationRequest) PatientName() string {
	return strings.TrimSpace(m.Subject.Display)
}

// PrescriberName is the display of the requester.
func (m *MedicationRequest) PrescriberName() string {
	if m.Requester == nil {
		return ""
	}
	return strings.TrimSpace(m.Requester.Display)
}

// Quantity is the dispense quantity per fill, at least 1.
func (m *MedicationRequest) Quantity() int {
	if m.DispenseRequest == nil || m.DispenseRequest.Quantity == nil || m.DispenseRequest.Quantity.Value < 1 {
		return 1
	}
	return int(m.DispenseRequest.Quantity.Value)
}

// Fills is the number of dispenses authorised: the initial fill plus
// repeats.
func (m *MedicationRequest) Fills() int {
	if m.DispenseRequest == nil || m.DispenseRequest.NumberOfRepeatsAllowed < 0 {
		return 1
	}
	return 1 + m.DispenseRequest.NumberOfRepeatsAllowed
}

// Sig returns the dosage instruction text.
func (m *MedicationRequest) Sig() string {
	if m.RenderedDosageInstruction != "" {
		return m.RenderedDosageInstruction
	}
	if len(m.DosageInstruction) > 0 {
		return m.DosageInstruction[0].Text
	}
	return ""
}

// Notes joins the request's annotations.
func (m *MedicationRequest) Notes() string {
	parts := make([]string, 0, len(m.Note))
	for _, n := range m.Note {
		if t := strings.TrimSpace(n.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}
