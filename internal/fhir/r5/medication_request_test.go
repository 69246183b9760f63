package r5

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const amoxicillinOrder = `{
  "resourceType": "MedicationRequest",
  "id": "rx-778",
  "status": "active",
  "intent": "order",
  "medication": {"concept": {"coding": [
    {"system": "http://www.nlm.nih.gov/research/umls/rxnorm", "code": "308182"},
    {"system": "http://hl7.org/fhir/sid/ndc", "code": "0093-4155-73", "display": "Amoxicillin 500mg"}
  ]}},
  "subject": {"reference": "Patient/p1", "display": "Jane Roe"},
  "requester": {"display": "Dr. Ada Smith"},
  "dosageInstruction": [{"text": "1 capsule three times daily"}],
  "note": [{"text": "take with food"}],
  "dispenseRequest": {"numberOfRepeatsAllowed": 2, "quantity": {"value": 21, "unit": "capsule"}}
}`

func TestParseSingleRequest(t *testing.T) {
	reqs, err := ParseMedicationRequests([]byte(amoxicillinOrder))
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	m := reqs[0]
	require.NoError(t, m.Validate())
	assert.Equal(t, "rx-778", m.ExternalID())
	assert.Equal(t, "0093-4155-73", m.NDC())
	assert.Equal(t, "308182", m.RxNorm())
	assert.Equal(t, "Amoxicillin 500mg", m.MedicationDisplay())
	assert.Equal(t, "Jane Roe", m.PatientName())
	assert.Equal(t, "Dr. Ada Smith", m.PrescriberName())
	assert.Equal(t, 21, m.Quantity())
	assert.Equal(t, 3, m.Fills())
	assert.Equal(t, "1 capsule three times daily", m.Sig())
	assert.Equal(t, "take with food", m.Notes())
}

func TestParseBundle(t *testing.T) {
	bundle := `{"resourceType":"Bundle","type":"collection","entry":[
		{"resource":{"resourceType":"Patient","id":"p1"}},
		{"resource":` + amoxicillinOrder + `}
	]}`
	reqs, err := ParseMedicationRequests([]byte(bundle))
	require.NoError(t, err)
	assert.Len(t, reqs, 1)
}

func TestParseRejectsOtherResources(t *testing.T) {
	_, err := ParseMedicationRequests([]byte(`{"resourceType":"Patient"}`))
	assert.ErrorIs(t, err, ErrWrongResource)

	_, err = ParseMedicationRequests([]byte(`{"resourceType":"Bundle","entry":[]}`))
	assert.ErrorIs(t, err, ErrWrongResource)

	_, err = ParseMedicationRequests([]byte(`not json`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() MedicationRequest {
		reqs, err := ParseMedicationRequests([]byte(amoxicillinOrder))
		require.NoError(t, err)
		return reqs[0]
	}

	m := base()
	m.Status = "cancelled"
	assert.ErrorIs(t, m.Validate(), ErrNotOrderable)

	m = base()
	m.Intent = "proposal"
	assert.ErrorIs(t, m.Validate(), ErrNotOrderable)

	m = base()
	m.Subject.Display = " "
	assert.Error(t, m.Validate())

	m = base()
	m.Medication = CodeableReference{}
	assert.Error(t, m.Validate())
}

func TestDefaults(t *testing.T) {
	m := MedicationRequest{Identifier: []Identifier{{Value: "ext-1"}}}
	assert.Equal(t, "ext-1", m.ExternalID())
	assert.Equal(t, 1, m.Quantity())
	assert.Equal(t, 1, m.Fills())
	assert.Empty(t, m.NDC())
}
