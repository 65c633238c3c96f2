package schemas

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProvenance = Provenance{
	DocID:             1,
	DocSourceID:       "test",
	EtlDGCode:         20,
	EtlLoadDatetime:   time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC),
	EtlSrcIncDatetime: time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC),
	EtlSrcSysID:       10,
}

func TestConstructorsSetMatchingPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		node    Node
		kind    NodeKind
		payload func(Node) bool
	}{
		{"identifier", NewIdentifierNode(testProvenance, "1:2", IdentifierAttrs{}), NodeIdentifier, func(n Node) bool { return n.Identifier != nil }},
		{"code", NewCodeNode(testProvenance, "1:2", CodeAttrs{}), NodeCode, func(n Node) bool { return n.Code != nil }},
		{"name", NewNameNode(testProvenance, "n", NameAttrs{}), NodeName, func(n Node) bool { return n.Name != nil }},
		{"address", NewAddressNode(testProvenance, "a", AddressAttrs{}), NodeAddress, func(n Node) bool { return n.Address != nil }},
		{"encounter", NewEncounterNode(testProvenance, "e", EncounterAttrs{}), NodeEncounter, func(n Node) bool { return n.Encounter != nil }},
		{"general entity", NewGeneralEntityNode(testProvenance, "g", GeneralEntityAttrs{}), NodeGeneralEntity, func(n Node) bool { return n.GeneralEntity != nil }},
		{"diagnosis", NewDiagnosisNode(testProvenance, "d", DiagnosisAttrs{}), NodeDiagnosis, func(n Node) bool { return n.Diagnosis != nil }},
		{"contact", NewContactNode(testProvenance, "c", ContactAttrs{}), NodeContact, func(n Node) bool { return n.Contact != nil }},
		{"base", NewBaseNode(testProvenance, "b"), NodeBase, func(n Node) bool { return true }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.kind, tt.node.Kind)
			assert.True(t, tt.payload(tt.node))
			assert.Equal(t, testProvenance, tt.node.Provenance)
		})
	}
}

func TestNodeProperties(t *testing.T) {
	t.Parallel()

	t.Run("code", func(t *testing.T) {
		t.Parallel()
		n := NewCodeNode(testProvenance, "2.16.840.1.113883.5.4:AMB", CodeAttrs{
			Code:           "AMB",
			CodeSystem:     "2.16.840.1.113883.5.4",
			CodeSystemName: "ActCode",
			DisplayName:    "Ambulatory",
		})
		want := map[string]any{
			"code":                "AMB",
			"code_system":         "2.16.840.1.113883.5.4",
			"code_system_name":    "ActCode",
			"code_system_version": "",
			"display_name":        "Ambulatory",
		}
		if diff := cmp.Diff(want, n.Properties()); diff != "" {
			t.Errorf("Properties() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("encounter renders zero times as nil", func(t *testing.T) {
		t.Parallel()
		start := time.Date(2020, 3, 4, 9, 30, 0, 0, time.FixedZone("EST", -5*3600))
		n := NewEncounterNode(testProvenance, "e", EncounterAttrs{StatusCode: "completed", EncounterStart: start})
		props := n.Properties()
		assert.Equal(t, "2020-03-04T14:30:00Z", props["encounter_start"])
		assert.Nil(t, props["encounter_end"])
		assert.Equal(t, "completed", props["status_code"])
	})

	t.Run("name with optional validity", func(t *testing.T) {
		t.Parallel()
		end := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
		n := NewNameNode(testProvenance, "n", NameAttrs{GivenName: "Adam", FamilyName: "Everyman", ValidEndDate: &end})
		props := n.Properties()
		assert.Nil(t, props["valid_start_date"])
		assert.Equal(t, "2030-01-01T00:00:00Z", props["valid_end_date"])
	})

	t.Run("diagnosis", func(t *testing.T) {
		t.Parallel()
		n := NewDiagnosisNode(testProvenance, "d", DiagnosisAttrs{NegationIndicator: true, StatusCode: "active"})
		props := n.Properties()
		assert.Equal(t, true, props["negation_indicator"])
		assert.Equal(t, "active", props["status_code"])
	})

	t.Run("base has no properties", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, NewBaseNode(testProvenance, "b").Properties())
	})

	t.Run("kind without payload yields no properties", func(t *testing.T) {
		t.Parallel()
		n := Node{CanonicalID: "x", Kind: NodeAddress}
		assert.Empty(t, n.Properties())
	})
}

func TestVertexInfo(t *testing.T) {
	t.Parallel()

	a := NewEncounterNode(testProvenance, "enc", EncounterAttrs{})
	b := NewCodeNode(testProvenance, "2.16.840.1.113883.5.4:AMB", CodeAttrs{})

	forward := NewVertexInfo(a, b, FieldCode, nil)
	reverse := NewVertexInfo(b, a, FieldCode, nil)
	relabeled := NewVertexInfo(a, b, FieldTranslation, map[string]any{"note": "x"})

	assert.Equal(t, "enc_2.16.840.1.113883.5.4:AMB", forward.VertexID)
	assert.NotEqual(t, forward.VertexID, reverse.VertexID)
	assert.Equal(t, forward.VertexID, relabeled.VertexID, "vertex id ignores the field name")
	assert.Nil(t, forward.Meta)
	require.NotNil(t, relabeled.Meta)
	assert.Equal(t, "x", relabeled.Meta["note"])
}

func TestIDSet(t *testing.T) {
	t.Parallel()
	s := IDSet{"b": {}, "a": {}, "c": {}}
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("z"))
	assert.Equal(t, []string{"a", "b", "c"}, s.Sorted())
	assert.Empty(t, IDSet(nil).Sorted())
}
