package schemas

import (
	"time"
)

// -- Canonical Clinical Graph Data Model --

// NodeKind is the discriminator of the closed set of node variants. Exporters
// and serializers switch on it; nothing in the codebase inspects the dynamic
// type of a payload to decide what a node is.
type NodeKind string

const (
	NodeIdentifier    NodeKind = "IDENTIFIER"
	NodeCode          NodeKind = "CODE"
	NodeName          NodeKind = "NAME"
	NodeAddress       NodeKind = "ADDRESS"
	NodeEncounter     NodeKind = "ENCOUNTER"
	NodeGeneralEntity NodeKind = "GENERAL_ENTITY"
	NodeDiagnosis     NodeKind = "DIAGNOSIS"
	NodeContact       NodeKind = "CONTACT"
	NodeBase          NodeKind = "BASE" // Anchor with no attributes of its own.
)

// Provenance is the fixed per-session metadata stamped on every node produced
// while processing a single document.
type Provenance struct {
	DocID             int       `json:"doc_id"`
	DocSourceID       string    `json:"doc_source_id"`
	EtlDGCode         int       `json:"etl_dg_code"`
	EtlLoadDatetime   time.Time `json:"etl_load_datetime"`
	EtlSrcIncDatetime time.Time `json:"etl_src_inc_datetime"`
	EtlSrcSysID       int       `json:"etl_src_sys_id"`
}

// Node is a typed entity record derived from part of a clinical document.
//
// Exactly one payload pointer is set and it matches Kind; a BASE node has
// none. Nodes are value objects: once built they are never mutated, and two
// nodes with the same CanonicalID are the same entity as far as the graph is
// concerned regardless of their other fields.
type Node struct {
	Provenance
	CanonicalID string   `json:"canonical_id"`
	Kind        NodeKind `json:"kind"`

	Identifier    *IdentifierAttrs    `json:"identifier,omitempty"`
	Code          *CodeAttrs          `json:"code,omitempty"`
	Name          *NameAttrs          `json:"name,omitempty"`
	Address       *AddressAttrs       `json:"address,omitempty"`
	Encounter     *EncounterAttrs     `json:"encounter,omitempty"`
	GeneralEntity *GeneralEntityAttrs `json:"general_entity,omitempty"`
	Diagnosis     *DiagnosisAttrs     `json:"diagnosis,omitempty"`
	Contact       *ContactAttrs       `json:"contact,omitempty"`
}

// -- Variant Payloads --

// IdentifierAttrs captures an II (instance identifier) data type.
type IdentifierAttrs struct {
	Root            string `json:"root"`
	Extension       string `json:"extension"`
	AssignAuthority string `json:"assign_authority"`
}

// CodeAttrs captures a coded value (CD/CE) or one of its translations.
type CodeAttrs struct {
	Code              string `json:"code"`
	CodeSystem        string `json:"code_system"`
	CodeSystemName    string `json:"code_system_name"`
	CodeSystemVersion string `json:"code_system_version"`
	DisplayName       string `json:"display_name"`
}

// NameAttrs captures a person name.
type NameAttrs struct {
	TypeCode       string     `json:"type_code"`
	FamilyName     string     `json:"family_name"`
	GivenName      string     `json:"given_name"`
	Prefix         string     `json:"prefix"`
	Suffix         string     `json:"suffix"`
	ValidStartDate *time.Time `json:"valid_start_date,omitempty"`
	ValidEndDate   *time.Time `json:"valid_end_date,omitempty"`
}

// AddressAttrs captures a postal address.
type AddressAttrs struct {
	Use               string `json:"use"`
	Type              string `json:"type"`
	StreetAddressLine string `json:"street_address_line"`
	City              string `json:"city"`
	State             string `json:"state"`
	County            string `json:"county"`
	Country           string `json:"country"`
	PostalCode        string `json:"postal_code"`
}

// EncounterAttrs captures an encounter activity.
type EncounterAttrs struct {
	StatusCode     string    `json:"status_code"`
	EncounterStart time.Time `json:"encounter_start"`
	EncounterEnd   time.Time `json:"encounter_end"`
}

// GeneralEntityAttrs denotes a person, assigned entity or similar participant.
type GeneralEntityAttrs struct {
	ClassCode string `json:"class_code"`
}

// DiagnosisAttrs captures a problem or encounter diagnosis observation.
type DiagnosisAttrs struct {
	NegationIndicator      bool      `json:"negation_indicator"`
	StatusCode             string    `json:"status_code"`
	EffectiveStartDatetime time.Time `json:"effective_start_datetime"`
	EffectiveEndDatetime   time.Time `json:"effective_end_datetime"`
}

// ContactAttrs captures a telecom entry (phone, email, url).
type ContactAttrs struct {
	Use   string `json:"use"`
	Value string `json:"value"`
}

// EffectiveTime is the composite IVL_TS value of an effectiveTime element.
// Either bound may be the zero time when the document omits it.
type EffectiveTime struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// -- Constructors --

// NewBaseNode builds an anchor node that only carries identity and provenance.
func NewBaseNode(p Provenance, canonicalID string) Node {
	return Node{Provenance: p, CanonicalID: canonicalID, Kind: NodeBase}
}

func NewIdentifierNode(p Provenance, canonicalID string, attrs IdentifierAttrs) Node {
	return Node{Provenance: p, CanonicalID: canonicalID, Kind: NodeIdentifier, Identifier: &attrs}
}

func NewCodeNode(p Provenance, canonicalID string, attrs CodeAttrs) Node {
	return Node{Provenance: p, CanonicalID: canonicalID, Kind: NodeCode, Code: &attrs}
}

func NewNameNode(p Provenance, canonicalID string, attrs NameAttrs) Node {
	return Node{Provenance: p, CanonicalID: canonicalID, Kind: NodeName, Name: &attrs}
}

func NewAddressNode(p Provenance, canonicalID string, attrs AddressAttrs) Node {
	return Node{Provenance: p, CanonicalID: canonicalID, Kind: NodeAddress, Address: &attrs}
}

func NewEncounterNode(p Provenance, canonicalID string, attrs EncounterAttrs) Node {
	return Node{Provenance: p, CanonicalID: canonicalID, Kind: NodeEncounter, Encounter: &attrs}
}

func NewGeneralEntityNode(p Provenance, canonicalID string, attrs GeneralEntityAttrs) Node {
	return Node{Provenance: p, CanonicalID: canonicalID, Kind: NodeGeneralEntity, GeneralEntity: &attrs}
}

func NewDiagnosisNode(p Provenance, canonicalID string, attrs DiagnosisAttrs) Node {
	return Node{Provenance: p, CanonicalID: canonicalID, Kind: NodeDiagnosis, Diagnosis: &attrs}
}

func NewContactNode(p Provenance, canonicalID string, attrs ContactAttrs) Node {
	return Node{Provenance: p, CanonicalID: canonicalID, Kind: NodeContact, Contact: &attrs}
}

// -- Serialization Helpers --

// Properties flattens the variant payload into a property map keyed by the
// snake_case field names used in the persistent store. Provenance fields are
// not included; exporters write them as dedicated columns.
func (n Node) Properties() map[string]any {
	props := make(map[string]any)

	switch n.Kind {
	case NodeIdentifier:
		if a := n.Identifier; a != nil {
			props["root"] = a.Root
			props["extension"] = a.Extension
			props["assign_authority"] = a.AssignAuthority
		}
	case NodeCode:
		if a := n.Code; a != nil {
			props["code"] = a.Code
			props["code_system"] = a.CodeSystem
			props["code_system_name"] = a.CodeSystemName
			props["code_system_version"] = a.CodeSystemVersion
			props["display_name"] = a.DisplayName
		}
	case NodeName:
		if a := n.Name; a != nil {
			props["type_code"] = a.TypeCode
			props["family_name"] = a.FamilyName
			props["given_name"] = a.GivenName
			props["prefix"] = a.Prefix
			props["suffix"] = a.Suffix
			props["valid_start_date"] = optionalTime(a.ValidStartDate)
			props["valid_end_date"] = optionalTime(a.ValidEndDate)
		}
	case NodeAddress:
		if a := n.Address; a != nil {
			props["use"] = a.Use
			props["type"] = a.Type
			props["street_address_line"] = a.StreetAddressLine
			props["city"] = a.City
			props["state"] = a.State
			props["county"] = a.County
			props["country"] = a.Country
			props["postal_code"] = a.PostalCode
		}
	case NodeEncounter:
		if a := n.Encounter; a != nil {
			props["status_code"] = a.StatusCode
			props["encounter_start"] = formatTime(a.EncounterStart)
			props["encounter_end"] = formatTime(a.EncounterEnd)
		}
	case NodeGeneralEntity:
		if a := n.GeneralEntity; a != nil {
			props["class_code"] = a.ClassCode
		}
	case NodeDiagnosis:
		if a := n.Diagnosis; a != nil {
			props["negation_indicator"] = a.NegationIndicator
			props["status_code"] = a.StatusCode
			props["effective_start_datetime"] = formatTime(a.EffectiveStartDatetime)
			props["effective_end_datetime"] = formatTime(a.EffectiveEndDatetime)
		}
	case NodeContact:
		if a := n.Contact; a != nil {
			props["use"] = a.Use
			props["value"] = a.Value
		}
	case NodeBase:
		// No attributes.
	}

	return props
}

// formatTime renders a timestamp as RFC 3339, or nil for the zero time so the
// store receives SQL NULL rather than year one.
func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
