package schemas

// Relationship labels used by the extraction driver. The label is the name of
// the document field that links the two entities.
const (
	FieldCode           = "code"
	FieldTranslation    = "translation"
	FieldID             = "id"
	FieldPerformer      = "performer"
	FieldFunctionCode   = "functionCode"
	FieldAddr           = "addr"
	FieldTelecom        = "telecom"
	FieldAssignedPerson = "assignedPerson"
	FieldName           = "name"
	FieldDiagnosis      = "diagnosis"
	FieldValue          = "value"
)

// VertexInfo describes one directed, field-labeled relationship between two
// nodes.
//
// VertexID depends only on the ordered endpoint pair. Two relationships with
// different field names between the same ordered pair share a VertexID and the
// later one replaces the earlier in the graph.
type VertexInfo struct {
	VertexID        string         `json:"vertex_id"`
	SourceNode      string         `json:"source_node"`
	DestinationNode string         `json:"destination_node"`
	FieldName       string         `json:"field_name"`
	Meta            map[string]any `json:"meta,omitempty"`
}

// NewVertexInfo builds the relationship detail for source -> destination.
// Both nodes must already carry their canonical identity.
func NewVertexInfo(source, destination Node, fieldName string, meta map[string]any) VertexInfo {
	return VertexInfo{
		VertexID:        VertexID(source.CanonicalID, destination.CanonicalID),
		SourceNode:      source.CanonicalID,
		DestinationNode: destination.CanonicalID,
		FieldName:       fieldName,
		Meta:            meta,
	}
}

// VertexID derives the relationship identity from the ordered endpoint pair.
// VertexID(a, b) != VertexID(b, a).
func VertexID(sourceID, destinationID string) string {
	return sourceID + "_" + destinationID
}
