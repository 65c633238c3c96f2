// Package mapper walks a C-CDA document and assembles its node graph.
package mapper

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/ccdagraph/api/schemas"
	"github.com/xkilldash9x/ccdagraph/internal/identity"
	"github.com/xkilldash9x/ccdagraph/internal/knowledgegraph"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Section template ids (C-CDA R2.1). Entries-optional and entries-required
// variants are both accepted.
var (
	EncountersTemplates = []string{"2.16.840.1.113883.10.20.22.2.22", "2.16.840.1.113883.10.20.22.2.22.1"}
	ProblemsTemplates   = []string{"2.16.840.1.113883.10.20.22.2.5", "2.16.840.1.113883.10.20.22.2.5.1"}
)

// ClassAssigned is the class code of performer entities.
const ClassAssigned = "ASSIGNED"

// ErrMissingSection is returned when a required document section is absent.
var ErrMissingSection = errors.New("required section not found")

// Mapper drives a NodeExtractor over one document. It holds no per-document
// state, but the extractor it wraps is bound to one document's provenance, so
// in practice a Mapper is created per document.
type Mapper struct {
	extractor schemas.NodeExtractor
	ids       *identity.Scheme
	log       *zap.Logger
}

// New creates a Mapper.
func New(extractor schemas.NodeExtractor, ids *identity.Scheme, logger *zap.Logger) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ids == nil {
		ids = identity.NewScheme("")
	}
	return &Mapper{
		extractor: extractor,
		ids:       ids,
		log:       logger.Named("Mapper"),
	}
}

// MapDocument builds the graph for the document rooted at root.
//
// The encounters section is required; without it no partial graph is
// returned. The problems section is optional. The two sections are extracted
// concurrently into separate graphs and merged afterwards in document order
// (header, encounters, problems), which yields the same graph as walking them
// one after the other.
func (m *Mapper) MapDocument(ctx context.Context, root schemas.Element) (*knowledgegraph.NodeGraph, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: document root", ErrMissingSection)
	}

	encounters, ok := findSection(root, EncountersTemplates)
	if !ok {
		return nil, fmt.Errorf("%w: encounters (templateId %s)", ErrMissingSection, EncountersTemplates[0])
	}
	problems, hasProblems := findSection(root, ProblemsTemplates)

	graph := knowledgegraph.New(m.log)
	if docID := m.extractor.BuildIdentifierNode(findOne(root, "./v3:id")); docID != nil {
		if err := graph.AddNode(*docID); err != nil {
			return nil, fmt.Errorf("failed to add document id: %w", err)
		}
	}

	encounterGraph := knowledgegraph.New(m.log)
	problemGraph := knowledgegraph.New(m.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.mapEncounters(gctx, encounters, encounterGraph)
	})
	if hasProblems {
		g.Go(func() error {
			return m.mapProblems(gctx, problems, problemGraph)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	graph.Merge(encounterGraph)
	graph.Merge(problemGraph)

	m.log.Info("Document mapped",
		zap.Int("doc_id", m.extractor.Provenance().DocID),
		zap.Int("nodes", graph.NodeCount()),
		zap.Int("relationships", len(graph.VertexInfos())),
		zap.Bool("problems_section", hasProblems))
	return graph, nil
}

// -- Encounters --

func (m *Mapper) mapEncounters(ctx context.Context, section schemas.Element, graph *knowledgegraph.NodeGraph) error {
	for i, entry := range section.FindAll("./v3:entry") {
		if err := ctx.Err(); err != nil {
			return err
		}
		encounter, ok := entry.Find("./v3:encounter")
		if !ok {
			m.log.Debug("Skipping encounters entry without encounter", zap.Int("entry", i))
			continue
		}
		if err := m.mapEncounter(encounter, graph); err != nil {
			return fmt.Errorf("encounter entry %d: %w", i, err)
		}
	}
	return nil
}

func (m *Mapper) mapEncounter(encounter schemas.Element, graph *knowledgegraph.NodeGraph) error {
	attrs := schemas.EncounterAttrs{
		StatusCode: attrOf(findOne(encounter, "./v3:statusCode"), "code"),
	}
	if et := m.extractor.BuildEffectiveTime(findOne(encounter, "./v3:effectiveTime")); et != nil {
		attrs.EncounterStart, attrs.EncounterEnd = et.Start, et.End
	}
	node := schemas.NewEncounterNode(m.extractor.Provenance(), m.ids.Encounter(), attrs)
	if err := graph.AddNode(node); err != nil {
		return err
	}

	if err := m.linkCode(graph, node, findOne(encounter, "./v3:code"), schemas.FieldCode); err != nil {
		return err
	}
	if err := m.linkIdentifiers(graph, node, encounter); err != nil {
		return err
	}

	for _, performer := range encounter.FindAll("./v3:performer") {
		if err := m.mapPerformer(graph, node, performer); err != nil {
			return err
		}
	}

	for _, obs := range encounter.FindAll("./v3:entryRelationship/v3:act/v3:entryRelationship/v3:observation") {
		diagnosis, err := m.mapDiagnosis(graph, obs)
		if err != nil {
			return err
		}
		if err := graph.AddVertex(node, diagnosis, schemas.FieldDiagnosis); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mapper) mapPerformer(graph *knowledgegraph.NodeGraph, encounter schemas.Node, performer schemas.Element) error {
	entity := schemas.NewGeneralEntityNode(m.extractor.Provenance(), m.ids.Synthetic(),
		schemas.GeneralEntityAttrs{ClassCode: ClassAssigned})
	if err := graph.AddVertex(encounter, entity, schemas.FieldPerformer); err != nil {
		return err
	}

	if err := m.linkCode(graph, entity, findOne(performer, "./v3:functionCode"), schemas.FieldFunctionCode); err != nil {
		return err
	}

	assigned, ok := performer.Find("./v3:assignedEntity")
	if !ok {
		return nil
	}
	if err := m.linkIdentifiers(graph, entity, assigned); err != nil {
		return err
	}
	if err := m.linkCode(graph, entity, findOne(assigned, "./v3:code"), schemas.FieldCode); err != nil {
		return err
	}
	for _, addr := range assigned.FindAll("./v3:addr") {
		if n := m.extractor.BuildAddressNode(addr); n != nil {
			if err := graph.AddVertex(entity, *n, schemas.FieldAddr); err != nil {
				return err
			}
		}
	}
	for _, tel := range assigned.FindAll("./v3:telecom") {
		if n := m.extractor.BuildContactNode(tel); n != nil {
			if err := graph.AddVertex(entity, *n, schemas.FieldTelecom); err != nil {
				return err
			}
		}
	}

	person, ok := assigned.Find("./v3:assignedPerson")
	if !ok {
		return nil
	}
	anchor := schemas.NewBaseNode(m.extractor.Provenance(), m.ids.Synthetic())
	if err := graph.AddVertex(entity, anchor, schemas.FieldAssignedPerson); err != nil {
		return err
	}
	for _, name := range person.FindAll("./v3:name") {
		if n := m.extractor.BuildNameNode(name); n != nil {
			if err := graph.AddVertex(anchor, *n, schemas.FieldName); err != nil {
				return err
			}
		}
	}
	return nil
}

// -- Problems --

func (m *Mapper) mapProblems(ctx context.Context, section schemas.Element, graph *knowledgegraph.NodeGraph) error {
	for i, act := range section.FindAll("./v3:entry/v3:act") {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, obs := range act.FindAll("./v3:entryRelationship/v3:observation") {
			if _, err := m.mapDiagnosis(graph, obs); err != nil {
				return fmt.Errorf("problem entry %d: %w", i, err)
			}
		}
	}
	return nil
}

// mapDiagnosis adds a Diagnosis node for a problem observation together with
// its coded value and identifiers, and returns it for the caller to link.
func (m *Mapper) mapDiagnosis(graph *knowledgegraph.NodeGraph, obs schemas.Element) (schemas.Node, error) {
	attrs := schemas.DiagnosisAttrs{
		NegationIndicator: obs.Attr("negationInd", "false") == "true",
		StatusCode:        attrOf(findOne(obs, "./v3:statusCode"), "code"),
	}
	if et := m.extractor.BuildEffectiveTime(findOne(obs, "./v3:effectiveTime")); et != nil {
		attrs.EffectiveStartDatetime, attrs.EffectiveEndDatetime = et.Start, et.End
	}
	node := schemas.NewDiagnosisNode(m.extractor.Provenance(), m.ids.Diagnosis(), attrs)
	if err := graph.AddNode(node); err != nil {
		return schemas.Node{}, err
	}
	if err := m.linkCode(graph, node, findOne(obs, "./v3:value"), schemas.FieldValue); err != nil {
		return schemas.Node{}, err
	}
	if err := m.linkIdentifiers(graph, node, obs); err != nil {
		return schemas.Node{}, err
	}
	return node, nil
}

// -- Shared linking helpers --

// linkCode links owner to the code built from el under field, and the code to
// each of its translations. A nil el is a no-op.
func (m *Mapper) linkCode(graph *knowledgegraph.NodeGraph, owner schemas.Node, el schemas.Element, field string) error {
	code := m.extractor.BuildCodeNode(el)
	if code == nil {
		return nil
	}
	if err := graph.AddNode(*code); err != nil {
		return err
	}
	for _, tr := range el.FindAll("./v3:translation") {
		if translation := m.extractor.BuildTranslationCodeNode(tr); translation != nil {
			if err := graph.AddVertex(*code, *translation, schemas.FieldTranslation); err != nil {
				return err
			}
		}
	}
	return graph.AddVertex(owner, *code, field)
}

func (m *Mapper) linkIdentifiers(graph *knowledgegraph.NodeGraph, owner schemas.Node, el schemas.Element) error {
	for _, idEl := range el.FindAll("./v3:id") {
		if id := m.extractor.BuildIdentifierNode(idEl); id != nil {
			if err := graph.AddVertex(owner, *id, schemas.FieldID); err != nil {
				return err
			}
		}
	}
	return nil
}

// findSection returns the structured body section carrying one of templates.
func findSection(root schemas.Element, templates []string) (schemas.Element, bool) {
	for _, component := range root.FindAll("./v3:component/v3:structuredBody/v3:component") {
		section, ok := component.Find("./v3:section")
		if !ok {
			continue
		}
		for _, tmpl := range section.FindAll("./v3:templateId") {
			id := tmpl.Attr("root", "")
			for _, want := range templates {
				if id == want {
					return section, true
				}
			}
		}
	}
	return nil, false
}

// findOne returns the match for path or a nil Element.
func findOne(el schemas.Element, path string) schemas.Element {
	if found, ok := el.Find(path); ok {
		return found
	}
	return nil
}

func attrOf(el schemas.Element, name string) string {
	if el == nil {
		return ""
	}
	return el.Attr(name, "")
}
