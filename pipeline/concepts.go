package pipeline

import (
	"fmt"
	"strings"
)

// ConceptSource points one dataset type's binding at a concrete data
// element, optionally narrowed to an option combo. Expression is the
// DHIS2 indicator style reference for the pair.
type ConceptSource struct {
	DataElement         string `json:"dataElement"`
	CategoryOptionCombo string `json:"categoryOptionCombo,omitempty"`
	Expression          string `json:"expression"`
}

// ConceptBinding ties a concept to one dataset type
type ConceptBinding struct {
	DatasetType string          `json:"datasetType"`
	DatasetID   string          `json:"datasetId,omitempty"`
	Sources     []ConceptSource `json:"sources"`
}

// Concept is one logical quantity measured across the dataset types. The
// register, summary, reported and corrected variants of the same source
// element all bind to the same concept.
type Concept struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	ValueType string           `json:"valueType"`
	Bindings  []ConceptBinding `json:"bindings"`
}

// ConceptMapping groups the synthesized elements of all dataset types by
// their underlying quantity
type ConceptMapping struct {
	AssessmentID string    `json:"assessmentId"`
	Concepts     []Concept `json:"concepts"`
}

// conceptName strips the dataset type prefix off a synthesized element
// name, leaving the underlying quantity
func conceptName(name string) string {
	for _, t := range AllDatasetTypes() {
		prefix := t.Prefix() + " - "
		if strings.HasPrefix(name, prefix) {
			return strings.TrimPrefix(name, prefix)
		}
	}
	return name
}

func sourceExpression(dataElement, coc string) string {
	if len(coc) > 0 {
		return fmt.Sprintf("#{%s.%s}", dataElement, coc)
	}
	return fmt.Sprintf("#{%s}", dataElement)
}

// buildConceptMapping groups elements from all created datasets into
// concepts keyed by the prefix-stripped name, preserving first seen order
func buildConceptMapping(assessmentID string, uids *UIDGen,
	elementsByType map[DatasetType][]SynthesizedElement,
	datasetIDs map[DatasetType]string) *ConceptMapping {

	mapping := &ConceptMapping{AssessmentID: assessmentID}
	index := make(map[string]int)

	for _, t := range AllDatasetTypes() {
		for _, element := range elementsByType[t] {
			key := conceptName(element.Name)
			pos, ok := index[key]
			if !ok {
				pos = len(mapping.Concepts)
				index[key] = pos
				mapping.Concepts = append(mapping.Concepts, Concept{
					ID:        uids.UID(),
					Name:      key,
					ValueType: element.ValueType,
				})
			}
			concept := &mapping.Concepts[pos]
			concept.Bindings = append(concept.Bindings, ConceptBinding{
				DatasetType: t.String(),
				DatasetID:   datasetIDs[t],
				Sources: []ConceptSource{{
					DataElement: element.ID,
					Expression:  sourceExpression(element.ID, ""),
				}},
			})
		}
	}
	return mapping
}

// Validate reports concepts that lack a binding for one or more of the
// dataset types that actually produced a dataset
func (m *ConceptMapping) Validate(createdTypes []DatasetType) []string {
	var problems []string
	for _, concept := range m.Concepts {
		bound := make(map[string]bool, len(concept.Bindings))
		for _, binding := range concept.Bindings {
			bound[binding.DatasetType] = true
		}
		for _, t := range createdTypes {
			if !bound[t.String()] {
				problems = append(problems,
					fmt.Sprintf("concept %q has no %s binding", concept.Name, t))
			}
		}
	}
	return problems
}
