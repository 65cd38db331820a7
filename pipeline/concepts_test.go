package pipeline

import (
	"testing"

	"dqa360/dhis2"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConceptNameStripsTypePrefix(t *testing.T) {
	assert.Equal(t, "ANC 1st visit", conceptName("Register - ANC 1st visit"))
	assert.Equal(t, "ANC 1st visit", conceptName("Corrected - ANC 1st visit"))
	assert.Equal(t, "Plain name", conceptName("Plain name"))
	// only a leading prefix is stripped
	assert.Equal(t, "Visits Register - old", conceptName("Visits Register - old"))
}

func TestBuildConceptMappingGroupsAcrossTypes(t *testing.T) {
	gen := NewUIDGen("testRunUid1")
	elementsByType := make(map[DatasetType][]SynthesizedElement)
	datasetIDs := make(map[DatasetType]string)
	for _, dt := range AllDatasetTypes() {
		elementsByType[dt] = []SynthesizedElement{
			{DataElement: dhis2.DataElement{
				ID:        gen.UID(),
				Name:      dt.Prefix() + " - ANC 1st visit",
				ValueType: "INTEGER",
			}},
			{DataElement: dhis2.DataElement{
				ID:        gen.UID(),
				Name:      dt.Prefix() + " - ANC 4th visit",
				ValueType: "INTEGER",
			}},
		}
		datasetIDs[dt] = gen.UID()
	}

	mapping := buildConceptMapping("assessQ1x26", gen, elementsByType, datasetIDs)
	require.Len(t, mapping.Concepts, 2)

	first := mapping.Concepts[0]
	assert.Equal(t, "ANC 1st visit", first.Name)
	require.Len(t, first.Bindings, 4)
	for _, binding := range first.Bindings {
		require.Len(t, binding.Sources, 1)
		assert.Contains(t, binding.Sources[0].Expression, binding.Sources[0].DataElement)
	}

	assert.Empty(t, mapping.Validate(AllDatasetTypes()))
}

func TestConceptMappingValidateFlagsMissingBindings(t *testing.T) {
	gen := NewUIDGen("testRunUid1")
	elementsByType := map[DatasetType][]SynthesizedElement{
		Register: {{DataElement: dhis2.DataElement{
			ID:   gen.UID(),
			Name: "Register - ANC 1st visit",
		}}},
	}
	mapping := buildConceptMapping("assessQ1x26", gen, elementsByType,
		map[DatasetType]string{Register: "regDs000001", Summary: "sumDs000001"})

	problems := mapping.Validate([]DatasetType{Register, Summary})
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "summary")
}

func TestSourceExpression(t *testing.T) {
	assert.Equal(t, "#{deUid000001}", sourceExpression("deUid000001", ""))
	assert.Equal(t, "#{deUid000001.cocUid00001}", sourceExpression("deUid000001", "cocUid00001"))
}
