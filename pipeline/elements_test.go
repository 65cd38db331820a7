package pipeline

import (
	"context"
	"strings"
	"testing"

	"dqa360/dhis2"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeElementsDefaults(t *testing.T) {
	gen := NewUIDGen("testRunUid1")
	rec := NewRecorder()
	resolver := newCategoryResolver(newFakeAPI(), nil, true, gen, rec)

	sources := []dhis2.SourceDataElement{
		{ID: "srcElemId01", Name: "Malaria cases"},
		{ID: "srcElemId02", Name: "Malaria deaths", ValueType: "NUMBER", AggregationType: "AVERAGE"},
	}
	elements := synthesizeElements(context.Background(), Summary, sources, resolver, gen)
	require.Len(t, elements, 2)

	first := elements[0]
	assert.Equal(t, "Summary - Malaria cases", first.Name)
	assert.Equal(t, first.Name, first.FormName)
	assert.Equal(t, "INTEGER", first.ValueType)
	assert.Equal(t, "SUM", first.AggregationType)
	assert.Equal(t, "AGGREGATE", first.DomainType)
	assert.Equal(t, dhis2.DefaultCategoryComboUID, first.CategoryCombo.ID)
	assert.True(t, first.ComboDefault)
	assert.True(t, strings.HasPrefix(first.Code, "DQA_SUM_"))
	assert.Equal(t, "A", first.SmsCode)

	// explicit source values survive
	second := elements[1]
	assert.Equal(t, "NUMBER", second.ValueType)
	assert.Equal(t, "AVERAGE", second.AggregationType)
	assert.Equal(t, "B", second.SmsCode)

	assert.NotEqual(t, first.Code, second.Code)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestSynthesizeElementsTruncatesLongNames(t *testing.T) {
	gen := NewUIDGen("testRunUid1")
	resolver := newCategoryResolver(newFakeAPI(), nil, true, gen, NewRecorder())

	longName := strings.Repeat("x", 300)
	elements := synthesizeElements(context.Background(), Register,
		[]dhis2.SourceDataElement{{ID: "srcElemId01", Name: longName}}, resolver, gen)

	require.Len(t, elements, 1)
	assert.LessOrEqual(t, len(elements[0].Name), maxNameLength)
	assert.LessOrEqual(t, len(elements[0].ShortName), maxShortNameLength)
	assert.LessOrEqual(t, len(elements[0].FormName), maxNameLength)
	assert.LessOrEqual(t, len(elements[0].Code), maxCodeLength)
}

func TestDistinctCombos(t *testing.T) {
	shared := &dhis2.CategoryCombo{ID: "comboShared", Name: "Sex"}
	sources := []dhis2.SourceDataElement{
		{ID: "a", Name: "A"},
		{ID: "b", Name: "B", CategoryCombo: shared},
		{ID: "c", Name: "C", CategoryCombo: shared},
		{ID: "d", Name: "D", CategoryCombo: &dhis2.CategoryCombo{ID: "comboOther1", Name: "Age"}},
	}
	combos := distinctCombos(sources)
	require.Len(t, combos, 2)
	assert.Equal(t, "comboShared", combos[0].ID)
	assert.Equal(t, "comboOther1", combos[1].ID)

	assert.False(t, allCombosDefault(sources))
	assert.True(t, allCombosDefault(sources[:1]))
}
