package pipeline

import (
	"testing"

	"dqa360/dhis2"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggestTargetPrefersNameThenCodeThenID(t *testing.T) {
	local := []dhis2.OrgUnit{
		{ID: "localOu0001", Name: "Kawempe HC III", Code: "KWP"},
		{ID: "localOu0002", Name: "Kisenyi HC IV", Code: "KSY"},
		{ID: "sharedOu003", Name: "Mulago NRH", Code: "MLG"},
	}

	// name match wins even when a code match exists elsewhere
	got := SuggestTarget(dhis2.OrgUnit{ID: "x", Name: "kawempe hc iii", Code: "KSY"}, local)
	assert.Equal(t, "localOu0001", got)

	// falls through to code
	got = SuggestTarget(dhis2.OrgUnit{ID: "x", Name: "Unknown", Code: "KSY"}, local)
	assert.Equal(t, "localOu0002", got)

	// falls through to id
	got = SuggestTarget(dhis2.OrgUnit{ID: "sharedOu003", Name: "Unknown", Code: "NONE"}, local)
	assert.Equal(t, "sharedOu003", got)

	// no match at all
	got = SuggestTarget(dhis2.OrgUnit{ID: "y", Name: "Nowhere"}, local)
	assert.Empty(t, got)
}

func TestValidateMappingRejectsDuplicateTargets(t *testing.T) {
	rows := []OrgUnitMappingRow{
		{Source: dhis2.OrgUnit{ID: "srcOu00001", Name: "Facility A"}, Target: "localOu0001"},
		{Source: dhis2.OrgUnit{ID: "srcOu00002", Name: "Facility B"}, Target: "localOu0001"},
	}
	err := ValidateMapping(rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "same target")
}

func TestValidateMappingRejectsEmptyTarget(t *testing.T) {
	rows := []OrgUnitMappingRow{
		{Source: dhis2.OrgUnit{ID: "srcOu00001", Name: "Facility A"}, Target: ""},
	}
	require.Error(t, ValidateMapping(rows))
}

func TestMappedOrgUnitsIdentityWhenLocal(t *testing.T) {
	cfg := &AssessmentConfig{
		SourceIsLocal: true,
		OrgUnits: []dhis2.OrgUnit{
			{ID: "orgUnitAb01"}, {ID: "orgUnitAb02"},
		},
	}
	refs, err := mappedOrgUnits(cfg)
	require.NoError(t, err)
	assert.Equal(t, []dhis2.Ref{{ID: "orgUnitAb01"}, {ID: "orgUnitAb02"}}, refs)
}

func TestMappedOrgUnitsAppliesMapping(t *testing.T) {
	cfg := &AssessmentConfig{
		SourceIsLocal: false,
		OrgUnits: []dhis2.OrgUnit{
			{ID: "srcOu00001", Name: "Facility A"},
			{ID: "srcOu00002", Name: "Facility B"},
		},
		OrgUnitMapping: []OrgUnitMappingRow{
			{Source: dhis2.OrgUnit{ID: "srcOu00001"}, Target: "localOu0001"},
			{Source: dhis2.OrgUnit{ID: "srcOu00002"}, Target: "localOu0002"},
		},
	}
	refs, err := mappedOrgUnits(cfg)
	require.NoError(t, err)
	assert.Equal(t, []dhis2.Ref{{ID: "localOu0001"}, {ID: "localOu0002"}}, refs)
}

func TestMappedOrgUnitsExternalWithoutMappingFails(t *testing.T) {
	cfg := &AssessmentConfig{
		SourceIsLocal: false,
		OrgUnits: []dhis2.OrgUnit{
			{ID: "srcOu00001", Name: "Facility A"},
		},
	}
	_, err := mappedOrgUnits(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapping is required")
}

func TestMappedOrgUnitsMissingRowFails(t *testing.T) {
	cfg := &AssessmentConfig{
		SourceIsLocal: false,
		OrgUnits: []dhis2.OrgUnit{
			{ID: "srcOu00001", Name: "Facility A"},
			{ID: "srcOu00002", Name: "Facility B"},
		},
		OrgUnitMapping: []OrgUnitMappingRow{
			{Source: dhis2.OrgUnit{ID: "srcOu00001"}, Target: "localOu0001"},
		},
	}
	_, err := mappedOrgUnits(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing from the mapping")
}
