package pipeline

import (
	"strings"

	"dqa360/dhis2"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// SuggestTarget proposes a local org unit for a source one by matching
// name, then code, then id. The suggestion is advisory only - it is shown
// to the user and never applied without an explicit pick.
func SuggestTarget(source dhis2.OrgUnit, local []dhis2.OrgUnit) string {
	if match, ok := lo.Find(local, func(ou dhis2.OrgUnit) bool {
		return strings.EqualFold(ou.Name, source.Name)
	}); ok {
		return match.ID
	}
	if len(source.Code) > 0 {
		if match, ok := lo.Find(local, func(ou dhis2.OrgUnit) bool {
			return ou.Code == source.Code
		}); ok {
			return match.ID
		}
	}
	if match, ok := lo.Find(local, func(ou dhis2.OrgUnit) bool {
		return ou.ID == source.ID
	}); ok {
		return match.ID
	}
	return ""
}

// ValidateMapping checks the user supplied mapping rows. Every source
// must have a target, and no two sources may share one.
func ValidateMapping(rows []OrgUnitMappingRow) error {
	targets := make(map[string]string)
	for _, row := range rows {
		if len(row.Target) == 0 {
			return errors.Errorf("org unit %s (%s) has no mapping target", row.Source.Name, row.Source.ID)
		}
		if prior, ok := targets[row.Target]; ok {
			return errors.Errorf("org units %s and %s map to the same target %s",
				prior, row.Source.Name, row.Target)
		}
		targets[row.Target] = row.Source.Name
	}
	return nil
}

// mappedOrgUnits resolves the dataset's org unit references. When the
// metadata source is the local instance the selection maps to itself;
// an external source must provide a mapping row for every selected unit.
func mappedOrgUnits(cfg *AssessmentConfig) ([]dhis2.Ref, error) {
	if cfg.SourceIsLocal {
		return lo.Map(cfg.OrgUnits, func(ou dhis2.OrgUnit, _ int) dhis2.Ref {
			return dhis2.Ref{ID: ou.ID}
		}), nil
	}
	if len(cfg.OrgUnitMapping) == 0 {
		return nil, errors.New("org unit mapping is required when the metadata source is external")
	}

	if err := ValidateMapping(cfg.OrgUnitMapping); err != nil {
		return nil, err
	}
	byID := lo.SliceToMap(cfg.OrgUnitMapping, func(row OrgUnitMappingRow) (string, string) {
		return row.Source.ID, row.Target
	})

	refs := make([]dhis2.Ref, 0, len(cfg.OrgUnits))
	for _, ou := range cfg.OrgUnits {
		target, ok := byID[ou.ID]
		if !ok {
			return nil, errors.Errorf("selected org unit %s (%s) is missing from the mapping", ou.Name, ou.ID)
		}
		refs = append(refs, dhis2.Ref{ID: target})
	}
	return refs, nil
}
