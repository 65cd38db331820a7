package pipeline

import (
	"fmt"

	"dqa360/dhis2"
	"dqa360/utils"
)

// assembleDataset builds the dataset payload for one type. Sharing travels
// embedded in the payload and sort order is assigned from element position,
// 1 based. A client side id is only included when the caller supplied one
// that has the proper identifier shape - anything else is left for the
// server to assign.
func assembleDataset(t DatasetType, cfg *AssessmentConfig, elements []SynthesizedElement,
	orgUnits []dhis2.Ref, sharing *dhis2.Sharing, attributeID string, uids *UIDGen) dhis2.DataSet {

	dataset := dhis2.DataSet{
		Name:              utils.TruncateString(fmt.Sprintf("%s - %s", t.Prefix(), cfg.Name), maxNameLength),
		ShortName:         utils.TruncateString(fmt.Sprintf("%s %s", t.CodePrefix(), cfg.Name), maxShortNameLength),
		Code:              uids.Code(fmt.Sprintf("DQA_%s_DS_", t.CodePrefix()), maxCodeLength),
		Description:       fmt.Sprintf("DQA360 %s dataset for assessment %s", t.Prefix(), cfg.Name),
		PeriodType:        cfg.PeriodType,
		CategoryCombo:     &dhis2.Ref{ID: dhis2.DefaultCategoryComboUID},
		OrganisationUnits: orgUnits,
		Sharing:           sharing,
	}

	if requested, ok := cfg.DatasetIDs[t.String()]; ok && utils.ValidUIDPattern.MatchString(requested) {
		dataset.ID = requested
	}

	dataset.DataSetElements = make([]dhis2.DataSetElement, 0, len(elements))
	for i, element := range elements {
		dse := dhis2.DataSetElement{
			DataElement: dhis2.Ref{ID: element.ID},
			SortOrder:   i + 1,
		}
		if len(dataset.ID) > 0 {
			dse.DataSet = &dhis2.Ref{ID: dataset.ID}
		}
		dataset.DataSetElements = append(dataset.DataSetElements, dse)
	}

	if len(attributeID) > 0 {
		dataset.AttributeValues = []dhis2.AttributeValue{{
			Attribute: dhis2.Ref{ID: attributeID},
			Value:     fmt.Sprintf("%s_%s", cfg.AssessmentID, t),
		}}
	}
	return dataset
}
