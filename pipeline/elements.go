package pipeline

import (
	"context"
	"fmt"

	"dqa360/dhis2"
	"dqa360/utils"
)

const (
	maxNameLength      = 230
	maxShortNameLength = 50
	maxCodeLength      = 50
)

// SynthesizedElement is one data element derived from a source element for
// a particular dataset type, ready for submission
type SynthesizedElement struct {
	dhis2.DataElement
	SourceID     string
	SmsCode      string
	ComboDefault bool
	SourceCombo  *dhis2.CategoryCombo
}

// smsLetterCode converts a 0-based position to the spreadsheet style
// letter sequence A..Z, AA, AB, ...
func smsLetterCode(i int) string {
	code := ""
	for {
		code = string(rune('A'+i%26)) + code
		i = i/26 - 1
		if i < 0 {
			return code
		}
	}
}

// synthesizeElements derives the per-type data elements from the source
// selection. Names carry the dataset type prefix, codes are unique within
// the run, and each element gets a positional SMS letter code so command
// building later never has to re-derive ordering.
func synthesizeElements(ctx context.Context, t DatasetType, sources []dhis2.SourceDataElement,
	resolver *categoryResolver, uids *UIDGen) []SynthesizedElement {

	elements := make([]SynthesizedElement, 0, len(sources))
	for i, src := range sources {
		comboID, fellBack := resolver.Resolve(ctx, src.CategoryCombo)

		name := utils.TruncateString(fmt.Sprintf("%s - %s", t.Prefix(), src.Name), maxNameLength)
		shortName := utils.TruncateString(fmt.Sprintf("%s %s", t.CodePrefix(), src.Name), maxShortNameLength)

		element := SynthesizedElement{
			DataElement: dhis2.DataElement{
				ID:              uids.UID(),
				Name:            name,
				ShortName:       shortName,
				FormName:        name,
				Code:            uids.Code(fmt.Sprintf("DQA_%s_", t.CodePrefix()), maxCodeLength),
				ValueType:       firstNonEmpty(src.ValueType, "INTEGER"),
				AggregationType: firstNonEmpty(src.AggregationType, "SUM"),
				DomainType:      firstNonEmpty(src.DomainType, "AGGREGATE"),
				CategoryCombo:   &dhis2.Ref{ID: comboID},
			},
			SourceID:     src.ID,
			SmsCode:      smsLetterCode(i),
			ComboDefault: comboID == dhis2.DefaultCategoryComboUID,
			SourceCombo:  src.CategoryCombo,
		}
		if fellBack {
			element.SourceCombo = nil
		}
		elements = append(elements, element)
	}
	return elements
}

// allCombosDefault reports whether every source element sits on the
// default combo, in which case the category steps have nothing to do
func allCombosDefault(sources []dhis2.SourceDataElement) bool {
	for _, src := range sources {
		if !src.CategoryCombo.IsDefault() {
			return false
		}
	}
	return true
}

// distinctCombos returns the non-default combos referenced by the source
// selection, first occurrence order, deduplicated by id
func distinctCombos(sources []dhis2.SourceDataElement) []*dhis2.CategoryCombo {
	seen := make(map[string]bool)
	var combos []*dhis2.CategoryCombo
	for _, src := range sources {
		cc := src.CategoryCombo
		if cc.IsDefault() || seen[cc.ID] {
			continue
		}
		seen[cc.ID] = true
		combos = append(combos, cc)
	}
	return combos
}
