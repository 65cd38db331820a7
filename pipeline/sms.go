package pipeline

import (
	"context"
	"fmt"
	"time"

	"dqa360/dhis2"
)

// smsBuilder expands synthesized elements into SMS command codes. Category
// option combos are fetched with a hard per-combo timeout; when the fetch
// does not make it in time the builder falls back to placeholder codes so
// the command is still complete enough to preview and fix up later.
//
// The combo cache is owned by the builder, scoped to one run.
type smsBuilder struct {
	api              API
	timeout          time.Duration
	defaultSeparator string
	rec              *Recorder
	cocCache         map[string][]dhis2.CategoryOptionCombo
}

func newSmsBuilder(api API, timeout time.Duration, defaultSeparator string, rec *Recorder) *smsBuilder {
	return &smsBuilder{
		api:              api,
		timeout:          timeout,
		defaultSeparator: defaultSeparator,
		rec:              rec,
		cocCache:         make(map[string][]dhis2.CategoryOptionCombo),
	}
}

// optionCombos returns the category option combos of a combo, cached per
// run. A failed or timed out fetch caches nil; a fetch that came back with
// an empty list caches the empty slice. Both lead to placeholder codes.
func (b *smsBuilder) optionCombos(ctx context.Context, comboID string) []dhis2.CategoryOptionCombo {
	if cocs, found := b.cocCache[comboID]; found {
		return cocs
	}
	fetchCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	cocs, err := b.api.GetCategoryOptionCombos(fetchCtx, comboID)
	if err != nil {
		b.cocCache[comboID] = nil
		return nil
	}
	if cocs == nil {
		cocs = []dhis2.CategoryOptionCombo{}
	}
	b.cocCache[comboID] = cocs
	return cocs
}

// placeholderCount derives how many synthetic codes to emit when the real
// option combos are unavailable: the size of the option cross product when
// the hierarchy is known, two otherwise.
func placeholderCount(combo *dhis2.CategoryCombo) int {
	if combo == nil || len(combo.Categories) == 0 {
		return 2
	}
	count := 1
	for _, category := range combo.Categories {
		n := len(category.CategoryOptions)
		if n == 0 {
			n = 2
		}
		count *= n
	}
	return count
}

// expandCodes produces the SMS codes for one element. Default combo
// elements get exactly one code pointing at the default option combo;
// disaggregated elements get one code per option combo, the letter base
// suffixed with the 1 based position.
func (b *smsBuilder) expandCodes(ctx context.Context, t DatasetType, element SynthesizedElement) []dhis2.SmsCode {
	if element.ComboDefault {
		return []dhis2.SmsCode{{
			Code:                element.SmsCode,
			DataElement:         dhis2.Ref{ID: element.ID},
			CategoryOptionCombo: dhis2.Ref{ID: dhis2.DefaultCategoryOptionComboUID},
		}}
	}

	cocs := b.optionCombos(ctx, element.CategoryCombo.ID)
	if len(cocs) == 0 {
		count := placeholderCount(element.SourceCombo)
		b.rec.Warn(t.String(), "no option combos found for element %s, emitting %d placeholder codes",
			element.Name, count)
		codes := make([]dhis2.SmsCode, 0, count)
		for i := 0; i < count; i++ {
			codes = append(codes, dhis2.SmsCode{
				Code:                fmt.Sprintf("%s%d", element.SmsCode, i+1),
				DataElement:         dhis2.Ref{ID: element.ID},
				CategoryOptionCombo: dhis2.Ref{ID: dhis2.DefaultCategoryOptionComboUID},
			})
		}
		return codes
	}

	codes := make([]dhis2.SmsCode, 0, len(cocs))
	for i, coc := range cocs {
		codes = append(codes, dhis2.SmsCode{
			Code:                fmt.Sprintf("%s%d", element.SmsCode, i+1),
			DataElement:         dhis2.Ref{ID: element.ID},
			CategoryOptionCombo: dhis2.Ref{ID: coc.ID},
		})
	}
	return codes
}

// buildCommand assembles the full SMS command for one created dataset
func (b *smsBuilder) buildCommand(ctx context.Context, t DatasetType, cfg *AssessmentConfig,
	datasetID string, elements []SynthesizedElement) dhis2.SmsCommand {

	settings := cfg.SMS[t.String()]
	keyword := settings.Keyword
	if len(keyword) == 0 {
		keyword = fmt.Sprintf("DQA_%s_%s", t.CodePrefix(), cfg.AssessmentID)
	}
	separator := settings.Separator
	if len(separator) == 0 {
		separator = b.defaultSeparator
	}

	var codes []dhis2.SmsCode
	for _, element := range elements {
		codes = append(codes, b.expandCodes(ctx, t, element)...)
	}

	return dhis2.SmsCommand{
		Name:               keyword,
		ParserType:         "KEY_VALUE_PARSER",
		Separator:          separator,
		Dataset:            dhis2.Ref{ID: datasetID},
		SmsCodes:           codes,
		DefaultMessage:     "Command not recognised, check the keyword and try again",
		WrongFormatMessage: "Wrong format, use CODE" + separator + "VALUE pairs",
		NoUserMessage:      "Your phone number is not registered for this command",
		SuccessMessage:     fmt.Sprintf("%s data received, thank you", t.Prefix()),
	}
}
