package pipeline

import (
	"context"
	"fmt"
	"time"

	"dqa360/dhis2"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Runner drives one "Create DQA Datasets" run: four dataset types, each
// through the same nine steps, strictly in sequence. A failure in one
// type aborts that type only; the remaining types still run. SMS commands
// are deferred until every dataset exists, and the creation report is the
// last thing written.
type Runner struct {
	Local  API
	Source API // nil when the metadata source is the local instance
	Cfg    *AssessmentConfig
	UIDs   *UIDGen
	Rec    *Recorder
	Obs    Observer

	COCFetchTimeout      time.Duration
	DataStoreNamespace   string
	DatasetAttributeCode string
	DefaultSMSSeparator  string

	resolver    *categoryResolver
	attributeID string
	ouChecked   map[string]bool
}

// errTypeAborted signals that the current dataset type cannot continue;
// the runner moves on to the next type
var errTypeAborted = errors.New("dataset type aborted")

// Run executes the full pipeline. The returned bool reports whether the
// creation report reached the dataStore. Cancellation via ctx is
// cooperative: the pipeline stops at the next step or type boundary and
// everything already created stays in place.
func (r *Runner) Run(ctx context.Context) (*CreationReport, bool, error) {
	if r.Obs == nil {
		r.Obs = NopObserver{}
	}
	if r.Rec == nil {
		r.Rec = NewRecorder()
	}
	r.resolver = newCategoryResolver(r.Local, r.Source, r.Cfg.SourceIsLocal, r.UIDs, r.Rec)
	r.ouChecked = make(map[string]bool)

	report := r.newReport()
	r.ensureAttribute(ctx)
	sharing := r.resolveSharing(ctx)

	orgUnits, ouErr := mappedOrgUnits(r.Cfg)
	if ouErr != nil {
		r.Rec.Error("", "org unit mapping invalid: %v", ouErr)
	}

	elementsByType := make(map[DatasetType][]SynthesizedElement)
	datasetIDs := make(map[DatasetType]string)

	for _, t := range AllDatasetTypes() {
		if ctx.Err() != nil {
			r.markCanceled(report, t)
			continue
		}
		elements, err := r.runType(ctx, t, report, sharing, orgUnits, ouErr)
		if err != nil {
			ds := report.dataset(t)
			if !errors.Is(err, errTypeAborted) {
				ds.Errors = append(ds.Errors, err.Error())
			}
			r.Rec.Error(t.String(), "%s dataset aborted", t.Prefix())
			continue
		}
		elementsByType[t] = elements
		datasetIDs[t] = report.dataset(t).DatasetID
	}

	// SMS commands only once every dataset that could be created exists,
	// so partial runs never leave commands pointing at missing datasets
	if ctx.Err() == nil {
		r.createSmsCommands(ctx, report, elementsByType, datasetIDs)
	}

	report.Concepts = buildConceptMapping(r.Cfg.AssessmentID, r.UIDs, elementsByType, datasetIDs)
	var createdTypes []DatasetType
	for t, id := range datasetIDs {
		if len(id) > 0 {
			createdTypes = append(createdTypes, t)
		}
	}
	for _, problem := range report.Concepts.Validate(createdTypes) {
		r.Rec.Warn("", "%s", problem)
	}

	r.finishReport(report, datasetIDs)
	saved := r.saveReport(ctx, report)
	return report, saved, nil
}

func (r *Runner) newReport() *CreationReport {
	report := &CreationReport{
		AssessmentID: r.Cfg.AssessmentID,
		StartedAt:    time.Now(),
	}
	for _, t := range AllDatasetTypes() {
		ds := DatasetReport{Type: t.String(), Steps: make(map[string]StepRecord)}
		for _, s := range AllSteps() {
			ds.Steps[s.String()] = StepRecord{Status: StepPending}
		}
		report.Datasets = append(report.Datasets, ds)
	}
	return report
}

func (r *Runner) finishReport(report *CreationReport, datasetIDs map[DatasetType]string) {
	report.FinishedAt = time.Now()
	report.Events = r.Rec.Events()
	summary := ReportSummary{Total: len(AllDatasetTypes()), Warnings: r.Rec.Warnings()}
	for _, t := range AllDatasetTypes() {
		if len(datasetIDs[t]) > 0 {
			summary.Created++
		} else {
			summary.Failed++
		}
	}
	report.Summary = summary
}

func (r *Runner) setStep(report *CreationReport, t DatasetType, s Step, status StepStatus, details string) {
	report.dataset(t).Steps[s.String()] = StepRecord{Status: status, Details: details}
	r.Obs.StepChanged(int(t), s, status, details)
	log.WithFields(log.Fields{
		"Dataset": t.String(), "Step": s.String(), "Status": status}).Info(details)
}

// markCanceled marks all still pending steps of a type as skipped
func (r *Runner) markCanceled(report *CreationReport, t DatasetType) {
	for _, s := range AllSteps() {
		if report.dataset(t).Steps[s.String()].Status == StepPending {
			r.setStep(report, t, s, StepSkipped, "run canceled")
		}
	}
	r.Rec.Warn(t.String(), "run canceled before %s dataset completed", t.Prefix())
}

// skipRest marks the remaining steps of an aborted type
func (r *Runner) skipRest(report *CreationReport, t DatasetType, after Step) {
	for _, s := range AllSteps() {
		if s > after && report.dataset(t).Steps[s.String()].Status == StepPending {
			r.setStep(report, t, s, StepSkipped, "aborted")
		}
	}
}

// ensureAttribute makes sure the dataset marker attribute exists. Failure
// only warns - datasets are still created, just without the marker.
func (r *Runner) ensureAttribute(ctx context.Context) {
	attr := dhis2.Attribute{
		Name:             "DQA360 Dataset",
		Code:             r.DatasetAttributeCode,
		ValueType:        "TEXT",
		DataSetAttribute: true,
	}
	id, err := r.Local.EnsureAttribute(ctx, attr)
	if err != nil {
		r.Rec.Warn("", "marker attribute %s unavailable: %v", r.DatasetAttributeCode, err)
		return
	}
	r.attributeID = id
}

// resolveSharing builds the embedded sharing block, resolving user group
// names to ids. Groups that cannot be resolved are left out with a warning.
func (r *Runner) resolveSharing(ctx context.Context) *dhis2.Sharing {
	public := r.Cfg.PublicAccess
	if len(public) == 0 {
		public = "rwrw----"
	}
	sharing := &dhis2.Sharing{Public: public}
	for _, name := range r.Cfg.UserGroups {
		id, err := r.Local.GetUserGroupIDByName(ctx, name)
		if err != nil || len(id) == 0 {
			r.Rec.Warn("", "user group %q not found, skipping from sharing", name)
			continue
		}
		if sharing.UserGroups == nil {
			sharing.UserGroups = make(map[string]dhis2.UserGroupAccess)
		}
		sharing.UserGroups[id] = dhis2.UserGroupAccess{ID: id, Access: "rwrw----"}
	}
	return sharing
}

func (r *Runner) runType(ctx context.Context, t DatasetType, report *CreationReport,
	sharing *dhis2.Sharing, orgUnits []dhis2.Ref, ouErr error) ([]SynthesizedElement, error) {

	ds := report.dataset(t)

	if err := r.categorySteps(ctx, t, report); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		r.markCanceled(report, t)
		return nil, errTypeAborted
	}

	elements, err := r.createElements(ctx, t, report)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		r.markCanceled(report, t)
		return nil, errTypeAborted
	}

	validUnits, err := r.validateOrgUnits(ctx, t, report, orgUnits, ouErr)
	if err != nil {
		return nil, err
	}

	r.setStep(report, t, StepConfigureSharing, StepSkipped, "sharing embedded in dataset payload")

	r.setStep(report, t, StepCreateDatasetPayload, StepRunning, "")
	dataset := assembleDataset(t, r.Cfg, elements, validUnits, sharing, r.attributeID, r.UIDs)
	r.setStep(report, t, StepCreateDatasetPayload, StepCompleted,
		fmt.Sprintf("%d elements, %d org units", len(dataset.DataSetElements), len(dataset.OrganisationUnits)))

	if ctx.Err() != nil {
		r.markCanceled(report, t)
		return nil, errTypeAborted
	}
	datasetID, err := r.createDataset(ctx, t, report, dataset)
	if err != nil {
		return nil, err
	}

	ds.DatasetID = datasetID
	ds.DatasetName = dataset.Name
	ds.DatasetCode = dataset.Code
	r.setStep(report, t, StepFinalizeConfiguration, StepCompleted,
		fmt.Sprintf("dataset %s ready", datasetID))
	r.Rec.Info(t.String(), "%s dataset %s created with %d elements", t.Prefix(), datasetID, ds.ElementsCreated)
	return elements, nil
}

// categorySteps runs the three category validation steps. When the whole
// selection sits on the default combo there is nothing to validate and
// all three are skipped.
func (r *Runner) categorySteps(ctx context.Context, t DatasetType, report *CreationReport) error {
	if allCombosDefault(r.Cfg.DataElements) {
		for _, s := range []Step{StepValidateCategoryOptions, StepValidateCategories, StepValidateCategoryCombinations} {
			r.setStep(report, t, s, StepSkipped, "all elements use the default combo")
		}
		return nil
	}

	combos := distinctCombos(r.Cfg.DataElements)
	r.resolver.dataset = t.String()

	r.setStep(report, t, StepValidateCategoryOptions, StepRunning, "")
	options, categories, missing := 0, 0, 0
	for _, combo := range combos {
		full, err := r.resolver.Prefetch(ctx, combo)
		if err != nil {
			missing++
			r.Rec.Warn(t.String(), "combo %s hierarchy unavailable: %v", combo.ID, err)
			continue
		}
		for _, category := range full.Categories {
			categories++
			options += len(category.CategoryOptions)
		}
	}
	optStatus := StepCompleted
	if missing > 0 {
		optStatus = StepWarning
	}
	r.setStep(report, t, StepValidateCategoryOptions, optStatus,
		fmt.Sprintf("%d options across %d combos", options, len(combos)))
	r.setStep(report, t, StepValidateCategories, optStatus,
		fmt.Sprintf("%d categories", categories))

	r.setStep(report, t, StepValidateCategoryCombinations, StepRunning, "")
	fallbacks := 0
	for _, combo := range combos {
		if _, fellBack := r.resolver.Resolve(ctx, combo); fellBack {
			fallbacks++
		}
	}
	if fallbacks > 0 {
		r.setStep(report, t, StepValidateCategoryCombinations, StepWarning,
			fmt.Sprintf("%d of %d combos fell back to the default combo", fallbacks, len(combos)))
		report.dataset(t).Warnings = append(report.dataset(t).Warnings,
			fmt.Sprintf("%d combos replaced by the default combo", fallbacks))
	} else {
		r.setStep(report, t, StepValidateCategoryCombinations, StepCompleted,
			fmt.Sprintf("%d combos resolved", len(combos)))
	}
	return nil
}

// createElements submits the synthesized elements one at a time so a
// single rejection never takes the whole batch down. Conflicts resolve
// through the existing-id ladder: import report id, then code lookup,
// then name lookup.
func (r *Runner) createElements(ctx context.Context, t DatasetType, report *CreationReport) ([]SynthesizedElement, error) {
	ds := report.dataset(t)
	r.setStep(report, t, StepCreateDataElements, StepRunning, "")

	elements := synthesizeElements(ctx, t, r.Cfg.DataElements, r.resolver, r.UIDs)
	kept := elements[:0]
	for i := range elements {
		if ctx.Err() != nil {
			break
		}
		element := &elements[i]
		id, err := r.submitElement(ctx, element)
		if err != nil {
			ds.ElementsFailed++
			ds.Errors = append(ds.Errors, fmt.Sprintf("element %q: %v", element.Name, err))
			r.Rec.Error(t.String(), "failed to create element %q: %v", element.Name, err)
			continue
		}
		element.ID = id
		ds.ElementsCreated++
		ds.CreatedElementIDs = append(ds.CreatedElementIDs, id)
		kept = append(kept, *element)
		r.Obs.ItemProgress(int(t), StepCreateDataElements, len(kept), len(elements), element.Name)
	}

	switch {
	case ds.ElementsCreated == 0:
		r.setStep(report, t, StepCreateDataElements, StepFailed,
			fmt.Sprintf("all %d elements failed", len(elements)))
		r.skipRest(report, t, StepCreateDataElements)
		return nil, errTypeAborted
	case ds.ElementsFailed > 0:
		r.setStep(report, t, StepCreateDataElements, StepPartial,
			fmt.Sprintf("%d created, %d failed", ds.ElementsCreated, ds.ElementsFailed))
	default:
		r.setStep(report, t, StepCreateDataElements, StepCompleted,
			fmt.Sprintf("%d elements created", ds.ElementsCreated))
	}
	return kept, nil
}

func (r *Runner) submitElement(ctx context.Context, element *SynthesizedElement) (string, error) {
	id, err := r.Local.CreateObject(ctx, "dataElements", element.DataElement)
	if err == nil {
		return id, nil
	}
	conflict := &dhis2.ConflictError{}
	if !errors.As(err, &conflict) {
		return "", err
	}
	if len(conflict.ExistingID) > 0 {
		return conflict.ExistingID, nil
	}
	if existing, lookupErr := r.Local.FindIDByCode(ctx, "dataElements", element.Code); lookupErr == nil && len(existing) > 0 {
		return existing, nil
	}
	if existing, lookupErr := r.Local.FindIDByName(ctx, "dataElements", element.Name); lookupErr == nil && len(existing) > 0 {
		return existing, nil
	}
	return "", err
}

func (r *Runner) validateOrgUnits(ctx context.Context, t DatasetType, report *CreationReport,
	orgUnits []dhis2.Ref, ouErr error) ([]dhis2.Ref, error) {

	if ouErr != nil {
		r.setStep(report, t, StepValidateOrganisationUnits, StepFailed, ouErr.Error())
		r.skipRest(report, t, StepValidateOrganisationUnits)
		return nil, errTypeAborted
	}
	r.setStep(report, t, StepValidateOrganisationUnits, StepRunning, "")

	valid := make([]dhis2.Ref, 0, len(orgUnits))
	dropped := 0
	for _, ref := range orgUnits {
		known, checked := r.ouChecked[ref.ID]
		if !checked {
			exists, err := r.Local.ObjectExists(ctx, "organisationUnits", ref.ID)
			known = err == nil && exists
			r.ouChecked[ref.ID] = known
		}
		if !known {
			dropped++
			r.Rec.Warn(t.String(), "org unit %s not found on destination, excluded", ref.ID)
			continue
		}
		valid = append(valid, ref)
	}

	if len(valid) == 0 {
		r.setStep(report, t, StepValidateOrganisationUnits, StepFailed, "no valid org units remain")
		r.skipRest(report, t, StepValidateOrganisationUnits)
		return nil, errTypeAborted
	}
	if dropped > 0 {
		r.setStep(report, t, StepValidateOrganisationUnits, StepWarning,
			fmt.Sprintf("%d org units excluded, %d remain", dropped, len(valid)))
	} else {
		r.setStep(report, t, StepValidateOrganisationUnits, StepCompleted,
			fmt.Sprintf("%d org units", len(valid)))
	}
	return valid, nil
}

func (r *Runner) createDataset(ctx context.Context, t DatasetType, report *CreationReport,
	dataset dhis2.DataSet) (string, error) {

	r.setStep(report, t, StepCreateDatasetInSystem, StepRunning, "")
	id, err := r.Local.CreateObject(ctx, "dataSets", dataset)
	if err != nil {
		conflict := &dhis2.ConflictError{}
		if errors.As(err, &conflict) {
			if len(conflict.ExistingID) > 0 {
				r.setStep(report, t, StepCreateDatasetInSystem, StepCompleted,
					fmt.Sprintf("reusing existing dataset %s", conflict.ExistingID))
				return conflict.ExistingID, nil
			}
			if existing, lookupErr := r.Local.FindIDByCode(ctx, "dataSets", dataset.Code); lookupErr == nil && len(existing) > 0 {
				r.setStep(report, t, StepCreateDatasetInSystem, StepCompleted,
					fmt.Sprintf("reusing existing dataset %s", existing))
				return existing, nil
			}
			if existing, lookupErr := r.Local.FindIDByName(ctx, "dataSets", dataset.Name); lookupErr == nil && len(existing) > 0 {
				r.setStep(report, t, StepCreateDatasetInSystem, StepCompleted,
					fmt.Sprintf("reusing existing dataset %s", existing))
				return existing, nil
			}
		}
		r.setStep(report, t, StepCreateDatasetInSystem, StepFailed, err.Error())
		report.dataset(t).Errors = append(report.dataset(t).Errors, err.Error())
		r.skipRest(report, t, StepCreateDatasetInSystem)
		return "", errTypeAborted
	}
	r.setStep(report, t, StepCreateDatasetInSystem, StepCompleted, fmt.Sprintf("dataset %s created", id))
	return id, nil
}

func (r *Runner) createSmsCommands(ctx context.Context, report *CreationReport,
	elementsByType map[DatasetType][]SynthesizedElement, datasetIDs map[DatasetType]string) {

	builder := newSmsBuilder(r.Local, r.COCFetchTimeout, r.DefaultSMSSeparator, r.Rec)
	for _, t := range AllDatasetTypes() {
		settings, ok := r.Cfg.SMS[t.String()]
		if !ok || !settings.Enabled {
			continue
		}
		datasetID := datasetIDs[t]
		if len(datasetID) == 0 {
			r.Rec.Warn(t.String(), "SMS command skipped, %s dataset was not created", t.Prefix())
			continue
		}
		cmd := builder.buildCommand(ctx, t, r.Cfg, datasetID, elementsByType[t])
		if err := r.Local.CreateSmsCommand(ctx, cmd); err != nil {
			r.Rec.Error(t.String(), "failed to create SMS command %q: %v", cmd.Name, err)
			report.dataset(t).Errors = append(report.dataset(t).Errors,
				fmt.Sprintf("sms command %q: %v", cmd.Name, err))
			continue
		}
		report.dataset(t).SmsCommandCreated = true
		r.Rec.Info(t.String(), "SMS command %q created with %d codes", cmd.Name, len(cmd.SmsCodes))
	}
}

// saveReport writes the creation report to the dataStore, replacing any
// previous document for the assessment whole. Failure never fails the run.
func (r *Runner) saveReport(ctx context.Context, report *CreationReport) bool {
	key := fmt.Sprintf("report_%s", r.Cfg.AssessmentID)
	if err := r.Local.SaveDataStore(ctx, r.DataStoreNamespace, key, report); err != nil {
		r.Rec.Warn("", "creation report not saved to dataStore: %v", err)
		log.WithError(err).WithField("Key", key).Warn("Failed to save creation report to dataStore")
		return false
	}
	return true
}
