package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"dqa360/dhis2"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI is an in-memory stand-in for a DHIS2 instance
type fakeAPI struct {
	mu            sync.Mutex
	nextID        int
	created       map[string]int
	byCode        map[string]string
	byName        map[string]string
	combos        map[string]*dhis2.CategoryCombo
	cocs          map[string][]dhis2.CategoryOptionCombo
	cocErr        error
	comboErr      error
	createErr     func(resource string) error
	missingOUs    map[string]bool
	smsCommands   []dhis2.SmsCommand
	dataStoreDocs map[string]interface{}
	dataStoreErr  error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		created:       make(map[string]int),
		byCode:        make(map[string]string),
		byName:        make(map[string]string),
		combos:        make(map[string]*dhis2.CategoryCombo),
		cocs:          make(map[string][]dhis2.CategoryOptionCombo),
		missingOUs:    make(map[string]bool),
		dataStoreDocs: make(map[string]interface{}),
	}
}

func (f *fakeAPI) GetCategoryCombo(ctx context.Context, id string) (*dhis2.CategoryCombo, error) {
	if f.comboErr != nil {
		return nil, f.comboErr
	}
	combo, ok := f.combos[id]
	if !ok {
		return nil, fmt.Errorf("combo %s not found", id)
	}
	return combo, nil
}

func (f *fakeAPI) GetCategoryOptionCombos(ctx context.Context, comboID string) ([]dhis2.CategoryOptionCombo, error) {
	if f.cocErr != nil {
		return nil, f.cocErr
	}
	return f.cocs[comboID], nil
}

func (f *fakeAPI) FindIDByCode(ctx context.Context, resource, code string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byCode[resource+"|"+code], nil
}

func (f *fakeAPI) FindIDByName(ctx context.Context, resource, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byName[resource+"|"+name], nil
}

func (f *fakeAPI) ObjectExists(ctx context.Context, resource, id string) (bool, error) {
	return !f.missingOUs[id], nil
}

func (f *fakeAPI) CreateObject(ctx context.Context, resource string, object interface{}) (string, error) {
	if f.createErr != nil {
		if err := f.createErr(resource); err != nil {
			return "", err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[resource]++
	f.nextID++
	return fmt.Sprintf("srvGenId%03d", f.nextID), nil
}

func (f *fakeAPI) EnsureAttribute(ctx context.Context, attr dhis2.Attribute) (string, error) {
	return "attrMarkr01", nil
}

func (f *fakeAPI) CreateSmsCommand(ctx context.Context, cmd dhis2.SmsCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.smsCommands = append(f.smsCommands, cmd)
	return nil
}

func (f *fakeAPI) SaveDataStore(ctx context.Context, namespace, key string, doc interface{}) error {
	if f.dataStoreErr != nil {
		return f.dataStoreErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dataStoreDocs[namespace+"/"+key] = doc
	return nil
}

func (f *fakeAPI) GetUserGroupIDByName(ctx context.Context, name string) (string, error) {
	return "", nil
}

func defaultConfig(elements int) *AssessmentConfig {
	cfg := &AssessmentConfig{
		AssessmentID:  "assessQ1x26",
		Name:          "Q1 Malaria Review",
		PeriodType:    "Monthly",
		SourceIsLocal: true,
	}
	for i := 0; i < elements; i++ {
		cfg.DataElements = append(cfg.DataElements, dhis2.SourceDataElement{
			ID:   fmt.Sprintf("srcElemId%02d", i),
			Name: fmt.Sprintf("Malaria cases %d", i),
		})
	}
	cfg.OrgUnits = []dhis2.OrgUnit{
		{ID: "orgUnitAb01", Name: "Kawempe HC III"},
		{ID: "orgUnitAb02", Name: "Kisenyi HC IV"},
	}
	return cfg
}

// identityMapping maps every selected org unit to a local unit of the
// same id, for tests exercising an external source
func identityMapping(cfg *AssessmentConfig) []OrgUnitMappingRow {
	rows := make([]OrgUnitMappingRow, 0, len(cfg.OrgUnits))
	for _, ou := range cfg.OrgUnits {
		rows = append(rows, OrgUnitMappingRow{Source: ou, Target: ou.ID})
	}
	return rows
}

func newTestRunner(api *fakeAPI, cfg *AssessmentConfig) *Runner {
	return &Runner{
		Local:                api,
		Cfg:                  cfg,
		UIDs:                 NewUIDGen("testRunUid1"),
		Rec:                  NewRecorder(),
		COCFetchTimeout:      200 * time.Millisecond,
		DataStoreNamespace:   "dqa360",
		DatasetAttributeCode: "DQA360_DATASET_UID",
		DefaultSMSSeparator:  " ",
	}
}

func TestRunAllDefaultCombos(t *testing.T) {
	api := newFakeAPI()
	cfg := defaultConfig(3)
	runner := newTestRunner(api, cfg)

	report, saved, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, saved)

	// four datasets, three elements each
	assert.Equal(t, 4, api.created["dataSets"])
	assert.Equal(t, 12, api.created["dataElements"])
	assert.Equal(t, 4, report.Summary.Created)
	assert.Equal(t, 0, report.Summary.Failed)

	for _, ds := range report.Datasets {
		assert.NotEmpty(t, ds.DatasetID)
		assert.Equal(t, 3, ds.ElementsCreated)
		// category steps have nothing to do on an all-default selection
		assert.Equal(t, StepSkipped, ds.Steps[StepValidateCategoryOptions.String()].Status)
		assert.Equal(t, StepSkipped, ds.Steps[StepValidateCategories.String()].Status)
		assert.Equal(t, StepSkipped, ds.Steps[StepValidateCategoryCombinations.String()].Status)
		assert.Equal(t, StepSkipped, ds.Steps[StepConfigureSharing.String()].Status)
		assert.Equal(t, StepCompleted, ds.Steps[StepCreateDatasetInSystem.String()].Status)
	}

	// SMS was never enabled
	assert.Empty(t, api.smsCommands)
	assert.Contains(t, api.dataStoreDocs, "dqa360/report_assessQ1x26")
}

func TestRunComboFetchFailureFallsBackToDefault(t *testing.T) {
	api := newFakeAPI()
	api.comboErr = fmt.Errorf("connection refused")

	cfg := defaultConfig(2)
	cfg.SourceIsLocal = false
	cfg.OrgUnitMapping = identityMapping(cfg)
	cfg.DataElements[0].CategoryCombo = &dhis2.CategoryCombo{ID: "comboSexAge", Name: "Sex and Age"}

	source := newFakeAPI()
	source.comboErr = fmt.Errorf("connection refused")

	runner := newTestRunner(api, cfg)
	runner.Source = source

	report, _, err := runner.Run(context.Background())
	require.NoError(t, err)

	// run still completes, combo replaced by default with a warning
	assert.Equal(t, 4, report.Summary.Created)
	assert.Greater(t, report.Summary.Warnings, 0)
	for _, ds := range report.Datasets {
		assert.Equal(t, StepWarning, ds.Steps[StepValidateCategoryCombinations.String()].Status)
	}
}

func TestRunResolvesExternalComboHierarchy(t *testing.T) {
	api := newFakeAPI()
	source := newFakeAPI()
	source.combos["comboSexQ1x"] = &dhis2.CategoryCombo{
		ID:   "comboSexQ1x",
		Name: "Sex",
		Categories: []dhis2.Category{{
			Name: "Sex",
			CategoryOptions: []dhis2.CategoryOption{
				{Name: "Male"}, {Name: "Female"},
			},
		}},
	}

	cfg := defaultConfig(1)
	cfg.SourceIsLocal = false
	cfg.OrgUnitMapping = identityMapping(cfg)
	cfg.DataElements[0].CategoryCombo = &dhis2.CategoryCombo{ID: "comboSexQ1x", Name: "Sex"}

	runner := newTestRunner(api, cfg)
	runner.Source = source

	report, _, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Summary.Created)

	// options, category and combo created once, reused by the other three types
	assert.Equal(t, 2, api.created["categoryOptions"])
	assert.Equal(t, 1, api.created["categories"])
	assert.Equal(t, 1, api.created["categoryCombos"])
	for _, ds := range report.Datasets {
		assert.Equal(t, StepCompleted, ds.Steps[StepValidateCategoryCombinations.String()].Status)
	}
}

func TestRunElementConflictReusesExistingID(t *testing.T) {
	api := newFakeAPI()
	calls := 0
	api.createErr = func(resource string) error {
		if resource != "dataElements" {
			return nil
		}
		calls++
		if calls == 1 {
			return &dhis2.ConflictError{ExistingID: "existingDe01", Message: "already exists"}
		}
		return nil
	}

	cfg := defaultConfig(2)
	runner := newTestRunner(api, cfg)

	report, _, err := runner.Run(context.Background())
	require.NoError(t, err)

	register := report.Datasets[int(Register)]
	assert.Equal(t, 2, register.ElementsCreated)
	assert.Equal(t, 0, register.ElementsFailed)
	assert.Contains(t, register.CreatedElementIDs, "existingDe01")
	assert.Equal(t, StepCompleted, register.Steps[StepCreateDataElements.String()].Status)
}

func TestRunPartialElementFailure(t *testing.T) {
	api := newFakeAPI()
	calls := 0
	api.createErr = func(resource string) error {
		if resource != "dataElements" {
			return nil
		}
		calls++
		if calls == 2 {
			return &dhis2.ServerError{Status: 500, Report: "boom"}
		}
		return nil
	}

	cfg := defaultConfig(3)
	runner := newTestRunner(api, cfg)

	report, _, err := runner.Run(context.Background())
	require.NoError(t, err)

	register := report.Datasets[int(Register)]
	assert.Equal(t, 2, register.ElementsCreated)
	assert.Equal(t, 1, register.ElementsFailed)
	assert.Equal(t, StepPartial, register.Steps[StepCreateDataElements.String()].Status)
	// the dataset is still created with the surviving elements
	assert.NotEmpty(t, register.DatasetID)
}

func TestRunSmsCommandForEnabledType(t *testing.T) {
	api := newFakeAPI()
	cfg := defaultConfig(2)
	cfg.SMS = map[string]SMSConfig{
		"register": {Enabled: true, Keyword: "DQAREG"},
	}
	runner := newTestRunner(api, cfg)

	report, _, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, api.smsCommands, 1)
	cmd := api.smsCommands[0]
	assert.Equal(t, "DQAREG", cmd.Name)
	assert.Equal(t, "KEY_VALUE_PARSER", cmd.ParserType)
	assert.Equal(t, report.Datasets[int(Register)].DatasetID, cmd.Dataset.ID)
	// default combo elements expand to exactly one code each
	require.Len(t, cmd.SmsCodes, 2)
	assert.Equal(t, "A", cmd.SmsCodes[0].Code)
	assert.Equal(t, "B", cmd.SmsCodes[1].Code)
	assert.Equal(t, dhis2.DefaultCategoryOptionComboUID, cmd.SmsCodes[0].CategoryOptionCombo.ID)
	assert.True(t, report.Datasets[int(Register)].SmsCommandCreated)
}

func TestRunReportSaveFailureDoesNotFailRun(t *testing.T) {
	api := newFakeAPI()
	api.dataStoreErr = fmt.Errorf("datastore unavailable")
	cfg := defaultConfig(1)
	runner := newTestRunner(api, cfg)

	report, saved, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, saved)
	assert.Equal(t, 4, report.Summary.Created)
}

func TestRunCanceledContextSkipsEverything(t *testing.T) {
	api := newFakeAPI()
	cfg := defaultConfig(1)
	runner := newTestRunner(api, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, _, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Summary.Created)
	assert.Equal(t, 0, api.created["dataSets"])
	for _, ds := range report.Datasets {
		assert.Equal(t, StepSkipped, ds.Steps[StepCreateDatasetInSystem.String()].Status)
	}
}

func TestRunMissingOrgUnitsExcluded(t *testing.T) {
	api := newFakeAPI()
	api.missingOUs["orgUnitAb02"] = true
	cfg := defaultConfig(1)
	runner := newTestRunner(api, cfg)

	report, _, err := runner.Run(context.Background())
	require.NoError(t, err)

	register := report.Datasets[int(Register)]
	assert.Equal(t, StepWarning, register.Steps[StepValidateOrganisationUnits.String()].Status)
	assert.NotEmpty(t, register.DatasetID)
}
