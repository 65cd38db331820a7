package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"dqa360/dhis2"
	"dqa360/utils/dbutils"

	"github.com/pkg/errors"
)

// DatasetType is one of the four parallel DQA dataset variants generated
// per assessment
type DatasetType int

const (
	Register DatasetType = iota
	Summary
	Reported
	Corrected
)

// AllDatasetTypes returns the four types in pipeline order
func AllDatasetTypes() []DatasetType {
	return []DatasetType{Register, Summary, Reported, Corrected}
}

func (t DatasetType) String() string {
	switch t {
	case Register:
		return "register"
	case Summary:
		return "summary"
	case Reported:
		return "reported"
	default:
		return "corrected"
	}
}

// Prefix is the display prefix embedded in synthesized element and dataset names
func (t DatasetType) Prefix() string {
	switch t {
	case Register:
		return "Register"
	case Summary:
		return "Summary"
	case Reported:
		return "Reported"
	default:
		return "Corrected"
	}
}

// CodePrefix is the short prefix embedded in synthesized codes
func (t DatasetType) CodePrefix() string {
	switch t {
	case Register:
		return "REG"
	case Summary:
		return "SUM"
	case Reported:
		return "RPT"
	default:
		return "COR"
	}
}

// ParseDatasetType maps the wire name back to the enum
func ParseDatasetType(s string) (DatasetType, error) {
	for _, t := range AllDatasetTypes() {
		if t.String() == s {
			return t, nil
		}
	}
	return Register, errors.Errorf("unknown dataset type %q", s)
}

// Step is one of the named steps of the per-dataset-type pipeline
type Step int

const (
	StepValidateCategoryOptions Step = iota
	StepValidateCategories
	StepValidateCategoryCombinations
	StepCreateDataElements
	StepValidateOrganisationUnits
	StepConfigureSharing
	StepCreateDatasetPayload
	StepCreateDatasetInSystem
	StepFinalizeConfiguration
)

// AllSteps returns the nine steps in execution order
func AllSteps() []Step {
	return []Step{
		StepValidateCategoryOptions,
		StepValidateCategories,
		StepValidateCategoryCombinations,
		StepCreateDataElements,
		StepValidateOrganisationUnits,
		StepConfigureSharing,
		StepCreateDatasetPayload,
		StepCreateDatasetInSystem,
		StepFinalizeConfiguration,
	}
}

func (s Step) String() string {
	switch s {
	case StepValidateCategoryOptions:
		return "validateCategoryOptions"
	case StepValidateCategories:
		return "validateCategories"
	case StepValidateCategoryCombinations:
		return "validateCategoryCombinations"
	case StepCreateDataElements:
		return "createDataElements"
	case StepValidateOrganisationUnits:
		return "validateOrganisationUnits"
	case StepConfigureSharing:
		return "configureSharing"
	case StepCreateDatasetPayload:
		return "createDatasetPayload"
	case StepCreateDatasetInSystem:
		return "createDatasetInSystem"
	default:
		return "finalizeConfiguration"
	}
}

// StepStatus is the status of one step of one dataset type
type StepStatus string

const (
	StepPending   = StepStatus("pending")
	StepRunning   = StepStatus("running")
	StepCompleted = StepStatus("completed")
	StepSkipped   = StepStatus("skipped")
	StepWarning   = StepStatus("warning")
	StepPartial   = StepStatus("partial")
	StepFailed    = StepStatus("failed")
)

// Observer receives step and per-item progress while the pipeline runs.
// The pipeline has no UI dependency - callers plug in whatever rendering
// they need.
type Observer interface {
	StepChanged(datasetIndex int, step Step, status StepStatus, details string)
	ItemProgress(datasetIndex int, step Step, done, total int, item string)
}

// NopObserver discards all progress events
type NopObserver struct{}

func (NopObserver) StepChanged(int, Step, StepStatus, string) {}
func (NopObserver) ItemProgress(int, Step, int, int, string)  {}

// API is the slice of the DHIS2 client surface the pipeline needs. The
// dhis2 package's Client satisfies it; tests supply fakes.
type API interface {
	GetCategoryCombo(ctx context.Context, id string) (*dhis2.CategoryCombo, error)
	GetCategoryOptionCombos(ctx context.Context, comboID string) ([]dhis2.CategoryOptionCombo, error)
	FindIDByCode(ctx context.Context, resource, code string) (string, error)
	FindIDByName(ctx context.Context, resource, name string) (string, error)
	ObjectExists(ctx context.Context, resource, id string) (bool, error)
	CreateObject(ctx context.Context, resource string, object interface{}) (string, error)
	EnsureAttribute(ctx context.Context, attr dhis2.Attribute) (string, error)
	CreateSmsCommand(ctx context.Context, cmd dhis2.SmsCommand) error
	SaveDataStore(ctx context.Context, namespace, key string, doc interface{}) error
	GetUserGroupIDByName(ctx context.Context, name string) (string, error)
}

// SMSConfig is the per dataset type SMS capture configuration
type SMSConfig struct {
	Enabled   bool   `json:"enabled"`
	Keyword   string `json:"keyword,omitempty"`
	Separator string `json:"separator,omitempty"`
}

// OrgUnitMappingRow maps one source org unit to a local one. Target stays
// empty until the user picks it - suggestions are never auto applied.
type OrgUnitMappingRow struct {
	Source dhis2.OrgUnit `json:"source"`
	Target string        `json:"target"`
}

// AssessmentConfig is the full input of one creation run, as captured by
// the wizard and stored on the queued run
type AssessmentConfig struct {
	AssessmentID   string                    `json:"assessmentId"`
	Name           string                    `json:"name"`
	PeriodType     string                    `json:"periodType,omitempty"`
	SourceIsLocal  bool                      `json:"sourceIsLocal"`
	DataElements   []dhis2.SourceDataElement `json:"dataElements"`
	OrgUnits       []dhis2.OrgUnit           `json:"orgUnits"`
	OrgUnitMapping []OrgUnitMappingRow       `json:"orgUnitMapping,omitempty"`
	SMS            map[string]SMSConfig      `json:"sms,omitempty"`
	DatasetIDs     map[string]string         `json:"datasetIds,omitempty"`
	UserGroups     []string                  `json:"userGroups,omitempty"`
	PublicAccess   string                    `json:"publicAccess,omitempty"`
}

// ParseAssessmentConfig decodes the run's stored JSONB config
func ParseAssessmentConfig(raw dbutils.MapAnything) (*AssessmentConfig, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to re-marshal run config")
	}
	cfg := &AssessmentConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode run config")
	}
	if len(cfg.AssessmentID) == 0 {
		return nil, errors.New("run config has no assessmentId")
	}
	if len(cfg.DataElements) == 0 {
		return nil, errors.New("run config has no data elements")
	}
	if len(cfg.PeriodType) == 0 {
		cfg.PeriodType = "Monthly"
	}
	return cfg, nil
}

// StepRecord is the recorded outcome of one step
type StepRecord struct {
	Status  StepStatus `json:"status"`
	Details string     `json:"details,omitempty"`
}

// DatasetReport is the per dataset type section of the creation report
type DatasetReport struct {
	Type              string                `json:"type"`
	DatasetID         string                `json:"datasetId,omitempty"`
	DatasetName       string                `json:"datasetName,omitempty"`
	DatasetCode       string                `json:"datasetCode,omitempty"`
	Steps             map[string]StepRecord `json:"steps"`
	ElementsCreated   int                   `json:"elementsCreated"`
	ElementsFailed    int                   `json:"elementsFailed"`
	CreatedElementIDs []string              `json:"createdElementIds,omitempty"`
	Errors            []string              `json:"errors,omitempty"`
	Warnings          []string              `json:"warnings,omitempty"`
	SmsCommandCreated bool                  `json:"smsCommandCreated,omitempty"`
}

// ReportSummary is the final created/failed/total roll-up
type ReportSummary struct {
	Created  int `json:"created"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
	Warnings int `json:"warnings"`
}

// CreationReport is the accumulated result of one run - the only entity
// written to durable storage (the DHIS2 dataStore), replaced whole on save
type CreationReport struct {
	AssessmentID string          `json:"assessmentId"`
	StartedAt    time.Time       `json:"startedAt"`
	FinishedAt   time.Time       `json:"finishedAt"`
	Datasets     []DatasetReport `json:"datasets"`
	Concepts     *ConceptMapping `json:"concepts,omitempty"`
	Summary      ReportSummary   `json:"summary"`
	Events       []LogEvent      `json:"events,omitempty"`
}

// AsMap converts the report for JSONB storage alongside the run row
func (r *CreationReport) AsMap() dbutils.MapAnything {
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	var m dbutils.MapAnything
	_ = json.Unmarshal(data, &m)
	return m
}

func (r *CreationReport) dataset(t DatasetType) *DatasetReport {
	return &r.Datasets[int(t)]
}
