package dhis2

// Well known DHIS2 identifiers that must be referenced, never recreated.
const (
	DefaultCategoryComboUID       = "bjDvmb4bfuf"
	DefaultCategoryOptionComboUID = "HllvX50cXC0"
)

// Ref is a reference to another DHIS2 object by id
type Ref struct {
	ID string `json:"id"`
}

// CategoryOption is a leaf disaggregation value
type CategoryOption struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	ShortName string `json:"shortName,omitempty"`
	Code      string `json:"code,omitempty"`
}

// Category owns an ordered set of category options
type Category struct {
	ID                string           `json:"id,omitempty"`
	Name              string           `json:"name"`
	ShortName         string           `json:"shortName,omitempty"`
	Code              string           `json:"code,omitempty"`
	DataDimensionType string           `json:"dataDimensionType,omitempty"`
	CategoryOptions   []CategoryOption `json:"categoryOptions,omitempty"`
}

// CategoryCombo is the cross product of one or more categories
type CategoryCombo struct {
	ID                string     `json:"id,omitempty"`
	Name              string     `json:"name"`
	Code              string     `json:"code,omitempty"`
	DataDimensionType string     `json:"dataDimensionType,omitempty"`
	Categories        []Category `json:"categories,omitempty"`
}

// IsDefault returns true when the combo is DHIS2's default combo
func (cc *CategoryCombo) IsDefault() bool {
	return cc == nil || cc.ID == DefaultCategoryComboUID || cc.Name == "default"
}

// CategoryOptionCombo is one concrete combination of options under a combo
type CategoryOptionCombo struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Code          string `json:"code,omitempty"`
	CategoryCombo *Ref   `json:"categoryCombo,omitempty"`
}

// DataElement is a synthesized DHIS2 data element payload
type DataElement struct {
	ID              string           `json:"id,omitempty"`
	Name            string           `json:"name"`
	ShortName       string           `json:"shortName"`
	FormName        string           `json:"formName,omitempty"`
	Code            string           `json:"code,omitempty"`
	ValueType       string           `json:"valueType"`
	AggregationType string           `json:"aggregationType"`
	DomainType      string           `json:"domainType"`
	CategoryCombo   *Ref             `json:"categoryCombo,omitempty"`
	AttributeValues []AttributeValue `json:"attributeValues,omitempty"`
}

// SourceDataElement is a data element as read off the source instance,
// with its category combo optionally fully nested
type SourceDataElement struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	ShortName       string         `json:"shortName,omitempty"`
	Code            string         `json:"code,omitempty"`
	ValueType       string         `json:"valueType,omitempty"`
	AggregationType string         `json:"aggregationType,omitempty"`
	DomainType      string         `json:"domainType,omitempty"`
	CategoryCombo   *CategoryCombo `json:"categoryCombo,omitempty"`
}

// DataSetElement binds a data element to a dataset with a sort order
type DataSetElement struct {
	DataElement Ref  `json:"dataElement"`
	DataSet     *Ref `json:"dataSet,omitempty"`
	SortOrder   int  `json:"sortOrder"`
}

// AttributeValue carries a custom attribute value on a metadata object
type AttributeValue struct {
	Attribute Ref    `json:"attribute"`
	Value     string `json:"value"`
}

// Attribute is a DHIS2 custom attribute definition
type Attribute struct {
	ID               string `json:"id,omitempty"`
	Name             string `json:"name"`
	Code             string `json:"code"`
	ValueType        string `json:"valueType"`
	DataSetAttribute bool   `json:"dataSetAttribute"`
}

// UserGroupAccess grants a user group access on an object
type UserGroupAccess struct {
	ID     string `json:"id"`
	Access string `json:"access"`
}

// Sharing is embedded object sharing - sent with the create payload so no
// follow-up PUT /sharing call is needed
type Sharing struct {
	Public     string                     `json:"public"`
	UserGroups map[string]UserGroupAccess `json:"userGroups,omitempty"`
}

// DataSet is a synthesized DHIS2 dataset payload
type DataSet struct {
	ID                string           `json:"id,omitempty"`
	Name              string           `json:"name"`
	ShortName         string           `json:"shortName"`
	Code              string           `json:"code,omitempty"`
	Description       string           `json:"description,omitempty"`
	PeriodType        string           `json:"periodType"`
	CategoryCombo     *Ref             `json:"categoryCombo,omitempty"`
	DataSetElements   []DataSetElement `json:"dataSetElements"`
	OrganisationUnits []Ref            `json:"organisationUnits"`
	Sharing           *Sharing         `json:"sharing,omitempty"`
	AttributeValues   []AttributeValue `json:"attributeValues,omitempty"`
	Timely            int              `json:"timelyDays,omitempty"`
	ExpiryDays        int              `json:"expiryDays,omitempty"`
}

// OrgUnit is a read-only organisation unit reference
type OrgUnit struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Code   string `json:"code,omitempty"`
	Level  int    `json:"level,omitempty"`
	Path   string `json:"path,omitempty"`
	Parent *Ref   `json:"parent,omitempty"`
}

// SmsCode maps one short code to a data element / category option combo pair
type SmsCode struct {
	Code                string `json:"code"`
	DataElement         Ref    `json:"dataElement"`
	CategoryOptionCombo Ref    `json:"optionId"`
}

// SmsCommand is a DHIS2 SMS data capture command definition
type SmsCommand struct {
	Name               string    `json:"name"`
	ParserType         string    `json:"parserType"`
	Separator          string    `json:"separator,omitempty"`
	Dataset            Ref       `json:"dataset"`
	SmsCodes           []SmsCode `json:"smsCodes"`
	DefaultMessage     string    `json:"defaultMessage,omitempty"`
	WrongFormatMessage string    `json:"wrongFormatMessage,omitempty"`
	NoUserMessage      string    `json:"noUserMessage,omitempty"`
	SuccessMessage     string    `json:"successMessage,omitempty"`
}

// ImportStats the import count in a metadata import response
type ImportStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Ignored int `json:"ignored"`
	Total   int `json:"total"`
}

// ErrorReport is one error entry in a DHIS2 import report
type ErrorReport struct {
	Message       string `json:"message"`
	ErrorCode     string `json:"errorCode"`
	MainID        string `json:"mainId,omitempty"`
	ErrorProperty string `json:"errorProperty,omitempty"`
}

// ObjectReport carries per object import errors
type ObjectReport struct {
	UID          string        `json:"uid,omitempty"`
	Index        int           `json:"index"`
	ErrorReports []ErrorReport `json:"errorReports,omitempty"`
}

// TypeReport groups object reports per metadata type
type TypeReport struct {
	Klass         string         `json:"klass"`
	Stats         ImportStats    `json:"stats"`
	ObjectReports []ObjectReport `json:"objectReports,omitempty"`
}

// ImportReport is the response of POST /api/metadata
type ImportReport struct {
	Status      string       `json:"status"`
	Stats       ImportStats  `json:"stats"`
	TypeReports []TypeReport `json:"typeReports,omitempty"`
}

// ImportSummary wraps the import report the way newer DHIS2 versions
// return it, under a response key with http status on the envelope
type ImportSummary struct {
	HTTPStatus     string       `json:"httpStatus"`
	HTTPStatusCode int          `json:"httpStatusCode"`
	Status         string       `json:"status"`
	Message        string       `json:"message"`
	Response       ImportReport `json:"response"`
}
