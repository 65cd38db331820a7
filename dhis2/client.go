package dhis2

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// metadataImportParams are fixed for every bulk metadata import
var metadataImportParams = map[string]string{
	"importMode":     "COMMIT",
	"importStrategy": "CREATE_AND_UPDATE",
	"atomicMode":     "NONE",
	"mergeMode":      "REPLACE",
}

// GetDHIS2BaseURL strips the /api/... part off a server URL
func GetDHIS2BaseURL(url string) (string, error) {
	if strings.Contains(url, "/api/") {
		pos := strings.Index(url, "/api/")
		return url[:pos], nil
	}
	if strings.HasSuffix(url, "/api") {
		return strings.TrimSuffix(url, "/api"), nil
	}
	return strings.TrimSuffix(url, "/"), nil
}

// Client talks to one DHIS2 instance's REST API
type Client struct {
	RestClient *resty.Client
	BaseURL    string
}

// Instance is the connection detail surface the client needs. The models
// package's Server satisfies it.
type Instance interface {
	URL() string
	Username() string
	Password() string
	AuthMethod() string
	AuthToken() string
}

// NewClient builds a client for the given server connection. Token auth
// uses the ApiToken scheme; Bearer is used when the token looks like a JWT.
func NewClient(s Instance) (*Client, error) {
	client := resty.New()
	baseURL, err := GetDHIS2BaseURL(s.URL())
	if err != nil {
		log.WithFields(log.Fields{
			"URL": s.URL(), "Error": err}).Error("Failed to get base URL from URL")
		return nil, err
	}
	client.SetBaseURL(baseURL + "/api")
	client.SetHeaders(map[string]string{
		"Accept":       "application/json",
		"Content-Type": "application/json",
	})
	switch s.AuthMethod() {
	case "Token":
		scheme := "ApiToken"
		if strings.Count(s.AuthToken(), ".") == 2 {
			scheme = "Bearer"
		}
		client.SetAuthScheme(scheme)
		client.SetAuthToken(s.AuthToken())
	default: // Basic
		client.SetBasicAuth(s.Username(), s.Password())
	}
	return &Client{
		RestClient: client,
		BaseURL:    baseURL + "/api",
	}, nil
}

// GetResource fetches a resource path with optional query params
func (c *Client) GetResource(ctx context.Context, resourcePath string, params map[string]string) (*resty.Response, error) {
	request := c.RestClient.R().SetContext(ctx)
	if params != nil {
		request.SetQueryParams(params)
	}
	resp, err := request.Get(resourcePath)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	return resp, nil
}

// PostResource posts data to a resource path
func (c *Client) PostResource(ctx context.Context, resourcePath string, params map[string]string, data interface{}) (*resty.Response, error) {
	request := c.RestClient.R().SetContext(ctx).SetBody(data)
	if params != nil {
		request.SetQueryParams(params)
	}
	resp, err := request.Post(resourcePath)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	return resp, nil
}

// PutResource puts data to a resource path
func (c *Client) PutResource(ctx context.Context, resourcePath string, data interface{}) (*resty.Response, error) {
	resp, err := c.RestClient.R().SetContext(ctx).SetBody(data).Put(resourcePath)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	return resp, nil
}

// Ping verifies the connection and credentials work
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.GetResource(ctx, "/system/info", map[string]string{"fields": "version"})
	if err != nil {
		return err
	}
	if resp.StatusCode()/100 != 2 {
		return decodeError(resp.StatusCode(), resp.Body())
	}
	return nil
}

// GetSystemID returns the instance's system id
func (c *Client) GetSystemID(ctx context.Context) (string, error) {
	resp, err := c.GetResource(ctx, "/system/id", nil)
	if err != nil {
		return "", err
	}
	if resp.StatusCode()/100 != 2 {
		return "", decodeError(resp.StatusCode(), resp.Body())
	}
	return gjson.GetBytes(resp.Body(), "codes.0").String(), nil
}

// GetCategoryCombo fetches a category combo with its full category and
// option hierarchy
func (c *Client) GetCategoryCombo(ctx context.Context, id string) (*CategoryCombo, error) {
	resp, err := c.GetResource(ctx, "/categoryCombos/"+id, map[string]string{
		"fields": "id,name,code,dataDimensionType,categories[id,name,code,shortName,categoryOptions[id,name,code,shortName]]",
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode()/100 != 2 {
		return nil, decodeError(resp.StatusCode(), resp.Body())
	}
	combo := &CategoryCombo{}
	if err := json.Unmarshal(resp.Body(), combo); err != nil {
		return nil, errors.Wrap(err, "failed to decode category combo")
	}
	return combo, nil
}

// GetCategoryOptionCombos returns the real COCs generated under a combo
func (c *Client) GetCategoryOptionCombos(ctx context.Context, comboID string) ([]CategoryOptionCombo, error) {
	resp, err := c.GetResource(ctx, "/categoryOptionCombos", map[string]string{
		"filter": "categoryCombo.id:eq:" + comboID,
		"fields": "id,name",
		"paging": "false",
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode()/100 != 2 {
		return nil, decodeError(resp.StatusCode(), resp.Body())
	}
	var result struct {
		CategoryOptionCombos []CategoryOptionCombo `json:"categoryOptionCombos"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode category option combos")
	}
	return result.CategoryOptionCombos, nil
}

// findID looks up an object id on a collection resource by one filter,
// returning "" without error when nothing matches
func (c *Client) findID(ctx context.Context, resource, filter string) (string, error) {
	resp, err := c.GetResource(ctx, "/"+resource, map[string]string{
		"filter": filter,
		"fields": "id",
		"paging": "false",
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode()/100 != 2 {
		return "", decodeError(resp.StatusCode(), resp.Body())
	}
	return gjson.GetBytes(resp.Body(), resource+".0.id").String(), nil
}

// FindIDByCode looks up an object id by exact code
func (c *Client) FindIDByCode(ctx context.Context, resource, code string) (string, error) {
	return c.findID(ctx, resource, "code:eq:"+code)
}

// FindIDByName looks up an object id by exact name
func (c *Client) FindIDByName(ctx context.Context, resource, name string) (string, error) {
	return c.findID(ctx, resource, "name:eq:"+name)
}

// ObjectExists checks an object id exists on the instance
func (c *Client) ObjectExists(ctx context.Context, resource, id string) (bool, error) {
	resp, err := c.GetResource(ctx, "/"+resource+"/"+id, map[string]string{"fields": "id"})
	if err != nil {
		return false, err
	}
	if resp.StatusCode() == 404 {
		return false, nil
	}
	if resp.StatusCode()/100 != 2 {
		return false, decodeError(resp.StatusCode(), resp.Body())
	}
	return true, nil
}

// CreateObject creates a single object on its collection endpoint and
// returns the server assigned uid. A 409 comes back as a *ConflictError
// with the existing object's id when the import report reveals it.
func (c *Client) CreateObject(ctx context.Context, resource string, object interface{}) (string, error) {
	resp, err := c.PostResource(ctx, "/"+resource, nil, object)
	if err != nil {
		return "", err
	}
	if resp.StatusCode()/100 != 2 {
		return "", decodeError(resp.StatusCode(), resp.Body())
	}
	uid, err := jsonparser.GetString(resp.Body(), "response", "uid")
	if err != nil {
		// some endpoints only return the report - fall back to the import report shape
		uid = gjson.GetBytes(resp.Body(), "response.importSummaries.0.reference").String()
	}
	return uid, nil
}

// PostMetadata submits a bulk payload to the metadata import endpoint with
// the fixed import parameters
func (c *Client) PostMetadata(ctx context.Context, payload interface{}) (*ImportReport, error) {
	resp, err := c.PostResource(ctx, "/metadata", metadataImportParams, payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode()/100 != 2 {
		return nil, decodeError(resp.StatusCode(), resp.Body())
	}
	summary := ImportSummary{}
	if err := json.Unmarshal(resp.Body(), &summary); err != nil {
		return nil, errors.Wrap(err, "failed to decode metadata import report")
	}
	if len(summary.Response.Status) > 0 {
		return &summary.Response, nil
	}
	report := ImportReport{}
	if err := json.Unmarshal(resp.Body(), &report); err != nil {
		return nil, errors.Wrap(err, "failed to decode metadata import report")
	}
	return &report, nil
}

// EnsureAttribute finds the custom attribute by code, creating it when absent
func (c *Client) EnsureAttribute(ctx context.Context, attr Attribute) (string, error) {
	id, err := c.FindIDByCode(ctx, "attributes", attr.Code)
	if err != nil {
		return "", err
	}
	if len(id) > 0 {
		return id, nil
	}
	id, err = c.CreateObject(ctx, "attributes", attr)
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) && len(conflict.ExistingID) > 0 {
			return conflict.ExistingID, nil
		}
		return "", err
	}
	return id, nil
}

// CreateSmsCommand posts an SMS command definition
func (c *Client) CreateSmsCommand(ctx context.Context, cmd SmsCommand) error {
	resp, err := c.PostResource(ctx, "/smsCommands", nil, cmd)
	if err != nil {
		return err
	}
	if resp.StatusCode()/100 != 2 {
		return decodeError(resp.StatusCode(), resp.Body())
	}
	return nil
}

// SaveDataStore writes a document to the dataStore, replacing any existing
// value under the key (full overwrite, not merge)
func (c *Client) SaveDataStore(ctx context.Context, namespace, key string, doc interface{}) error {
	path := fmt.Sprintf("/dataStore/%s/%s", namespace, key)
	resp, err := c.GetResource(ctx, path, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode() == 404 {
		resp, err = c.PostResource(ctx, path, nil, doc)
	} else {
		resp, err = c.PutResource(ctx, path, doc)
	}
	if err != nil {
		return err
	}
	if resp.StatusCode()/100 != 2 {
		return decodeError(resp.StatusCode(), resp.Body())
	}
	return nil
}

// HasOrganisationUnits is a cheap probe for whether the instance has any
// org units at all
func (c *Client) HasOrganisationUnits(ctx context.Context) (bool, error) {
	resp, err := c.GetResource(ctx, "/organisationUnits", map[string]string{
		"fields": "id", "pageSize": "1", "paging": "true",
	})
	if err != nil {
		return false, err
	}
	if resp.StatusCode()/100 != 2 {
		return false, decodeError(resp.StatusCode(), resp.Body())
	}
	total, err := jsonparser.GetInt(resp.Body(), "pager", "total")
	if err != nil {
		return false, nil
	}
	return total > 0, nil
}

// GetOrganisationUnits pulls org units for mapping suggestions
func (c *Client) GetOrganisationUnits(ctx context.Context, level int) ([]OrgUnit, error) {
	params := map[string]string{
		"fields": "id,name,code,level,path,parent[id]",
		"paging": "false",
	}
	if level > 0 {
		params["level"] = fmt.Sprintf("%d", level)
	}
	resp, err := c.GetResource(ctx, "/organisationUnits", params)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode()/100 != 2 {
		return nil, decodeError(resp.StatusCode(), resp.Body())
	}
	var result struct {
		OrganisationUnits []OrgUnit `json:"organisationUnits"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode organisation units")
	}
	return result.OrganisationUnits, nil
}

// GetUserGroupIDByName resolves a user group name to its id
func (c *Client) GetUserGroupIDByName(ctx context.Context, name string) (string, error) {
	return c.FindIDByName(ctx, "userGroups", name)
}
