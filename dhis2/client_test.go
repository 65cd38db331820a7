package dhis2

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testInstance struct {
	url string
}

func (t *testInstance) URL() string        { return t.url }
func (t *testInstance) Username() string   { return "admin" }
func (t *testInstance) Password() string   { return "district" }
func (t *testInstance) AuthMethod() string { return "Basic" }
func (t *testInstance) AuthToken() string  { return "" }

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(&testInstance{url: server.URL})
	require.NoError(t, err)
	return client, server
}

func TestPing(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/system/info", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "district", pass)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version": "2.40.1"}`))
	})
	assert.NoError(t, client.Ping(context.Background()))
}

func TestPingBadCredentials(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message": "bad credentials"}`))
	})
	err := client.Ping(context.Background())
	require.Error(t, err)
	_, ok := err.(*AuthError)
	assert.True(t, ok)
}

func TestGetSystemID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/system/id", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"codes": ["sysIdAbc123"]}`))
	})
	id, err := client.GetSystemID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sysIdAbc123", id)
}

func TestPostMetadataSendsFixedImportParams(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/metadata", r.URL.Path)
		query := r.URL.Query()
		assert.Equal(t, "COMMIT", query.Get("importMode"))
		assert.Equal(t, "CREATE_AND_UPDATE", query.Get("importStrategy"))
		assert.Equal(t, "NONE", query.Get("atomicMode"))
		assert.Equal(t, "REPLACE", query.Get("mergeMode"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "OK", "stats": {"created": 2, "total": 2}}`))
	})
	report, err := client.PostMetadata(context.Background(),
		map[string]interface{}{"dataElements": []interface{}{}})
	require.NoError(t, err)
	assert.Equal(t, "OK", report.Status)
	assert.Equal(t, 2, report.Stats.Created)
}

func TestPostMetadataUnwrapsResponseEnvelope(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"httpStatusCode": 200,
			"response": {"status": "OK", "stats": {"created": 1, "total": 1}}
		}`))
	})
	report, err := client.PostMetadata(context.Background(), map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "OK", report.Status)
	assert.Equal(t, 1, report.Stats.Created)
}

func TestHasOrganisationUnits(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pager": {"total": 42}, "organisationUnits": [{"id": "orgUnitAb01"}]}`))
	})
	hasUnits, err := client.HasOrganisationUnits(context.Background())
	require.NoError(t, err)
	assert.True(t, hasUnits)
}

func TestGetOrganisationUnitsFiltersByLevel(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/organisationUnits", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("level"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"organisationUnits": [
			{"id": "orgUnitAb01", "name": "Kawempe HC III", "level": 5},
			{"id": "orgUnitAb02", "name": "Kisenyi HC IV", "level": 5}
		]}`))
	})
	units, err := client.GetOrganisationUnits(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "Kawempe HC III", units[0].Name)
}
