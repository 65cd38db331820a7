package dhis2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeConflictFindsMainID(t *testing.T) {
	body := []byte(`{
		"httpStatusCode": 409,
		"response": {
			"typeReports": [{
				"klass": "org.hisp.dhis.dataelement.DataElement",
				"objectReports": [{
					"errorReports": [{
						"message": "Property 'code' with value 'DQA_REG_X' already exists",
						"errorCode": "E5003",
						"mainId": "deExist0001"
					}]
				}]
			}]
		}
	}`)
	conflict := decodeConflict(body)
	assert.Equal(t, "deExist0001", conflict.ExistingID)
	assert.Contains(t, conflict.Message, "already exists")
}

func TestDecodeConflictExtractsUIDFromMessage(t *testing.T) {
	body := []byte(`{
		"typeReports": [{
			"objectReports": [{
				"errorReports": [{
					"message": "Object with name already exists: 'deExist0002'",
					"errorCode": "E5003"
				}]
			}]
		}]
	}`)
	conflict := decodeConflict(body)
	assert.Equal(t, "deExist0002", conflict.ExistingID)
}

func TestDecodeConflictIgnoresOtherErrorCodes(t *testing.T) {
	body := []byte(`{
		"typeReports": [{
			"objectReports": [{
				"errorReports": [{
					"message": "Missing required property 'shortName' [deIgnore001]",
					"errorCode": "E4000"
				}]
			}]
		}]
	}`)
	conflict := decodeConflict(body)
	assert.Empty(t, conflict.ExistingID)
}

func TestDecodeErrorMapsStatuses(t *testing.T) {
	err := decodeError(401, []byte(`{"message": "bad credentials"}`))
	authErr, ok := err.(*AuthError)
	require.True(t, ok)
	assert.Equal(t, 401, authErr.Status)
	assert.Contains(t, authErr.Error(), "unauthorized")

	err = decodeError(403, []byte(`{"message": "no access"}`))
	authErr, ok = err.(*AuthError)
	require.True(t, ok)
	assert.Contains(t, authErr.Error(), "forbidden")

	err = decodeError(409, []byte(`{"message": "conflict"}`))
	_, ok = err.(*ConflictError)
	assert.True(t, ok)

	err = decodeError(400, []byte(`{
		"message": "validation failed",
		"response": {"errorReports": [{"errorProperty": "shortName", "message": "required"}]}
	}`))
	validationErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, "required", validationErr.Fields["shortName"])

	err = decodeError(500, []byte(`oops`))
	serverErr, ok := err.(*ServerError)
	require.True(t, ok)
	assert.Equal(t, 500, serverErr.Status)
}
