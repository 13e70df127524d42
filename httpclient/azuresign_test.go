package httpclient

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignAzureSharedKeyMinimal(t *testing.T) {
	creds := AzureSharedKeyCredentials{AccountName: "account", AccountKey: "YXpLZXk="}

	headers := map[string]string{
		"content-length": "0",
		"date":           "Sun, 21 Jun 2020 12:46:19 GMT",
		"x-ms-version":   "2019-02-02",
	}

	auth, err := SignAzureSharedKey(creds, "GET", "/path", nil, headers)
	require.NoError(t, err)
	require.Equal(t, "SharedKey account:edqgT7EhsiIN3q6Al2HCZlpXr2D5cJFavr2ZCkhG9R8=", auth)
}

func TestSignAzureSharedKeyWithMD5AndQuery(t *testing.T) {
	creds := AzureSharedKeyCredentials{AccountName: "account", AccountKey: "YXpLZXk="}

	headers := map[string]string{
		"content-length": "44",
		"content-md5":    "b64f49553d5c441652e95697a2c5949e",
		"date":           "Sun, 21 Jun 2020 12:46:19 GMT",
		"x-ms-version":   "2019-02-02",
	}
	query := url.Values{"a": []string{"b"}}

	auth, err := SignAzureSharedKey(creds, "GET", "/path/file", query, headers)
	require.NoError(t, err)
	require.Equal(t, "SharedKey account:5qAnroLtbY8IWqObx8+UVwIUysXujsfWZZav7PrBON0=", auth)
}
