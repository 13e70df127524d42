package httpclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// AzureSharedKeyCredentials holds the account name and base64-encoded
// account key used for Shared Key authorization.
type AzureSharedKeyCredentials struct {
	AccountName string
	AccountKey  string // base64-encoded
}

// azureHeaderLines returns the eleven fixed header lines (in the exact
// order spec.md §6 specifies) that precede the canonicalized headers in
// an Azure Shared Key string-to-sign. Missing headers contribute an
// empty line, and so does a content-length of "0".
func azureHeaderLines(headers map[string]string) []string {
	order := []string{
		"content-encoding", "content-language", "content-length", "content-md5",
		"content-type", "date", "if-modified-since", "if-match", "if-none-match",
		"if-unmodified-since", "range",
	}
	lines := make([]string, len(order))
	for i, name := range order {
		lines[i] = headers[name]
		if name == "content-length" && lines[i] == "0" {
			lines[i] = ""
		}
	}
	return lines
}

// canonicalizedHeaders builds the `x-ms-*` block: headers with that
// prefix, sorted lexicographically by name, one `name:value\n` line each.
func canonicalizedHeaders(headers map[string]string) string {
	names := make([]string, 0, len(headers))
	for k := range headers {
		if strings.HasPrefix(k, "x-ms-") {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s:%s\n", name, strings.TrimSpace(headers[name]))
	}
	return b.String()
}

// canonicalizedResource builds the CanonicalizedResource string: the
// account name, the URL path, and any query parameters sorted by name
// with comma-joined values, one `\nname:v1,v2` line per parameter.
func canonicalizedResource(account, path string, query url.Values) string {
	var b strings.Builder
	fmt.Fprintf(&b, "/%s%s", account, path)

	names := make([]string, 0, len(query))
	for k := range query {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		values := append([]string{}, query[name]...)
		sort.Strings(values)
		fmt.Fprintf(&b, "\n%s:%s", strings.ToLower(name), strings.Join(values, ","))
	}
	return b.String()
}

// SignAzureSharedKey computes the Authorization header value for Azure
// Blob Storage Shared Key auth, per spec.md §6.
func SignAzureSharedKey(creds AzureSharedKeyCredentials, verb, path string, query url.Values, headers map[string]string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(creds.AccountKey)
	if err != nil {
		return "", fmt.Errorf("httpclient: decode azure account key: %w", err)
	}

	lines := append([]string{verb}, azureHeaderLines(headers)...)

	var b strings.Builder
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n")
	b.WriteString(canonicalizedHeaders(headers)) // already newline-terminated per header
	b.WriteString(canonicalizedResource(creds.AccountName, path, query))

	stringToSign := b.String()

	h := hmac.New(sha256.New, key)
	h.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(h.Sum(nil))

	return fmt.Sprintf("SharedKey %s:%s", creds.AccountName, signature), nil
}
