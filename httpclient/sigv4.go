package httpclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SigV4Credentials holds the three shapes spec.md §4.4 lists for S3 auth:
// static, temporary (with a session token), or assumed-role (where Token
// is the STS session token). The value shape mirrors
// github.com/aws/aws-sdk-go/aws/credentials.Value, reused here so a
// caller that already holds SDK credentials (e.g. from an STS
// AssumeRoleWithWebIdentity call) can pass them through unchanged.
type SigV4Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// sigv4DateFormat is the ISO8601 basic format SigV4 uses for x-amz-date.
const sigv4DateFormat = "20060102T150405Z"
const sigv4DateOnlyFormat = "20060102"

// SigV4KeyCache caches a derived signing key per (date, region, service)
// per spec.md §4.4 ("cache by date to avoid rederivation"). Callers share
// one cache per credential set across requests.
type SigV4KeyCache struct {
	mu      chan struct{} // binary semaphore; avoids importing sync just for this
	date    string
	region  string
	service string
	key     []byte
}

// NewSigV4KeyCache returns an empty cache ready for SignS3Request.
func NewSigV4KeyCache() *SigV4KeyCache {
	c := &SigV4KeyCache{mu: make(chan struct{}, 1)}
	c.mu <- struct{}{}
	return c
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// signingKey derives the SigV4 signing key: HMAC chain of
// "AWS4"+secret -> date -> region -> service -> "aws4_request".
func signingKey(secret, date, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(date))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte("aws4_request"))
}

// keyFor returns the cached signing key for (date, region, service),
// deriving and caching it when any of them differs from the cached key's.
func (c *SigV4KeyCache) keyFor(secret, date, region, service string) []byte {
	<-c.mu
	defer func() { c.mu <- struct{}{} }()

	if c.key != nil && c.date == date && c.region == region && c.service == service {
		return c.key
	}
	c.key = signingKey(secret, date, region, service)
	c.date, c.region, c.service = date, region, service
	return c.key
}

// canonicalRequest builds the six-line canonical request string of
// spec.md §6: verb, canonical URI, canonical query, canonical headers,
// signed header names, and the hex-encoded SHA-256 of the body.
func canonicalRequest(verb, uri, query string, headers map[string]string, body []byte) (creq string, signedHeaders string) {
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, strings.ToLower(k))
	}
	sort.Strings(names)

	var canonHeaders strings.Builder
	for _, name := range names {
		fmt.Fprintf(&canonHeaders, "%s:%s\n", name, strings.TrimSpace(headers[name]))
	}
	signedHeaders = strings.Join(names, ";")

	bodyHash := sha256.Sum256(body)

	creq = strings.Join([]string{
		verb,
		uri,
		query,
		canonHeaders.String(),
		signedHeaders,
		hex.EncodeToString(bodyHash[:]),
	}, "\n")

	return creq, signedHeaders
}

// SignS3Request computes the SigV4 Authorization header value for an S3
// request to region/service ("s3") at the given time. It returns only that
// value: headers must already include every header that will be signed
// (minimally host, x-amz-content-sha256, x-amz-date), and the caller sets
// the returned value as the Authorization header.
func SignS3Request(creds SigV4Credentials, cache *SigV4KeyCache, verb, uri, query string, headers map[string]string, body []byte, region, service string, at time.Time) string {
	amzDate := at.UTC().Format(sigv4DateFormat)
	dateStamp := at.UTC().Format(sigv4DateOnlyFormat)

	creq, signedHeaders := canonicalRequest(verb, uri, query, headers, body)
	creqHash := sha256.Sum256([]byte(creq))

	credentialScope := fmt.Sprintf("%s/%s/%s/aws4_request", dateStamp, region, service)
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		credentialScope,
		hex.EncodeToString(creqHash[:]),
	}, "\n")

	var key []byte
	if cache != nil {
		key = cache.keyFor(creds.SecretAccessKey, dateStamp, region, service)
	} else {
		key = signingKey(creds.SecretAccessKey, dateStamp, region, service)
	}

	signature := hex.EncodeToString(hmacSHA256(key, []byte(stringToSign)))

	return fmt.Sprintf("AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		creds.AccessKeyID, credentialScope, signedHeaders, signature)
}
