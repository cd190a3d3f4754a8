// Package sigv4 signs HTTP requests with AWS Signature Version 4.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	algorithm      = "AWS4-HMAC-SHA256"
	scopeTerminal  = "aws4_request"
	amzDateFormat  = "20060102T150405Z"
	dateOnlyFormat = "20060102"

	headerAmzDate       = "X-Amz-Date"
	headerSecurityToken = "X-Amz-Security-Token"
	headerAuthorization = "Authorization"
)

// Headers never included in the signature. They are either added by the
// transport after signing or rewritten by proxies.
var unsignedHeaders = map[string]struct{}{
	"authorization":   {},
	"user-agent":      {},
	"content-length":  {},
	"accept-encoding": {},
	"connection":      {},
	"expect":          {},
	"x-amzn-trace-id": {},
}

// Signer holds validated credentials and produces SigV4 signatures.
type Signer struct {
	creds Credentials
}

// New validates the credentials and returns a Signer.
func New(creds Credentials) (*Signer, error) {
	if err := ValidateCredentials(creds); err != nil {
		return nil, err
	}
	return &Signer{creds: creds}, nil
}

// AccessKeyID returns the key id requests are signed with.
func (s *Signer) AccessKeyID() string {
	return s.creds.AccessKeyID
}

// Sign sets X-Amz-Date, the optional security token and Authorization on
// req. body must be the exact payload that will be sent.
func (s *Signer) Sign(req *http.Request, body []byte, region, service string, now time.Time) {
	now = now.UTC()
	amzDate := now.Format(amzDateFormat)
	req.Header.Set(headerAmzDate, amzDate)
	if s.creds.SessionToken != "" {
		req.Header.Set(headerSecurityToken, s.creds.SessionToken)
	}
	req.Header.Del(headerAuthorization)

	canonical, signed := canonicalRequest(req, hashHex(body))
	scope := strings.Join([]string{now.Format(dateOnlyFormat), region, service, scopeTerminal}, "/")
	stringToSign := strings.Join([]string{algorithm, amzDate, scope, hashHex([]byte(canonical))}, "\n")
	key := signingKey(s.creds.SecretAccessKey, now.Format(dateOnlyFormat), region, service)
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))

	req.Header.Set(headerAuthorization, algorithm+
		" Credential="+s.creds.AccessKeyID+"/"+scope+
		", SignedHeaders="+signed+
		", Signature="+signature)
}

func canonicalRequest(req *http.Request, payloadHash string) (string, string) {
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	values := map[string][]string{"host": {host}}
	for name, vals := range req.Header {
		lower := strings.ToLower(name)
		if _, skip := unsignedHeaders[lower]; skip {
			continue
		}
		values[lower] = append(values[lower], vals...)
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var headers strings.Builder
	for _, name := range names {
		trimmed := make([]string, len(values[name]))
		for i, v := range values[name] {
			trimmed[i] = strings.Join(strings.Fields(v), " ")
		}
		headers.WriteString(name)
		headers.WriteByte(':')
		headers.WriteString(strings.Join(trimmed, ","))
		headers.WriteByte('\n')
	}
	signed := strings.Join(names, ";")

	canonical := strings.Join([]string{
		req.Method,
		canonicalPath(req.URL),
		canonicalQuery(req.URL),
		headers.String(),
		signed,
		payloadHash,
	}, "\n")
	return canonical, signed
}

func canonicalPath(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		return "/"
	}
	return path
}

func canonicalQuery(u *url.URL) string {
	query := u.Query()
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			parts = append(parts, uriEncode(k)+"="+uriEncode(v))
		}
	}
	return strings.Join(parts, "&")
}

// uriEncode applies RFC 3986 escaping: only unreserved characters are kept.
func uriEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func signingKey(secret, date, region, service string) []byte {
	k := hmacSHA256([]byte("AWS4"+secret), date)
	k = hmacSHA256(k, region)
	k = hmacSHA256(k, service)
	return hmacSHA256(k, scopeTerminal)
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
