// Package sigv4 implements AWS Signature Version 4 request signing
// without the AWS SDK. The produced headers are what OpenSearch and
// Bedrock verify on their side, so the derivation chain below must be
// reproduced byte for byte.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"
)

const algorithm = "AWS4-HMAC-SHA256"

// Credentials holds a static AWS credential set. SessionToken is optional.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Signer signs HTTP requests for one region.
type Signer struct {
	creds  Credentials
	region string
}

// New creates a signer bound to a credential set and region.
func New(creds Credentials, region string) *Signer {
	return &Signer{creds: creds, region: region}
}

// Request describes one outbound call to be signed.
//
// CanonicalPath, when non-empty, replaces URL.EscapedPath() inside the
// canonical request only. Bedrock model-invocation endpoints verify
// against a double-encoded path while the literal request line carries
// the single-encoded one, so the two variants are supplied independently.
type Request struct {
	Method        string
	URL           *url.URL
	CanonicalPath string
	Headers       map[string]string
	Body          []byte
	Service       string
	Time          time.Time
}

// Sign computes the SigV4 headers for req. The returned map holds the
// headers the signer introduces (X-Amz-Date, X-Amz-Content-Sha256,
// X-Amz-Security-Token when a session token is set, Authorization);
// headers passed in req.Headers are included in the signature and are
// expected to be set on the request by the caller. Signing is a pure
// function of its inputs and never fails.
func (s *Signer) Sign(req Request) map[string]string {
	t := req.Time.UTC()
	amzDate := t.Format("20060102T150405Z")
	dateStamp := t.Format("20060102")

	payloadHash := hashHex(req.Body)

	// Full header set to sign: caller headers + host + the x-amz-* set.
	signed := map[string]string{
		"host":                 req.URL.Host,
		"x-amz-date":           amzDate,
		"x-amz-content-sha256": payloadHash,
	}
	if s.creds.SessionToken != "" {
		signed["x-amz-security-token"] = s.creds.SessionToken
	}
	for k, v := range req.Headers {
		signed[strings.ToLower(k)] = strings.TrimSpace(v)
	}

	names := make([]string, 0, len(signed))
	for k := range signed {
		names = append(names, k)
	}
	sort.Strings(names)

	var canonicalHeaders strings.Builder
	for _, k := range names {
		canonicalHeaders.WriteString(k)
		canonicalHeaders.WriteByte(':')
		canonicalHeaders.WriteString(signed[k])
		canonicalHeaders.WriteByte('\n')
	}
	signedHeaderNames := strings.Join(names, ";")

	canonicalURI := req.CanonicalPath
	if canonicalURI == "" {
		canonicalURI = req.URL.EscapedPath()
	}
	if canonicalURI == "" {
		canonicalURI = "/"
	}

	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI,
		canonicalQuery(req.URL),
		canonicalHeaders.String(),
		signedHeaderNames,
		payloadHash,
	}, "\n")

	scope := strings.Join([]string{dateStamp, s.region, req.Service, "aws4_request"}, "/")

	stringToSign := strings.Join([]string{
		algorithm,
		amzDate,
		scope,
		hashHex([]byte(canonicalRequest)),
	}, "\n")

	key := signingKey(s.creds.SecretAccessKey, dateStamp, s.region, req.Service)
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))

	headers := map[string]string{
		"X-Amz-Date":           amzDate,
		"X-Amz-Content-Sha256": payloadHash,
		"Authorization": algorithm +
			" Credential=" + s.creds.AccessKeyID + "/" + scope +
			", SignedHeaders=" + signedHeaderNames +
			", Signature=" + signature,
	}
	if s.creds.SessionToken != "" {
		headers["X-Amz-Security-Token"] = s.creds.SessionToken
	}
	return headers
}

// canonicalQuery renders query parameters sorted by key, then value,
// percent-encoded per RFC 3986.
func canonicalQuery(u *url.URL) string {
	q := u.Query()
	if len(q) == 0 {
		return ""
	}

	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(q))
	for k, vs := range q {
		for _, v := range vs {
			pairs = append(pairs, pair{uriEncode(k, false), uriEncode(v, false)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.k + "=" + p.v
	}
	return strings.Join(parts, "&")
}

// URIEncodePath percent-encodes a URI path for the canonical request,
// leaving '/' separators intact. Applying it to an already-encoded path
// yields the double-encoded variant Bedrock expects.
func URIEncodePath(path string) string {
	return uriEncode(path, true)
}

// uriEncode implements the SigV4 UriEncode: everything except unreserved
// characters (and '/' when keepSlash) is percent-encoded, uppercase hex.
func uriEncode(s string, keepSlash bool) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		case c == '/' && keepSlash:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0xF])
		}
	}
	return b.String()
}

func hashHex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

// signingKey derives the chained HMAC key:
// secret -> date -> region -> service -> "aws4_request".
func signingKey(secret, date, region, service string) []byte {
	k := hmacSHA256([]byte("AWS4"+secret), date)
	k = hmacSHA256(k, region)
	k = hmacSHA256(k, service)
	return hmacSHA256(k, "aws4_request")
}
