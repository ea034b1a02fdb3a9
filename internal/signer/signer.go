// Package signer computes the request signature expected by the card API.
//
// The signature is a keyed MD5 over the request line and its canonicalized
// parameters:
//
//	sign = md5(METHOD + host + path + "k1=v1&k2=v2..." + appSecret)
//
// Parameters are sorted byte-wise by key and written verbatim (no URL
// encoding). The "sign" parameter itself never takes part in the digest.
package signer

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ParamSign is the name of the signature parameter.
const ParamSign = "sign"

// Signer signs requests for a single API host with a single app secret.
type Signer struct {
	host   string
	secret string
}

// New creates a Signer for the host portion of baseURL.
func New(baseURL, secret string) (*Signer, error) {
	host, err := HostFromBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &Signer{host: host, secret: secret}, nil
}

// Host returns the host name used in signatures.
func (s *Signer) Host() string {
	return s.host
}

// Sign returns the signature for a request to path.
func (s *Signer) Sign(method, path string, params map[string]string) string {
	return Sign(method, s.host, path, params, s.secret)
}

// Verify reports whether params carries a valid sign for the request.
func (s *Signer) Verify(method, path string, params map[string]string) bool {
	got, ok := params[ParamSign]
	if !ok || got == "" {
		return false
	}
	want := s.Sign(method, path, params)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(got)), []byte(want)) == 1
}

// Sign is the pure signing function. It returns 32 lowercase hex characters.
func Sign(method, host, path string, params map[string]string, secret string) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteString(host)
	b.WriteString(path)
	b.WriteString(Canonicalize(params))
	b.WriteString(secret)

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Canonicalize renders params as key=value pairs joined by '&' in ascending
// byte order of keys. The sign parameter is skipped.
func Canonicalize(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == ParamSign {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// HostFromBaseURL extracts the host name (no scheme, no port) from baseURL.
func HostFromBaseURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("base url %q has no host", baseURL)
	}
	return u.Hostname(), nil
}
