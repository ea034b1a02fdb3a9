package cardapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	apperrors "cardauth/internal/errors"
)

// Result is the envelope returned by every card API endpoint.
// Code zero means success; anything else is a domain rejection.
type Result struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result,omitempty"`
	Nonce   string          `json:"nonce,omitempty"`
	Sign    string          `json:"sign,omitempty"`
}

// OK reports whether the call succeeded.
func (r *Result) OK() bool {
	return r.Code == apperrors.CodeOK
}

// Err returns a DOMAIN error for a non-zero code.
func (r *Result) Err() error {
	if r.OK() {
		return nil
	}
	return apperrors.NewDomainError(r.Code, r.Message)
}

// CardInfo is the card description carried by login and heartbeat results.
type CardInfo struct {
	CardType   string       `json:"card_type"`
	Expires    string       `json:"expires"`
	ExpiresTs  EpochSeconds `json:"expires_ts"`
	ServerTime EpochSeconds `json:"server_time"`
}

// Card decodes the result payload. An absent payload yields a zero CardInfo.
// Each field is decoded on its own: a field with an unexpected type is left
// zero and reported in the returned error while the others are still set.
// card_type and expires also accept numbers and booleans, kept as their
// JSON text.
func (r *Result) Card() (CardInfo, error) {
	var info CardInfo
	if isEmptyPayload(r.Result) {
		return info, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(r.Result, &raw); err != nil {
		return CardInfo{}, fmt.Errorf("failed to decode card info: %w", err)
	}

	var errs []error
	text := func(key string, dst *string) {
		v, ok := raw[key]
		if !ok {
			return
		}
		s, err := decodeText(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = s
	}
	epoch := func(key string, dst *EpochSeconds) {
		v, ok := raw[key]
		if !ok {
			return
		}
		if err := dst.UnmarshalJSON(v); err != nil {
			*dst = 0
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	text("card_type", &info.CardType)
	text("expires", &info.Expires)
	epoch("expires_ts", &info.ExpiresTs)
	epoch("server_time", &info.ServerTime)

	if len(errs) > 0 {
		return info, fmt.Errorf("failed to decode card info: %w", errors.Join(errs...))
	}
	return info, nil
}

// decodeText accepts a JSON string, number, boolean or null.
func decodeText(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		return "", fmt.Errorf("unexpected JSON value %s", trimmed)
	default:
		var v interface{}
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return "", err
		}
		return string(trimmed), nil
	}
}

// Fields decodes the result payload into a generic map.
func (r *Result) Fields() (map[string]interface{}, error) {
	fields := make(map[string]interface{})
	if isEmptyPayload(r.Result) {
		return fields, nil
	}
	if err := json.Unmarshal(r.Result, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode result fields: %w", err)
	}
	return fields, nil
}

func isEmptyPayload(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// EpochSeconds is a unix timestamp that accepts both JSON numbers and
// numeric strings. Null, empty and missing values decode to zero.
type EpochSeconds int64

// UnmarshalJSON implements json.Unmarshaler.
func (e *EpochSeconds) UnmarshalJSON(data []byte) error {
	s := string(bytes.TrimSpace(data))
	if s == "null" || s == `""` {
		*e = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*e = EpochSeconds(n)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid epoch seconds %q", s)
	}
	*e = EpochSeconds(int64(f))
	return nil
}

// Int64 returns the raw value.
func (e EpochSeconds) Int64() int64 {
	return int64(e)
}
