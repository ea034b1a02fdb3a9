package signer

import "fmt"

// Reference vector published with the card API documentation.
var selfTestParams = map[string]string{
	"app_key":   "blsvh14llhcr96vtboqg",
	"card":      "abc3b65KDZ9Qb7UC685D2MVFR0TPc53BCU1IPD5ad20",
	"device_id": "123",
	"nonce":     "359c22e4-d522-4771-ba8e-4b99cf61b372",
	"timestamp": "1574654197",
}

const (
	selfTestMethod = "POST"
	selfTestHost   = "api.paojiaoyun.com"
	selfTestPath   = "/v1/card/login"
	selfTestSecret = "uiS9M0G8JolpUvlf5NxZ7pwMVinKs73x"
	selfTestSign   = "b5f3cc619998fa45e4c11ef57e712f87"
)

// SelfTestResult reports the outcome of SelfTest.
type SelfTestResult struct {
	Expected string
	Got      string
}

// Passed reports whether the computed signature matched.
func (r SelfTestResult) Passed() bool {
	return r.Expected == r.Got
}

// SelfTest signs the reference request and compares it to the published
// signature.
func SelfTest() (SelfTestResult, error) {
	res := SelfTestResult{
		Expected: selfTestSign,
		Got:      Sign(selfTestMethod, selfTestHost, selfTestPath, selfTestParams, selfTestSecret),
	}
	if !res.Passed() {
		return res, fmt.Errorf("signature self test failed: expected %s, got %s", res.Expected, res.Got)
	}
	return res, nil
}
