package sslcommerz

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// VerifySignature checks the verify_sign/verify_key pair posted on callbacks.
// present is false when the payload carries no signature at all.
func (c *Client) VerifySignature(values url.Values) (ok bool, present bool) {
	return verifySignature(values, c.storePassword)
}

func verifySignature(values url.Values, storePassword string) (bool, bool) {
	sign := strings.TrimSpace(values.Get("verify_sign"))
	keyList := strings.TrimSpace(values.Get("verify_key"))
	if sign == "" || keyList == "" {
		return false, false
	}
	expected := signatureFor(values, strings.Split(keyList, ","), storePassword)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(sign))) == 1, true
}

// Sign sets verify_sign and verify_key the way the gateway does, for sandbox
// tooling and tests that emulate callbacks.
func Sign(values url.Values, keys []string, storePassword string) {
	values.Set("verify_key", strings.Join(keys, ","))
	values.Set("verify_sign", signatureFor(values, keys, storePassword))
}

// signatureFor hashes the listed fields plus md5(store_passwd), sorted by key.
func signatureFor(values url.Values, keys []string, storePassword string) string {
	fields := map[string]string{}
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		fields[key] = values.Get(key)
	}
	passwordHash := md5.Sum([]byte(storePassword))
	fields["store_passwd"] = hex.EncodeToString(passwordHash[:])

	sorted := make([]string, 0, len(fields))
	for k := range fields {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	parts := make([]string, 0, len(sorted))
	for _, k := range sorted {
		parts = append(parts, k+"="+fields[k])
	}
	digest := md5.Sum([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(digest[:])
}
