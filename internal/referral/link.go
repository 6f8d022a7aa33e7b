package referral

import (
	"fmt"
	"net/url"
)

// refParam is the query parameter a referral link carries its code in.
const refParam = "ref"

// BuildLink builds a shareable referral link for the given referral code
// (the user's username, or their numeric ID as fallback).
func BuildLink(base, code string) string {
	u, err := url.Parse(base)
	if err != nil {
		// A broken configured base degrades to a best-effort string; links
		// are cosmetic, not load-bearing.
		return base + "?" + refParam + "=" + url.QueryEscape(code)
	}
	q := u.Query()
	q.Set(refParam, code)
	u.RawQuery = q.Encode()
	return u.String()
}

// ParseLink extracts the referral code from a link built by BuildLink.
func ParseLink(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse referral link: %w", err)
	}
	code := u.Query().Get(refParam)
	if code == "" {
		return "", fmt.Errorf("referral link has no %s parameter", refParam)
	}
	return code, nil
}
