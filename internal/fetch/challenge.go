package fetch

import (
	"bytes"
	"net/http"
)

// challengeMarkers are substrings observed in Cloudflare-style interstitial
// bodies. This is a best-effort signature match, not a parser: any false
// positive only costs one extra CfSolver round-trip, and any false negative
// only costs one failed provider fetch (absorbed per spec 7).
var challengeMarkers = [][]byte{
	[]byte("Just a moment"),
	[]byte("cf-browser-verification"),
	[]byte("cf_chl_opt"),
	[]byte("Checking your browser before accessing"),
	[]byte("__cf_chl_rt_tk"),
}

// IsChallengeResponse reports whether a response looks like an anti-bot
// interstitial: a 403/5xx status paired with a known marker string in the
// body (spec glossary: "Challenge"). Callers invoke CfSolver only after this
// returns true (spec 4.4 Policy) -- C4 is never the default fetch path.
func IsChallengeResponse(status int, body []byte) bool {
	if status != http.StatusForbidden && status < 500 {
		return false
	}
	for _, marker := range challengeMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}
