//go:build go1.18

package domain

import (
	"testing"
	"time"
)

// FuzzParseIssueKey tests that parsing never panics on arbitrary input and
// that accepted values round-trip through String.
//
// Justification: trust boundary function fed directly from URL parameters
// and validator request bodies; must handle arbitrary input safely.
func FuzzParseIssueKey(f *testing.F) {
	f.Add("")
	f.Add("octocat/hello-world#42")
	f.Add("octocat/hello-world#-1")
	f.Add("octocat#1")
	f.Add("a/b#99999999999999999999")
	f.Add("'; DROP TABLE issues;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add("owner/repo#42\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		key, err := ParseIssueKey(input)
		if err != nil {
			return
		}
		roundTrip, err2 := ParseIssueKey(key.String())
		if err2 != nil {
			t.Errorf("accepted key failed round-trip: %v", err2)
		}
		if roundTrip != key {
			t.Error("round-trip changed key value")
		}
		if key.Number <= 0 {
			t.Error("accepted key with non-positive issue number")
		}
	})
}

// FuzzEpochAt checks the epoch derivation never panics and is monotonic in t.
func FuzzEpochAt(f *testing.F) {
	f.Add(int64(0), int64(3600))
	f.Add(int64(1700000000), int64(0))
	f.Add(int64(-1), int64(-5))

	f.Fuzz(func(t *testing.T, unix int64, intervalSec int64) {
		interval := time.Duration(intervalSec) * time.Second
		e := EpochAt(time.Unix(unix, 0), interval)
		later := EpochAt(time.Unix(unix+100000, 0), interval)
		if later < e {
			t.Errorf("epoch went backwards: %d then %d", e, later)
		}
	})
}
