package authcore

import (
	"time"

	"github.com/shoplane/authcore/internal/stores"
)

// Suspicion scoring weights. The score is advisory signal for the caller
// (step-up prompts, notification emails); it never blocks the login.
const (
	suspicionThreshold = 30

	weightUnknownIP       = 20
	weightUnknownDevice   = 30
	weightUntrustedDevice = 15
	weightIPFailures      = 25
	weightOddHour         = 10

	ipFailureThreshold = 3
	knownIPWindow      = 10
)

// suspicionInput is everything the scorer looks at, gathered before the
// current attempt is appended to history.
type suspicionInput struct {
	meta       ClientMeta
	history    []*stores.Attempt
	device     *stores.DeviceRecord
	ipFailures int
	loginTime  time.Time
}

// scoreLogin evaluates one successful login against the account's recent
// behavior. Pure: all inputs are passed in, nothing is read or written.
func scoreLogin(in suspicionInput) *SuspicionResult {
	result := &SuspicionResult{}

	if in.meta.IP != "" && ipIsUnknown(in.meta.IP, in.history) {
		result.Score += weightUnknownIP
		result.Reasons = append(result.Reasons, "ip not seen in recent successful logins")
	}

	if in.meta.DeviceID != "" {
		switch {
		case in.device == nil:
			result.Score += weightUnknownDevice
			result.Reasons = append(result.Reasons, "unknown device")
		case !in.device.Trusted:
			result.Score += weightUntrustedDevice
			result.Reasons = append(result.Reasons, "device not trusted")
		}
	}

	if in.ipFailures >= ipFailureThreshold {
		result.Score += weightIPFailures
		result.Reasons = append(result.Reasons, "recent failed attempts from this ip")
	}

	if hour := in.loginTime.Hour(); hour < 6 {
		result.Score += weightOddHour
		result.Reasons = append(result.Reasons, "login at unusual hour")
	}

	if result.Score > 100 {
		result.Score = 100
	}
	result.Suspicious = result.Score >= suspicionThreshold
	return result
}

// ipIsUnknown reports whether ip appears in none of the last successful
// attempts. An account with no successful history yet gives no signal.
func ipIsUnknown(ip string, history []*stores.Attempt) bool {
	seen := 0
	for _, attempt := range history {
		if !attempt.Success {
			continue
		}
		if attempt.IP == ip {
			return false
		}
		seen++
		if seen >= knownIPWindow {
			break
		}
	}
	return seen > 0
}
