// Package limiter implements the anti-farming signals: request fingerprints, the
// challenge-creation gates, timing anomaly detection and the relying-party burst limiter.
package limiter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/and161185/agentproof/internal/errs"
)

// Gate reasons, in evaluation order.
const (
	ReasonIPHourly          = "ip_hourly_limit"
	ReasonFingerprintHourly = "fingerprint_hourly_limit"
	ReasonCooldown          = "cooldown"
	ReasonIdentityFarming   = "identity_farming"
)

// Decision is the result of Check. Signal names the request signal that tripped the gate.
type Decision struct {
	Allowed    bool
	Reason     string
	Signal     string
	RetryAfter time.Duration
}

// Denial is returned by services when a gate denies a request. It unwraps to errs.ErrRateLimited.
type Denial struct{ Decision Decision }

func (d *Denial) Error() string {
	return fmt.Sprintf("rate limited: %s (%s), retry after %s", d.Decision.Reason, d.Decision.Signal, d.Decision.RetryAfter.Round(time.Second))
}

func (d *Denial) Unwrap() error { return errs.ErrRateLimited }

// Fingerprint derives a coarse device-class identifier from request headers and the
// first three octets of the IP. 32 hex chars of SHA-256.
func Fingerprint(userAgent, acceptLanguage, acceptEncoding, ip string) string {
	h := sha256.Sum256([]byte(strings.Join([]string{
		userAgent, acceptLanguage, acceptEncoding, CoarsenIP(ip),
	}, "|")))
	return hex.EncodeToString(h[:])[:32]
}

// CoarsenIP keeps the first three IPv4 octets (or IPv6 hextets) and drops any port.
func CoarsenIP(ip string) string {
	host := ip
	if h, _, err := net.SplitHostPort(ip); err == nil {
		host = h
	}
	parsed := net.ParseIP(host)
	if parsed == nil {
		return host
	}
	if v4 := parsed.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d", v4[0], v4[1], v4[2])
	}
	v6 := parsed.To16()
	return fmt.Sprintf("%x:%x:%x", uint16(v6[0])<<8|uint16(v6[1]), uint16(v6[2])<<8|uint16(v6[3]), uint16(v6[4])<<8|uint16(v6[5]))
}

// HostIP strips a port from a remote address, returning the input when there is none.
func HostIP(addr string) string {
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return addr
}
