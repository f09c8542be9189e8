package domain

import (
	"fmt"
	"strings"
	"time"
)

// Verdict is the outcome of one probe.
type Verdict string

const (
	VerdictPass         Verdict = "PASS"
	VerdictFail         Verdict = "FAIL"
	VerdictSuspicious   Verdict = "SUSPICIOUS"
	VerdictInconclusive Verdict = "INCONCLUSIVE"
)

// Probe names, in battery order.
const (
	ProbeFragmentation  = "fragmentation"
	ProbeFieldIntegrity = "field-integrity"
	ProbeOrdering       = "ordering"
	ProbeAck            = "ack"
)

// AddressPolicy selects the addresses a probe frame carries.
type AddressPolicy string

const (
	// AddressSpoofed uses locally invented addresses no station owns.
	AddressSpoofed AddressPolicy = "spoofed"
	// AddressReal uses the peer as receiver and the injecting interface as sender.
	AddressReal AddressPolicy = "real"
)

// CheckResult is one sub-check of a probe.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// TestVerdict is the structured result of a probe. Rationale is always set.
type TestVerdict struct {
	Probe     string        `json:"probe"`
	Variant   string        `json:"variant,omitempty"`
	Verdict   Verdict       `json:"verdict"`
	Rationale string        `json:"rationale"`
	Checks    []CheckResult `json:"checks,omitempty"`
	Injected  int           `json:"injected"`
	Captured  int           `json:"captured"`
	Duration  time.Duration `json:"duration"`
}

// Name returns "probe" or "probe/variant".
func (v TestVerdict) Name() string {
	if v.Variant == "" {
		return v.Probe
	}
	return v.Probe + "/" + v.Variant
}

// FailedChecks lists the names of failing sub-checks.
func (v TestVerdict) FailedChecks() []string {
	var out []string
	for _, c := range v.Checks {
		if !c.Passed {
			out = append(out, c.Name)
		}
	}
	return out
}

func (v TestVerdict) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.Name(), v.Verdict, v.Rationale)
}

// NewVerdict builds a verdict and formats its rationale.
func NewVerdict(probe, variant string, verdict Verdict, format string, args ...any) TestVerdict {
	return TestVerdict{
		Probe:     probe,
		Variant:   variant,
		Verdict:   verdict,
		Rationale: fmt.Sprintf(format, args...),
	}
}

// VerdictFromChecks is PASS when every check passed, otherwise FAIL naming
// the failing checks.
func VerdictFromChecks(probe, variant string, checks []CheckResult) TestVerdict {
	v := TestVerdict{Probe: probe, Variant: variant, Checks: checks}
	failed := v.FailedChecks()
	if len(failed) == 0 {
		v.Verdict = VerdictPass
		v.Rationale = "all fields preserved"
		return v
	}
	v.Verdict = VerdictFail
	details := make([]string, 0, len(failed))
	for _, c := range checks {
		if !c.Passed {
			if c.Detail != "" {
				details = append(details, c.Name+": "+c.Detail)
			} else {
				details = append(details, c.Name)
			}
		}
	}
	v.Rationale = "failed " + strings.Join(details, "; ")
	return v
}
