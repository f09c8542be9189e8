package injection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
	"github.com/lcalzada-xor/wprobe/internal/core/services/fragment"
)

// Sequence numbers the probes stamp on their frames.
const (
	fieldsSeq = 30
	probeSeq  = 33
)

// orderSC is written verbatim into the sequence control field of the
// ordering frames: sequence 2, fragment 1.
const orderSC = 33

// Priorities injected by the ordering probe: three low, then one high.
var orderPriorities = []uint8{2, 2, 2, 6}

// noPeer is the receiver of real-address frames when no peer is known.
var noPeer = net.HardwareAddr{0, 0, 0, 0, 0, 0}

// header returns a plaintext data frame addressed according to policy.
func (o *Orchestrator) header(target Target, policy domain.AddressPolicy) domain.Frame {
	f := domain.Frame{
		Kind:    domain.KindDataPlaintext,
		Type:    domain.TypeData,
		Subtype: domain.SubtypeData,
	}
	switch policy {
	case domain.AddressSpoofed:
		f.Addr1 = o.cfg.SpoofedReceiver
		f.Addr2 = o.cfg.SpoofedSender
	default:
		f.Addr1 = target.Peer
		if f.Addr1 == nil {
			f.Addr1 = noPeer
		}
		f.Addr2 = target.Own
	}
	f.Addr3 = f.Addr1
	return f
}

func withQoS(f domain.Frame, tid uint8) domain.Frame {
	f.Kind = domain.KindQoSData
	f.Subtype = domain.SubtypeQoSData
	f.QoS = &domain.QoSControl{TID: tid}
	return f
}

func failFromError(probe, variant string, err error) domain.TestVerdict {
	if errors.Is(err, domain.ErrNoCapture) {
		return domain.NewVerdict(probe, variant, domain.VerdictFail, "%v: the injection pipeline may be dropping frames", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewVerdict(probe, variant, domain.VerdictInconclusive, "interrupted: %v", err)
	}
	return domain.NewVerdict(probe, variant, domain.VerdictFail, "aborted: %v", err)
}

// FragmentationProbe injects the first fragment of a protected QoS data
// frame with valid-looking addresses. It passes when the fragment is
// captured at least once.
func (o *Orchestrator) FragmentationProbe(ctx context.Context, target Target) domain.TestVerdict {
	return o.traced(ctx, domain.ProbeFragmentation, "", func(ctx context.Context) domain.TestVerdict {
		body, err := o.payloads.EAPOL()
		if err != nil {
			return failFromError(domain.ProbeFragmentation, "", err)
		}

		h := withQoS(o.header(target, domain.AddressReal), 2)
		h.Kind = domain.KindDataProtected
		h.Flags |= domain.FlagProtected
		h.SetSequence(probeSeq, 0)
		frags, err := fragment.Build(h, body, 2)
		if err != nil {
			return failFromError(domain.ProbeFragmentation, "", err)
		}

		// Only the first fragment is sent; it carries the more-fragments flag.
		captured, err := o.injectAndCapture(ctx, frags[0], 1)
		if err != nil {
			v := failFromError(domain.ProbeFragmentation, "", err)
			v.Injected = 1
			return v
		}
		if len(captured) == 0 {
			v := failFromError(domain.ProbeFragmentation, "", domain.ErrNoCapture)
			v.Rationale = "fragmented frame with valid addresses was not captured; later probes may fail too"
			v.Injected = 1
			return v
		}
		v := domain.NewVerdict(domain.ProbeFragmentation, "", domain.VerdictPass,
			"fragmented protected frame with valid addresses was transmitted")
		v.Injected, v.Captured = 1, len(captured)
		return v
	})
}

// fieldCheck is one sub-check of the field-integrity probe.
type fieldCheck struct {
	name  string
	frame func(base domain.Frame, eapol []byte) domain.Frame
	holds func(sent domain.Frame, got *domain.Frame) (bool, string)
}

var fieldChecks = []fieldCheck{
	{
		name: "eapol",
		frame: func(base domain.Frame, eapol []byte) domain.Frame {
			base.SetSequence(fieldsSeq, 0)
			base.Body = eapol
			return base
		},
		holds: func(_ domain.Frame, got *domain.Frame) (bool, string) {
			if got.CarriesEAPOL() {
				return true, ""
			}
			return false, fmt.Sprintf("captured ethertype %#04x, want EAPOL", got.EtherType)
		},
	},
	{
		name: "sequence-number",
		frame: func(base domain.Frame, _ []byte) domain.Frame {
			base.SetSequence(fieldsSeq, 0)
			return base
		},
		holds: func(sent domain.Frame, got *domain.Frame) (bool, string) {
			if got.SequenceControl == sent.SequenceControl {
				return true, ""
			}
			return false, fmt.Sprintf("sequence control %#04x overwritten with %#04x", sent.SequenceControl, got.SequenceControl)
		},
	},
	{
		name: "fragment-number",
		frame: func(base domain.Frame, _ []byte) domain.Frame {
			base.SetSequence(fieldsSeq, 1)
			return base
		},
		holds: func(sent domain.Frame, got *domain.Frame) (bool, string) {
			if got.FragmentNumber() == sent.FragmentNumber() {
				return true, ""
			}
			return false, fmt.Sprintf("fragment number %d overwritten with %d", sent.FragmentNumber(), got.FragmentNumber())
		},
	},
	{
		name: "priority",
		frame: func(base domain.Frame, _ []byte) domain.Frame {
			f := withQoS(base, 2)
			f.SetSequence(fieldsSeq, 0)
			return f
		},
		holds: func(sent domain.Frame, got *domain.Frame) (bool, string) {
			if got.Priority() == sent.Priority() {
				return true, ""
			}
			if got.QoS == nil {
				return false, "QoS field stripped"
			}
			return false, fmt.Sprintf("QoS TID %d overwritten with %d", sent.Priority(), got.Priority())
		},
	},
}

// FieldIntegrityProbe checks that EAPOL payloads, sequence and fragment
// numbers, and QoS priorities survive injection. Each sub-check injects its
// own frame; any mismatch fails the whole probe.
func (o *Orchestrator) FieldIntegrityProbe(ctx context.Context, target Target, policy domain.AddressPolicy) domain.TestVerdict {
	variant := string(policy)
	return o.traced(ctx, domain.ProbeFieldIntegrity, variant, func(ctx context.Context) domain.TestVerdict {
		eapol, err := o.payloads.EAPOL()
		if err != nil {
			return failFromError(domain.ProbeFieldIntegrity, variant, err)
		}
		base := o.header(target, policy)

		checks := make([]domain.CheckResult, 0, len(fieldChecks))
		captured := 0
		for _, fc := range fieldChecks {
			sent := fc.frame(base.Clone(), eapol)
			frames, err := o.injectAndCapture(ctx, sent, 1)
			if err != nil {
				v := failFromError(domain.ProbeFieldIntegrity, variant, fmt.Errorf("%s: %w", fc.name, err))
				v.Checks = checks
				v.Injected, v.Captured = len(checks)+1, captured
				return v
			}
			if len(frames) == 0 {
				checks = append(checks, domain.CheckResult{Name: fc.name, Detail: domain.ErrNoCapture.Error()})
				continue
			}
			captured += len(frames)

			res := domain.CheckResult{Name: fc.name, Passed: true}
			for _, got := range frames {
				if ok, detail := fc.holds(sent, got); !ok {
					res.Passed, res.Detail = false, detail
					break
				}
			}
			checks = append(checks, res)
		}

		v := domain.VerdictFromChecks(domain.ProbeFieldIntegrity, variant, checks)
		if v.Verdict == domain.VerdictPass {
			v.Rationale = fmt.Sprintf("all tested fields preserved with %s addresses", policy)
		}
		v.Injected, v.Captured = len(fieldChecks), captured
		return v
	})
}

// OrderingProbe injects three low-priority frames followed by one
// high-priority frame under a single label, and checks that the captured
// priorities never decrease.
func (o *Orchestrator) OrderingProbe(ctx context.Context, target Target, policy domain.AddressPolicy) domain.TestVerdict {
	variant := string(policy)
	return o.traced(ctx, domain.ProbeOrdering, variant, func(ctx context.Context) domain.TestVerdict {
		label := o.newLabel()
		o.activeLabel = label
		defer func() { o.activeLabel = nil }()

		base := o.header(target, policy)
		for i, tid := range orderPriorities {
			f := withQoS(base.Clone(), tid)
			f.SequenceControl = orderSC
			if err := o.send(f, label); err != nil {
				v := failFromError(domain.ProbeOrdering, variant, err)
				v.Injected = i + 1
				return v
			}
		}

		frames, err := o.capture(ctx, label, 0, o.cfg.OrderTimeout, func(f *domain.Frame) bool {
			return f.QoS != nil
		})
		if err != nil {
			v := failFromError(domain.ProbeOrdering, variant, err)
			v.Injected, v.Captured = len(orderPriorities), len(frames)
			return v
		}

		got := make([]uint8, len(frames))
		for i, f := range frames {
			got[i] = f.Priority()
		}
		v := EvaluateOrdering(variant, orderPriorities, got)
		v.Injected, v.Captured = len(orderPriorities), len(frames)
		return v
	})
}

// EvaluateOrdering compares captured priorities against the injected ones.
// Reordering is a FAIL even on a partial capture; a partial capture that
// shows no reordering is INCONCLUSIVE.
func EvaluateOrdering(variant string, injected, captured []uint8) domain.TestVerdict {
	if len(captured) == 0 {
		return failFromError(domain.ProbeOrdering, variant, domain.ErrNoCapture)
	}
	if !slices.IsSorted(captured) {
		return domain.NewVerdict(domain.ProbeOrdering, variant, domain.VerdictFail,
			"frames with different QoS priorities were reordered: captured %v after injecting %v", captured, injected)
	}
	for _, p := range injected {
		if !slices.Contains(captured, p) {
			return domain.NewVerdict(domain.ProbeOrdering, variant, domain.VerdictInconclusive,
				"%v: priority %d never captured (captured %v)", domain.ErrAmbiguousResult, p, captured)
		}
	}
	if len(captured) < len(injected) {
		return domain.NewVerdict(domain.ProbeOrdering, variant, domain.VerdictInconclusive,
			"%v: captured %d of %d frames (%v)", domain.ErrAmbiguousResult, len(captured), len(injected), captured)
	}
	return domain.NewVerdict(domain.ProbeOrdering, variant, domain.VerdictPass,
		"frames with different QoS priorities kept their order: %v", captured)
}
