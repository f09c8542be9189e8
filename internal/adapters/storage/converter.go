package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
)

// toModel converts a report into its database model.
func toModel(r *domain.Report) (ReportModel, error) {
	stats, err := json.Marshal(r.Stats)
	if err != nil {
		return ReportModel{}, fmt.Errorf("encode stats: %w", err)
	}

	m := ReportModel{
		ID:             r.ID,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		InjectName:     r.Inject.Name,
		InjectMAC:      r.Inject.MAC,
		InjectDriver:   r.Inject.Driver,
		InjectChannel:  r.Inject.Channel,
		CaptureName:    r.Capture.Name,
		CaptureMAC:     r.Capture.MAC,
		CaptureDriver:  r.Capture.Driver,
		CaptureChannel: r.Capture.Channel,
		Peer:           r.Peer,
		Stats:          string(stats),
	}
	if ap := r.AccessPoint; ap != nil {
		m.APBSSID = ap.BSSID
		m.APSSID = ap.SSID
		m.APSignal = int(ap.SignalDBM)
		m.APChannel = ap.Channel
		m.APCipher = ap.Cipher
	}

	for i, v := range r.Verdicts {
		checks, err := json.Marshal(v.Checks)
		if err != nil {
			return ReportModel{}, fmt.Errorf("encode checks: %w", err)
		}
		m.Verdicts = append(m.Verdicts, VerdictModel{
			ReportID:  r.ID,
			Position:  i,
			Probe:     v.Probe,
			Variant:   v.Variant,
			Verdict:   string(v.Verdict),
			Rationale: v.Rationale,
			Checks:    string(checks),
			Injected:  v.Injected,
			Captured:  v.Captured,
			Duration:  int64(v.Duration),
		})
	}
	for _, e := range r.IVReuses {
		m.IVReuses = append(m.IVReuses, toIVReuseModel(r.ID, e))
	}
	return m, nil
}

// toDomain converts a database model back into a report.
func toDomain(m ReportModel) (*domain.Report, error) {
	r := &domain.Report{
		ID:         m.ID,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
		Inject: domain.InterfaceInfo{
			Name:    m.InjectName,
			MAC:     m.InjectMAC,
			Driver:  m.InjectDriver,
			Channel: m.InjectChannel,
		},
		Capture: domain.InterfaceInfo{
			Name:    m.CaptureName,
			MAC:     m.CaptureMAC,
			Driver:  m.CaptureDriver,
			Channel: m.CaptureChannel,
		},
		Peer: m.Peer,
	}
	if m.Stats != "" {
		if err := json.Unmarshal([]byte(m.Stats), &r.Stats); err != nil {
			return nil, fmt.Errorf("decode stats of report %s: %w", m.ID, err)
		}
	}
	if m.APBSSID != "" {
		r.AccessPoint = &domain.AccessPoint{
			BSSID:     m.APBSSID,
			SSID:      m.APSSID,
			SignalDBM: int8(m.APSignal),
			Channel:   m.APChannel,
			Cipher:    m.APCipher,
		}
	}

	r.Verdicts = make([]domain.TestVerdict, 0, len(m.Verdicts))
	for _, v := range m.Verdicts {
		var checks []domain.CheckResult
		if v.Checks != "" {
			if err := json.Unmarshal([]byte(v.Checks), &checks); err != nil {
				return nil, fmt.Errorf("decode checks of report %s: %w", m.ID, err)
			}
		}
		r.Verdicts = append(r.Verdicts, domain.TestVerdict{
			Probe:     v.Probe,
			Variant:   v.Variant,
			Verdict:   domain.Verdict(v.Verdict),
			Rationale: v.Rationale,
			Checks:    checks,
			Injected:  v.Injected,
			Captured:  v.Captured,
			Duration:  time.Duration(v.Duration),
		})
	}
	for _, e := range m.IVReuses {
		r.IVReuses = append(r.IVReuses, toIVReuseEvent(e))
	}
	return r, nil
}

func toIVReuseModel(reportID string, e domain.IVReuseEvent) IVReuseModel {
	return IVReuseModel{
		ReportID:    reportID,
		IV:          int64(e.IV),
		Transmitter: e.Transmitter,
		Receiver:    e.Receiver,
		PreviousSeq: int(e.PreviousSeq),
		Seq:         int(e.Seq),
		FirstSeen:   e.FirstSeen,
		SeenAt:      e.SeenAt,
		Channel:     e.Channel,
		Cipher:      e.Cipher,
		Approximate: e.ApproximateIV,
	}
}

func toIVReuseEvent(m IVReuseModel) domain.IVReuseEvent {
	return domain.IVReuseEvent{
		IV:          uint64(m.IV),
		Transmitter: m.Transmitter,
		Receiver:    m.Receiver,
		PreviousSeq: uint16(m.PreviousSeq),
		Seq:         uint16(m.Seq),
		FirstSeen:   m.FirstSeen,
		SeenAt:      m.SeenAt,
		Channel:     m.Channel,
		Cipher:      m.Cipher,

		ApproximateIV: m.Approximate,
	}
}
