package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
)

// printer renders reports with colours suited to its writer.
type printer struct {
	w        io.Writer
	title    lipgloss.Style
	meta     lipgloss.Style
	verdicts map[domain.Verdict]lipgloss.Style
}

func newPrinter(w io.Writer) *printer {
	r := lipgloss.NewRenderer(w)
	return &printer{
		w:     w,
		title: r.NewStyle().Bold(true),
		meta:  r.NewStyle().Foreground(lipgloss.Color("8")),
		verdicts: map[domain.Verdict]lipgloss.Style{
			domain.VerdictPass:         r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
			domain.VerdictFail:         r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
			domain.VerdictSuspicious:   r.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
			domain.VerdictInconclusive: r.NewStyle().Foreground(lipgloss.Color("8")),
		},
	}
}

// verdictOrder is the order of the summary line.
var verdictOrder = []domain.Verdict{
	domain.VerdictPass,
	domain.VerdictFail,
	domain.VerdictSuspicious,
	domain.VerdictInconclusive,
}

func (p *printer) verdictLabel(v domain.Verdict) string {
	style, ok := p.verdicts[v]
	if !ok {
		style = p.meta
	}
	return style.Width(len(domain.VerdictInconclusive) + 2).Render(string(v))
}

func describeInterface(info domain.InterfaceInfo) string {
	parts := []string{info.Name}
	if info.MAC != "" {
		parts = append(parts, info.MAC)
	}
	if info.Driver != "" {
		parts = append(parts, info.Driver)
	}
	if info.Channel > 0 {
		parts = append(parts, fmt.Sprintf("channel %d", info.Channel))
	}
	return strings.Join(parts, "  ")
}

func (p *printer) report(r *domain.Report) {
	w := p.w
	fmt.Fprintln(w, p.title.Render("Injection report "+r.ID))
	fmt.Fprintln(w, p.meta.Render(fmt.Sprintf("started %s, took %s",
		r.StartedAt.Format(time.DateTime), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))))
	fmt.Fprintf(w, "inject   %s\n", describeInterface(r.Inject))
	if r.Capture.Name != "" && r.Capture != r.Inject {
		fmt.Fprintf(w, "capture  %s\n", describeInterface(r.Capture))
	}
	if r.Peer != "" {
		fmt.Fprintf(w, "peer     %s\n", r.Peer)
	}
	if ap := r.AccessPoint; ap != nil {
		fmt.Fprintf(w, "ap       %s %q %d dBm\n", ap.BSSID, ap.SSID, ap.SignalDBM)
	}
	fmt.Fprintln(w)

	for _, v := range r.Verdicts {
		fmt.Fprintf(w, "%s %-24s %s\n", p.verdictLabel(v.Verdict), v.Name(), v.Rationale)
		if failed := v.FailedChecks(); len(failed) > 0 {
			fmt.Fprintln(w, p.meta.Render("               failed checks: "+strings.Join(failed, ", ")))
		}
	}

	if len(r.IVReuses) > 0 {
		fmt.Fprintln(w)
		p.ivReuses(r.IVReuses)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, summaryLine(r))
	s := r.Stats
	fmt.Fprintln(w, p.meta.Render(fmt.Sprintf("sent %d, received %d, dropped %d (%d reflected), %d errors",
		s.FramesSent, s.FramesReceived, s.Dropped(), s.DroppedReflected, s.ErrorCount)))
}

func summaryLine(r *domain.Report) string {
	counts := r.Summary()
	parts := make([]string, 0, len(verdictOrder))
	for _, v := range verdictOrder {
		if n := counts[v]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, v))
		}
	}
	if len(parts) == 0 {
		return "no verdicts"
	}
	return strings.Join(parts, ", ")
}

func (p *printer) reportList(reports []domain.Report) {
	w := p.w
	if len(reports) == 0 {
		fmt.Fprintln(w, "No reports stored.")
		return
	}
	fmt.Fprintln(w, p.title.Render(fmt.Sprintf("%-36s  %-19s  %-12s  %s", "ID", "STARTED", "INJECT", "VERDICTS")))
	for i := range reports {
		r := &reports[i]
		fmt.Fprintf(w, "%-36s  %-19s  %-12s  %s\n", r.ID, r.StartedAt.Format(time.DateTime), r.Inject.Name, summaryLine(r))
	}
}

func (p *printer) ivReuses(events []domain.IVReuseEvent) {
	w := p.w
	if len(events) == 0 {
		fmt.Fprintln(w, "No IV reuse detected.")
		return
	}
	fmt.Fprintln(w, p.title.Render(fmt.Sprintf("%-19s  %-17s  %-14s  %-9s  %s", "SEEN", "TRANSMITTER", "IV", "SEQ", "CIPHER")))
	for _, ev := range events {
		cipher := ev.Cipher
		if cipher == "" {
			cipher = "unknown"
		}
		if ev.ApproximateIV {
			cipher += " (approximate IV)"
		}
		fmt.Fprintf(w, "%-19s  %-17s  %#-14x  %4d>%-4d  %s\n",
			ev.SeenAt.Format(time.DateTime), ev.Transmitter, ev.IV, ev.PreviousSeq, ev.Seq, cipher)
	}
}
