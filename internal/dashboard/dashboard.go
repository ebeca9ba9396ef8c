// Package dashboard renders the live flow view in a terminal.
package dashboard

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/srg/flowmon/internal/session"
)

const (
	DefaultWidth  = 60
	DefaultWindow = 60 * time.Second
	noData        = "--"
	clearScreen   = "\033[H\033[2J"
)

var sparks = []rune("▁▂▃▄▅▆▇█")

// View is everything the dashboard shows in one frame.
type View struct {
	Now       time.Time
	Devices   []session.Snapshot
	Available int
	Logging   bool
	LogPath   string
	Status    string
	Events    []string
}

// Options controls rendering.
type Options struct {
	Width      int           // sparkline columns
	Window     time.Duration // time span of the sparkline
	Colors     bool
	EventLines int
	Clear      bool // clear the screen before each frame
}

// Renderer draws views to a writer.
type Renderer struct {
	out  io.Writer
	opts Options
}

// NewRenderer creates a renderer; zero options fall back to defaults.
func NewRenderer(out io.Writer, opts Options) *Renderer {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.EventLines <= 0 {
		opts.EventLines = 8
	}
	return &Renderer{out: out, opts: opts}
}

// TerminalOptions sizes the sparkline to the terminal on fd and enables colors
// and screen clearing only when fd is a terminal.
func TerminalOptions(fd int, window time.Duration) Options {
	opts := Options{Window: window}
	if !term.IsTerminal(fd) {
		return opts
	}
	opts.Colors = true
	opts.Clear = true
	if w, _, err := term.GetSize(fd); err == nil && w > 30 {
		opts.Width = min(w-20, 120)
	}
	return opts
}

// Draw writes one frame.
func (r *Renderer) Draw(v View) error {
	frame := r.Render(v)
	if r.opts.Clear {
		frame = clearScreen + frame
	}
	_, err := io.WriteString(r.out, frame)
	return err
}

// Render formats one frame.
func (r *Renderer) Render(v View) string {
	var b strings.Builder

	b.WriteString(r.bold("flowmon"))
	fmt.Fprintf(&b, "  %s  devices: %d  discovered: %d\n", v.Now.Format("15:04:05"), len(v.Devices), v.Available)
	if v.Logging {
		fmt.Fprintf(&b, "Logging to: %s\n", v.LogPath)
	} else {
		b.WriteString("Logging: off\n")
	}
	if v.Status != "" {
		fmt.Fprintf(&b, "Status: %s\n", v.Status)
	}

	if len(v.Devices) == 0 {
		b.WriteString("\nNo devices. Use 'scan' then 'add <n>'.\n")
	}
	for _, d := range v.Devices {
		b.WriteString("\n")
		r.renderDevice(&b, d, v.Now)
	}

	if len(v.Events) > 0 {
		b.WriteString("\nEvents:\n")
		events := v.Events
		if len(events) > r.opts.EventLines {
			events = events[len(events)-r.opts.EventLines:]
		}
		for _, e := range events {
			b.WriteString("  " + e + "\n")
		}
	}
	return b.String()
}

func (r *Renderer) renderDevice(b *strings.Builder, d session.Snapshot, now time.Time) {
	title := fmt.Sprintf("#%d %s (%s)", d.ID, d.Name, d.Address)
	fmt.Fprintf(b, "%s  [%s]\n", r.paint(d.Color, title), StatusLabel(d))

	st := d.Stats
	fmt.Fprintf(b, "  Current: %s  Min: %s  Max: %s  Avg: %s  Total: %s\n",
		Flow(st.Current, st.Count > 0),
		Flow(st.Min, st.HasData()),
		Flow(st.Max, st.HasData()),
		Flow(st.Avg, st.Count > 0),
		Volume(st.Volume, st.Count > 0),
	)

	if !d.State.Linked() {
		return
	}
	lo, hi := YRange(d.Samples)
	line := Sparkline(d.Samples, now.Add(-r.opts.Window), now, r.opts.Width, lo, hi)
	fmt.Fprintf(b, "  %s %s..%s\n", r.paint(d.Color, line), fixed(lo), fixed(hi))
}

// StatusLabel is the connection status shown next to a device.
func StatusLabel(d session.Snapshot) string {
	switch {
	case d.Busy && d.State == session.Connecting:
		return "Connecting..."
	case d.Busy:
		return "Disconnecting..."
	case d.State == session.Monitoring:
		return "Monitoring"
	case d.State == session.Connected:
		return "Connected"
	default:
		return "Disconnected"
	}
}

// Flow formats a rate, or "--" when there is no data.
func Flow(v float64, ok bool) string {
	if !ok || math.IsInf(v, 0) || math.IsNaN(v) {
		return noData
	}
	return fixed(v) + " L/min"
}

// Volume formats an accumulated volume, or "--" when there is no data.
func Volume(v float64, ok bool) string {
	if !ok {
		return noData
	}
	return strconv.FormatFloat(v, 'f', 3, 64) + " L"
}

func fixed(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// YRange is the vertical range of the graph: the sample range padded by 10%,
// ±0.5 around a flat series, and 0..10 with fewer than two samples.
func YRange(samples []session.Sample) (lo, hi float64) {
	if len(samples) < 2 {
		return 0, 10
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		lo = math.Min(lo, s.Value)
		hi = math.Max(hi, s.Value)
	}
	span := hi - lo
	if span > 0 {
		return lo - 0.1*span, hi + 0.1*span
	}
	return lo - 0.5, lo + 0.5
}

// Sparkline plots the samples inside [from, to] across width columns.
// Each column shows the newest sample in its slice of time; empty columns are blank.
func Sparkline(samples []session.Sample, from, to time.Time, width int, lo, hi float64) string {
	if width <= 0 || !to.After(from) {
		return ""
	}
	cols := make([]rune, width)
	for i := range cols {
		cols[i] = ' '
	}

	span := to.Sub(from)
	for _, s := range samples {
		if s.Time.Before(from) || s.Time.After(to) {
			continue
		}
		col := int(float64(s.Time.Sub(from)) / float64(span) * float64(width))
		if col >= width {
			col = width - 1
		}
		cols[col] = level(s.Value, lo, hi)
	}
	return string(cols)
}

func level(v, lo, hi float64) rune {
	if hi <= lo {
		return sparks[0]
	}
	idx := int((v - lo) / (hi - lo) * float64(len(sparks)))
	idx = max(0, min(idx, len(sparks)-1))
	return sparks[idx]
}

func (r *Renderer) bold(s string) string {
	if !r.opts.Colors {
		return s
	}
	c := color.New(color.Bold)
	c.EnableColor()
	return c.Sprint(s)
}

func (r *Renderer) paint(hex, s string) string {
	if !r.opts.Colors {
		return s
	}
	red, green, blue, ok := parseHex(hex)
	if !ok {
		return s
	}
	c := color.RGB(red, green, blue)
	c.EnableColor()
	return c.Sprint(s)
}

func parseHex(hex string) (r, g, b int, ok bool) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return int(v>>16&0xff), int(v>>8&0xff), int(v&0xff), true
}
