package effects

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ivlev/stopcast/internal/scenario"
)

// Effect строит фрагмент filter_complex для звуковой подложки экстренного сообщения.
type Effect interface {
	// Source is the input file fed to ffmpeg.
	Source() string
	// GenerateFilter turns input label in into label out, trimmed to duration
	// seconds and delayed by delayMs.
	GenerateFilter(in, out string, duration float64, delayMs int64) string
}

// LoopEffect бесконечно зацикливает короткий звук и обрезает его до длительности события.
type LoopEffect struct {
	Path string
	Gain float64
}

func (e LoopEffect) Source() string { return e.Path }

func (e LoopEffect) GenerateFilter(in, out string, duration float64, delayMs int64) string {
	// size=2e+09 снимает ограничение aloop на число сэмплов в буфере
	return fmt.Sprintf("[%s]aloop=loop=-1:size=2e+09,atrim=0:%s,volume=%s,adelay=%d|%d[%s]",
		in, FormatSeconds(duration), FormatGain(e.Gain), delayMs, delayMs, out)
}

// Registry maps emergency types to their underlay.
type Registry map[scenario.EmergencyType]Effect

// NewRegistry builds a registry from type -> file name pairs resolved against mediaDir.
// Unknown types are ignored.
func NewRegistry(mediaDir string, files map[string]string, gain float64) Registry {
	r := make(Registry, len(files))
	for typ, file := range files {
		t := scenario.EmergencyType(typ)
		if !t.Valid() || file == "" {
			continue
		}
		path := file
		if !filepath.IsAbs(path) {
			path = filepath.Join(mediaDir, file)
		}
		r[t] = LoopEffect{Path: path, Gain: gain}
	}
	return r
}

func (r Registry) For(t scenario.EmergencyType) (Effect, bool) {
	e, ok := r[t]
	return e, ok
}

// Sources lists effect files in a stable order, for startup checks.
func (r Registry) Sources() []string {
	out := make([]string, 0, len(r))
	for _, e := range r {
		out = append(out, e.Source())
	}
	sort.Strings(out)
	return out
}

// FormatSeconds prints seconds with millisecond precision and without trailing zeros.
func FormatSeconds(s float64) string {
	return trimFloat(fmt.Sprintf("%.3f", s))
}

// FormatGain prints a volume factor without rounding, always with one decimal at least.
func FormatGain(g float64) string {
	s := strconv.FormatFloat(g, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func trimFloat(s string) string {
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}
