package renderer

import (
	"image/color"
	"testing"

	"github.com/ivlev/stopcast/internal/scenario"
	"github.com/ivlev/stopcast/internal/system"
	"github.com/ivlev/stopcast/internal/timeline"
)

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := New(320, 180)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return r
}

func TestRenderThemes(t *testing.T) {
	r := newTestRenderer(t)
	stops := testStops()
	tl := timeline.Build(stops, nil)

	for _, theme := range []scenario.Theme{scenario.ThemeDark, scenario.ThemeLight} {
		t.Run(string(theme), func(t *testing.T) {
			sc := &scenario.Scenario{Name: "Line 7", Theme: theme, Stops: stops, InfoURL: "https://example.com/line7"}
			img := r.Render(sc, StateAt(tl, stops, 10))
			defer system.PutImage(img)

			if img.Bounds() != r.Bounds() {
				t.Fatalf("Expected bounds %v, got %v", r.Bounds(), img.Bounds())
			}
			want := PaletteFor(theme).Background
			if got := img.RGBAAt(1, 1); got != want {
				t.Errorf("Expected background %v in the corner, got %v", want, got)
			}
		})
	}
}

func TestRenderEmergencyCard(t *testing.T) {
	r := newTestRenderer(t)
	stops := testStops()
	tl := timeline.Build(stops, []scenario.Emergency{
		{Text: "Road closed", Type: scenario.EmergencyTraffic, StartSecond: 10, Seconds: 30},
	})
	st := StateAt(tl, stops, 20)
	if !st.InEmergency {
		t.Fatalf("Expected emergency state at t=20")
	}

	img := r.Render(&scenario.Scenario{Stops: stops}, st)
	defer system.PutImage(img)

	c := img.RGBAAt(160, 90)
	if c.R <= c.G || c.R <= c.B {
		t.Errorf("Expected a red card in the middle of the frame, got %v", c)
	}
}

func TestQRImageCached(t *testing.T) {
	r := newTestRenderer(t)
	if r.qrImage("") != nil {
		t.Error("Empty URL must not produce a QR code")
	}
	a := r.qrImage("https://example.com")
	b := r.qrImage("https://example.com")
	if a == nil || a != b {
		t.Error("Expected the QR image to be generated once and cached")
	}
}

func TestHelpers(t *testing.T) {
	if got := hex("#ff8800"); got != (color.RGBA{0xff, 0x88, 0x00, 0xff}) {
		t.Errorf("hex(#ff8800) = %v", got)
	}
	if got := hex("#fff"); got != (color.RGBA{0xff, 0xff, 0xff, 0xff}) {
		t.Errorf("hex(#fff) = %v", got)
	}
	for in, want := range map[string]string{"metro": "M", " 7 line": "7", "": "M", "--": "M"} {
		if got := badge(in); got != want {
			t.Errorf("badge(%q) = %q, want %q", in, got, want)
		}
	}
	if PaletteFor("neon") != PaletteFor(scenario.ThemeDark) {
		t.Error("Unknown theme should fall back to dark")
	}
}
