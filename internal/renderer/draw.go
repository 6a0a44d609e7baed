package renderer

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/skip2/go-qrcode"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/ivlev/stopcast/internal/scenario"
	"github.com/ivlev/stopcast/internal/system"
)

// Базовая сетка макета, все координаты масштабируются под реальный размер кадра
const (
	baseWidth  = 1920.0
	baseHeight = 1080.0
)

type Palette struct {
	Background color.RGBA
	Header     color.RGBA
	Accent     color.RGBA
	Text       color.RGBA
	Footer     color.RGBA
}

var palettes = map[scenario.Theme]Palette{
	scenario.ThemeDark: {
		Background: hex("#222121"),
		Header:     hex("#7a7a7a"),
		Accent:     hex("#ff8800"),
		Text:       hex("#ffffff"),
		Footer:     hex("#7a7a7a"),
	},
	scenario.ThemeLight: {
		Background: hex("#f5f5f5"),
		Header:     hex("#ffffff"),
		Accent:     hex("#ff8800"),
		Text:       hex("#000000"),
		Footer:     hex("#ffffff"),
	},
}

func PaletteFor(t scenario.Theme) Palette {
	if p, ok := palettes[t]; ok {
		return p
	}
	return palettes[scenario.ThemeDark]
}

var emergencyTitles = map[scenario.EmergencyType]string{
	scenario.EmergencyDanger:       "EMERGENCY",
	scenario.EmergencyTraffic:      "TRAFFIC ALERT",
	scenario.EmergencyWeather:      "WEATHER ALERT",
	scenario.EmergencyInformation:  "INFORMATION",
	scenario.EmergencyAnnouncement: "ANNOUNCEMENT",
}

var (
	emergencyBorder = hex("#fbbf24")
	emergencyBands  = []color.RGBA{{220, 38, 38, 255}, {185, 28, 28, 255}, {153, 27, 27, 255}}
)

// Renderer draws passenger information frames. Font faces keep glyph caches,
// so a Renderer must not be used from several goroutines at once.
type Renderer struct {
	width, height int
	scale         float64

	regular *opentype.Font
	bold    *opentype.Font
	faces   map[string]font.Face

	qrMu sync.Mutex
	qr   map[string]image.Image
}

func New(width, height int) (*Renderer, error) {
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	return &Renderer{
		width:   width,
		height:  height,
		scale:   math.Min(float64(width)/baseWidth, float64(height)/baseHeight),
		regular: regular,
		bold:    bold,
		faces:   make(map[string]font.Face),
		qr:      make(map[string]image.Image),
	}, nil
}

func (r *Renderer) Bounds() image.Rectangle { return image.Rect(0, 0, r.width, r.height) }

// Render draws one frame. The image comes from the shared pool; callers
// return it with system.PutImage once encoded.
func (r *Renderer) Render(sc *scenario.Scenario, st State) *image.RGBA {
	img := system.GetImage(r.Bounds())
	pal := PaletteFor(sc.Theme)

	fill(img, img.Bounds(), pal.Background)
	if len(sc.Stops) == 0 {
		return img
	}

	if st.InEmergency {
		r.drawEmergency(img, st)
		return img
	}

	r.drawHeader(img, sc, st, pal)
	r.drawBoard(img, st, pal)
	r.drawFooter(img, sc, st, pal)
	return img
}

func (r *Renderer) drawHeader(img *image.RGBA, sc *scenario.Scenario, st State, pal Palette) {
	fill(img, r.rect(50, 50, baseWidth-50, 210), pal.Header)

	// шестигранный значок линии
	r.fillPolygon(img, pal.Accent, r.pts(106, 70, 180, 70, 216, 130, 180, 190, 106, 190, 70, 130))
	r.text(img, r.face(true, 90), badge(sc.Name), 143, 130, pal.Text, alignCenter)

	r.text(img, r.face(true, 78), sc.Stops[st.CurrentStop].Name, 270, 130, pal.Text, alignLeft)
	if st.HasDeparture && st.DepartureIn > 0 {
		r.text(img, r.face(true, 64), "Departure in: "+FormatMinutes(st.DepartureIn), baseWidth-120, 130, pal.Text, alignRight)
	}
}

func (r *Renderer) drawBoard(img *image.RGBA, st State, pal Palette) {
	n := len(st.Upcoming)
	if n == 0 {
		return
	}
	const lineX, startY = 136.0, 280.0
	bottomY := baseHeight - 320
	spacing := 0.0
	if n > 1 {
		spacing = (bottomY - startY) / float64(n-1)
	}

	endY := startY
	if n > 1 {
		endY = bottomY
	}
	fill(img, r.rect(lineX-6, startY, lineX+6, endY), pal.Accent)
	if n > 1 {
		r.fillPolygon(img, pal.Accent, r.pts(lineX, bottomY+40, lineX-25, bottomY-10, lineX+25, bottomY-10))
	}

	for i, a := range st.Upcoming {
		y := startY + float64(i)*spacing
		if i == 0 {
			r.fillCircle(img, lineX, y, 26, pal.Accent)
		}
		r.fillCircle(img, lineX, y, 20, pal.Text)

		r.text(img, r.face(i == 0, 94), a.Name, 270, y, pal.Text, alignLeft)
		r.text(img, r.face(false, 94), FormatMinutes(a.Seconds), baseWidth-120, y, pal.Text, alignRight)
	}
}

func (r *Renderer) drawFooter(img *image.RGBA, sc *scenario.Scenario, st State, pal Palette) {
	const barHeight, margin = 180.0, 50.0
	top := baseHeight - barHeight - margin
	fill(img, r.rect(50, top, baseWidth-50, top+barHeight), pal.Footer)

	mid := top + barHeight/2
	face := r.face(true, 84)
	r.text(img, face, st.Terminal, 120, mid, pal.Text, alignLeft)
	r.text(img, face, FormatMinutes(st.TerminalIn), baseWidth-120, mid, pal.Text, alignRight)

	if code := r.qrImage(sc.InfoURL); code != nil {
		side := barHeight - 20
		x := baseWidth/2 + 200
		draw.NearestNeighbor.Scale(img, r.rect(x, top+10, x+side, top+10+side), code, code.Bounds(), draw.Src, nil)
	}
}

func (r *Renderer) drawEmergency(img *image.RGBA, st State) {
	pulse := math.Abs(math.Sin(st.Time*3))*0.3 + 0.7
	h := img.Bounds().Dy()
	for y := 0; y < h; y++ {
		c := gradient(emergencyBands, float64(y)/float64(h))
		fill(img, image.Rect(0, y, img.Bounds().Dx(), y+1), shade(c, pulse))
	}

	flash := 0.4
	if math.Abs(math.Sin(st.Time*4)) > 0.5 {
		flash = 1
	}
	r.strokeRect(img, 20, 20, baseWidth-20, baseHeight-20, 15, shade(emergencyBorder, flash))
	r.strokeRect(img, 35, 35, baseWidth-35, baseHeight-35, 8, shade(color.RGBA{255, 255, 255, 255}, flash*0.5))

	r.fillPolygon(img, emergencyBorder, r.pts(baseWidth/2, 60, baseWidth/2+70, 180, baseWidth/2-70, 180))
	r.text(img, r.face(true, 90), "!", baseWidth/2, 140, emergencyBands[2], alignCenter)

	title := emergencyTitles[st.Emergency.Type]
	if title == "" {
		title = emergencyTitles[scenario.EmergencyDanger]
	}
	r.text(img, r.face(true, 64), title, baseWidth/2, 250, emergencyBorder, alignCenter)

	msg := st.Emergency.Text
	if msg == "" {
		msg = "EMERGENCY"
	}
	face := r.face(true, 96)
	y := 380.0
	for _, line := range r.wrap(face, msg, baseWidth-200) {
		r.text(img, face, line, baseWidth/2, y, color.RGBA{255, 255, 255, 255}, alignCenter)
		y += 110
	}
}

type align int

const (
	alignLeft align = iota
	alignCenter
	alignRight
)

// text draws s vertically centred on y (base layout units).
func (r *Renderer) text(img *image.RGBA, face font.Face, s string, x, y float64, c color.RGBA, a align) {
	d := &font.Drawer{Dst: img, Src: image.NewUniform(c), Face: face}
	width := d.MeasureString(s)
	m := face.Metrics()

	px := fixed.Int26_6(math.Round(x * r.scale * 64))
	switch a {
	case alignCenter:
		px -= width / 2
	case alignRight:
		px -= width
	}
	py := fixed.Int26_6(math.Round(y*r.scale*64)) + (m.Ascent-m.Descent)/2
	d.Dot = fixed.Point26_6{X: px, Y: py}
	d.DrawString(s)
}

// wrap splits s into lines no wider than maxWidth base units.
func (r *Renderer) wrap(face font.Face, s string, maxWidth float64) []string {
	limit := fixed.Int26_6(maxWidth * r.scale * 64)
	var lines []string
	line := ""
	for _, w := range strings.Fields(s) {
		candidate := w
		if line != "" {
			candidate = line + " " + w
		}
		if line != "" && font.MeasureString(face, candidate) > limit {
			lines = append(lines, line)
			line = w
			continue
		}
		line = candidate
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

func (r *Renderer) face(bold bool, size float64) font.Face {
	key := fmt.Sprintf("%t:%.0f", bold, size)
	if f, ok := r.faces[key]; ok {
		return f
	}
	src := r.regular
	if bold {
		src = r.bold
	}
	f, err := opentype.NewFace(src, &opentype.FaceOptions{Size: size * r.scale, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		// шрифты встроенные, ошибка здесь означает битый бинарник
		panic(fmt.Sprintf("renderer: font face %s: %v", key, err))
	}
	r.faces[key] = f
	return f
}

func (r *Renderer) qrImage(url string) image.Image {
	if url == "" {
		return nil
	}
	r.qrMu.Lock()
	defer r.qrMu.Unlock()
	if img, ok := r.qr[url]; ok {
		return img
	}
	code, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		r.qr[url] = nil
		return nil
	}
	code.DisableBorder = true
	img := code.Image(256)
	r.qr[url] = img
	return img
}

func (r *Renderer) rect(x0, y0, x1, y1 float64) image.Rectangle {
	return image.Rect(r.px(x0), r.px(y0), r.px(x1), r.px(y1))
}

func (r *Renderer) px(v float64) int { return int(math.Round(v * r.scale)) }

func (r *Renderer) pts(coords ...float64) [][2]float32 {
	out := make([][2]float32, 0, len(coords)/2)
	for i := 0; i+1 < len(coords); i += 2 {
		out = append(out, [2]float32{float32(coords[i] * r.scale), float32(coords[i+1] * r.scale)})
	}
	return out
}

func (r *Renderer) strokeRect(img *image.RGBA, x0, y0, x1, y1, width float64, c color.RGBA) {
	fill(img, r.rect(x0, y0, x1, y0+width), c)
	fill(img, r.rect(x0, y1-width, x1, y1), c)
	fill(img, r.rect(x0, y0, x0+width, y1), c)
	fill(img, r.rect(x1-width, y0, x1, y1), c)
}

func (r *Renderer) fillCircle(img *image.RGBA, cx, cy, radius float64, c color.RGBA) {
	const segments = 48
	coords := make([]float64, 0, segments*2)
	for i := 0; i < segments; i++ {
		a := 2 * math.Pi * float64(i) / segments
		coords = append(coords, cx+radius*math.Cos(a), cy+radius*math.Sin(a))
	}
	r.fillPolygon(img, c, r.pts(coords...))
}

// fillPolygon rasterizes only the bounding box of the polygon, clipped to img.
func (r *Renderer) fillPolygon(img *image.RGBA, c color.RGBA, pts [][2]float32) {
	if len(pts) < 3 {
		return
	}
	minX, minY := pts[0][0], pts[0][1]
	maxX, maxY := minX, minY
	for _, p := range pts[1:] {
		minX, maxX = min(minX, p[0]), max(maxX, p[0])
		minY, maxY = min(minY, p[1]), max(maxY, p[1])
	}
	box := image.Rect(int(math.Floor(float64(minX))), int(math.Floor(float64(minY))),
		int(math.Ceil(float64(maxX))), int(math.Ceil(float64(maxY)))).Intersect(img.Bounds())
	if box.Empty() {
		return
	}

	z := vector.NewRasterizer(box.Dx(), box.Dy())
	ox, oy := float32(box.Min.X), float32(box.Min.Y)
	z.MoveTo(pts[0][0]-ox, pts[0][1]-oy)
	for _, p := range pts[1:] {
		z.LineTo(p[0]-ox, p[1]-oy)
	}
	z.ClosePath()
	z.Draw(img, box, image.NewUniform(c), image.Point{})
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
}

func gradient(stops []color.RGBA, pos float64) color.RGBA {
	if pos <= 0 {
		return stops[0]
	}
	if pos >= 1 {
		return stops[len(stops)-1]
	}
	seg := pos * float64(len(stops)-1)
	i := int(seg)
	f := seg - float64(i)
	a, b := stops[i], stops[i+1]
	lerp := func(x, y uint8) uint8 { return uint8(float64(x) + (float64(y)-float64(x))*f) }
	return color.RGBA{lerp(a.R, b.R), lerp(a.G, b.G), lerp(a.B, b.B), 255}
}

func shade(c color.RGBA, k float64) color.RGBA {
	return color.RGBA{uint8(float64(c.R) * k), uint8(float64(c.G) * k), uint8(float64(c.B) * k), 255}
}

func badge(name string) string {
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return string(unicode.ToUpper(r))
		}
	}
	return "M"
}

func hex(s string) color.RGBA {
	var c color.RGBA
	c.A = 255
	s = strings.TrimPrefix(s, "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	fmt.Sscanf(s, "%02x%02x%02x", &c.R, &c.G, &c.B)
	return c
}
