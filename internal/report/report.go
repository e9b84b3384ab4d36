// Package report renders a finished run's tagged object locations as a
// static PNG scatter and an interactive HTML page.
package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/alphascan/internal/fusion"
	"github.com/banshee-data/alphascan/internal/monitoring"
)

// ErrNoRecords is returned when there is nothing to render.
var ErrNoRecords = errors.New("no records to render")

const (
	pngWidth  = 10 * vg.Inch
	pngHeight = 10 * vg.Inch
)

// untaggedColor is used for the NoTag series in both renderings.
var untaggedColor = color.RGBA{R: 150, G: 150, B: 150, A: 255}

// ReadRecords parses a TagLocationObj CSV file.
func ReadRecords(r io.Reader) ([]fusion.TagObjectLocation, error) {
	reader := csv.NewReader(r)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]fusion.TagObjectLocation, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rec, err := fusion.ParseTagObjectLocation(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// series is the records of one tag, in input order.
type series struct {
	tag     string
	records []fusion.TagObjectLocation
}

// groupByTag splits records into one series per tag ID, sorted by tag, with
// the untagged series last.
func groupByTag(recs []fusion.TagObjectLocation) []series {
	byTag := make(map[string][]fusion.TagObjectLocation)
	for _, r := range recs {
		byTag[r.TagID] = append(byTag[r.TagID], r)
	}
	tags := make([]string, 0, len(byTag))
	for tag := range byTag {
		if tag != fusion.NoTag {
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	if _, ok := byTag[fusion.NoTag]; ok {
		tags = append(tags, fusion.NoTag)
	}

	out := make([]series, len(tags))
	for i, tag := range tags {
		out[i] = series{tag: tag, records: byTag[tag]}
	}
	return out
}

// palette returns a color per series, spreading tagged series around the
// hue wheel and greying out the untagged one.
func palette(groups []series) []color.Color {
	tagged := 0
	for _, g := range groups {
		if g.tag != fusion.NoTag {
			tagged++
		}
	}
	colors := make([]color.Color, len(groups))
	for i, g := range groups {
		if g.tag == fusion.NoTag {
			colors[i] = untaggedColor
			continue
		}
		r, gr, b := hslToRGB(float64(i)/float64(tagged), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: gr, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

func hexColor(c color.Color) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}

// bounds returns a padded lon/lat box around recs.
func bounds(recs []fusion.TagObjectLocation) (minLon, maxLon, minLat, maxLat float64) {
	minLon, minLat = math.Inf(1), math.Inf(1)
	maxLon, maxLat = math.Inf(-1), math.Inf(-1)
	for _, r := range recs {
		minLon, maxLon = math.Min(minLon, r.Lon), math.Max(maxLon, r.Lon)
		minLat, maxLat = math.Min(minLat, r.Lat), math.Max(maxLat, r.Lat)
	}
	pad := math.Max(maxLon-minLon, maxLat-minLat) * 0.05
	if pad == 0 {
		pad = 1e-5
	}
	return minLon - pad, maxLon + pad, minLat - pad, maxLat + pad
}

// RenderPNG writes a longitude/latitude scatter of recs, one series per tag.
func RenderPNG(w io.Writer, title string, recs []fusion.TagObjectLocation) error {
	if len(recs) == 0 {
		return ErrNoRecords
	}
	groups := groupByTag(recs)
	colors := palette(groups)

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"
	p.X.Min, p.X.Max, p.Y.Min, p.Y.Max = bounds(recs)
	p.Add(plotter.NewGrid())

	for i, g := range groups {
		pts := make(plotter.XYs, len(g.records))
		for j, r := range g.records {
			pts[j] = plotter.XY{X: r.Lon, Y: r.Lat}
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("failed to create scatter for %s: %w", g.tag, err)
		}
		s.GlyphStyle.Color = colors[i]
		s.GlyphStyle.Radius = vg.Points(3)
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(s)
		p.Legend.Add(fmt.Sprintf("%s (%d)", g.tag, len(g.records)), s)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(pngWidth, pngHeight, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// RenderHTML writes an interactive scatter page of recs. Each point carries
// its strength and size so the tooltip shows them.
func RenderHTML(w io.Writer, title string, recs []fusion.TagObjectLocation) error {
	if len(recs) == 0 {
		return ErrNoRecords
	}
	groups := groupByTag(recs)
	colors := palette(groups)
	minLon, maxLon, minLat, maxLat := bounds(recs)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("records=%d tags=%d", len(recs), len(groups))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Min: minLon, Max: maxLon, Name: "Longitude", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: minLat, Max: maxLat, Name: "Latitude", NameLocation: "middle", NameGap: 40}),
	)

	for i, g := range groups {
		data := make([]opts.ScatterData, len(g.records))
		for j, r := range g.records {
			data[j] = opts.ScatterData{
				Name:  r.Time.UTC().Format("15:04:05.000"),
				Value: []interface{}{r.Lon, r.Lat, r.Strength, r.Size},
			}
		}
		scatter.AddSeries(g.tag, data,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hexColor(colors[i])}),
		)
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// RenderRun reads <dir>/<dataset>.csv and writes <dataset>.png and
// <dataset>.html next to it. It returns the paths written.
func RenderRun(dir, dataset string) ([]string, error) {
	src := filepath.Join(dir, dataset+".csv")
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	recs, err := ReadRecords(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}

	title := fmt.Sprintf("%s %s", filepath.Base(dir), dataset)
	renderers := []struct {
		ext    string
		render func(io.Writer, string, []fusion.TagObjectLocation) error
	}{
		{".png", RenderPNG},
		{".html", RenderHTML},
	}

	var written []string
	for _, r := range renderers {
		path := filepath.Join(dir, dataset+r.ext)
		if err := renderFile(path, func(w io.Writer) error { return r.render(w, title, recs) }); err != nil {
			return written, err
		}
		monitoring.Logf("[report] wrote %s (%d records)", path, len(recs))
		written = append(written, path)
	}
	return written, nil
}

func renderFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to render %s: %w", path, err)
	}
	return f.Close()
}
