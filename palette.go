package scenebag

import (
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

// DefaultCategoryColor is used for categories the palette does not know.
var DefaultCategoryColor = colorful.Color{R: 0.5, G: 0.5, B: 0.5}

// nuScenesColormap is the devkit's category colormap, in 8-bit RGB.
var nuScenesColormap = map[string][3]uint8{
	"noise":                                {0, 0, 0},
	"animal":                               {70, 130, 180},
	"human.pedestrian.adult":               {0, 0, 230},
	"human.pedestrian.child":               {135, 206, 235},
	"human.pedestrian.construction_worker": {100, 149, 237},
	"human.pedestrian.personal_mobility":   {219, 112, 147},
	"human.pedestrian.police_officer":      {0, 0, 128},
	"human.pedestrian.stroller":            {240, 128, 128},
	"human.pedestrian.wheelchair":          {138, 43, 226},
	"movable_object.barrier":               {112, 128, 144},
	"movable_object.debris":                {210, 105, 30},
	"movable_object.pushable_pullable":     {105, 105, 105},
	"movable_object.trafficcone":           {47, 79, 79},
	"static_object.bicycle_rack":           {188, 143, 143},
	"vehicle.bicycle":                      {220, 20, 60},
	"vehicle.bus.bendy":                    {255, 127, 80},
	"vehicle.bus.rigid":                    {255, 69, 0},
	"vehicle.car":                          {255, 158, 0},
	"vehicle.construction":                 {233, 150, 70},
	"vehicle.emergency.ambulance":          {255, 83, 0},
	"vehicle.emergency.police":             {255, 215, 0},
	"vehicle.motorcycle":                   {255, 61, 99},
	"vehicle.trailer":                      {255, 140, 0},
	"vehicle.truck":                        {255, 99, 71},
	"flat.driveable_surface":               {0, 207, 191},
	"flat.other":                           {175, 0, 75},
	"flat.sidewalk":                        {75, 0, 75},
	"flat.terrain":                         {112, 180, 60},
	"static.manmade":                       {222, 184, 135},
	"static.other":                         {255, 228, 196},
	"static.vegetation":                    {0, 175, 0},
	"vehicle.ego":                          {255, 240, 245},
}

// Palette is a ColorLookup keyed by dotted category names. A category it does not know falls
// back to its closest known parent ("vehicle.bus.articulated" to "vehicle.bus"), then to
// DefaultCategoryColor.
type Palette struct {
	colors map[string]colorful.Color
}

// NewPalette returns the nuScenes colormap with overrides applied. Overrides are hex colors
// such as "#ff9e00".
func NewPalette(overrides map[string]string) (*Palette, error) {
	palette := &Palette{colors: make(map[string]colorful.Color, len(nuScenesColormap)+len(overrides))}
	for category, rgb := range nuScenesColormap {
		palette.colors[category] = colorful.Color{
			R: float64(rgb[0]) / 255,
			G: float64(rgb[1]) / 255,
			B: float64(rgb[2]) / 255,
		}
	}
	for category, hex := range overrides {
		c, err := colorful.Hex(hex)
		if err != nil {
			return nil, errors.Wrapf(err, "color of %s", category)
		}
		palette.colors[category] = c
	}
	return palette, nil
}

// Color returns the color of category.
func (palette *Palette) Color(category string) colorful.Color {
	for key := category; key != ""; {
		if c, ok := palette.colors[key]; ok {
			return c.Clamped()
		}
		idx := strings.LastIndexByte(key, '.')
		if idx == -1 {
			break
		}
		key = key[:idx]
	}
	return DefaultCategoryColor
}

func (palette *Palette) CategoryColor(category string) (r, g, b float64) {
	c := palette.Color(category)
	return c.R, c.G, c.B
}
