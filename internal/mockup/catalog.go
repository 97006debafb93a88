package mockup

import (
	"fmt"
	"strings"

	"appshot/internal/media"
)

// Device selects which store the mockups are produced for.
type Device string

const (
	DeviceAppStore   Device = "app_store"
	DeviceGooglePlay Device = "google_play"

	DefaultDevice = DeviceAppStore
)

type Preset struct {
	Device      Device
	Name        string // store name shown to users
	Hardware    string
	AspectRatio string
	Width       int
	Height      int
	Rules       []string
}

var presets = map[Device]Preset{
	DeviceAppStore: {
		Device:      DeviceAppStore,
		Name:        "App Store",
		Hardware:    "iPhone 15 Pro Max",
		AspectRatio: "9:16",
		Width:       1290,
		Height:      2796,
		Rules: []string{
			"Place the screenshot inside a modern iPhone frame with Dynamic Island and thin bezels",
			"Follow Apple App Store screenshot conventions: clean layout, SF-style headline typography",
			"Headline above the device, at most six words, derived from what the screen shows",
		},
	},
	DeviceGooglePlay: {
		Device:      DeviceGooglePlay,
		Name:        "Google Play",
		Hardware:    "Pixel 8 Pro",
		AspectRatio: "9:16",
		Width:       1080,
		Height:      1920,
		Rules: []string{
			"Place the screenshot inside a modern Android phone frame with a punch-hole camera",
			"Follow Google Play feature graphic conventions: Material-style shapes and Roboto-like typography",
			"Headline above the device, at most six words, derived from what the screen shows",
		},
	},
}

func Devices() []Preset {
	return []Preset{presets[DeviceAppStore], presets[DeviceGooglePlay]}
}

func (d Device) Valid() bool {
	_, ok := presets[d]
	return ok
}

func (d Device) Preset() Preset {
	if p, ok := presets[d]; ok {
		return p
	}
	return presets[DefaultDevice]
}

func (d Device) String() string {
	return d.Preset().Name
}

// ParseDevice accepts the canonical keys plus common spellings
// ("ios", "iphone", "android", "play").
func ParseDevice(value string) (Device, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.NewReplacer("-", "_", " ", "_").Replace(v)
	switch v {
	case "app_store", "appstore", "ios", "iphone", "apple":
		return DeviceAppStore, true
	case "google_play", "googleplay", "google_store", "play", "play_store", "android":
		return DeviceGooglePlay, true
	}
	return "", false
}

// DownloadName is the suggested filename for slot index (0-based).
func DownloadName(index int, img media.Image) string {
	return fmt.Sprintf("appshot-%d%s", index+1, img.Extension())
}
