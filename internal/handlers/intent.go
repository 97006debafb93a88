package handlers

import (
	"strconv"
	"strings"

	"appshot/internal/mockup"
)

// deviceFromText picks a store out of free text such as "make them for
// android" or "app store please".
func deviceFromText(text string) (mockup.Device, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return "", false
	}
	if d, ok := mockup.ParseDevice(t); ok {
		return d, true
	}

	android := []string{"android", "google play", "play store", "google store", "pixel"}
	apple := []string{"app store", "appstore", "iphone", "ios", "apple"}

	for _, kw := range android {
		if strings.Contains(t, kw) {
			return mockup.DeviceGooglePlay, true
		}
	}
	for _, kw := range apple {
		if strings.Contains(t, kw) {
			return mockup.DeviceAppStore, true
		}
	}
	return "", false
}

// parseSlotArg turns a 1-based user argument into a 0-based index below n.
func parseSlotArg(arg string, n int) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(arg, "#")))
	if err != nil || v < 1 || v > n {
		return 0, false
	}
	return v - 1, true
}
