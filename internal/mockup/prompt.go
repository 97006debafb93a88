package mockup

import (
	"fmt"
	"strings"
)

var globalRules = []string{
	"Keep every pixel of the app UI legible; never redraw, translate or invent interface text",
	"Use a soft gradient background that complements the dominant colors of the screenshot",
	"No watermarks, logos of other brands, or placeholder lorem ipsum",
	"Return exactly one image and no text",
}

// BuildGeneratePrompt builds the instruction for turning a raw app screenshot
// into a store listing image for device.
func BuildGeneratePrompt(device Device) string {
	p := device.Preset()

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Create a %s listing screenshot from the attached app screenshot.\n", p.Name))
	b.WriteString(fmt.Sprintf("Device: %s. Canvas: %dx%d portrait (%s).\n", p.Hardware, p.Width, p.Height, p.AspectRatio))
	b.WriteString("\nRules:\n")
	writeBullets(&b, p.Rules)
	writeBullets(&b, globalRules)
	return strings.TrimSpace(b.String())
}

// BuildUpdatePrompt wraps a user change request for an already generated
// mockup.
func BuildUpdatePrompt(instruction string) string {
	instruction = strings.TrimSpace(instruction)

	var b strings.Builder
	b.WriteString("Edit the attached store screenshot mockup.\n")
	b.WriteString("Requested change: ")
	b.WriteString(instruction)
	b.WriteString("\n\nRules:\n")
	writeBullets(&b, []string{
		"Apply only the requested change; keep layout, device frame and app UI otherwise identical",
		"Keep the same canvas size and aspect ratio",
	})
	writeBullets(&b, globalRules)
	return strings.TrimSpace(b.String())
}

func writeBullets(b *strings.Builder, lines []string) {
	for _, line := range lines {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
}
