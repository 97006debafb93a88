package gemini

import "appshot/internal/media"

// Response is the decoded content of the first candidate.
type Response struct {
	Text   string
	Images []media.Image
}
