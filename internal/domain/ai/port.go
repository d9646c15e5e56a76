package ai

import "context"

// Image is one inline photo handed to the vision model.
type Image struct {
	Data []byte
	MIME string
}

// Request is a single vision-model round trip: system instructions, a short
// textual directive, and one or more photos.
type Request struct {
	System    string
	Directive string
	Images    []Image
}

// Client port for the external vision model. Returns the raw free-form text
// of the completion.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}
