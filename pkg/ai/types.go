package ai

import "context"

// TextRequest is a single-turn text completion.
type TextRequest struct {
	System string
	Prompt string
	// Mode selects the model tier ("fast", "standard", "premium").
	Mode string
}

// VisionRequest is a single-turn completion over one image. Either ImageURL
// or ImageData must be set.
type VisionRequest struct {
	System    string
	Prompt    string
	ImageURL  string
	ImageData []byte
	MIMEType  string
}

// TextCompleter produces a text completion.
type TextCompleter interface {
	Complete(ctx context.Context, req TextRequest) (string, error)
}

// VisionCompleter produces a completion grounded on an image.
type VisionCompleter interface {
	CompleteWithImage(ctx context.Context, req VisionRequest) (string, error)
}
