package features

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/prattle/pkg/conversation"
	"github.com/go-go-golems/prattle/pkg/engine"
)

// Dispatcher routes a one-off feature invocation through the request
// lifecycle manager instead of a full conversation thread. The three paths
// (text, image, document) differ only in payload shape; cancellation,
// regeneration and failure semantics are inherited from the engine.
type Dispatcher struct {
	engine *engine.Engine
}

func NewDispatcher(e *engine.Engine) *Dispatcher {
	return &Dispatcher{engine: e}
}

// systemPrompt merges the feature's framing prompt with an optional
// sub-feature instruction.
func systemPrompt(info Info, sub *SubFeature) string {
	if sub == nil {
		return info.SystemPrompt
	}
	return fmt.Sprintf("%s\n%s", info.SystemPrompt, sub.Prompt)
}

// Run invokes a text feature on the given input.
func (d *Dispatcher) Run(ctx context.Context, f Feature, sub *SubFeature, input string) (*engine.Pending, error) {
	info, err := Get(f)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("feature", string(f)).Msg("dispatching feature")
	return d.engine.SendSingleShot(ctx, systemPrompt(info, sub), input, nil)
}

// RunImage invokes an image feature: the file goes through the re-encoding
// pass and is attached to the single user turn.
func (d *Dispatcher) RunImage(ctx context.Context, f Feature, sub *SubFeature, input string, imagePath string) (*engine.Pending, error) {
	info, err := Get(f)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("feature", string(f)).Str("image", imagePath).Msg("dispatching image feature")
	return d.engine.SendSingleShot(ctx, systemPrompt(info, sub), input, &engine.AttachmentInput{
		Kind: conversation.AttachmentImage,
		Path: imagePath,
	})
}

// RunDocument invokes a document feature: the document's extracted text is
// inlined into the prompt, capped to the configured budget.
func (d *Dispatcher) RunDocument(ctx context.Context, f Feature, sub *SubFeature, input string, documentPath string) (*engine.Pending, error) {
	info, err := Get(f)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("feature", string(f)).Str("document", documentPath).Msg("dispatching document feature")
	return d.engine.SendSingleShot(ctx, systemPrompt(info, sub), input, &engine.AttachmentInput{
		Kind: conversation.AttachmentDocument,
		Path: documentPath,
	})
}
