package generate

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/ragpal/ragpal/internal/prompt"
	"github.com/ragpal/ragpal/internal/session"
)

// FragmentFunc receives one verbatim model output fragment. Returning an
// error aborts the stream.
type FragmentFunc func(ctx context.Context, text string) error

// ModelClient produces a streamed completion for a composed request and
// returns the final text.
type ModelClient interface {
	Generate(ctx context.Context, req prompt.Request, onFragment FragmentFunc) (string, error)
}

// GenkitClient is the production ModelClient on top of a configured genkit
// instance.
type GenkitClient struct {
	g           *genkit.Genkit
	modelName   string
	temperature float64
}

// NewGenkitClient creates a client generating with modelName. temperature
// <= 0 leaves the model default in place.
func NewGenkitClient(g *genkit.Genkit, modelName string, temperature float64) *GenkitClient {
	return &GenkitClient{g: g, modelName: modelName, temperature: temperature}
}

func (c *GenkitClient) Generate(ctx context.Context, req prompt.Request, onFragment FragmentFunc) (string, error) {
	system := req.System
	if req.Context != "" {
		system += "\n\n" + req.Context
	}

	messages := make([]*ai.Message, 0, len(req.History)+1)
	for _, turn := range req.History {
		if turn.Role == session.RoleAssistant {
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(turn.Text)))
		} else {
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(turn.Text)))
		}
	}
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(req.UserText)))

	opts := []ai.GenerateOption{
		ai.WithSystem(system),
		ai.WithMessages(messages...),
	}
	if c.modelName != "" {
		opts = append(opts, ai.WithModelName(c.modelName))
	}
	if c.temperature > 0 {
		opts = append(opts, ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature: c.temperature,
		}))
	}
	if onFragment != nil {
		opts = append(opts, ai.WithStreaming(func(cbCtx context.Context, chunk *ai.ModelResponseChunk) error {
			return onFragment(cbCtx, chunk.Text())
		}))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
