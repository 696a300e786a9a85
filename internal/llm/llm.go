package llm

import "context"

// Provider is a text-completion backend used to judge answers.
type Provider interface {
	// Complete sends a single-turn prompt and returns the raw text reply.
	Complete(ctx context.Context, req Request) (string, error)

	// ModelID returns the model identifier this provider is configured to use.
	ModelID() string
}

// Request describes one completion call.
type Request struct {
	// System is an optional system prompt. Providers without a system
	// role prepend it to the prompt.
	System string

	Prompt string

	// MaxTokens caps the reply length. Zero means provider default.
	MaxTokens int

	// Temperature controls randomness. Zero leaves the provider default.
	Temperature float64
}

// resolveModel maps a friendly model name to a provider model ID.
func resolveModel(name string, models map[string]string) string {
	if id, ok := models[name]; ok {
		return id
	}
	return name
}

func fullPrompt(req Request) string {
	if req.System == "" {
		return req.Prompt
	}
	return req.System + "\n\n" + req.Prompt
}

// Pinger is implemented by providers that can check their endpoint cheaply.
type Pinger interface {
	Ping(ctx context.Context) error
}

type unwrapper interface {
	Unwrap() Provider
}

// Ping checks the endpoint behind p, looking through retry and logging
// wrappers. Providers without a cheap check report nil.
func Ping(ctx context.Context, p Provider) error {
	for p != nil {
		if pg, ok := p.(Pinger); ok {
			return pg.Ping(ctx)
		}
		u, ok := p.(unwrapper)
		if !ok {
			return nil
		}
		p = u.Unwrap()
	}
	return nil
}
