package llm

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3/option"
)

const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
)

// Factory creates providers for a model from one set of credentials, so the
// interview and the report can run on different models.
type Factory struct {
	Provider           string
	APIKey             string
	BaseURL            string
	OpenRouterReferrer string
	OpenRouterTitle    string
	HTTPClient         *http.Client
}

func (f *Factory) New(model string) (Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("empty model for provider %q", f.Provider)
	}

	switch strings.ToLower(f.Provider) {
	case ProviderOpenAI:
		var opts []option.RequestOption
		if f.APIKey != "" {
			opts = append(opts, option.WithAPIKey(f.APIKey))
		}
		if f.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(f.BaseURL))
		}
		if f.HTTPClient != nil {
			opts = append(opts, option.WithHTTPClient(f.HTTPClient))
		}
		return NewOpenAI(model, opts...), nil
	case ProviderOpenRouter:
		baseURL := f.BaseURL
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		return NewCompat(CompatOptions{
			APIKey:     f.APIKey,
			BaseURL:    baseURL,
			Model:      model,
			Referrer:   f.OpenRouterReferrer,
			Title:      f.OpenRouterTitle,
			HTTPClient: f.HTTPClient,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", f.Provider)
	}
}
