package completion

import (
	"fmt"
	"os"

	"github.com/hpungsan/critique/internal/config"
)

// New builds the client selected by cfg, wrapped in a rate limiter when
// requests_per_minute is set. The API key is read from the environment
// variable named by cfg.APIKeyEnv.
func New(cfg config.CompletionConfig) (Client, error) {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	var c Client
	switch cfg.Provider {
	case "openai", "":
		// Compatible gateways behind base_url may not need a key.
		if apiKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("OpenAI API key not provided (set %s)", cfg.APIKeyEnv)
		}
		c = NewOpenAI(apiKey, cfg.Model, cfg.BaseURL, cfg.Timeout)

	case "ollama":
		oc, err := NewOllama(cfg.Model, cfg.BaseURL, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		c = oc

	case "anthropic":
		if apiKey == "" {
			return nil, fmt.Errorf("Anthropic API key not provided (set %s)", cfg.APIKeyEnv)
		}
		ac, err := NewAnthropic(apiKey, cfg.Model, cfg.BaseURL, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		c = ac

	default:
		return nil, fmt.Errorf("unsupported completion provider: %s (supported: openai, ollama, anthropic)", cfg.Provider)
	}

	return NewLimited(c, cfg.RequestsPerMinute, cfg.Burst), nil
}
