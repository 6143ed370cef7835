package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const translatorEndpoint = "https://api.cognitive.microsofttranslator.com"

var ErrEmptyTranslation = errors.New("empty translation")

type TranslatorOption func(*AzureTranslator)

func WithTranslatorEndpoint(u string) TranslatorOption {
	return func(t *AzureTranslator) {
		t.endpoint = u
	}
}

func WithTranslatorTimeout(d time.Duration) TranslatorOption {
	return func(t *AzureTranslator) {
		if d > 0 {
			t.httpClient.Timeout = d
		}
	}
}

// AzureTranslator calls the Translator v3 REST API.
type AzureTranslator struct {
	key        string
	region     string
	endpoint   string
	httpClient *http.Client
	log        zerolog.Logger
}

var _ domain.Translator = (*AzureTranslator)(nil)

func NewAzureTranslator(key, region string, opts ...TranslatorOption) *AzureTranslator {
	t := &AzureTranslator{
		key:        key,
		region:     region,
		endpoint:   translatorEndpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.With().Str("module", "speech.azure_translator").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type translateItem struct {
	Text string `json:"Text"`
}

type translateResult struct {
	Translations []struct {
		Text string `json:"text"`
		To   string `json:"to"`
	} `json:"translations"`
}

func (t *AzureTranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	q := url.Values{}
	q.Set("api-version", "3.0")
	q.Set("to", domain.BaseLanguage(to))
	if from != "" {
		q.Set("from", domain.BaseLanguage(from))
	}
	body, err := json.Marshal([]translateItem{{Text: text}})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/translate?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", t.key)
	if t.region != "" {
		req.Header.Set("Ocp-Apim-Subscription-Region", t.region)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("azure translator error %d: %s", resp.StatusCode, string(msg))
	}
	var out []translateResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding translation: %w", err)
	}
	if len(out) == 0 || len(out[0].Translations) == 0 || out[0].Translations[0].Text == "" {
		return "", ErrEmptyTranslation
	}
	t.log.Debug().Str("from", from).Str("to", to).Int("chars", len(text)).Msg("translated")
	return out[0].Translations[0].Text, nil
}

// PassthroughTranslator returns the source text unchanged. Listeners then
// hear the original utterance voiced in their own language.
type PassthroughTranslator struct{}

func (PassthroughTranslator) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}
