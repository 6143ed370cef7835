// Package speech holds the translation and speech synthesis adapters.
package speech

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
)

const (
	DefaultAudioFormat = "audio-24khz-48kbitrate-mono-mp3"
	DefaultVoice       = "en-US-JennyNeural"
)

// voices maps a language to a neural voice. Region-specific tags are tried
// first, then the bare base language.
var voices = map[string]string{
	"en":    "en-US-JennyNeural",
	"en-GB": "en-GB-SoniaNeural",
	"th":    "th-TH-PremwadeeNeural",
	"ja":    "ja-JP-NanamiNeural",
	"ko":    "ko-KR-SunHiNeural",
	"zh":    "zh-CN-XiaoxiaoNeural",
	"zh-TW": "zh-TW-HsiaoChenNeural",
	"es":    "es-ES-ElviraNeural",
	"es-MX": "es-MX-DaliaNeural",
	"fr":    "fr-FR-DeniseNeural",
	"de":    "de-DE-KatjaNeural",
	"it":    "it-IT-ElsaNeural",
	"pt":    "pt-BR-FranciscaNeural",
	"pt-PT": "pt-PT-RaquelNeural",
	"vi":    "vi-VN-HoaiMyNeural",
	"id":    "id-ID-GadisNeural",
	"hi":    "hi-IN-SwaraNeural",
	"ar":    "ar-SA-ZariyahNeural",
	"ru":    "ru-RU-SvetlanaNeural",
	"tr":    "tr-TR-EmelNeural",
}

// VoiceFor picks the voice for a BCP-47 tag.
func VoiceFor(tag string) string {
	if v, ok := voices[tag]; ok {
		return v
	}
	t, err := language.Parse(tag)
	if err != nil {
		return DefaultVoice
	}
	base, _ := t.Base()
	if region, conf := t.Region(); conf == language.Exact {
		if v, ok := voices[base.String()+"-"+region.String()]; ok {
			return v
		}
	}
	if v, ok := voices[base.String()]; ok {
		return v
	}
	return DefaultVoice
}

type AzureOption func(*AzureSynthesizer)

func WithAudioFormat(format string) AzureOption {
	return func(c *AzureSynthesizer) {
		c.format = format
	}
}

func WithHTTPTimeout(d time.Duration) AzureOption {
	return func(c *AzureSynthesizer) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithTTSEndpoint overrides the regional endpoint.
func WithTTSEndpoint(url string) AzureOption {
	return func(c *AzureSynthesizer) {
		c.endpoint = url
	}
}

// AzureSynthesizer handles text-to-speech via Azure Cognitive Services.
type AzureSynthesizer struct {
	subscriptionKey string
	endpoint        string
	format          string
	httpClient      *http.Client
	log             zerolog.Logger
}

var _ domain.Synthesizer = (*AzureSynthesizer)(nil)

func NewAzureSynthesizer(key, region string, opts ...AzureOption) *AzureSynthesizer {
	c := &AzureSynthesizer{
		subscriptionKey: key,
		endpoint:        fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", region),
		format:          DefaultAudioFormat,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("module", "speech.azure_tts").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *AzureSynthesizer) Synthesize(ctx context.Context, text, lang string) (domain.Clip, error) {
	voice := VoiceFor(lang)
	ssml, err := buildSSML(text, lang, voice)
	if err != nil {
		return domain.Clip{}, err
	}
	c.log.Debug().Int("chars", len(text)).Str("voice", voice).Msg("synthesizing")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(ssml))
	if err != nil {
		return domain.Clip{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.subscriptionKey)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", c.format)
	req.Header.Set("User-Agent", "SyncRoom/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Clip{}, fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Clip{}, fmt.Errorf("azure tts error %d: %s", resp.StatusCode, string(body))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Clip{}, fmt.Errorf("reading audio data: %w", err)
	}

	c.log.Debug().Int("bytes", len(audio)).Msg("got audio")
	return domain.Clip{
		Text:     text,
		Language: lang,
		Format:   mimeOf(c.format),
		Audio:    audio,
	}, nil
}

func buildSSML(text, lang, voice string) (string, error) {
	var esc bytes.Buffer
	if err := xml.EscapeText(&esc, []byte(text)); err != nil {
		return "", fmt.Errorf("escaping text: %w", err)
	}
	return fmt.Sprintf(
		`<speak version='1.0' xml:lang='%s'><voice xml:lang='%s' name='%s'>%s</voice></speak>`,
		lang, lang, voice, esc.String(),
	), nil
}

func mimeOf(format string) string {
	switch {
	case strings.HasSuffix(format, "mp3"):
		return "audio/mpeg"
	case strings.HasPrefix(format, "riff"):
		return "audio/wav"
	case strings.HasPrefix(format, "ogg"):
		return "audio/ogg"
	case strings.HasPrefix(format, "webm"):
		return "audio/webm"
	}
	return "application/octet-stream"
}

// BrowserSynthesizer returns text-only clips; the browser speaks them with
// its own speech engine.
type BrowserSynthesizer struct{}

func (BrowserSynthesizer) Synthesize(_ context.Context, text, lang string) (domain.Clip, error) {
	return domain.Clip{Text: text, Language: lang}, nil
}
