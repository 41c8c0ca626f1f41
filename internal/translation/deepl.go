// Package translation fans a question's reference locale out to other
// languages through DeepL and meters the billed characters.
package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quizforge/backend/internal/logger"
)

// Translation is the result for one input text.
type Translation struct {
	Text                   string
	DetectedSourceLanguage string
	BilledCharacters       int
}

// Translator translates texts into target. A nil source asks the service to
// detect the language.
type Translator interface {
	Translate(ctx context.Context, texts []string, source *string, target string) ([]Translation, error)
}

// ── DeepL v2 ───────────────────────────────────────────

type DeepLClient struct {
	httpClient *http.Client
	baseURL    string
	authKey    string
	timeout    time.Duration
	maxRetries int
	log        *logger.Logger
}

func NewDeepLClient(authKey, baseURL string, timeout time.Duration, maxRetries int, log *logger.Logger) *DeepLClient {
	return &DeepLClient{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		authKey:    authKey,
		timeout:    timeout,
		maxRetries: maxRetries,
		log:        log.With("component", "DeepLClient"),
	}
}

type deeplRequest struct {
	Text                 []string `json:"text"`
	SourceLang           string   `json:"source_lang,omitempty"`
	TargetLang           string   `json:"target_lang"`
	ShowBilledCharacters bool     `json:"show_billed_characters"`
}

type deeplResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
		BilledCharacters       int    `json:"billed_characters"`
	} `json:"translations"`
}

type deeplHTTPError struct {
	StatusCode int
	Body       string
}

func (e *deeplHTTPError) Error() string {
	return fmt.Sprintf("deepl http %d: %s", e.StatusCode, e.Body)
}

// TargetCode maps a locale code to a DeepL target language ("en-US" ->
// "EN-US", "de" -> "DE").
func TargetCode(language string) string {
	return strings.ToUpper(strings.TrimSpace(language))
}

// SourceCode maps a locale code to a DeepL source language. Source languages
// carry no region ("en-US" -> "EN").
func SourceCode(language string) string {
	code := strings.TrimSpace(language)
	if i := strings.IndexAny(code, "-_"); i >= 0 {
		code = code[:i]
	}
	return strings.ToUpper(code)
}

func (c *DeepLClient) Translate(ctx context.Context, texts []string, source *string, target string) ([]Translation, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body := deeplRequest{
		Text:                 texts,
		TargetLang:           TargetCode(target),
		ShowBilledCharacters: true,
	}
	if source != nil {
		body.SourceLang = SourceCode(*source)
	}

	var out deeplResponse
	if err := c.doWithRetry(ctx, "/v2/translate", body, &out); err != nil {
		return nil, err
	}
	if len(out.Translations) != len(texts) {
		return nil, fmt.Errorf("deepl returned %d translations for %d texts", len(out.Translations), len(texts))
	}

	result := make([]Translation, len(out.Translations))
	for i, t := range out.Translations {
		result[i] = Translation{
			Text:                   t.Text,
			DetectedSourceLanguage: t.DetectedSourceLanguage,
			BilledCharacters:       t.BilledCharacters,
		}
	}
	return result, nil
}

func (c *DeepLClient) doOnce(ctx context.Context, path string, body any) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+c.authKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &deeplHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func (c *DeepLClient) doWithRetry(ctx context.Context, path string, body any, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			sleepFor := backoff(attempt)
			c.log.Warn("DeepL request retrying", "path", path, "attempt", attempt+1, "sleep", sleepFor.String(), "error", lastErr)
			if err := sleep(ctx, sleepFor); err != nil {
				return err
			}
		}

		raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("deepl decode error: %w", uErr)
			}
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			return err
		}
	}
	return lastErr
}

// retryable is true for 429, 5xx and transport errors. 456 (quota
// exhausted) is final.
func retryable(err error) bool {
	var httpErr *deeplHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	return true
}

var backoff = func(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
