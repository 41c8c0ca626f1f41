package translation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizforge/backend/internal/logger"
)

func init() {
	backoff = func(int) time.Duration { return time.Millisecond }
}

func TestLanguageCodes(t *testing.T) {
	assert.Equal(t, "EN-US", TargetCode("en-US"))
	assert.Equal(t, "UK", TargetCode(" uk "))
	assert.Equal(t, "EN", SourceCode("en-US"))
	assert.Equal(t, "PT", SourceCode("pt_BR"))
	assert.Equal(t, "DE", SourceCode("de"))
}

func TestDeepLClient_Translate(t *testing.T) {
	var got deeplRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/translate", r.URL.Path)
		assert.Equal(t, "DeepL-Auth-Key secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"translations":[
			{"detected_source_language":"EN","text":"Wer schrieb den Staat?","billed_characters":23},
			{"detected_source_language":"EN","text":"Platon","billed_characters":5}
		]}`))
	}))
	defer srv.Close()

	c := NewDeepLClient("secret", srv.URL+"/", time.Second, 0, logger.Nop())
	src := "en-US"
	out, err := c.Translate(context.Background(), []string{"Who wrote the Republic?", "Plato"}, &src, "de")
	require.NoError(t, err)

	assert.Equal(t, "DE", got.TargetLang)
	assert.Equal(t, "EN", got.SourceLang)
	assert.True(t, got.ShowBilledCharacters)
	require.Len(t, out, 2)
	assert.Equal(t, "Platon", out[1].Text)
	assert.Equal(t, 23, out[0].BilledCharacters)
}

func TestDeepLClient_AutoDetectOmitsSource(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"translations":[{"detected_source_language":"FR","text":"Hello","billed_characters":7}]}`))
	}))
	defer srv.Close()

	c := NewDeepLClient("k", srv.URL, time.Second, 0, logger.Nop())
	out, err := c.Translate(context.Background(), []string{"Bonjour"}, nil, "en-GB")
	require.NoError(t, err)

	_, hasSource := raw["source_lang"]
	assert.False(t, hasSource)
	assert.Equal(t, "FR", out[0].DetectedSourceLanguage)
}

func TestDeepLClient_RetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewDeepLClient("k", srv.URL, time.Second, 2, logger.Nop())
	_, err := c.Translate(context.Background(), []string{"x"}, nil, "de")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeepLClient_QuotaExceededIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(456)
	}))
	defer srv.Close()

	c := NewDeepLClient("k", srv.URL, time.Second, 3, logger.Nop())
	_, err := c.Translate(context.Background(), []string{"x"}, nil, "de")

	var httpErr *deeplHTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 456, httpErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDeepLClient_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"translations":[]}`))
	}))
	defer srv.Close()

	c := NewDeepLClient("k", srv.URL, time.Second, 0, logger.Nop())
	_, err := c.Translate(context.Background(), []string{"a", "b"}, nil, "de")
	assert.Error(t, err)
}
