package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/gatherly/config"
	"github.com/d60-Lab/gatherly/internal/sender"
)

func providerConfig(endpoint string) config.ProviderConfig {
	return config.ProviderConfig{
		Name:                   "mailgun",
		Kind:                   KindHTTP,
		Endpoint:               endpoint,
		APIKey:                 "key-123",
		From:                   "no-reply@gatherly.example",
		Timeout:                time.Second,
		QuotaExceededSignature: "daily sending quota exceeded",
	}
}

func TestHTTPProvider_Accepted(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewHTTPProvider(providerConfig(srv.URL), srv.Client())
	err := p.Send(context.Background(), sender.Message{Recipients: []string{"a@a.com", "b@b.com"}, Subject: "Reminder", Body: "<p>hi</p>"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@a.com", "b@b.com"}, got.To)
	assert.Equal(t, "Reminder", got.Subject)
	assert.Equal(t, "no-reply@gatherly.example", got.From)
}

func TestHTTPProvider_ErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		temporary bool
		quota     bool
	}{
		{"server error", http.StatusBadGateway, "upstream down", true, false},
		{"throttled", http.StatusTooManyRequests, `{"code":"rate_limited","message":"slow down"}`, true, false},
		{"rejected", http.StatusBadRequest, `{"code":"invalid","message":"bad recipient"}`, false, false},
		{"quota", http.StatusForbidden, `{"code":"forbidden","message":"Daily sending quota exceeded for domain"}`, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			err := NewHTTPProvider(providerConfig(srv.URL), srv.Client()).
				Send(context.Background(), sender.Message{Recipients: []string{"a@a.com"}})
			var pe *sender.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.status, pe.StatusCode)
			assert.Equal(t, tc.temporary, pe.Temporary)
			assert.Equal(t, tc.quota, pe.Quota)
			assert.Equal(t, tc.quota, errors.Is(err, sender.ErrQuotaExceeded))
			assert.Equal(t, tc.temporary, sender.IsTransient(err))
		})
	}
}

func TestHTTPProvider_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTPProvider(providerConfig(url), nil).Send(context.Background(), sender.Message{Recipients: []string{"a@a.com"}})
	require.Error(t, err)
	assert.True(t, sender.IsTransient(err))
}

func TestNew(t *testing.T) {
	s, err := New(config.ProviderConfig{Name: "dev", Kind: KindLog}, nil)
	require.NoError(t, err)
	assert.NoError(t, s.Send(context.Background(), sender.Message{Recipients: []string{"a@a.com"}}))

	_, err = New(config.ProviderConfig{Name: "x", Kind: KindHTTP}, nil)
	assert.Error(t, err)
	_, err = New(config.ProviderConfig{Name: "x", Kind: "smtp"}, nil)
	assert.Error(t, err)
}
