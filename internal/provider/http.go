// Package provider 实现具体邮件服务商的发送端（管线的叶子节点）
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/gatherly/config"
	"github.com/d60-Lab/gatherly/internal/sender"
	"github.com/d60-Lab/gatherly/pkg/logger"
)

// maxErrorBody 读取错误响应体的上限
const maxErrorBody = 4 << 10

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"html"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HTTPProvider 以 JSON POST 调用服务商 API；一次请求即一批收件人
type HTTPProvider struct {
	name     string
	endpoint string
	apiKey   string
	from     string
	quotaSig string
	client   *http.Client
	limiter  *rate.Limiter
}

func NewHTTPProvider(cfg config.ProviderConfig, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := int(cfg.RatePerSecond)
	if burst < 1 {
		burst = 1
	}
	return &HTTPProvider{
		name:     cfg.Name,
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		from:     cfg.From,
		quotaSig: cfg.QuotaExceededSignature,
		client:   client,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

func (p *HTTPProvider) Send(ctx context.Context, msg sender.Message) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(sendRequest{From: p.from, To: msg.Recipients, Subject: msg.Subject, Body: msg.Body})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", p.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		logger.Debug("mail batch accepted",
			zap.String("provider", p.name),
			zap.Int("recipients", len(msg.Recipients)),
			zap.Duration("latency", time.Since(start)),
		)
		return nil
	}
	return p.decodeError(resp)
}

func (p *HTTPProvider) decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	pe := &sender.ProviderError{
		Provider:   p.name,
		StatusCode: resp.StatusCode,
		Temporary:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
	}

	var body errorResponse
	if json.Unmarshal(raw, &body) == nil && (body.Code != "" || body.Message != "") {
		pe.Code, pe.Message = body.Code, body.Message
	} else {
		pe.Message = strings.TrimSpace(string(raw))
	}

	if p.quotaSig != "" {
		sig := strings.ToLower(p.quotaSig)
		if strings.Contains(strings.ToLower(pe.Message), sig) || strings.EqualFold(pe.Code, p.quotaSig) {
			pe.Quota = true
			pe.Temporary = false
		}
	}
	return pe
}
