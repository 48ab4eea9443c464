package sender

import (
	"fmt"
	"time"

	"github.com/d60-Lab/gatherly/internal/breaker"
)

// 管线层名称
const (
	LayerRetry   = "retry"
	LayerChunk   = "chunk"
	LayerBreaker = "breaker"
)

// DefaultLayers 由内到外：Breaker(Chunk(Retry(leaf)))
var DefaultLayers = []string{LayerRetry, LayerChunk, LayerBreaker}

// PipelineConfig 单个供应商管线
type PipelineConfig struct {
	Name         string
	Layers       []string
	MaxAttempts  int
	Wait         time.Duration
	MaxBatchSize int
	Retryable    func(error) bool
	Breaker      *breaker.Breaker
}

// BuildPipeline 按配置的层顺序装配 leaf
func BuildPipeline(leaf Sender, cfg PipelineConfig) (Sender, error) {
	layers := cfg.Layers
	if len(layers) == 0 {
		layers = DefaultLayers
	}

	seen := make(map[string]bool, len(layers))
	mws := make([]Middleware, 0, len(layers))
	for _, name := range layers {
		if seen[name] {
			return nil, fmt.Errorf("pipeline %s: duplicate layer %q", cfg.Name, name)
		}
		seen[name] = true

		switch name {
		case LayerRetry:
			mws = append(mws, Retry(RetryConfig{
				Name:        cfg.Name,
				MaxAttempts: cfg.MaxAttempts,
				Wait:        cfg.Wait,
				Retryable:   cfg.Retryable,
			}))
		case LayerChunk:
			mws = append(mws, Chunk(cfg.MaxBatchSize))
		case LayerBreaker:
			if cfg.Breaker == nil {
				return nil, fmt.Errorf("pipeline %s: breaker layer without breaker", cfg.Name)
			}
			mws = append(mws, CircuitBreaker(cfg.Breaker))
		default:
			return nil, fmt.Errorf("pipeline %s: unknown layer %q", cfg.Name, name)
		}
	}
	return Chain(leaf, mws...), nil
}
