package provider

import (
	"fmt"
	"net/http"

	"github.com/d60-Lab/gatherly/config"
	"github.com/d60-Lab/gatherly/internal/sender"
)

const (
	KindHTTP = "http"
	KindLog  = "log"
)

// New 按 kind 创建服务商发送端；client 为空时按配置超时新建
func New(cfg config.ProviderConfig, client *http.Client) (sender.Sender, error) {
	switch cfg.Kind {
	case KindHTTP:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("provider %s: endpoint is required", cfg.Name)
		}
		return NewHTTPProvider(cfg, client), nil
	case KindLog, "":
		return NewLogProvider(cfg.Name), nil
	default:
		return nil, fmt.Errorf("provider %s: unknown kind %q", cfg.Name, cfg.Kind)
	}
}
