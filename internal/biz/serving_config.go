package biz

import (
	"time"

	"serving-control-plane/internal/conf"
)

// TierPrice 每千 token 单价（分）
type TierPrice struct {
	InputCentsPer1K  int64
	OutputCentsPer1K int64
}

// ServingConfig 控制面配置
type ServingConfig struct {
	MinAdmissionCents int64
	ProxyTimeout      time.Duration
	ProbeInterval     time.Duration
	Pricing           map[string]TierPrice
}

// NewServingConfig 从配置创建 ServingConfig
func NewServingConfig(c *conf.Bootstrap) *ServingConfig {
	config := &ServingConfig{
		MinAdmissionCents: 10,               // 默认值
		ProxyTimeout:      30 * time.Second, // 默认值
		ProbeInterval:     30 * time.Second, // 默认值
		Pricing:           make(map[string]TierPrice),
	}
	if c.Serving != nil {
		if c.Serving.MinAdmissionCents > 0 {
			config.MinAdmissionCents = c.Serving.MinAdmissionCents
		}
		if c.Serving.ProxyTimeoutSeconds > 0 {
			config.ProxyTimeout = time.Duration(c.Serving.ProxyTimeoutSeconds) * time.Second
		}
		if c.Serving.ProbeIntervalSeconds > 0 {
			config.ProbeInterval = time.Duration(c.Serving.ProbeIntervalSeconds) * time.Second
		}
		for tier, p := range c.Serving.Pricing {
			if p == nil {
				continue
			}
			config.Pricing[tier] = TierPrice{
				InputCentsPer1K:  p.InputCentsPer1K,
				OutputCentsPer1K: p.OutputCentsPer1K,
			}
		}
	}
	return config
}

// CostCents 按 GPU 档位计算一次调用的费用（分），向上取整到 1 分
func (c *ServingConfig) CostCents(gpuTier string, inputTokens, outputTokens int64) int64 {
	price, ok := c.Pricing[gpuTier]
	if !ok {
		return 0
	}
	cost := (inputTokens*price.InputCentsPer1K + outputTokens*price.OutputCentsPer1K) / 1000
	if cost == 0 && inputTokens+outputTokens > 0 {
		cost = 1
	}
	return cost
}
