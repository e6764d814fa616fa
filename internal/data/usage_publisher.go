package data

import (
	"context"
	"encoding/json"

	"serving-control-plane/internal/biz"
	"serving-control-plane/internal/conf"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/go-kratos/kratos/v2/log"
)

// usagePublisher 用量事件 RocketMQ 生产者
// MQ 未启用或初始化失败时退化为 disabled，meter 会走进程内 worker
type usagePublisher struct {
	p       rocketmq.Producer
	topic   string
	log     *log.Helper
	enabled bool
}

// NewUsagePublisher 创建用量事件投递通道（返回 biz.UsagePublisher 接口）
func NewUsagePublisher(c *conf.Bootstrap, logger log.Logger) (biz.UsagePublisher, func(), error) {
	helper := log.NewHelper(logger)
	noop := func() {}

	if c.Data == nil || c.Data.Rocketmq == nil || !c.Data.Rocketmq.Enabled {
		return &usagePublisher{enabled: false, log: helper}, noop, nil
	}
	mq := c.Data.Rocketmq

	p, err := rocketmq.NewProducer(
		producer.WithNsResolver(primitive.NewPassthroughResolver(mq.NameServers)),
		producer.WithGroupName(mq.GroupName),
		producer.WithRetry(int(mq.RetryTimes)),
	)
	if err != nil {
		helper.Errorf("init producer error: %v", err)
		return &usagePublisher{enabled: false, log: helper}, noop, nil
	}
	if err := p.Start(); err != nil {
		helper.Errorf("start producer error: %v", err)
		return &usagePublisher{enabled: false, log: helper}, noop, nil
	}

	pub := &usagePublisher{
		p:       p,
		topic:   mq.Topic,
		log:     helper,
		enabled: true,
	}
	cleanup := func() {
		helper.Info("shutting down usage publisher")
		if err := p.Shutdown(); err != nil {
			helper.Errorf("producer shutdown error: %v", err)
		}
	}
	return pub, cleanup, nil
}

// Enabled 是否走 MQ 投递
func (u *usagePublisher) Enabled() bool {
	return u.enabled
}

// PublishUsage 单向投递用量事件，落库由消费端批量完成
func (u *usagePublisher) PublishUsage(ctx context.Context, event *biz.UsageEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return u.p.SendOneWay(ctx, primitive.NewMessage(u.topic, body))
}
