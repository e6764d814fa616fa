package server

import (
	"context"

	"serving-control-plane/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
)

// UsageWorkerServer 进程内用量落库 worker 的生命周期包装
// MQ 未启用时 meter 的事件走这个 worker 落库
type UsageWorkerServer struct {
	meter *biz.UsageMeterUseCase
	log   *log.Helper
}

// NewUsageWorkerServer 创建用量 worker server
func NewUsageWorkerServer(meter *biz.UsageMeterUseCase, logger log.Logger) *UsageWorkerServer {
	return &UsageWorkerServer{
		meter: meter,
		log:   log.NewHelper(logger),
	}
}

// Start 启动 worker
func (s *UsageWorkerServer) Start(ctx context.Context) error {
	s.log.Info("Starting usage worker")
	return s.meter.Start(ctx)
}

// Stop 停止并排空 worker
func (s *UsageWorkerServer) Stop(ctx context.Context) error {
	s.log.Info("Stopping usage worker")
	return s.meter.Stop(ctx)
}
