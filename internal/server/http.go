package server

import (
	"io"
	"strconv"
	"time"

	"serving-control-plane/internal/biz"
	"serving-control-plane/internal/conf"
	servingErrors "serving-control-plane/internal/errors"
	"serving-control-plane/internal/service"

	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPServer 创建 HTTP 服务器
// 推理与管理接口都是手工注册的原始路由：推理请求体必须原样透传，
// 不能经过任何反序列化/再序列化
func NewHTTPServer(
	c *conf.Bootstrap,
	inference *service.InferenceService,
	deployments *service.DeploymentService,
	training *service.TrainingService,
	credits *service.CreditService,
) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
	}
	if c.Server != nil && c.Server.Http != nil {
		if c.Server.Http.Network != "" {
			opts = append(opts, http.Network(c.Server.Http.Network))
		}
		if c.Server.Http.Addr != "" {
			opts = append(opts, http.Address(c.Server.Http.Addr))
		}
		if c.Server.Http.TimeoutSeconds > 0 {
			opts = append(opts, http.Timeout(time.Duration(c.Server.Http.TimeoutSeconds)*time.Second))
		}
	}
	srv := http.NewServer(opts...)

	srv.Handle("/metrics", promhttp.Handler())

	r := srv.Route("/v1")

	// 推理入口
	r.POST("/{slug}/chat/completions", func(ctx http.Context) error {
		body, err := io.ReadAll(ctx.Request().Body)
		if err != nil {
			return servingErrors.ErrInvalidRequest("failed to read request body")
		}
		result, err := inference.ChatCompletions(ctx, ctx.Vars().Get("slug"), body)
		if err != nil {
			return err
		}
		ctx.Response().Header().Set("Content-Type", result.ContentType)
		ctx.Response().WriteHeader(result.StatusCode)
		_, err = ctx.Response().Write(result.Body)
		return err
	})

	// 部署管理
	r.POST("/deployments", func(ctx http.Context) error {
		var req service.CreateDeploymentRequest
		if err := ctx.Bind(&req); err != nil {
			return servingErrors.ErrInvalidRequest(err.Error())
		}
		reply, err := deployments.Create(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
	r.GET("/deployments/{id}", func(ctx http.Context) error {
		reply, err := deployments.Get(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
	r.POST("/deployments/{id}/stop", func(ctx http.Context) error {
		reply, err := deployments.Stop(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
	r.POST("/deployments/{id}/restart", func(ctx http.Context) error {
		reply, err := deployments.Restart(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	// 训练任务管理
	r.POST("/training-jobs", func(ctx http.Context) error {
		var req service.CreateTrainingJobRequest
		if err := ctx.Bind(&req); err != nil {
			return servingErrors.ErrInvalidRequest(err.Error())
		}
		reply, err := training.Create(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
	r.GET("/training-jobs/{id}", func(ctx http.Context) error {
		reply, err := training.Get(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
	r.POST("/training-jobs/{id}/cancel", func(ctx http.Context) error {
		reply, err := training.Cancel(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
	r.POST("/training-jobs/{id}/webhook", func(ctx http.Context) error {
		var cb biz.TrainingCallback
		if err := ctx.Bind(&cb); err != nil {
			return servingErrors.ErrInvalidRequest(err.Error())
		}
		reply, err := training.Webhook(ctx, ctx.Vars().Get("id"), &cb)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	// 余额与用量
	r.GET("/credits/{orgId}", func(ctx http.Context) error {
		reply, err := credits.GetBalance(ctx, ctx.Vars().Get("orgId"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
	r.POST("/credits/{orgId}/purchase", func(ctx http.Context) error {
		var req service.PurchaseRequest
		if err := ctx.Bind(&req); err != nil {
			return servingErrors.ErrInvalidRequest(err.Error())
		}
		reply, err := credits.Purchase(ctx, ctx.Vars().Get("orgId"), &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
	r.GET("/credits/{orgId}/transactions", func(ctx http.Context) error {
		page := parseIntQuery(ctx, "page", 1)
		pageSize := parseIntQuery(ctx, "page_size", 20)
		reply, err := credits.ListTransactions(ctx, ctx.Vars().Get("orgId"), page, pageSize)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
	r.GET("/usage/{orgId}", func(ctx http.Context) error {
		from := parseTimeQuery(ctx, "from")
		to := parseTimeQuery(ctx, "to")
		reply, err := credits.ListUsage(ctx, ctx.Vars().Get("orgId"), from, to)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	return srv
}

func parseIntQuery(ctx http.Context, key string, def int) int {
	v := ctx.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseTimeQuery(ctx http.Context, key string) time.Time {
	v := ctx.Query().Get(key)
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
