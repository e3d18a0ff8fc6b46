package server

import (
	nethttp "net/http"

	"metering-service/internal/conf"
	"metering-service/internal/service"

	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPServer 创建 HTTP 服务器
func NewHTTPServer(c *conf.Bootstrap, meteringService *service.MeteringService) *http.Server {
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
		if c.Server.Http.Timeout > 0 {
			opts = append(opts, http.Timeout(c.Server.Http.Timeout.AsDuration()))
		}
	}
	srv := http.NewServer(opts...)

	srv.Handle("/metrics", promhttp.Handler())
	srv.HandleFunc("/healthz", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.WriteHeader(nethttp.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	route := srv.Route("/v1")
	route.GET("/tenants/{tenant_id}/account", meteringService.GetAccount)
	route.GET("/tenants/{tenant_id}/spend", meteringService.GetSpendSummary)
	route.GET("/tenants/{tenant_id}/transactions", meteringService.ListTransactions)
	route.POST("/tenants/{tenant_id}/wallet/credit", meteringService.CreditWallet)
	route.GET("/billing-records", meteringService.ListBillingRecords)
	route.POST("/usage-events/{usage_event_id}/replay", meteringService.ReplayUsageEvent)
	route.POST("/pricing-rules", meteringService.CreatePricingRule)
	route.POST("/quota/rollover", meteringService.RolloverQuota)

	return srv
}
