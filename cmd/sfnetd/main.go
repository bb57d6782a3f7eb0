// Command sfnetd wires sfnet's reactor framework together with the
// socketmap/policy-delegation embedder and starts serving.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pj520/sfnet"
	"github.com/pj520/sfnet/socketmap"
)

func main() {
	logger, logFile, err := newLogger(os.Getenv("SFNET_LOG_FILE_PATH"))
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	smCfg, err := socketmap.NewConfig()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rateLimiter, closeQuotaCache := newRateLimiter(ctx, smCfg, logger)
	defer closeQuotaCache()

	metrics := socketmap.NewMetrics(func() float64 { return float64(rateLimiter.SenderCount(context.Background())) })

	userli := socketmap.NewUserli(
		smCfg.UserliToken,
		smCfg.UserliBaseURL,
		logger,
		metrics,
		socketmap.WithDelimiter(smCfg.PostfixRecipientDelimiter),
		socketmap.WithTimeout(smCfg.UserliTimeout),
	)

	denyList, err := socketmap.NewDenyList(smCfg.DenyListPath, logger)
	if err != nil {
		logger.Fatal("failed to load deny list", zap.Error(err))
	}
	if err := denyList.Watch(ctx, smCfg.DenyListPath); err != nil {
		logger.Fatal("failed to watch deny list", zap.Error(err))
	}

	svc := &socketmap.Service{
		Userli:      userli,
		RateLimiter: rateLimiter,
		Metrics:     metrics,
		Log:         logger,
		DenyList:    denyList,
	}

	sfCfg := buildFrameworkConfig(smCfg, logFile != nil)

	cb := svc.Callbacks()
	cb.LogSync = logger.Sync
	if logFile != nil {
		cb.LogRotate = logFile.rotate
		cb.LogDeleteOldFiles = logFile.deleteOlderThan
	}

	server, err := sfnet.New(sfCfg, cb, logger)
	if err != nil {
		logger.Fatal("failed to construct sfnet server", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range server.MetricCollectors() {
		registry.MustRegister(c)
	}
	for _, c := range metrics.Collectors() {
		registry.MustRegister(c)
	}

	if err := server.Start(ctx); err != nil {
		logger.Fatal("failed to start sfnet server", zap.Error(err))
	}

	startMetricsServer(ctx, smCfg.MetricsListenAddr, userli, logger, registry)

	logger.Info("sfnetd started",
		zap.String("outer_addr", smCfg.OuterListenAddr),
		zap.String("inner_addr", smCfg.InnerListenAddr))

	<-ctx.Done()
	server.Shutdown()
}

func newRateLimiter(ctx context.Context, cfg *socketmap.Config, logger *zap.Logger) (*socketmap.RateLimiter, func()) {
	if cfg.QuotaRedisAddr == "" {
		return socketmap.NewRateLimiter(ctx, nil), func() {}
	}

	logger.Info("using shared Redis quota cache", zap.String("addr", cfg.QuotaRedisAddr))
	cache := socketmap.NewRedisQuotaCache(cfg.QuotaRedisAddr)
	return socketmap.NewRateLimiter(ctx, cache), func() { _ = cache.Close() }
}

// buildFrameworkConfig derives sfnet.Config from the embedder's host:port
// strings. Both addrs are split independently, but sfnet.Config.bindAddr
// resolves them to one bind address shared by both listeners (the wildcard
// when both hosts are set), so outer and inner cannot be bound to different
// interfaces.
//
// logRotateEnabled is only true when a log file path was configured — log
// rotation against zap's default stderr writer makes no sense, so the
// scheduler's daily rotate/cleanup entries are only registered when there
// is an actual file to rotate.
func buildFrameworkConfig(smCfg *socketmap.Config, logRotateEnabled bool) sfnet.Config {
	outerHost, outerPort := splitHostPort(smCfg.OuterListenAddr)
	innerHost, innerPort := splitHostPort(smCfg.InnerListenAddr)

	cfg := sfnet.DefaultConfig()
	cfg.OuterBindAddr = outerHost
	cfg.OuterPort = outerPort
	cfg.InnerBindAddr = innerHost
	cfg.InnerPort = innerPort
	cfg.ProtoHeaderSize = 16
	cfg.LogRotateEnabled = logRotateEnabled

	if v := os.Getenv("SFNET_WORKER_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WorkerThreads = n
		}
	}
	if v := os.Getenv("SFNET_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConnections = n
		}
	}
	if v := os.Getenv("SFNET_NETWORK_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.NetworkTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("SFNET_LOG_KEEP_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LogFileKeepDays = n
		}
	}

	return cfg
}

// newLogger builds the process logger. With no path configured it logs
// JSON to stderr like zap.NewProduction; with a path it also writes to (and
// can rotate/clean up) that file, returning the handle the scheduler's
// default log-maintenance entries operate on.
func newLogger(path string) (*zap.Logger, *rotatingLogFile, error) {
	if path == "" {
		logger, err := zap.NewProduction()
		return logger, nil, err
	}

	lf, err := openRotatingLogFile(path)
	if err != nil {
		return nil, nil, err
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(lf),
		zap.InfoLevel,
	)
	return zap.New(core), lf, nil
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0
	}
	return host, port
}

func startMetricsServer(ctx context.Context, addr string, userli socketmap.UserliService, logger *zap.Logger, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if _, err := userli.GetDomain(checkCtx, "health-check.invalid"); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("metrics server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}
