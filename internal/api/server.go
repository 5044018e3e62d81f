package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	xerrors "SwapPilot/internal/errors"
)

// JobRunner 是触发接口依赖的任务注册表。
type JobRunner interface {
	Names() []string
	Run(ctx context.Context, name string) (any, error)
}

// RequestObserver 记录 HTTP 请求指标。
type RequestObserver interface {
	ObserveHTTPRequest(handler, method string, status int, duration time.Duration)
}

// Server 负责暴露任务触发接口，供外部调度器驱动各个任务。
type Server struct {
	addr            string
	secret          string
	jobs            JobRunner
	metrics         http.Handler
	observer        RequestObserver
	shutdownTimeout time.Duration
}

// Option 定义可选配置。
type Option func(*Server)

// WithSecret 设置触发接口的共享密钥。密钥为空时所有触发请求都会被拒绝。
func WithSecret(secret string) Option {
	return func(s *Server) { s.secret = secret }
}

// WithMetrics 挂载 /metrics 并记录请求指标。
func WithMetrics(handler http.Handler, observer RequestObserver) Option {
	return func(s *Server) {
		s.metrics = handler
		s.observer = observer
	}
}

// WithShutdownTimeout 设置优雅退出的等待时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, jobs JobRunner, opts ...Option) *Server {
	s := &Server{addr: addr, jobs: jobs, shutdownTimeout: 5 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /api/v1/jobs", s.instrument("jobs_list", s.bearerAuth(http.HandlerFunc(s.handleListJobs))))
	mux.Handle("POST /api/v1/jobs/{name}", s.instrument("jobs_trigger", s.bearerAuth(http.HandlerFunc(s.handleTriggerJob))))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"jobs": s.jobs.Names()})
}

func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	result, err := s.jobs.Run(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodeJobBusy:
		status = http.StatusConflict
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, errorBody{Code: string(code), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
