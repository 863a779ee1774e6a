package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/afredojala/agent-demo/internal/agent"
	xerrors "github.com/afredojala/agent-demo/internal/errors"
	"github.com/afredojala/agent-demo/internal/intent"
	"github.com/afredojala/agent-demo/internal/observability/metrics"
	"github.com/afredojala/agent-demo/internal/task"
	"github.com/afredojala/agent-demo/internal/workflow"
	"github.com/afredojala/agent-demo/pkg/logger"
)

const replyErrorPrefix = "Sorry, I encountered an error: "

// Emitter 推送界面意图。
type Emitter interface {
	Emit(ctx context.Context, in intent.Intent) (intent.Delivery, error)
}

// Server 暴露编排器、异步任务、工作流运行记录与意图推送接口。
type Server struct {
	addr            string
	runner          agent.Runner
	tasks           *task.Service
	runs            *workflow.RunHistory
	emitter         Emitter
	ws              http.Handler
	wsPath          string
	metricsPath     string
	shutdownTimeout time.Duration
	log             *slog.Logger
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithTaskService 启用 /api/v1/tasks 接口。
func WithTaskService(svc *task.Service) Option {
	return func(s *Server) { s.tasks = svc }
}

// WithRunHistory 启用 /api/v1/workflows/runs 接口。
func WithRunHistory(history *workflow.RunHistory) Option {
	return func(s *Server) { s.runs = history }
}

// WithEmitter 启用 /api/v1/intents 接口。
func WithEmitter(emitter Emitter) Option {
	return func(s *Server) { s.emitter = emitter }
}

// WithWebSocket 在 path 上挂载前端意图连接。
func WithWebSocket(path string, handler http.Handler) Option {
	return func(s *Server) {
		s.ws = handler
		if path != "" {
			s.wsPath = path
		}
	}
}

// WithMetrics 在 path 上暴露 Prometheus 指标，path 为空时不暴露。
func WithMetrics(path string) Option {
	return func(s *Server) { s.metricsPath = path }
}

// WithShutdownTimeout 设置优雅关闭的等待时间。
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.shutdownTimeout = timeout
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, runner agent.Runner, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		runner:          runner,
		wsPath:          "/ws",
		shutdownTimeout: 5 * time.Second,
		log:             logger.Named("api"),
	}
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
	s.route(mux, "POST /process", "process", s.handleProcess)
	s.route(mux, "GET /health", "health", s.handleHealth)
	s.route(mux, "POST /api/v1/tasks", "tasks_create", s.handleCreateTask)
	s.route(mux, "GET /api/v1/tasks", "tasks_list", s.handleListTasks)
	s.route(mux, "GET /api/v1/tasks/{id}", "tasks_detail", s.handleTaskDetail)
	s.route(mux, "GET /api/v1/workflows/runs", "runs_list", s.handleListRuns)
	s.route(mux, "GET /api/v1/workflows/runs/{id}", "runs_detail", s.handleRunDetail)
	s.route(mux, "POST /api/v1/intents", "intents", s.handleEmitIntent)
	if s.ws != nil {
		mux.Handle("GET "+s.wsPath, s.ws)
	}
	if s.metricsPath != "" {
		mux.Handle("GET "+s.metricsPath, metrics.Handler())
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
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("addr", s.addr))

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

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	method, _, _ := strings.Cut(pattern, " ")
	mux.Handle(pattern, instrument(name, method, h))
}

type processRequest struct {
	Message string `json:"message"`
}

type processResponse struct {
	Response   string  `json:"response"`
	ViewChange *string `json:"view_change"`
}

// handleProcess 同步执行一条自然语言指令。编排失败也返回 200，错误写在回复文本中。
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "编排器未初始化"))
		return
	}

	res, err := s.runner.Run(r.Context(), req.Message)
	if err != nil {
		s.log.Warn("处理消息失败", slog.Any("error", err))
		writeJSON(w, http.StatusOK, processResponse{Response: replyErrorPrefix + xerrors.PublicMessage(err)})
		return
	}
	out := processResponse{Response: res.Reply}
	if res.ViewChange != "" {
		view := res.ViewChange
		out.ViewChange = &view
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未启用"))
		return
	}
	var req task.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	created, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未启用"))
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tasks, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "stats": stats})
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未启用"))
		return
	}
	got, err := s.tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "运行记录未启用"))
		return
	}
	limit, err := intParam(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	runs := s.runs.List(r.URL.Query().Get("workflow"), limit)
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "运行记录未启用"))
		return
	}
	run, ok := s.runs.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, xerrors.New(xerrors.CodeNotFound, "workflow run not found"))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleEmitIntent(w http.ResponseWriter, r *http.Request) {
	if s.emitter == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "意图广播未启用"))
		return
	}
	var in intent.Intent
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	delivery, err := s.emitter.Emit(r.Context(), in)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	logger.Audit().Info("intent pushed by operator",
		slog.String("type", string(in.Type)),
		slog.Int("delivered", delivery.Delivered),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "sent",
		"delivered": delivery.Delivered,
		"dropped":   delivery.Dropped,
	})
}

func parseListOptions(r *http.Request) ([]task.ListOption, error) {
	q := r.URL.Query()
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		return nil, err
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		return nil, err
	}
	opts := []task.ListOption{task.WithLimit(limit), task.WithOffset(offset), task.WithQuery(q.Get("q"))}

	if raw := q.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(part))
			if !task.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态: "+string(status))
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := q.Get("has_result"); raw != "" {
		hasResult, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "has_result 必须是布尔值")
		}
		opts = append(opts, task.WithResultPresence(hasResult))
	}
	if q.Get("order") == "asc" {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	return opts, nil
}

func intParam(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, key+" 必须是非负整数")
	}
	return v, nil
}

// statusOf 把错误码映射为 HTTP 状态码。
func statusOf(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeTaskNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, task.CodeTaskConflict:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Code: string(xerrors.CodeOf(err)), Message: xerrors.PublicMessage(err)})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ctx.Err() != nil {
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(name, method string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, method, rec.status, time.Since(start))
	})
}
