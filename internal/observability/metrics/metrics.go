package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry 收集本服务全部指标，与默认注册表隔离。
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_http_requests_total",
		Help: "HTTP requests served, by handler, method and status code",
	}, []string{"handler", "method", "code"})

	httpLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"handler", "method"})

	completionCalls = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_completion_calls_total",
		Help: "Completion API round trips, by outcome",
	}, []string{"outcome"})

	completionLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "agent_completion_latency_seconds",
		Help:    "Completion API latency in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	runIterations = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "agent_run_iterations",
		Help:    "Completion round trips per orchestration run",
		Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
	})

	runOutcomes = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_runs_total",
		Help: "Orchestration runs, by termination reason",
	}, []string{"outcome"})

	toolDispatches = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_tool_dispatches_total",
		Help: "Tool dispatches, by tool and outcome",
	}, []string{"tool", "outcome"})

	workflowRuns = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_workflow_runs_total",
		Help: "Workflow runs, by workflow and final status",
	}, []string{"workflow", "status"})

	workflowDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_workflow_duration_seconds",
		Help:    "Workflow run duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"workflow"})

	intentsEmitted = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_intents_total",
		Help: "UI intents per client delivery, by intent type and result",
	}, []string{"type", "result"})

	connectedClients = factory.NewGauge(prometheus.GaugeOpts{
		Name: "agent_connected_clients",
		Help: "UI clients currently connected to the intent broadcaster",
	})

	goalTasks = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_goal_tasks_total",
		Help: "Asynchronous goal tasks, by final status",
	}, []string{"status"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveHTTPRequest 记录一次 HTTP 请求。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveCompletion 记录一次补全接口调用。
func ObserveCompletion(err error, duration time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	completionCalls.WithLabelValues(outcome).Inc()
	completionLatency.Observe(duration.Seconds())
}

// ObserveRun 记录一次编排运行的迭代次数与结束原因。
func ObserveRun(outcome string, iterations int) {
	runOutcomes.WithLabelValues(outcome).Inc()
	runIterations.Observe(float64(iterations))
}

// ObserveToolDispatch 记录一次工具调用结果。
func ObserveToolDispatch(tool string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	toolDispatches.WithLabelValues(tool, outcome).Inc()
}

// ObserveWorkflowRun 记录一次工作流运行。
func ObserveWorkflowRun(workflow, status string, duration time.Duration) {
	workflowRuns.WithLabelValues(workflow, status).Inc()
	workflowDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// ObserveIntent 记录意图投递结果。
func ObserveIntent(intentType string, delivered, dropped int) {
	if delivered > 0 {
		intentsEmitted.WithLabelValues(intentType, "delivered").Add(float64(delivered))
	}
	if dropped > 0 {
		intentsEmitted.WithLabelValues(intentType, "dropped").Add(float64(dropped))
	}
	if delivered == 0 && dropped == 0 {
		intentsEmitted.WithLabelValues(intentType, "no_clients").Inc()
	}
}

// SetConnectedClients 更新在线客户端数量。
func SetConnectedClients(n int) {
	connectedClients.Set(float64(n))
}

// ObserveGoalTask 记录异步任务的终态。
func ObserveGoalTask(status string) {
	goalTasks.WithLabelValues(status).Inc()
}

// Handler 返回暴露指标的 HTTP 处理器。
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// StartServer 在独立地址上暴露指标，直到 ctx 结束。
func StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
