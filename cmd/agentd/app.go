package main

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/afredojala/agent-demo/internal/agent"
	"github.com/afredojala/agent-demo/internal/api"
	"github.com/afredojala/agent-demo/internal/config"
	"github.com/afredojala/agent-demo/internal/crm"
	"github.com/afredojala/agent-demo/internal/intent"
	"github.com/afredojala/agent-demo/internal/llm/openai"
	"github.com/afredojala/agent-demo/internal/observability/metrics"
	"github.com/afredojala/agent-demo/internal/task"
	"github.com/afredojala/agent-demo/internal/tools"
	"github.com/afredojala/agent-demo/internal/workflow"
	"github.com/afredojala/agent-demo/pkg/logger"
)

// app 持有一次进程生命周期内共享的组件。
type app struct {
	cfg          *config.Config
	engine       *workflow.Engine
	broadcaster  *intent.Broadcaster
	orchestrator *agent.Orchestrator
	closers      []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	llmClient, err := openai.NewClient(openai.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout.Std(),
	})
	if err != nil {
		return nil, err
	}
	crmClient, err := crm.NewClient(cfg.CRM.BaseURL, crm.WithTimeout(cfg.CRM.Timeout.Std()))
	if err != nil {
		return nil, err
	}

	state, err := a.openState(ctx)
	if err != nil {
		return nil, err
	}

	a.engine = workflow.NewEngine(crmClient,
		workflow.WithStateStore(state),
		workflow.WithRunHistory(workflow.NewRunHistory(cfg.Agent.RunHistory)),
		workflow.WithRecorder(crmClient),
		workflow.WithAssignees(workflow.Assignees{
			Manager:       cfg.Agent.Manager,
			SeniorSupport: cfg.Agent.SeniorSupport,
		}),
		workflow.WithNotifyEmail(cfg.Agent.NotifyEmail),
	)
	a.broadcaster = intent.NewBroadcaster(
		intent.WithWriteTimeout(cfg.Broadcaster.WriteTimeout.Std()),
		intent.WithAllowedOrigins(cfg.Broadcaster.AllowedOrigins),
	)

	registry, err := tools.NewDefaultRegistry(tools.Deps{
		CRM:       crmClient,
		Workflows: a.engine,
		State:     state,
		Intents:   a.broadcaster,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.orchestrator = agent.New(llmClient, tools.NewDispatcher(registry),
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithLLMTimeout(cfg.Agent.LLMTimeout.Std()),
	)

	logger.L().Info("编排器初始化完成",
		slog.String("model", llmClient.Model()),
		slog.String("crm", cfg.CRM.BaseURL),
		slog.String("state_driver", cfg.State.Driver),
		slog.Int("tools", len(registry.Names())),
	)
	return a, nil
}

func (a *app) openState(ctx context.Context) (workflow.StateStore, error) {
	if a.cfg.State.Driver != "redis" {
		return workflow.NewMemoryStateStore(), nil
	}
	store, err := workflow.NewRedisStateStore(ctx, workflow.RedisStateOptions{
		Addr:      a.cfg.State.Redis.Addr,
		Password:  a.cfg.State.Redis.Password,
		DB:        a.cfg.State.Redis.DB,
		KeyPrefix: a.cfg.State.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store)
	return store, nil
}

// Close 断开前端连接并释放外部资源。
func (a *app) Close() error {
	if a.broadcaster != nil {
		a.broadcaster.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return stdErrors.Join(errs...)
}

// serve 启动 API 服务与任务处理器，任一退出时取消另一个。
func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := task.OpenStore(cfg.Storage.TaskStore)
	if err != nil {
		return err
	}
	queue, err := task.OpenQueue(ctx, cfg.TaskQueue)
	if err != nil {
		_ = store.Close()
		return err
	}
	tasks := task.NewService(store, queue, cfg.TaskQueue.MaxAttempts)
	defer tasks.Close()

	processor := task.NewProcessor(a.orchestrator, store, queue, queue,
		task.WithWorkerCount(cfg.TaskQueue.Workers),
	)

	opts := []api.Option{
		api.WithTaskService(tasks),
		api.WithRunHistory(a.engine.History()),
		api.WithEmitter(a.broadcaster),
		api.WithWebSocket(cfg.Broadcaster.Path, a.broadcaster),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout.Std()),
	}
	standaloneMetrics := cfg.Metrics.Enabled && cfg.Metrics.Address != ""
	if cfg.Metrics.Enabled && !standaloneMetrics {
		opts = append(opts, api.WithMetrics(cfg.Metrics.Path))
	}
	server := api.NewServer(cfg.Server.Address, a.orchestrator, opts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	workers := 2
	errCh := make(chan error, 3)
	go func() { errCh <- fmt.Errorf("任务处理器退出: %w", processor.Start(ctx)) }()
	go func() { errCh <- fmt.Errorf("API 服务退出: %w", server.Start(ctx)) }()
	if standaloneMetrics {
		workers++
		go func() {
			err := metrics.StartServer(ctx, cfg.Metrics.Address)
			if err == nil {
				err = ctx.Err()
			}
			errCh <- fmt.Errorf("指标服务退出: %w", err)
		}()
		logger.L().Info("指标服务已启动", slog.String("address", cfg.Metrics.Address))
	}

	first := <-errCh
	cancel()
	for range workers - 1 {
		<-errCh
	}
	if stdErrors.Is(first, context.Canceled) {
		logger.L().Info("服务已停止")
		return nil
	}
	return first
}
