package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/config"
	"github.com/lvdashuaibi/electvote/internal/api/graph"
	"github.com/lvdashuaibi/electvote/internal/api/rest"
	"github.com/lvdashuaibi/electvote/internal/directory"
	intkafka "github.com/lvdashuaibi/electvote/internal/kafka"
	"github.com/lvdashuaibi/electvote/internal/lock"
	"github.com/lvdashuaibi/electvote/internal/mailer"
	"github.com/lvdashuaibi/electvote/internal/notify"
	"github.com/lvdashuaibi/electvote/internal/repository"
	"github.com/lvdashuaibi/electvote/internal/scheduler"
	"github.com/lvdashuaibi/electvote/internal/service"
	"github.com/lvdashuaibi/electvote/internal/token"
)

const (
	serviceStartLockName = "electvote:service:start:lock"
	startupTimeout       = 30 * time.Second
	shutdownTimeout      = 15 * time.Second
)

func newServeCmd() *cobra.Command {
	var autoMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动REST和GraphQL服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Sync()
			logger = logger.With(zap.Int("instance", instanceID))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, autoMigrate)
		},
	}
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "获得启动锁的实例在启动时创建表结构")
	return cmd
}

// app 持有需要在退出时关闭的资源
type app struct {
	closers []func() error
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close 按创建的逆序关闭
func (a *app) close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	return err
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, autoMigrate bool) (err error) {
	a := &app{}
	defer func() {
		if cerr := a.close(); cerr != nil {
			logger.Error("关闭资源失败", zap.Error(cerr))
			err = multierr.Append(err, cerr)
		}
	}()

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	store, mysqlRepo, err := openStore(startCtx, cfg, logger, a)
	if err != nil {
		return err
	}

	locker, err := openLock(startCtx, cfg, logger)
	if err != nil {
		return err
	}
	a.onClose(locker.Close)

	if autoMigrate && mysqlRepo != nil {
		if err := migrateOnce(startCtx, mysqlRepo, locker, logger); err != nil {
			return err
		}
	}

	candidates := directory.NewCandidateDirectory(store, logger)
	voters := directory.NewVoterDirectory(store, logger)
	issuer := token.NewIssuer(cfg.Token, voters, store, logger)

	var sched scheduler.Scheduler = scheduler.Disabled{}
	if cfg.Scheduler.Enabled {
		sched = scheduler.NewCronJobClient(cfg.Scheduler, logger)
	}

	var sender mailer.Sender = mailer.NewLogSender(logger)
	if cfg.Email.Enabled {
		sender = mailer.NewBrevoSender(cfg.Email, logger)
	}

	var (
		opts  []service.Option
		queue notify.EmailQueue = notify.NewDirectQueue(sender, logger)
	)
	if cfg.Kafka.Enabled {
		producer := intkafka.NewProducer(cfg.Kafka, logger)
		a.onClose(producer.Close)
		opts = append(opts, service.WithVoteEvents(producer))
		queue = notify.NewKafkaQueue(producer, logger)

		consumer := intkafka.NewConsumer(cfg.Kafka, logger)
		consumer.StartConsuming(notify.Deliver(sender))
		a.onClose(consumer.Stop)
		logger.Info("Kafka邮件消费者已启动", zap.Int("workers", cfg.Kafka.Workers))
	}

	elections, err := service.NewElectionService(store, candidates, voters, locker, sched, cfg, logger, opts...)
	if err != nil {
		return err
	}
	dispatcher, err := notify.NewDispatcher(store, voters, issuer, queue, cfg.Server, cfg.Email, logger)
	if err != nil {
		return err
	}

	router := rest.NewRouter(rest.Handlers{
		Elections:  elections,
		Candidates: candidates,
		Voters:     voters,
		Tokens:     issuer,
		Emails:     dispatcher,
		GraphQL:    graph.NewGraphQLServer(elections, issuer, logger),
	}, *cfg, logger)

	// 多实例部署时端口按实例ID递增
	port := cfg.Server.Port + instanceID - 1
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("服务已启动", zap.String("addr", srv.Addr), zap.String("graphql", cfg.GraphQL.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP服务异常退出: %w", err)
	case <-ctx.Done():
	}

	logger.Info("正在关闭服务...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("关闭HTTP服务失败: %w", err)
	}
	return nil
}

// openStore 按配置创建存储，使用MySQL时同时返回底层仓库供建表使用
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, a *app) (repository.Store, *repository.MySQLRepository, error) {
	var (
		store     repository.Store
		mysqlRepo *repository.MySQLRepository
	)
	switch cfg.Storage.Driver {
	case config.StorageMySQL:
		repo, err := repository.NewMySQLRepository(cfg.MySQL, logger)
		if err != nil {
			return nil, nil, err
		}
		store, mysqlRepo = repo, repo
	default:
		logger.Warn("使用内存存储，数据不会持久化")
		store = repository.NewMemoryRepository()
	}
	a.onClose(store.Close)

	if !cfg.Redis.Enabled {
		return store, mysqlRepo, nil
	}
	cache, err := repository.NewRedisRepository(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	a.onClose(cache.Close)
	logger.Info("Redis缓存已启用", zap.String("addr", cfg.Redis.DataAddress))
	return repository.NewCachedStore(store, cache, logger), mysqlRepo, nil
}

func openLock(ctx context.Context, cfg *config.Config, logger *zap.Logger) (lock.Lock, error) {
	switch cfg.Lock.Backend {
	case config.LockETCD:
		return lock.NewETCDLock(cfg.ETCD, logger)
	case config.LockRedis:
		return lock.NewRedLock(ctx, cfg.Redis, cfg.Lock, logger)
	default:
		return lock.NewLocalLock(), nil
	}
}

// migrateOnce 只有获得启动锁的实例执行建表，其余实例直接跳过
func migrateOnce(ctx context.Context, repo *repository.MySQLRepository, locker lock.Lock, logger *zap.Logger) error {
	acquired, err := locker.AcquireLock(ctx, serviceStartLockName, startupTimeout)
	if err != nil {
		logger.Warn("获取服务启动锁失败，跳过建表", zap.Error(err))
		return nil
	}
	if !acquired {
		logger.Info("其他实例持有启动锁，跳过建表")
		return nil
	}
	defer func() {
		if err := locker.ReleaseLock(context.Background(), serviceStartLockName); err != nil {
			logger.Warn("释放服务启动锁失败", zap.Error(err))
		}
	}()

	if err := repo.CreateSchema(ctx); err != nil {
		return fmt.Errorf("建表失败: %w", err)
	}
	logger.Info("表结构检查完成")
	return nil
}
