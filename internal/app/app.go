package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ykvlv/astro-forecast-bot/internal/advice"
	"github.com/ykvlv/astro-forecast-bot/internal/astro"
	"github.com/ykvlv/astro-forecast-bot/internal/cache"
	"github.com/ykvlv/astro-forecast-bot/internal/config"
	"github.com/ykvlv/astro-forecast-bot/internal/domain"
	"github.com/ykvlv/astro-forecast-bot/internal/entitlement"
	"github.com/ykvlv/astro-forecast-bot/internal/forecast"
	"github.com/ykvlv/astro-forecast-bot/internal/render"
	"github.com/ykvlv/astro-forecast-bot/internal/scheduler"
	"github.com/ykvlv/astro-forecast-bot/internal/store"
	"github.com/ykvlv/astro-forecast-bot/internal/telegram"
)

type App struct {
	cfg     config.Config
	log     *zap.Logger
	bot     *tgbotapi.BotAPI
	httpSrv *http.Server
	repo    store.Repo
	rds     *cache.Redis
	router  *telegram.Router
	sched   *scheduler.Scheduler
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	return &App{cfg: cfg, log: log, bot: bot, httpSrv: srv}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting astro-forecast-bot",
		zap.String("http", a.cfg.HTTPAddr),
		zap.String("model", a.cfg.OpenAIModel),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open SQLite and run migrations.
	repo, err := store.OpenSQLite(ctx, a.cfg.DBPath)
	if err != nil {
		a.log.Error("open sqlite failed", zap.Error(err))
		return err
	}
	a.repo = repo
	a.log.Info("sqlite ready")

	rds, err := cache.New(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
	if err != nil {
		a.log.Error("redis connect failed", zap.Error(err))
		return err
	}
	a.rds = rds
	a.log.Info("redis ready", zap.String("addr", a.cfg.RedisAddr))

	provider := astro.NewEphemeris()
	renderer := render.NewOpenAI(a.cfg.OpenAIKey, a.cfg.OpenAIModel, a.cfg.RenderBudget)
	checker := entitlement.NewStatic(a.cfg.TrialChatIDs)

	forecasts := forecast.New(a.repo, a.rds, a.rds, provider, renderer, checker, a.log, forecast.Options{
		DefaultTZ:   a.cfg.DefaultTZ,
		LockTTL:     a.cfg.LockTTL,
		WaitTimeout: a.cfg.WaitTimeout,
	})
	advisor := advice.New(a.repo, provider, renderer, a.log, a.cfg.AdviceWindow)

	a.router = telegram.NewRouter(a.bot, a.log, a.repo, forecasts, advisor, checker, a.cfg.DefaultTZ)

	cutoffM, err := domain.ParseClock(a.cfg.ReminderCutoff)
	if err != nil {
		a.log.Error("bad reminder cutoff", zap.String("value", a.cfg.ReminderCutoff), zap.Error(err))
		return err
	}
	a.sched = scheduler.New(a.repo, provider, renderer, a.router, a.log, scheduler.Options{
		SweepInterval:    a.cfg.SweepInterval,
		BroadcastHourUTC: a.cfg.BroadcastHourUTC,
		ReminderCutoffM:  cutoffM,
		RetryDelay:       a.cfg.RetryDelay,
		DefaultTZ:        a.cfg.DefaultTZ,
	})
	go a.sched.Run(ctx)

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updCh := a.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")

			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := a.httpSrv.Shutdown(shCtx)
			cancel()

			if err != nil {
				a.log.Warn("http server shutdown error", zap.Error(err))
			}
			if a.rds != nil {
				_ = a.rds.Close()
			}
			if a.repo != nil {
				_ = a.repo.Close()
			}
			return nil

		case upd := <-updCh:
			a.router.HandleUpdate(ctx, upd)
		}
	}
}
