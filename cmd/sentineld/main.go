// Command sentineld wires together every component of the signal
// tracking engine and runs it until terminated. Grounded on the teacher's
// main.go wiring order (load env, construct services bottom-up, start
// background workers, serve HTTP) generalized from a crypto-whale bot to
// the full Feed/Stream/Tracker/Lifecycle/Control pipeline.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentineldesk/tracker/internal/alertdistance"
	"github.com/sentineldesk/tracker/internal/alertsink"
	"github.com/sentineldesk/tracker/internal/alertsink/telegram"
	"github.com/sentineldesk/tracker/internal/alertsink/wsdash"
	"github.com/sentineldesk/tracker/internal/clock"
	"github.com/sentineldesk/tracker/internal/config"
	"github.com/sentineldesk/tracker/internal/control"
	"github.com/sentineldesk/tracker/internal/feed/cryptofeed"
	"github.com/sentineldesk/tracker/internal/feed/icmarkets"
	"github.com/sentineldesk/tracker/internal/feed/oanda"
	"github.com/sentineldesk/tracker/internal/health"
	"github.com/sentineldesk/tracker/internal/lifecycle"
	"github.com/sentineldesk/tracker/internal/news"
	"github.com/sentineldesk/tracker/internal/store"
	"github.com/sentineldesk/tracker/internal/store/memstore"
	"github.com/sentineldesk/tracker/internal/store/sqlstore"
	"github.com/sentineldesk/tracker/internal/stream"
	"github.com/sentineldesk/tracker/internal/takeprofit"
	"github.com/sentineldesk/tracker/internal/tracker"
)

func main() {
	log.Println("sentineld starting")

	config.LoadEnv()

	c := clock.System{}

	signalStore := openStore()

	alertCfg := alertdistance.Load(config.AlertDistancesPath)
	tpCfg := takeprofit.Load(config.TPConfigurationPath)
	tpEval := takeprofit.NewEvaluator(tpCfg)
	newsMgr := news.Load(config.NewsEventsPath, c)

	wsSink := wsdash.New()
	tgSink := telegram.New()
	sink := alertsink.NewFanout(wsSink, tgSink)

	healthCfg := config.LoadHealthConfig(config.HealthConfigPath)

	streamMgr := stream.NewManager()
	streamMgr.Register(icmarkets.New(os.Getenv("ICMARKETS_BASE_URL"), os.Getenv("ICMARKETS_API_KEY")))
	streamMgr.Register(oanda.New(os.Getenv("OANDA_STREAM_URL"), os.Getenv("OANDA_ACCOUNT_ID"), os.Getenv("OANDA_API_TOKEN")))
	streamMgr.Register(cryptofeed.New())

	healthMon := health.New(healthCfg, c, sink, streamMgr)
	streamMgr.SetHealthObserver(healthMon)

	settings := func() config.Settings { return config.LoadSettings(config.SettingsPath) }
	marketHours := func() config.MarketHoursConfig { return healthCfg.MarketHours }

	sigTracker := tracker.New(tracker.Deps{
		Store:         signalStore,
		AlertDistance: alertCfg,
		TPConfig:      tpCfg,
		TPEvaluator:   tpEval,
		News:          newsMgr,
		Settings:      settings,
		MarketHours:   marketHours,
		Clock:         c,
		Sink:          sink,
	})

	lifecycleMgr := lifecycle.New(signalStore, sigTracker, c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sigTracker.LoadActive(ctx); err != nil {
		log.Fatalf("initial load failed: %v", err)
	}

	plane := control.New(control.Deps{
		Store:         signalStore,
		Tracker:       sigTracker,
		Lifecycle:     lifecycleMgr,
		Stream:        streamMgr,
		Health:        healthMon,
		AlertDistance: alertCfg,
		TPConfig:      tpCfg,
		News:          newsMgr,
		SettingsPath:  config.SettingsPath,
		Clock:         c,
	})

	go streamMgr.Run(ctx)
	go sigTracker.RunRefreshLoop(ctx)
	go lifecycleMgr.RunSweepLoop(ctx)
	go runHealthLoop(ctx, healthMon, healthCfg.CheckIntervalSeconds)
	go runQuoteLoop(ctx, streamMgr, sigTracker)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsSink.HandleWebSocket)
	mux.Handle("/healthz", healthMon)
	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		report, err := plane.Report(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Write([]byte(report))
	})

	srv := &http.Server{Addr: ":8090", Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	log.Println("sentineld running")
	waitForShutdown()

	cancel()
	_ = srv.Close()
	log.Println("sentineld stopped")
}

func openStore() store.SignalStore {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		log.Println("MYSQL_DSN not set, using in-memory store")
		return memstore.New()
	}
	s, err := sqlstore.Open(dsn)
	if err != nil {
		log.Fatalf("failed to open sqlstore: %v", err)
	}
	return s
}

func runHealthLoop(ctx context.Context, m *health.Monitor, intervalSeconds int) {
	tick := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			m.Check()
		}
	}
}

func runQuoteLoop(ctx context.Context, s *stream.Manager, t *tracker.Tracker) {
	quotes, unsubscribe := s.AddSubscriber(1024)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-quotes:
			if !ok {
				return
			}
			t.HandleQuote(ctx, q)
		}
	}
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
