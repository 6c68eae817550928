package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"restbridge/adapter"
	"restbridge/config"
	"restbridge/internal/channel"
	"restbridge/internal/dashboard"
	"restbridge/internal/metrics"
	"restbridge/logger"
	"restbridge/models"
	"restbridge/writer"
)

type historyRequest struct {
	symbol, period string
	start, end     time.Time
}

// parseHistory reads "SYMBOL,PERIOD,START,END" with RFC3339 times.
func parseHistory(s string) (historyRequest, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return historyRequest{}, fmt.Errorf("want SYMBOL,PERIOD,START,END, got %q", s)
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(parts[2]))
	if err != nil {
		return historyRequest{}, fmt.Errorf("start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(parts[3]))
	if err != nil {
		return historyRequest{}, fmt.Errorf("end: %w", err)
	}
	return historyRequest{
		symbol: strings.TrimSpace(parts[0]),
		period: strings.TrimSpace(parts[1]),
		start:  start,
		end:    end,
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func drain(events *channel.Events, log *logger.Log) {
	entry := log.WithComponent("host")
	for ev := range events.C {
		fields := logger.Fields{"event": string(ev.Type), "change": ev.Change.String()}
		switch ev.Type {
		case channel.EventMessage:
			fields["level"] = ev.Level.String()
			fields["text"] = ev.Text
		case channel.EventPrice:
			fields["symbol"] = ev.Quote.Symbol
			fields["bid"] = ev.Quote.Bid
			fields["ask"] = ev.Quote.Ask
		case channel.EventAccount:
			fields["account_id"] = ev.Account.AccountID
			fields["balance"] = ev.Account.Balance
			fields["equity"] = ev.Account.Equity
		case channel.EventOrder:
			fields["order_id"] = ev.Order.OrderID
			fields["symbol"] = ev.Order.Symbol
		case channel.EventOpenedTrade, channel.EventClosedTrade:
			fields["trade_id"] = ev.Trade.TradeID
			fields["symbol"] = ev.Trade.Symbol
			fields["amount"] = ev.Trade.Amount
		}
		entry.WithFields(fields).Debug("event")
	}
}

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	symbolsFlag := flag.String("symbols", "", "Comma separated symbols to poll prices for")
	historyFlag := flag.String("history", "", "Fetch history as SYMBOL,PERIOD,START,END (RFC3339) and exit")
	exportFlag := flag.Bool("export", false, "Export fetched history as parquet")
	flag.Parse()

	path := config.ResolvePath(*configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": path}).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	if !cfg.Base.SslVerify {
		if config.IsProductionLike(env) {
			log.WithFields(logger.Fields{"environment": env}).Error("refusing to run without TLS verification")
			os.Exit(1)
		}
		log.WithFields(logger.Fields{"environment": env}).Warn("TLS verification disabled")
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Adapter.Name,
		"version":     cfg.Adapter.Version,
		"environment": env,
		"config":      path,
	}).Info("starting restbridge")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == logger.LevelReport {
		logger.StartReport(ctx, log, 30*time.Second)
	}
	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Address)
	}
	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}

	events := channel.NewEvents(cfg.Channels.EventBuffer)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		drain(events, log)
	}()

	a := adapter.New(events)
	if err := a.Init(cfg); err != nil {
		log.WithError(err).Error("failed to initialize adapter")
		os.Exit(1)
	}

	dash, err := dashboard.NewServer(cfg.Dashboard, log, a)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard")
		os.Exit(1)
	}
	if dash != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dash.Run(ctx); err != nil {
				log.WithError(err).Warn("dashboard stopped")
			}
		}()
	}

	shutdown := func() {
		log.Info("starting graceful shutdown")
		a.Close()
		cancel()
		events.Close()

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			log.Info("graceful shutdown completed")
		case <-time.After(cfg.Scheduler.ShutdownTimeout):
			log.Warn("graceful shutdown timeout exceeded")
		}
		log.Info("restbridge stopped")
	}

	if *historyFlag != "" {
		code := runHistory(ctx, a, cfg, *historyFlag, *exportFlag, log)
		shutdown()
		os.Exit(code)
	}

	if err := a.Login(ctx); err != nil {
		log.WithError(err).Error("login failed")
		shutdown()
		os.Exit(1)
	}

	armPolling(ctx, a, splitList(*symbolsFlag), log)

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	shutdown()
}

// pollingReader is the part of the adapter armPolling drives.
type pollingReader interface {
	GetAccount(ctx context.Context, id string) ([]models.Account, error)
	GetOpenedTrades(ctx context.Context) ([]models.Trade, error)
	GetClosedTrades(ctx context.Context) ([]models.Trade, error)
	GetPrice(ctx context.Context, symbols []string) ([]models.Quote, error)
}

// armPolling performs the first read of every polled endpoint. Each endpoint
// is refreshed by the scheduler only after one successful read.
func armPolling(ctx context.Context, r pollingReader, symbols []string, log *logger.Log) {
	if accs, err := r.GetAccount(ctx, ""); err != nil {
		log.WithError(err).Warn("initial account read failed")
	} else {
		log.WithFields(logger.Fields{"accounts": len(accs)}).Info("account loaded")
	}
	if trades, err := r.GetOpenedTrades(ctx); err != nil {
		log.WithError(err).Warn("initial opened trades read failed")
	} else {
		log.WithFields(logger.Fields{"trades": len(trades)}).Info("opened trades loaded")
	}
	if trades, err := r.GetClosedTrades(ctx); err != nil {
		log.WithError(err).Warn("initial closed trades read failed")
	} else {
		log.WithFields(logger.Fields{"trades": len(trades)}).Info("closed trades loaded")
	}
	if len(symbols) == 0 {
		return
	}
	if quotes, err := r.GetPrice(ctx, symbols); err != nil {
		log.WithError(err).Warn("initial price read failed")
	} else {
		log.WithFields(logger.Fields{"quotes": len(quotes)}).Info("price polling armed")
	}
}

func runHistory(ctx context.Context, a *adapter.Adapter, cfg *config.Config, arg string, export bool, log *logger.Log) int {
	req, err := parseHistory(arg)
	if err != nil {
		log.WithError(err).Error("invalid -history")
		return 2
	}

	candles, err := a.GetHistoricalData(ctx, req.symbol, req.period, req.start, req.end)
	if err != nil {
		log.WithError(err).Error("history request failed")
		return 1
	}
	log.WithFields(logger.Fields{
		"symbol":  req.symbol,
		"period":  req.period,
		"candles": len(candles),
	}).Info("history assembled")

	if !export {
		return 0
	}
	w, err := writer.NewCandleWriter(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to create candle writer")
		return 1
	}
	loc, err := w.Write(ctx, req.symbol, req.period, candles)
	if err != nil {
		return 1
	}
	log.WithFields(logger.Fields{"location": loc}).Info("history exported")
	return 0
}
