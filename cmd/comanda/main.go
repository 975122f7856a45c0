package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"comanda/internal/board"
	"comanda/internal/broker"
	"comanda/internal/cart"
	"comanda/internal/catalog"
	"comanda/internal/config"
	"comanda/internal/domain"
	"comanda/internal/identity"
	"comanda/internal/logger"
	"comanda/internal/metrics"
	"comanda/internal/notify"
	"comanda/internal/orders"
	"comanda/internal/router"
	"comanda/internal/storefront"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the YAML config")
	roleFlag := flag.String("role", "", "kitchen | cashier | delivery | admin | customer")
	customer := flag.String("customer", "", "customer id, required for --role customer")
	flag.Parse()

	role := domain.Role(*roleFlag)
	switch role {
	case domain.RoleKitchen, domain.RoleCashier, domain.RoleDelivery, domain.RoleAdmin:
	case domain.RoleCustomer:
		if *customer == "" {
			fmt.Fprintln(os.Stderr, "--customer is required for --role customer")
			os.Exit(2)
		}
	default:
		fmt.Fprintln(os.Stderr, "--role is required: kitchen | cashier | delivery | admin | customer")
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		cfg = config.Default()
	}
	log := logger.New(cfg.Logging.Level)
	log.Info("client starting", "role", string(role))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Metrics.Addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Error("metrics server stopped", "err", err)
			}
		}()
	}

	tokens := tokenSource(cfg)
	sink := notify.LogSink{Log: log}

	bk := broker.New(broker.Config{
		URL:           cfg.Broker.URL,
		Exchange:      cfg.Broker.Exchange,
		Heartbeat:     cfg.Broker.Heartbeat(),
		ReconnectBase: cfg.Broker.ReconnectBase(),
		ReconnectMax:  cfg.Broker.ReconnectMax(),
		MaxReconnects: cfg.Broker.MaxReconnects,
	}, tokens, log)
	bk.OnDown(func(err error) {
		// Real-time updates are gone; dashboards stay usable via polling.
		sink.Notify(notify.Intent{
			Kind:    notify.KindRealtimeDown,
			Message: "Actualizaciones en tiempo real no disponibles",
			At:      time.Now().UTC(),
		})
	})

	rt := router.New(bk, cfg.Broker.SettleDelay(), log)
	backend := orders.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout(), tokens)

	// A headless run has its identity settled once the credential loads.
	rt.SetReadiness(router.Readiness{
		Authenticated:   true,
		SessionSynced:   true,
		ProfileComplete: true,
	})
	defer rt.SetReadiness(router.Readiness{})

	if role == domain.RoleCustomer {
		runStorefront(ctx, cfg, *customer, backend, rt, sink, log)
		return
	}

	engine := board.New(board.Config{
		Role:         role,
		PollInterval: cfg.Board.PollInterval(),
	}, backend, sink, log)
	engine.SetAnnouncer(bk)

	subs := subscribeWhenOnline(ctx, rt, func() []*broker.Subscription {
		return rt.SubscribeRole(role, engine.HandleEvent)
	})
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	engine.Run(ctx)
	log.Info("shutting down")
}

// runStorefront keeps a customer session listening on its private channel.
// Cart mutations and checkout are driven by the UI layer on top; headless runs
// just surface the push intents.
func runStorefront(ctx context.Context, cfg *config.Config, customer string, backend orders.Service, rt *router.Router, sink notify.Sink, log *slog.Logger) {
	tokens := tokenSource(cfg)
	cat, err := catalog.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout(), cfg.Catalog.CacheSize, tokens, log)
	if err != nil {
		log.Error("catalog init failed", "err", err)
		os.Exit(1)
	}
	ct := cart.New(cart.Config{
		DeliveryFee:           cfg.Cart.DeliveryFee,
		DeliveryBufferMinutes: cfg.Cart.DeliveryBuffer,
	}, log)

	sf := storefront.New(customer, cat, ct, backend, rt, sink, log)
	subscribeWhenOnline(ctx, rt, func() []*broker.Subscription {
		sf.Listen()
		return nil
	})
	defer sf.Close()

	<-ctx.Done()
	log.Info("shutting down")
}

func tokenSource(cfg *config.Config) identity.TokenSource {
	if cfg.Identity.TokenFile != "" {
		return identity.NewFile(cfg.Identity.TokenFile)
	}
	return identity.Static(cfg.Identity.Token)
}

// subscribeWhenOnline waits out the router's settle window, then runs the
// subscribe callback once the transport is live. A broker that never connects
// leaves the dashboard on poll-only refresh.
func subscribeWhenOnline(ctx context.Context, rt *router.Router, subscribe func() []*broker.Subscription) []*broker.Subscription {
	deadline := time.After(15 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		case <-tick.C:
			if rt.IsConnected() {
				return subscribe()
			}
		}
	}
}
