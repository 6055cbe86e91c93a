package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matoous/hookmta/config"
	"github.com/matoous/hookmta/hook"
	"github.com/matoous/hookmta/metrics"
	"github.com/matoous/hookmta/mta"
	"github.com/matoous/hookmta/policy"
	"github.com/matoous/hookmta/pop3"
	"github.com/matoous/hookmta/smtp"
	"github.com/matoous/hookmta/store"
)

const shutdownTimeout = 30 * time.Second

func checkConfig(c *cli.Context) error {
	cfg, err := config.Load(c.GlobalStringSlice("config")...)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("invalid configuration: %s", err), 2)
	}
	fmt.Println(cfg)
	return nil
}

// buildPipeline assembles the hooks enabled by cfg
func buildPipeline(cfg *config.Config, st store.TripletStore, log *zap.Logger) *hook.Pipeline {
	pipeline := hook.NewPipeline()
	pipeline.OnRcpt(policy.Dedupe{})

	if len(cfg.DNSRBL.Blacklist) > 0 {
		rbl := policy.NewDNSRBL(net.DefaultResolver, cfg.DNSRBL.Whitelist, cfg.DNSRBL.Blacklist, !cfg.DNSRBL.NoDetail, log)
		pipeline.OnConnect(rbl)
		pipeline.OnRcpt(rbl)
	}
	if !cfg.Greylist.Disabled {
		pipeline.OnRcpt(policy.NewGreylist(st, cfg.GreylistPolicy(), log))
	}
	if cfg.Tarpit.Threshold > 0 {
		pipeline.OnRcpt(policy.NewTarpit(cfg.Tarpit.Threshold, cfg.Tarpit.Timeout))
	}
	return pipeline
}

// servers holds everything serve runs
type servers struct {
	smtp    *mta.Server
	pop3    *mta.Server
	metrics *http.Server
	store   store.TripletStore
}

func build(cfg *config.Config, log *zap.Logger) (*servers, error) {
	st, err := store.Open(cfg.Store.Driver, cfg.Store.Source)
	if err != nil {
		return nil, err
	}

	maildrops := pop3.NewMemory()
	for _, u := range cfg.Users {
		maildrops.AddUser(u.Name, u.Password)
	}
	spool := smtp.NewSpool(log, maildrops)

	smtpSrv, err := smtp.NewServer(smtp.Config{
		Hostname:          cfg.Me,
		Software:          cfg.SMTP.Software,
		Announce:          cfg.SMTP.Announce,
		RelayNetworks:     cfg.SMTP.RelayNetworks,
		LocalDomains:      cfg.SMTP.LocalDomains,
		CheckSenderDomain: cfg.SMTP.CheckSenderDomain,
	}, buildPipeline(cfg, st, log), spool, log, cfg.MTALimits())
	if err != nil {
		st.Close()
		return nil, err
	}
	smtpSrv.Addr = cfg.SMTP.Addr
	smtpSrv.ReverseLookup = cfg.SMTP.ReverseLookup

	s := &servers{smtp: smtpSrv, store: st}
	if !cfg.POP3.Disabled {
		s.pop3, err = pop3.NewServer(pop3.Config{Hostname: cfg.Me}, maildrops, log, cfg.MTALimits())
		if err != nil {
			st.Close()
			return nil, err
		}
		s.pop3.Addr = cfg.POP3.Addr
	}
	if cfg.Metrics.Addr != "" {
		s.metrics = &http.Server{Addr: cfg.Metrics.Addr, Handler: metrics.Handler()}
	}
	return s, nil
}

func serve(c *cli.Context) error {
	cfg, err := config.Load(c.GlobalStringSlice("config")...)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("invalid configuration: %s", err), 2)
	}
	log, err := cfg.Logger()
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	defer log.Sync()

	s, err := build(cfg, log)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("failed to build servers: %s", err), 3)
	}
	defer s.store.Close()

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
	gctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for sig := range sigchan {
			log.Info("signal received", zap.String("signal", sig.String()))
			cancel()
		}
	}()

	g, ctx := errgroup.WithContext(gctx)
	g.Go(func() error {
		return ignoreClosed(s.smtp.ListenAndServe(ctx))
	})
	if s.pop3 != nil {
		g.Go(func() error {
			return ignoreClosed(s.pop3.ListenAndServe(ctx))
		})
	}
	if s.metrics != nil {
		g.Go(func() error {
			log.Info("serving metrics", zap.String("addr", s.metrics.Addr))
			if err := s.metrics.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		s.smtp.Shutdown(sctx)
		if s.pop3 != nil {
			s.pop3.Shutdown(sctx)
		}
		if s.metrics != nil {
			s.metrics.Shutdown(sctx)
		}
		return nil
	})
	return g.Wait()
}

func ignoreClosed(err error) error {
	if err == mta.ErrServerClosed {
		return nil
	}
	return err
}
