package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matoous/hookmta/config"
	"github.com/matoous/hookmta/hook"
	"github.com/matoous/hookmta/hook/hooktest"
	"github.com/matoous/hookmta/mail"
	"github.com/matoous/hookmta/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Me:      "mx.example.org",
		SMTP:    config.SMTPConfig{Addr: "127.0.0.1:0", Software: "hookmta"},
		POP3:    config.POP3Config{Addr: "127.0.0.1:0"},
		Limits:  config.LimitsConfig{MsgSize: 1024, BadCmds: 5, MaxRcptCount: 10, LineLength: 512},
		Store:   config.StoreConfig{Driver: "memory"},
		Metrics: config.MetricsConfig{Addr: "127.0.0.1:0"},
		Users:   []config.UserConfig{{Name: "bob@example.org", Password: "secret"}},
	}
}

func TestBuildPipeline(t *testing.T) {
	ctx := context.Background()
	sender, rcpt := mail.Address("alice@example.net"), mail.Address("bob@example.org")

	t.Run("greylist", func(t *testing.T) {
		cfg := testConfig()
		p := buildPipeline(cfg, store.NewMemory(), zap.NewNop())
		res := p.Rcpt(ctx, hooktest.NewSession("192.0.2.1"), sender, rcpt)
		assert.Equal(t, hook.DenySoft, res.Verdict, "first contact should be greylisted")
	})

	t.Run("greylist disabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.Greylist.Disabled = true
		p := buildPipeline(cfg, store.NewMemory(), zap.NewNop())
		res := p.Rcpt(ctx, hooktest.NewSession("192.0.2.1"), sender, rcpt)
		assert.Equal(t, hook.Declined, res.Verdict)
	})

	t.Run("duplicate first", func(t *testing.T) {
		cfg := testConfig()
		p := buildPipeline(cfg, store.NewMemory(), zap.NewNop())
		s := hooktest.NewSession("192.0.2.1")
		s.Rcpts = []mail.Address{rcpt}
		res := p.Rcpt(ctx, s, sender, rcpt)
		assert.Equal(t, hook.OK, res.Verdict)
	})
}

func TestBuild(t *testing.T) {
	cfg := testConfig()
	s, err := build(cfg, zap.NewNop())
	require.NoError(t, err)
	defer s.store.Close()
	assert.Equal(t, "127.0.0.1:0", s.smtp.Addr)
	assert.Equal(t, "smtp", s.smtp.Chain.Protocol())
	require.NotNil(t, s.pop3)
	assert.Equal(t, "pop3", s.pop3.Chain.Protocol())
	assert.NotNil(t, s.metrics)
	assert.Equal(t, 1024, int(s.smtp.Limits.MsgSize))

	cfg.POP3.Disabled = true
	cfg.Metrics.Addr = ""
	s, err = build(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, s.pop3)
	assert.Nil(t, s.metrics)

	cfg.Store.Driver = "postgres"
	_, err = build(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestMakeApp(t *testing.T) {
	app := makeApp()
	assert.Equal(t, "hookmta", app.Name)
	var names []string
	for _, c := range app.Commands {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"serve", "check-config"}, names)
}
