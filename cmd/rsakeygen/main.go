package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/nais/rsakeygen/pkg/config"
	"github.com/nais/rsakeygen/pkg/keypair"
	"github.com/nais/rsakeygen/pkg/logger"
	"github.com/nais/rsakeygen/pkg/metrics"
	"github.com/nais/rsakeygen/pkg/prime"
)

func main() {
	err := run()

	if err != nil {
		log.Errorf("Run loop errored: %+v", err)
		os.Exit(1)
	}

	log.Info("Shutting down")
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	logger.SetupLogrus(cfg.Debug)
	cfg.Print()

	if err := cfg.Validate(); err != nil {
		return err
	}

	zapLogger, err := logger.ZapLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("setting up zap logger: %w", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	keygenLog := logger.Logr(zapLogger).WithName("keypair")

	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	gen := keypair.NewGenerator(
		keypair.WithRandom(rand.Reader),
		keypair.WithPrimeSource(prime.NewGenerator(rand.Reader, cfg.Prime.Rounds, keygenLog.WithName("prime"))),
		keypair.WithLogger(keygenLog),
		keypair.WithMaxRounds(cfg.MaxRounds),
		keypair.WithTrivialExponentExcluded(cfg.ExcludeTrivialExponent),
	)

	for i := 0; i < cfg.Count; i++ {
		if err := generate(ctx, gen, cfg.Bits); err != nil {
			return fmt.Errorf("generating key pair %d of %d: %w", i+1, cfg.Count, err)
		}
	}

	if cfg.Metrics {
		return logMetrics(registry)
	}
	return nil
}

func generate(ctx context.Context, gen *keypair.Generator, bits int) error {
	kp, err := gen.Generate(ctx, bits)
	if err != nil {
		return err
	}
	defer kp.Close()

	if err := kp.Verify(); err != nil {
		return fmt.Errorf("verifying key pair %s: %w", kp.ID(), err)
	}

	pub, err := kp.PublicKey()
	if err != nil {
		return err
	}
	n, err := pub.Modulus()
	if err != nil {
		return err
	}
	e, err := pub.Exponent()
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"id":            kp.ID(),
		"modulus_bits":  n.BitLen(),
		"exponent_bits": e.BitLen(),
	}).Info("key pair generated")

	return nil
}

func logMetrics(gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}

	for _, family := range families {
		for _, m := range family.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				log.Infof("%s: %v", family.GetName(), m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				log.Infof("%s: count=%d sum=%v", family.GetName(), h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
	return nil
}
