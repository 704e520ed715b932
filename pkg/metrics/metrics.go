package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rsakeygen"

var (
	KeyPairsGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keypairs_generated_total",
			Help:      "Total number of key pairs generated",
		},
	)
	ModulusRounds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modulus_rounds_total",
			Help:      "Number of prime pair rounds run while searching for a modulus",
		},
	)
	ModulusMismatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modulus_mismatches_total",
			Help:      "Number of rounds discarded because the modulus had the wrong bit length",
		},
	)
	ExponentSamples = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exponent_samples_total",
			Help:      "Number of public exponent candidates sampled",
		},
	)
	GenerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Time spent generating a single key pair",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)
)

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		KeyPairsGenerated,
		ModulusRounds,
		ModulusMismatches,
		ExponentSamples,
		GenerationDuration,
	}
}

func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
