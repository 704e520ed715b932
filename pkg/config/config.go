package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/go-viper/mapstructure/v2"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Bits                   int           `json:"bits"`
	Count                  int           `json:"count"`
	Timeout                time.Duration `json:"timeout"`
	MaxRounds              uint64        `json:"max-rounds"`
	ExcludeTrivialExponent bool          `json:"exclude-trivial-exponent"`
	Prime                  Prime         `json:"prime"`
	Debug                  bool          `json:"debug"`
	Metrics                bool          `json:"metrics"`
}

type Prime struct {
	Rounds int `json:"rounds"`
}

// Configuration options
const (
	Bits                   = "bits"
	Count                  = "count"
	Timeout                = "timeout"
	MaxRounds              = "max-rounds"
	ExcludeTrivialExponent = "exclude-trivial-exponent"
	PrimeRounds            = "prime.rounds"
	DebugEnabled           = "debug"
	MetricsEnabled         = "metrics"
)

const (
	MinBits      = 16
	MaxBits      = 16384
	MaxCount     = 1000
	MaxRoundsMR  = 256
	DefaultCount = 1
)

var ErrInvalid = errors.New("invalid configuration")

func init() {
	// Automatically read configuration options from environment variables.
	// e.g. --prime.rounds will be configurable using RSAKEYGEN_PRIME_ROUNDS.
	viper.SetEnvPrefix("RSAKEYGEN")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	// Read configuration file from working directory and/or /etc.
	viper.SetConfigName("rsakeygen")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/rsakeygen")

	flag.Int(Bits, 2048, "Bit length of the generated modulus")
	flag.Int(Count, DefaultCount, "Number of key pairs to generate")
	flag.Duration(Timeout, 0, "Abandon generation after this duration, 0 disables the deadline")
	flag.Uint64(MaxRounds, 0, "Maximum number of prime pair rounds per key pair, 0 means unbounded")
	flag.Bool(ExcludeTrivialExponent, false, "Reject a public exponent of 1")
	flag.Int(PrimeRounds, 20, "Miller-Rabin rounds applied to each prime candidate")
	flag.Bool(DebugEnabled, false, "Debug mode toggle")
	flag.Bool(MetricsEnabled, false, "Log generation metrics before exiting")
}

// Print logs all configuration options.
func (c Config) Print() {
	var keys sort.StringSlice = viper.AllKeys()

	keys.Sort()
	for _, key := range keys {
		log.Printf("%s: %s", key, viper.GetString(key))
	}
}

func (c Config) Validate() error {
	errs := make([]string, 0)

	if !govalidator.InRangeInt(c.Bits, MinBits, MaxBits) || c.Bits%2 != 0 {
		errs = append(errs, fmt.Sprintf("%s must be an even number in [%d, %d], got %d", Bits, MinBits, MaxBits, c.Bits))
	}
	if !govalidator.InRangeInt(c.Count, 1, MaxCount) {
		errs = append(errs, fmt.Sprintf("%s must be in [1, %d], got %d", Count, MaxCount, c.Count))
	}
	if !govalidator.InRangeInt(c.Prime.Rounds, 1, MaxRoundsMR) {
		errs = append(errs, fmt.Sprintf("%s must be in [1, %d], got %d", PrimeRounds, MaxRoundsMR, c.Prime.Rounds))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Sprintf("%s must not be negative, got %s", Timeout, c.Timeout))
	}

	for _, e := range errs {
		log.Printf("invalid configuration: %s", e)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

func decoderHook(dc *mapstructure.DecoderConfig) {
	dc.TagName = "json"
	dc.ErrorUnused = true
}

func New() (*Config, error) {
	var err error
	var cfg Config

	err = viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	flag.Parse()

	err = viper.BindPFlags(flag.CommandLine)
	if err != nil {
		return nil, err
	}

	err = viper.Unmarshal(&cfg, decoderHook)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
