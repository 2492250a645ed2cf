package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/escrow-network/escrowd/internal/core/domain"
)

const (
	// DatadirKey is the local data directory to store the session audit log
	DatadirKey = "DATADIR"
	// LogLevelKey are the different logging levels. For reference on the values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// RelayAddrKey is the address <host:port> of the messaging relay to connect to
	RelayAddrKey = "RELAY_ADDR"
	// MintUrlKey is the URL of the mint authority backing the local wallet
	MintUrlKey = "MINT_URL"
	// TradeTimeLimitKey is the default contract time limit used when the caller provides none
	TradeTimeLimitKey = "TRADE_TIME_LIMIT"
	// DisputeCeilingFactorKey is the multiple of the contract time limit after
	// which a disputed session stops waiting for a coordinator ruling
	DisputeCeilingFactorKey = "DISPUTE_CEILING_FACTOR"
	// CoordinatorFeePercentKey is the percentage of the trade amount charged by
	// the coordinator for its escrow service
	CoordinatorFeePercentKey = "COORDINATOR_FEE_PERCENT"
	// StatsIntervalKey defines interval for printing basic escrowd statistics
	StatsIntervalKey = "STATS_INTERVAL"

	DbLocation = "db"
)

var vip *viper.Viper

// InitConfig binds the environment and applies defaults. It must be
// called before any getter.
func InitConfig() error {
	vip = viper.New()
	vip.SetEnvPrefix("ESCROW")
	vip.AutomaticEnv()

	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(DatadirKey, defaultDatadir())
	vip.SetDefault(RelayAddrKey, "localhost:4736")
	vip.SetDefault(MintUrlKey, "https://localhost:3338")
	vip.SetDefault(TradeTimeLimitKey, 72*time.Hour)
	vip.SetDefault(DisputeCeilingFactorKey, domain.DefaultDisputeCeilingFactor)
	vip.SetDefault(CoordinatorFeePercentKey, 0.0)
	vip.SetDefault(StatsIntervalKey, 600)

	if err := validate(); err != nil {
		return fmt.Errorf("error while validating config: %s", err)
	}

	if err := initDatadir(); err != nil {
		return fmt.Errorf("error while creating datadir: %s", err)
	}

	return nil
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetFloat(key string) float64 {
	return vip.GetFloat64(key)
}

func GetDuration(key string) time.Duration {
	return vip.GetDuration(key)
}

func GetBool(key string) bool {
	return vip.GetBool(key)
}

func GetDatadir() string {
	return GetString(DatadirKey)
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("missing datadir")
	}

	if GetDuration(TradeTimeLimitKey) <= 0 {
		return fmt.Errorf("%s must be a positive duration", TradeTimeLimitKey)
	}

	if GetInt(DisputeCeilingFactorKey) <= 0 {
		return fmt.Errorf("%s must be a positive integer", DisputeCeilingFactorKey)
	}

	if fee := GetFloat(CoordinatorFeePercentKey); fee < 0 || fee > 100 {
		return fmt.Errorf("%s must be in range [0, 100]", CoordinatorFeePercentKey)
	}

	return nil
}

func defaultDatadir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".escrowd"
	}
	return filepath.Join(home, ".escrowd")
}

func initDatadir() error {
	return makeDirectoryIfNotExists(filepath.Join(GetDatadir(), DbLocation))
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
