package main

import (
	"errors"
	"fmt"
	"strings"

	"onehunt_rewards/internal/repository"
	"onehunt_rewards/internal/service"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	configPath   = "./"
	configName   = "config"
	configFormat = "yaml"
)

type Config struct {
	Database repository.Config `mapstructure:"database"`
	Rewards  service.Config    `mapstructure:"rewards"`

	LogLevel string `mapstructure:"logLevel"`
}

func LoadConfig() (*Config, error) {
	// A missing .env is fine; the real environment still applies.
	_ = godotenv.Load()
	return loadConfigFrom(configPath)
}

func loadConfigFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.AddConfigPath(path)
	v.SetConfigType(configFormat)

	v.AutomaticEnv()
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Rewards.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rewards config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logLevel", "info")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "rewards")
	v.SetDefault("database.sslmode", "disable")

	def := service.DefaultConfig()
	v.SetDefault("rewards.dailyBaseReward", def.DailyBaseReward)
	v.SetDefault("rewards.dailyStreakBonus", def.DailyStreakBonus)
	v.SetDefault("rewards.dailyStreakPeriod", def.DailyStreakPeriod)
	v.SetDefault("rewards.dailyXP", def.DailyXP)
	v.SetDefault("rewards.referralDirectCoins", def.ReferralDirectCoins)
	v.SetDefault("rewards.referralDirectXP", def.ReferralDirectXP)
	v.SetDefault("rewards.referralIndirectCoins", def.ReferralIndirectCoins)
	v.SetDefault("rewards.referralIndirectXP", def.ReferralIndirectXP)
	v.SetDefault("rewards.spinRewards", def.SpinRewards)
	v.SetDefault("rewards.spinsPerMinute", def.SpinsPerMinute)
	v.SetDefault("rewards.spinBurst", def.SpinBurst)
	v.SetDefault("rewards.withdrawalMinAmount", def.WithdrawalMinAmount)
	v.SetDefault("rewards.withdrawalFeePercent", def.WithdrawalFeePercent)
	v.SetDefault("rewards.timezone", def.Timezone)
	v.SetDefault("rewards.maxTxAttempts", def.MaxTxAttempts)
	v.SetDefault("rewards.autoEvaluateAchievements", def.AutoEvaluateAchievements)
	v.SetDefault("rewards.catalogRefresh", def.CatalogRefresh)
}
