// Package cli implements the btcored command tree.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nvensby/btcore/internal/session"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "btcored",
	Short: "Peer-selection daemon and bencode tooling",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.btcore.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(decodeCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".btcore")
		}
	}

	viper.SetEnvPrefix("BTCORE")
	viper.AutomaticEnv()

	viper.SetDefault("listen", "127.0.0.1:7881")
	viper.SetDefault("tick_interval", "2s")
	viper.SetDefault("min_connected", 10)
	viper.SetDefault("max_dials_per_tick", 8)
	viper.SetDefault("max_upload_slots", 4)
	viper.SetDefault("choke_interval", "10s")
	viper.SetDefault("optimistic_interval", "30s")
	viper.SetDefault("new_peer_threshold", "60s")
	viper.SetDefault("new_peer_weight", 3)
	viper.SetDefault("choked_timeout", "60s")
	viper.SetDefault("min_speed_bytes", 1000)
	viper.SetDefault("min_connection_age", "15s")
	viper.SetDefault("drop_below_average_ratio", 0.1)
	viper.SetDefault("min_peers_before_dropping", 4)

	// A missing config file is fine; defaults and env apply.
	_ = viper.ReadInConfig()
}

func sessionConfig() session.Config {
	cfg := session.DefaultConfig()

	cfg.TickInterval = duration("tick_interval", cfg.TickInterval)
	cfg.MinConnected = viper.GetInt("min_connected")
	cfg.MaxDialsPerTick = viper.GetInt("max_dials_per_tick")

	cfg.Unchoke.MaxUploadSlots = viper.GetInt("max_upload_slots")
	cfg.Unchoke.ChokeInterval = duration("choke_interval", cfg.Unchoke.ChokeInterval)
	cfg.Unchoke.OptimisticInterval = duration("optimistic_interval", cfg.Unchoke.OptimisticInterval)
	cfg.Unchoke.NewPeerThreshold = duration("new_peer_threshold", cfg.Unchoke.NewPeerThreshold)
	cfg.Unchoke.NewPeerWeight = viper.GetInt("new_peer_weight")

	cfg.Drop.ChokedTimeout = duration("choked_timeout", cfg.Drop.ChokedTimeout)
	cfg.Drop.MinSpeed = viper.GetInt64("min_speed_bytes")
	cfg.Drop.MinConnectionAge = duration("min_connection_age", cfg.Drop.MinConnectionAge)
	cfg.Drop.DropBelowAverageRatio = viper.GetFloat64("drop_below_average_ratio")
	cfg.Drop.MinPeersBeforeDropping = viper.GetInt("min_peers_before_dropping")

	return cfg
}

func duration(key string, fallback time.Duration) time.Duration {
	if d := viper.GetDuration(key); d > 0 {
		return d
	}

	return fallback
}
