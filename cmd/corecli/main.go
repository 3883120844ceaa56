package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/couchbase/gocbclientcore/configprovider"
	"github.com/couchbase/gocbclientcore/corectl"
	"github.com/couchbase/gocbclientcore/eventbus"
	"github.com/couchbase/gocbclientcore/metricsserver"
)

var rootCmd = &cobra.Command{
	Use:   "corecli",
	Short: "A minimal bootstrap-and-dispatch client for a Couchbase-style cluster",
	Run: func(cmd *cobra.Command, args []string) {
		run()
	},
}

func init() {
	configFlags := pflag.NewFlagSet("", pflag.ContinueOnError)
	configFlags.String("log-level", "info", "the log level to run at")
	configFlags.String("seeds", "127.0.0.1", "comma-separated seed node hostnames")
	configFlags.String("bucket", "default", "the bucket to open on startup")
	configFlags.String("cb-user", "Administrator", "the couchbase server username")
	configFlags.String("cb-pass", "password", "the couchbase server password")
	configFlags.Bool("tls", false, "connect over TLS")
	configFlags.Int("web-port", 9092, "the metrics/health port")
	configFlags.String("bind-address", "0.0.0.0", "the local address to bind the metrics server to")
	rootCmd.Flags().AddFlagSet(configFlags)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("corecli")
	viper.AutomaticEnv()

	_ = viper.BindPFlags(configFlags)
}

func getLogger() (zap.AtomicLevel, *zap.Logger) {
	logLevel := zap.NewAtomicLevel()
	logConfig := zap.NewProductionEncoderConfig()
	logConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(logConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stdout), logLevel),
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logLevel, logger
}

type config struct {
	logLevelStr string
	seeds       []string
	bucket      string
	cbUser      string
	cbPass      string
	tls         bool
	webPort     int
	bindAddress string
}

func readConfig() *config {
	seedsStr := viper.GetString("seeds")
	var seeds []string
	for _, s := range strings.Split(seedsStr, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			seeds = append(seeds, s)
		}
	}

	return &config{
		logLevelStr: viper.GetString("log-level"),
		seeds:       seeds,
		bucket:      viper.GetString("bucket"),
		cbUser:      viper.GetString("cb-user"),
		cbPass:      viper.GetString("cb-pass"),
		tls:         viper.GetBool("tls"),
		webPort:     viper.GetInt("web-port"),
		bindAddress: viper.GetString("bind-address"),
	}
}

func run() {
	logLevel, logger := getLogger()
	defer logger.Sync()

	cfg := readConfig()

	parsedLevel, err := zapcore.ParseLevel(cfg.logLevelStr)
	if err != nil {
		logger.Warn("invalid log level specified, using INFO instead")
		parsedLevel = zapcore.InfoLevel
	}
	logLevel.SetLevel(parsedLevel)

	instanceID := uuid.NewString()
	logger = logger.With(zap.String("instanceId", instanceID))

	logger.Info("starting corecli",
		zap.Strings("seeds", cfg.seeds),
		zap.String("bucket", cfg.bucket),
		zap.Bool("tls", cfg.tls))

	bus := eventbus.New()

	metrics := metricsserver.New(metricsserver.Options{
		Logger:        logger.Named("metrics"),
		ListenAddress: fmt.Sprintf("%s:%d", cfg.bindAddress, cfg.webPort),
		Bus:           bus,
	})
	go func() {
		if err := metrics.ListenAndServe(); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	manager := configprovider.NewHTTPManagerLoader(configprovider.HTTPManagerLoaderOptions{
		TLS:      cfg.tls,
		Username: cfg.cbUser,
		Password: cfg.cbPass,
		Logger:   logger.Named("manager-loader"),
	})

	provider := configprovider.New(configprovider.Config{
		SeedNodes:      cfg.seeds,
		TLS:            cfg.tls,
		ManagerLoader:  manager,
		ManifestLoader: manager,
		Bus:            bus,
		Logger:         logger.Named("configprovider"),
	})

	core := corectl.New(corectl.Config{
		Provider:   provider,
		Bus:        bus,
		TLSEnabled: cfg.tls,
		Logger:     logger.Named("corectl"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := provider.OpenBucket(ctx, cfg.bucket); err != nil {
		logger.Error("failed to open bucket", zap.String("bucket", cfg.bucket), zap.Error(err))
	}
	cancel()

	sigCh := make(chan os.Signal, 10)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	core.Shutdown(context.Background())
	_ = metrics.Shutdown(context.Background())

	logger.Info("corecli shutdown gracefully")
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
