package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/prerender/prerender-go/internal/api"
	"github.com/prerender/prerender-go/internal/config"
	"github.com/prerender/prerender-go/internal/fetch"
	"github.com/prerender/prerender-go/internal/interceptor"
	"github.com/prerender/prerender-go/internal/log"
	"github.com/prerender/prerender-go/internal/rule"
	"github.com/prerender/prerender-go/internal/server"
	"github.com/prerender/prerender-go/internal/statistics"
	"github.com/prerender/prerender-go/internal/target"
	"github.com/prerender/prerender-go/internal/telemetry"
)

var (
	AppVersion    = "Development"
	shutdownChain []func() error
)

// flagBindings maps command-line flags onto configuration keys.
var flagBindings = []struct{ flag, key string }{
	{"config", "config"},
	{"bind", "bind-address"},
	{"port", "port"},
	{"root", "root"},
	{"log-level", "log-level"},
	{"log-format", "log-format"},
	{"log-file", "log-file"},
	{"api", "api-server"},
	{"stats-dump", "stats-dump"},
	{"service-url", "prerender.service-url"},
	{"token", "prerender.token"},
	{"blacklist", "prerender.blacklist"},
	{"whitelist", "prerender.whitelist"},
	{"crawler-user-agents", "prerender.crawler-user-agents"},
	{"extensions-to-ignore", "prerender.extensions-to-ignore"},
	{"strip-application-path", "prerender.strip-application-path"},
	{"application-path", "prerender.application-path"},
	{"proxy", "prerender.proxy.url"},
	{"timeout", "prerender.timeout"},
}

var rootCmd = &cobra.Command{
	Use:   "prerender",
	Short: "prerender serves crawler requests from a prerender service",
	Long: "prerender serves a single-page application and answers search engine crawlers and " +
		"link-preview scrapers with fully rendered HTML fetched from a prerender service.",
	RunE:         runRoot,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Short flags
	rootCmd.Flags().StringP("config", "c", "", "Config file path")
	rootCmd.Flags().StringP("bind", "b", "", "Bind address")
	rootCmd.Flags().IntP("port", "p", 0, "Port")
	rootCmd.Flags().StringP("root", "r", "", "Static application directory")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level: debug, info, warn, error")
	rootCmd.Flags().BoolP("version", "v", false, "Show version")
	rootCmd.Flags().BoolP("generate-config", "g", false, "Generate template config file")

	// Long flags
	rootCmd.Flags().String("log-format", "", "Log format: text, json, color")
	rootCmd.Flags().Bool("log-file", false, "Also write logs to a rotating file")
	rootCmd.Flags().String("api", "", "Admin API listen address")
	rootCmd.Flags().Bool("stats-dump", false, "Periodically dump statistics to the log directory")
	rootCmd.Flags().String("service-url", "", "Prerender service URL")
	rootCmd.Flags().String("token", "", "Prerender token")
	rootCmd.Flags().String("blacklist", "", "Comma-separated blacklist regexes")
	rootCmd.Flags().String("whitelist", "", "Comma-separated whitelist regexes")
	rootCmd.Flags().String("crawler-user-agents", "", "Comma-separated extra crawler user agents")
	rootCmd.Flags().String("extensions-to-ignore", "", "Comma-separated extra ignored extensions")
	rootCmd.Flags().Bool("strip-application-path", false, "Strip the application path from prerendered URLs")
	rootCmd.Flags().String("application-path", "", "Application base path")
	rootCmd.Flags().String("proxy", "", "Outbound proxy URL for the prerender service")
	rootCmd.Flags().Duration("timeout", 0, "Prerender fetch timeout")

	for _, fb := range flagBindings {
		_ = viper.BindPFlag(fb.key, rootCmd.Flags().Lookup(fb.flag))
	}

	// PRERENDER_PORT, PRERENDER_PRERENDER_TOKEN, ...
	viper.SetEnvPrefix("PRERENDER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	// Short names for the common settings
	_ = viper.BindEnv("prerender.service-url", "PRERENDER_SERVICE_URL")
	_ = viper.BindEnv("prerender.token", "PRERENDER_TOKEN")
	_ = viper.BindEnv("api-server-secret", "PRERENDER_API_SECRET")
}

func initConfig() {
	configFile := viper.GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.MergeInConfig(); err != nil {
			slog.Error("Failed to read config file", slog.Any("error", err))
			os.Exit(1)
		}
	}
	config.SetDefaults(viper.GetViper())
}

func runRoot(cmd *cobra.Command, args []string) error {
	showVer, _ := cmd.Flags().GetBool("version")
	if showVer {
		fmt.Printf("prerender version %s\n", AppVersion)
		return nil
	}

	genConfig, _ := cmd.Flags().GetBool("generate-config")
	if genConfig {
		_, err := config.GenerateTemplateConfig(true)
		if err != nil {
			return fmt.Errorf("failed to generate template config: %w", err)
		}
		fmt.Printf("Template config file '%s' generated successfully.\n", config.TemplateFile)
		return nil
	}

	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	lb := log.NewBroadcaster()
	log.SetLogConf(log.Options{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		File:        cfg.LogFile,
		Broadcaster: lb,
	})
	log.LogHeader(AppVersion, cfg)

	rules, err := rule.New(&cfg.Prerender)
	if err != nil {
		slog.Error("rule.New", slog.Any("error", err))
		return err
	}
	slog.Info("rules loaded", slog.Any("rules", rules))

	client, err := fetch.New(&cfg.Prerender, &cfg.HTTPClient)
	if err != nil {
		slog.Error("fetch.New", slog.Any("error", err))
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	addShutdown("recorder.Stop", func() error {
		cancel()
		return nil
	})

	var dumpDir string
	if cfg.StatsDump {
		dumpDir = log.GetLogDir()
	}
	recorder := statistics.New(dumpDir)
	go recorder.Run(ctx)

	metrics, err := telemetry.SetupMetrics(ctx, cfg)
	if err != nil {
		slog.Error("telemetry.SetupMetrics", slog.Any("error", err))
		shutdown()
		return err
	}
	addShutdown("metrics.Close", func() error {
		metrics.Close()
		return nil
	})

	builder := target.NewBuilder(cfg.Prerender.ServiceURL, cfg.Prerender.StripApplicationPath)
	ic := interceptor.New(rules, builder, client, recorder, metrics.Prerender, &cfg.Prerender)

	var srv server.Server = server.New(cfg, ic.Handler)
	addShutdown("srv.Close", srv.Close)
	if err := srv.Start(); err != nil {
		slog.Error("srv.Start", slog.Any("error", err))
		shutdown()
		return err
	}

	if cfg.APIServer != "" {
		apiServer := api.New(AppVersion, cfg, rules, recorder, lb)
		addShutdown("apiServer.Close", apiServer.Close)
		if err := apiServer.Start(); err != nil {
			slog.Error("apiServer.Start", slog.Any("error", err))
			shutdown()
			return err
		}
	}

	cleanup := make(chan os.Signal, 1)
	signal.Notify(cleanup, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
	for {
		s := <-cleanup
		slog.Info("Received signal", slog.String("signal", s.String()))
		switch s {
		case syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM:
			shutdown()
			return nil
		case syscall.SIGHUP:
		default:
			return nil
		}
	}
}

func addShutdown(name string, fn func() error) {
	shutdownChain = append(shutdownChain, func() error {
		if err := fn(); err != nil {
			slog.Error(name, slog.Any("error", err))
			return err
		}
		return nil
	})
}

func shutdown() {
	for i := len(shutdownChain) - 1; i >= 0; i-- {
		_ = shutdownChain[i]()
	}
	shutdownChain = nil
	slog.Info("prerender exit")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
