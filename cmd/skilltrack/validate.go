package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/skilltrack/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the skilltrack configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with -dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, getDefaultConfig(), unknownKeys)
	}

	return nil
}

// getDefaultConfig creates a configuration with default values
func getDefaultConfig() *config.Config {
	v := viper.New()
	config.SetDefaults(v)

	var cfg config.Config
	_ = v.Unmarshal(&cfg)

	return &cfg
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// getValidKeys returns every key that has a default plus the optional ones
// that do not.
func getValidKeys() map[string]bool {
	v := viper.New()
	config.SetDefaults(v)

	keys := map[string]bool{
		"storage.redis.password": true,
		"auth.client_id":         true,
		"auth.client_secret":     true,
	}
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	_, _ = cyan.Println("\n[server]")
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)
	dumpField("  api_port", cfg.Server.APIPort, defaultCfg.Server.APIPort, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)
	dumpField("  allowed_origins", cfg.Server.AllowedOrigins, defaultCfg.Server.AllowedOrigins, yellow, green)

	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	dumpField("  path", cfg.Storage.Path, defaultCfg.Storage.Path, yellow, green)
	_, _ = cyan.Println("  [storage.redis]")
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redactSecret(cfg.Storage.Redis.Password), redactSecret(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout, yellow, green)

	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	_, _ = cyan.Println("\n[tracking]")
	dumpField("  tick_interval", cfg.Tracking.TickInterval, defaultCfg.Tracking.TickInterval, yellow, green)
	dumpField("  flush_interval", cfg.Tracking.FlushInterval, defaultCfg.Tracking.FlushInterval, yellow, green)
	dumpField("  flush_timeout", cfg.Tracking.FlushTimeout, defaultCfg.Tracking.FlushTimeout, yellow, green)
	dumpField("  idle_timeout", cfg.Tracking.IdleTimeout, defaultCfg.Tracking.IdleTimeout, yellow, green)
	dumpField("  max_gap", cfg.Tracking.MaxGap, defaultCfg.Tracking.MaxGap, yellow, green)
	dumpField("  flush_threshold", cfg.Tracking.FlushThreshold, defaultCfg.Tracking.FlushThreshold, yellow, green)
	dumpField("  timezone", cfg.Tracking.Timezone, defaultCfg.Tracking.Timezone, yellow, green)

	_, _ = cyan.Println("\n[sync]")
	dumpField("  enabled", cfg.Sync.Enabled, defaultCfg.Sync.Enabled, yellow, green)
	dumpField("  interval", cfg.Sync.Interval, defaultCfg.Sync.Interval, yellow, green)
	dumpField("  timeout", cfg.Sync.Timeout, defaultCfg.Sync.Timeout, yellow, green)
	dumpField("  file_name", cfg.Sync.FileName, defaultCfg.Sync.FileName, yellow, green)
	dumpField("  failure_reset", cfg.Sync.FailureReset, defaultCfg.Sync.FailureReset, yellow, green)

	_, _ = cyan.Println("\n[auth]")
	dumpField("  client_id", cfg.Auth.ClientID, defaultCfg.Auth.ClientID, yellow, green)
	dumpField("  client_secret", redactSecret(cfg.Auth.ClientSecret), redactSecret(defaultCfg.Auth.ClientSecret), yellow, green)
	dumpField("  auth_url", cfg.Auth.AuthURL, defaultCfg.Auth.AuthURL, yellow, green)
	dumpField("  token_url", cfg.Auth.TokenURL, defaultCfg.Auth.TokenURL, yellow, green)
	dumpField("  redirect_url", cfg.Auth.RedirectURL, defaultCfg.Auth.RedirectURL, yellow, green)
	dumpField("  scopes", cfg.Auth.Scopes, defaultCfg.Auth.Scopes, yellow, green)
	dumpField("  open_browser", cfg.Auth.OpenBrowser, defaultCfg.Auth.OpenBrowser, yellow, green)

	_, _ = cyan.Println("\n[drive]")
	dumpField("  endpoint", cfg.Drive.Endpoint, defaultCfg.Drive.Endpoint, yellow, green)

	_, _ = cyan.Println("\n[history]")
	dumpField("  cache_days", cfg.History.CacheDays, defaultCfg.History.CacheDays, yellow, green)

	_, _ = cyan.Println()
	dumpField("state_dir", cfg.StateDir, defaultCfg.StateDir, yellow, green)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)

		_, _ = cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactSecret redacts a secret if not empty
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "***REDACTED***"
}
