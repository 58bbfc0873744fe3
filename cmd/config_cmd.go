package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/schemaguard/schemaguard/internal/config"
)

var configInitDefaults bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Create, view and validate the schemaguard configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file interactively",
	Long: `Walk through prompts to create a configuration file at
~/.schemaguard/schemaguard.yaml (or the --config path; a .toml extension
writes TOML). Passwords may be secret references such as ${ENV:PGPASSWORD},
${VAULT:secret/data/db#password} or ${AWS_SM:prod/db}.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default()

		if !configInitDefaults {
			reader := bufio.NewReader(os.Stdin)

			fmt.Println("schemaguard configuration")
			fmt.Println("=========================")
			fmt.Println()

			fmt.Println("Source database (row counts, discovery, pre-flight checks)")
			fmt.Println("----------------------------------------------------------")
			dbType := prompt(reader, "Database type (postgresql/mysql/sqlite/oracle/mongodb, empty for none)", "postgresql")
			if dbType != "" {
				cfg.Source.Type = dbType
				cfg.Source.Host = prompt(reader, "Host", "localhost")
				portStr := prompt(reader, "Port", defaultPort(dbType))
				port, err := strconv.Atoi(portStr)
				if err != nil {
					return fmt.Errorf("invalid port: %s", portStr)
				}
				cfg.Source.Port = port
				cfg.Source.Database = prompt(reader, "Database name", "")
				cfg.Source.Username = prompt(reader, "Username", "")
				cfg.Source.Password = prompt(reader, "Password (or secret reference)", "")
				cfg.Source.SchemaPerModule = strings.HasPrefix(strings.ToLower(prompt(reader, "One module per database schema? (y/n)", "y")), "y")
				cfg.RowCounts.Provider = "source"
			}
			fmt.Println()

			fmt.Println("Review")
			fmt.Println("------")
			cfg.Review.BlockDangerous = strings.HasPrefix(strings.ToLower(prompt(reader, "Block HIGH risk plans? (y/n)", "n")), "y")
			cfg.Review.RequireReview = strings.HasPrefix(strings.ToLower(prompt(reader, "Confirm MEDIUM and HIGH plans interactively? (y/n)", "y")), "y")
			cfg.Output.Directory = prompt(reader, "Migrations directory", cfg.Output.Directory)
			fmt.Println()
		}

		cfgPath := config.ExpandHome(config.DefaultPath)
		if cfgFile != "" {
			cfgPath = cfgFile
		}

		if err := cfg.Save(cfgPath); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		fmt.Printf("Config written to %s\n", cfgPath)
		fmt.Println()
		fmt.Println("Next steps:")
		fmt.Println("  schemaguard discover                 Snapshot the live database")
		fmt.Println("  schemaguard analyze --before --after Analyze two snapshots")
		fmt.Println("  schemaguard watch models/            Re-analyze on every model edit")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current config (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		fmt.Println("Current configuration:")
		fmt.Println()
		fmt.Printf("  Source:\n")
		fmt.Printf("    Type:           %s\n", orNone(cfg.Source.Type))
		fmt.Printf("    Host:           %s\n", cfg.Source.Host)
		fmt.Printf("    Port:           %d\n", cfg.Source.Port)
		fmt.Printf("    Database:       %s\n", cfg.Source.Database)
		fmt.Printf("    Username:       %s\n", cfg.Source.Username)
		fmt.Printf("    Password:       %s\n", maskSecret(cfg.Source.Password))
		fmt.Printf("    Per-schema:     %t\n", cfg.Source.SchemaPerModule)
		fmt.Println()
		fmt.Printf("  Row counts:       %s (exact %t, concurrency %d)\n", cfg.RowCounts.Provider, cfg.RowCounts.Exact, cfg.RowCounts.Concurrency)
		fmt.Printf("  Thresholds:       escalate >%d, backup >%d, staged >%d rows\n",
			cfg.Thresholds.HighImpactRows, cfg.Thresholds.BackupRows, cfg.Thresholds.StagingRows)
		fmt.Printf("  Review:           block dangerous %t, require review %t\n", cfg.Review.BlockDangerous, cfg.Review.RequireReview)
		fmt.Printf("  Migrations:       %s\n", cfg.Output.Directory)
		fmt.Printf("  Reports:          %s %v\n", cfg.Report.Directory, cfg.Report.Formats)
		if cfg.Report.S3Bucket != "" {
			fmt.Printf("  Publish:          s3://%s/%s\n", cfg.Report.S3Bucket, cfg.Report.S3Prefix)
		}
		fmt.Printf("  Watch debounce:   %s\n", cfg.Watch.Debounce())
		fmt.Printf("  API address:      %s\n", cfg.Server.Addr)
		fmt.Printf("  Logs:             %s (%s)\n", cfg.Logging.Directory, cfg.Logging.Level)

		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(cfgFile); err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Println("Configuration is valid.")
		return nil
	},
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func prompt(reader *bufio.Reader, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("  %s: ", label)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

func defaultPort(dbType string) string {
	switch dbType {
	case "oracle":
		return "1521"
	case "mysql":
		return "3306"
	case "mongodb":
		return "27017"
	case "sqlite":
		return "0"
	default:
		return "5432"
	}
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitDefaults, "defaults", false, "write the defaults without prompting")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
