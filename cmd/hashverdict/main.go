package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL    string
	cfgFile      string
	outputFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hashverdict",
	Short: "File and hash reputation lookups",
	Long: `hashverdict computes SHA-256 digests and looks them up against a
threat-intelligence provider, either through a hashverdict server or
directly against the VirusTotal API.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.hashverdict")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetDefault("auth_header", "Bearer")
		viper.SetDefault("provider_url", "https://www.virustotal.com/api/v3")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.hashverdict/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "hashverdict server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "Output format: text or json")

	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the hashverdict CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "hashverdict %s\n", version)
	},
}
