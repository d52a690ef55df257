package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	servicenow "github.com/anguspalmer/servicenow"
	"github.com/anguspalmer/servicenow/status"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servicenow",
		Short: "Reconcile tables, columns, choices, and rows against a ServiceNow-style instance",
		Long: `servicenow drives the reconciliation client library from the command line:
point it at an instance, describe the desired table shape or row set as
YAML, and it plans (or, with --commit, applies) the difference.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./servicenow.yaml)")
	cmd.PersistentFlags().String("instance", "", "instance name (or 'dev' for the in-process fake)")
	cmd.PersistentFlags().String("username", "", "acting user name")
	cmd.PersistentFlags().String("password", "", "acting user password (prompted if omitted, --username is given, and not --instance dev)")
	cmd.PersistentFlags().Bool("read-only", false, "refuse any write the gateway would otherwise perform")
	cmd.PersistentFlags().Bool("debug", false, "enable debug-level logging")

	viper.BindPFlag("instance", cmd.PersistentFlags().Lookup("instance"))
	viper.BindPFlag("username", cmd.PersistentFlags().Lookup("username"))
	viper.BindPFlag("password", cmd.PersistentFlags().Lookup("password"))
	viper.BindPFlag("read_only", cmd.PersistentFlags().Lookup("read-only"))
	viper.BindPFlag("debug", cmd.PersistentFlags().Lookup("debug"))

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newGetTableCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("servicenow")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("SERVICENOW")
	viper.AutomaticEnv()
	viper.ReadInConfig() // config file is optional
}

// newClient builds a Client from the layered config (flags > env > file),
// prompting for a masked password when one is required but not supplied.
func newClient() (*servicenow.Client, error) {
	instance := viper.GetString("instance")
	username := viper.GetString("username")
	password := viper.GetString("password")

	if instance != "dev" && password == "" && username != "" {
		fmt.Fprint(os.Stderr, "Password: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		password = string(raw)
	}

	logLevel := slog.LevelInfo
	if viper.GetBool("debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	return servicenow.New(servicenow.Config{
		Instance: instance,
		Username: username,
		Password: password,
		ReadOnly: viper.GetBool("read_only"),
		Debug:    viper.GetBool("debug"),
		Status:   status.NewSlog(logger),
	})
}
