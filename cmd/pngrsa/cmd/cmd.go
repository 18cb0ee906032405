package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/faanross/pngrsa/internal/config"
	"github.com/faanross/pngrsa/internal/logging"
)

const (
	optionNameKeyBits      = "key-bits"
	optionNameMode         = "mode"
	optionNameNonce        = "nonce"
	optionNameWorkers      = "workers"
	optionNameVerifyKeys   = "verify-keys"
	optionNameKeyFile      = "key-file"
	optionNameLogLevel     = "log-level"
	optionNameLogFormat    = "log-format"
	optionNameLogFile      = "log-file"
	optionNamePassword     = "password"
	optionNamePasswordFile = "password-file"
	optionNameServerAddr   = "addr"
	optionNameZone         = "zone"
)

// globalOptions maps persistent flags to the config keys they override.
var globalOptions = map[string]string{
	optionNameKeyBits:    config.KeyBits,
	optionNameMode:       config.KeyMode,
	optionNameNonce:      config.KeyNonce,
	optionNameWorkers:    config.KeyWorkers,
	optionNameVerifyKeys: config.KeyVerifyKeys,
	optionNameKeyFile:    config.KeyKeyFile,
	optionNameLogLevel:   config.KeyLogLevel,
	optionNameLogFormat:  config.KeyLogFormat,
	optionNameLogFile:    config.KeyLogFilePath,
}

func init() {
	cobra.EnableCommandSorting = false
}

type command struct {
	root           *cobra.Command
	config         *viper.Viper
	settings       *config.Settings
	logger         *logrus.Logger
	passwordReader passwordReader
	cfgFile        string
	homeDir        string
}

type option func(*command)

func newCommand(opts ...option) (c *command, err error) {
	c = &command{
		root: &cobra.Command{
			Use:           "pngrsa",
			Short:         "encrypt the pixel data of PNG images with RSA",
			SilenceErrors: true,
			SilenceUsage:  true,
			PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
				return c.initConfig()
			},
			PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
				if c.logger == nil {
					return nil
				}
				return logging.Close(c.logger)
			},
		},
	}

	for _, o := range opts {
		o(c)
	}
	if c.passwordReader == nil {
		c.passwordReader = new(stdInPasswordReader)
	}

	// Find home directory.
	if err := c.setHomeDir(); err != nil {
		return nil, err
	}

	c.initGlobalFlags()

	c.initKeygenCmd()
	c.initCryptCmds()
	c.initInspectCmds()
	c.initKeyServerCmds()
	c.initVersionCmd()

	return c, nil
}

func (c *command) Execute() (err error) {
	return c.root.Execute()
}

// Execute parses command line arguments and runs appropriate functions.
func Execute() (err error) {
	c, err := newCommand()
	if err != nil {
		return err
	}
	return c.Execute()
}

func (c *command) initGlobalFlags() {
	globalFlags := c.root.PersistentFlags()
	globalFlags.StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/.pngrsa.yaml)")
	globalFlags.Int(optionNameKeyBits, 0, "RSA modulus size in bits: 512, 1024, 2048 or 4096")
	globalFlags.String(optionNameMode, "", "block cipher mode: ecb or ctr")
	globalFlags.Int64(optionNameNonce, 0, "counter mode nonce")
	globalFlags.Int(optionNameWorkers, 0, "image data chunks transformed in parallel")
	globalFlags.Bool(optionNameVerifyKeys, false, "check that a loaded keypair round trips before using it")
	globalFlags.String(optionNameKeyFile, "", "key file path")
	globalFlags.String(optionNameLogLevel, "", "log verbosity: silent, error, warn, info, debug or trace")
	globalFlags.String(optionNameLogFormat, "", "log format: text or json")
	globalFlags.String(optionNameLogFile, "", "write logs to this rotated file instead of stderr")
}

func (c *command) initConfig() (err error) {
	v, err := config.New(c.cfgFile, c.homeDir)
	if err != nil {
		return err
	}

	flags := c.root.PersistentFlags()
	for name, key := range globalOptions {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	if flags.Changed(optionNameLogFile) {
		v.Set(config.KeyLogType, logging.TypeFile)
	}

	settings, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	settings.Log.Console = c.root.ErrOrStderr()

	logger, err := logging.New(settings.Log)
	if err != nil {
		return fmt.Errorf("new logger: %w", err)
	}

	c.config = v
	c.settings = settings
	c.logger = logger
	return nil
}

func (c *command) setHomeDir() (err error) {
	if c.homeDir != "" {
		return
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	c.homeDir = dir
	return nil
}
