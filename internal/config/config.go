// Package config loads pngrsa settings from file, environment and flags.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/faanross/pngrsa/internal/logging"
	"github.com/faanross/pngrsa/internal/params"
)

const (
	configName = ".pngrsa"
	envPrefix  = "pngrsa"
)

// Option keys, as used in the config file. Flags use the same names with
// dashes; environment variables are PNGRSA_ plus the upper-cased key with
// dots and dashes turned into underscores.
const (
	KeyBits            = "key_bits"
	KeyMode            = "mode"
	KeyNonce           = "nonce"
	KeyWorkers         = "workers"
	KeyVerifyKeys      = "verify_keys"
	KeyKeyFile         = "key_file"
	KeyLogLevel        = "log.level"
	KeyLogType         = "log.type"
	KeyLogFormat       = "log.format"
	KeyLogFilePath     = "log.file_path"
	KeyLogMaxSize      = "log.max_size"
	KeyLogMaxBackups   = "log.max_backups"
	KeyLogMaxAge       = "log.max_age"
	KeyKeyServerAddr   = "keyserver.addr"
	KeyKeyServerZone   = "keyserver.zone"
	KeyKeyServerRemote = "keyserver.remote"
)

// Settings is the validated configuration of one pngrsa invocation.
type Settings struct {
	KeyBits    int    `mapstructure:"key_bits" validate:"required,oneof=512 1024 2048 4096"`
	Mode       string `mapstructure:"mode" validate:"required,oneof=ecb ctr"`
	Nonce      int64  `mapstructure:"nonce" validate:"gte=0"`
	Workers    int    `mapstructure:"workers" validate:"min=1,max=64"`
	VerifyKeys bool   `mapstructure:"verify_keys"`
	KeyFile    string `mapstructure:"key_file" validate:"required"`

	Log       logging.Settings  `mapstructure:"log"`
	KeyServer KeyServerSettings `mapstructure:"keyserver"`
}

// KeyServerSettings configures the DNS key server and the server keyfetch
// queries.
type KeyServerSettings struct {
	Addr   string `mapstructure:"addr" validate:"required,hostname_port"`
	Zone   string `mapstructure:"zone" validate:"required"`
	Remote string `mapstructure:"remote" validate:"omitempty,hostname_port"`
}

// SetDefaults registers the default of every option on v.
func SetDefaults(v *viper.Viper) {
	log := logging.DefaultSettings()

	v.SetDefault(KeyBits, params.DEFAULT_KEY_BITS)
	v.SetDefault(KeyMode, params.MODE_ECB)
	v.SetDefault(KeyNonce, params.CTR_NONCE)
	v.SetDefault(KeyWorkers, 4)
	v.SetDefault(KeyVerifyKeys, false)
	v.SetDefault(KeyKeyFile, "pngrsa-key.json")
	v.SetDefault(KeyLogLevel, log.Level)
	v.SetDefault(KeyLogType, log.Type)
	v.SetDefault(KeyLogFormat, log.Format)
	v.SetDefault(KeyLogFilePath, "")
	v.SetDefault(KeyLogMaxSize, log.MaxSize)
	v.SetDefault(KeyLogMaxBackups, log.MaxBackups)
	v.SetDefault(KeyLogMaxAge, log.MaxAge)
	v.SetDefault(KeyKeyServerAddr, "127.0.0.1:5353")
	v.SetDefault(KeyKeyServerZone, "keys.pngrsa.local")
	v.SetDefault(KeyKeyServerRemote, "")
}

// New creates a viper instance reading cfgFile, or .pngrsa.yaml in homeDir
// when cfgFile is empty. A missing default config file is not an error.
func New(cfgFile, homeDir string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if homeDir != "" {
			v.AddConfigPath(homeDir)
		}
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// DefaultPath is where New looks for a config file under homeDir.
func DefaultPath(homeDir string) string {
	return filepath.Join(homeDir, configName+".yaml")
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks every field and reports all violations together.
func (s *Settings) Validate() error {
	err := validator.New().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validation failed for Settings: %w", err)
	}

	var result *multierror.Error
	for _, fe := range fieldErrs {
		result = multierror.Append(result, fmt.Errorf("%s: %q fails %s", fe.Namespace(), fmt.Sprint(fe.Value()), describeTag(fe)))
	}
	return result.ErrorOrNil()
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
