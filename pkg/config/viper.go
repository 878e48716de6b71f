package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvConfigDir names the environment variable that overrides the config
// file search path. Deployments mount their config there instead of
// baking it into the image.
const EnvConfigDir = "BROADCAST_CONFIG_DIR"

// Load reads the named YAML config file, searching the override
// directory, dir, the working directory and ./config in that order,
// then layers environment variables on top. A missing file is not an
// error: containerized deployments often configure through env alone.
func Load(dir, name string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(name)
	v.SetConfigType("yaml")
	if override := os.Getenv(EnvConfigDir); override != "" {
		v.AddConfigPath(override)
	}
	v.AddConfigPath(dir)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	return v, nil
}
