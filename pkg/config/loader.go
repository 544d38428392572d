package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/kkyr/fig"
	"github.com/spf13/pflag"
)

const EnvPrefix = "CLASSROOM"

const FileName = "config.yaml"

// LoadConfig loads a configuration file into the given struct.
// The path param specifies a custom path to the configuration file.
// Reads and puts environment variables with the prefix CLASSROOM_.
// Params from the config should be in uppercase separated with _.
func LoadConfig(config any, path string) error {
	dirs := []string{path}
	if path == "" {
		dirs = append(dirs, ".", "configs", "../configs", "../../configs")
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, home+"/.classroom")
		}
	}
	return fig.Load(config, fig.File(FileName), fig.Dirs(dirs...), fig.UseEnv(EnvPrefix))
}

// LoadConfigEnv fills the config from defaults and environment only.
func LoadConfigEnv(config any) error {
	return fig.Load(config, fig.IgnoreFile(), fig.UseEnv(EnvPrefix))
}

// LoadDotEnv puts variables from the .env files into the environment,
// existing variables are not overridden. Missing files are fine.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

// PathFromArgs finds the --config value before the other flags are known,
// they need the loaded config for their defaults.
func PathFromArgs(args []string) string {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	path := fs.StringP("config", "c", "", "")
	_ = fs.Parse(args)
	return *path
}
