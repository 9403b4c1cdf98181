// Package config loads option structs for the cache, queue, lock and bus
// packages from environment variables and an optional YAML file, mirroring
// config/config.go's viper-based Read/ReadWithConfigDirPath. Every
// component remains directly constructible with its Options struct — this
// package is a convenience layer, never a requirement.
package config

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// Load reads environment variables (auto-bound) and, if present, a YAML
// file named <profile>.yaml under dir, into cfg. cfg must be a pointer.
// Env() is used as the profile name when profile is empty.
func Load(cfg any, dir string, profile string) error {
	if profile == "" {
		profile = Env()
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetConfigName(profile)
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.Wrapf(err, "config: read %s/%s.yaml", dir, profile)
		}
		// No file on disk is fine — env vars alone may fully configure cfg.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return errors.Wrap(err, "config: unmarshal")
	}
	return nil
}
