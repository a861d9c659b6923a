package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/logitest/attempt-service/internal/grading"
	"github.com/spf13/viper"
)

// LoadGradingPolicy reads the scoring weights. Sources, lowest precedence
// first: built-in defaults, a YAML file (path, or ./config/grading.yaml when
// path is empty), and GRADING_* environment variables.
func LoadGradingPolicy(path string) (grading.Policy, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("grading")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
	}

	def := grading.DefaultPolicy()
	v.SetDefault("correct_weight", def.CorrectWeight)
	v.SetDefault("half_correct_weight", def.HalfCorrectWeight)
	v.SetDefault("reversed_weight", def.ReversedWeight)

	v.SetEnvPrefix("grading")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return grading.Policy{}, fmt.Errorf("load grading config: %w", err)
		}
	}

	var p grading.Policy
	if err := v.Unmarshal(&p); err != nil {
		return grading.Policy{}, fmt.Errorf("decode grading config: %w", err)
	}
	if err := p.Validate(); err != nil {
		return grading.Policy{}, err
	}
	return p, nil
}
