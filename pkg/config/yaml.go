package config

import (
	"time"
)

// Duration はYAMLで "10s" のような文字列として書ける時間。
type Duration time.Duration

// UnmarshalYAML は文字列をtime.Durationとして解釈する。
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
