package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs where exports will go
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("Orderflow", Version)

	logger.Info().
		Str("version", Version).
		Str("start_url", config.Browser.StartURL).
		Str("output_dir", config.Output.Dir).
		Str("format", config.Output.Format).
		Int("concurrency", config.Export.Concurrency).
		Bool("details", config.Detail.Enabled).
		Msg("Orderflow starting")
}
