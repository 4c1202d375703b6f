// Package factory assembles the adapter registry from configuration.
// Platforms without credentials are skipped, not failed: their flows report
// a configuration error at request time.
package factory

import (
	"github.com/dropDatabas3/pulsebroker/internal/config"
	"github.com/dropDatabas3/pulsebroker/internal/observability/logger"
	"github.com/dropDatabas3/pulsebroker/internal/provider"
	"github.com/dropDatabas3/pulsebroker/internal/provider/facebook"
	"github.com/dropDatabas3/pulsebroker/internal/provider/instagram"
	"github.com/dropDatabas3/pulsebroker/internal/provider/tiktok"
	"github.com/dropDatabas3/pulsebroker/internal/provider/twitch"
	"github.com/dropDatabas3/pulsebroker/internal/provider/youtube"
)

func Build(cfg *config.Config) *provider.Registry {
	log := logger.Named("provider.factory")
	reg := provider.NewRegistry()

	for _, platform := range config.Platforms {
		pc, ok := cfg.Provider(platform)
		if !ok {
			log.Info("platform not configured, skipping", logger.Platform(platform))
			continue
		}
		redirect := cfg.RedirectURI(platform)

		switch platform {
		case config.PlatformYouTube:
			reg.Register(youtube.New(pc.ClientID, pc.ClientSecret, redirect, pc.Scopes))
		case config.PlatformInstagram:
			reg.Register(instagram.New(pc.ClientID, pc.ClientSecret, redirect, pc.Scopes))
		case config.PlatformTikTok:
			reg.Register(tiktok.New(pc.ClientID, pc.ClientSecret, redirect, pc.Scopes))
		case config.PlatformTwitch:
			reg.Register(twitch.New(pc.ClientID, pc.ClientSecret, redirect, pc.Scopes))
		case config.PlatformFacebook:
			reg.Register(facebook.New(pc.ClientID, pc.ClientSecret, redirect, pc.Scopes))
		}
	}

	log.Info("provider registry ready", logger.Count(len(reg.Platforms())))
	return reg
}
