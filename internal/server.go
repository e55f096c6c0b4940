package internal

import (
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	"visitlens/internal/config"
)

// trackerFetchSites are the Sec-Fetch-Site values accepted on ingestion.
// Tracking scripts run on customer sites, so cross-site is the common case.
var trackerFetchSites = []string{"cross-site", "same-site", "same-origin"}

// NewServerConfig returns the cartridge server settings shared by the
// application and the test harness. The global Sec-Fetch-Site check is off
// because route-level opt-outs run after it; ingestion applies its own check
// and admin clients authenticate with an API key.
func NewServerConfig(cfg *config.Config) *cartridge.ServerConfig {
	serverCfg := cartridge.DefaultServerConfig()
	serverCfg.EnableSecFetchSite = false
	serverCfg.SecFetchSiteAllowedValues = trackerFetchSites
	serverCfg.StaticDirectory = cfg.PublicDirectory
	serverCfg.StaticPrefix = cfg.PublicAssetsUrlPrefix
	serverCfg.TemplatesDirectory = cfg.PublicDirectory
	return serverCfg
}

func trackerFetchSiteGuard() cartridgemiddleware.SecFetchSiteConfig {
	return cartridgemiddleware.SecFetchSiteConfig{
		AllowedValues: trackerFetchSites,
		Methods:       []string{"POST"},
	}
}
