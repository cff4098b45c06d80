package main

import (
	"flag"
	"os"
	"strings"

	"github.com/Tek-Fly/ide-mesh-suite/internal/bridge"
	"github.com/Tek-Fly/ide-mesh-suite/internal/config"
	"github.com/Tek-Fly/ide-mesh-suite/internal/logging"
	"github.com/Tek-Fly/ide-mesh-suite/internal/transport"
)

const (
	defaultConfigPath = "cmd/meshctl/config.toml"
	defaultStatePath  = "cmd/meshctl/client.toml"
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath, "mesh config path")
	statePath := flag.String("state", defaultStatePath, "client state path")
	urlFlag := flag.String("url", "", "bridge url (overrides config and MESHCTL_URL)")
	tokenFlag := flag.String("token", "", "auth token (overrides config and MESHCTL_TOKEN)")
	flag.Parse()

	logging.ConfigureRuntime()
	log := logging.For("meshctl")

	meshCfg, err := resolveConfig(*cfgPath, *urlFlag, *tokenFlag)
	if err != nil {
		log.Error().Err(err).Msg("configuration invalid")
		os.Exit(1)
	}
	bridgeCfg, err := config.ToBridgeConfig(meshCfg)
	if err != nil {
		log.Error().Err(err).Msg("configuration invalid")
		os.Exit(1)
	}

	registry := bridge.NewRegistry(bridgeCfg, &transport.WebSocketDialer{
		HandshakeTimeout: bridgeCfg.ConnectTimeout,
	})
	defer registry.DisposeAll()

	app := NewApp(registry, bridgeCfg, meshCfg.Token, *statePath)
	if err := app.Run(); err != nil {
		log.Error().Err(err).Msg("meshctl exited")
		os.Exit(1)
	}
}

// resolveConfig layers flags over the file and environment. A missing
// file is fine as long as a url arrives some other way.
func resolveConfig(path, urlFlag, tokenFlag string) (config.MeshConfig, error) {
	var cfg config.MeshConfig
	if _, err := os.Stat(path); err == nil {
		loaded, err := config.LoadMeshConfig(path)
		if err != nil {
			return config.MeshConfig{}, err
		}
		cfg = loaded
	} else {
		if v := strings.TrimSpace(os.Getenv("MESHCTL_URL")); v != "" {
			cfg.URL = v
		}
		if v := strings.TrimSpace(os.Getenv("MESHCTL_TOKEN")); v != "" {
			cfg.Token = v
		}
	}
	if strings.TrimSpace(urlFlag) != "" {
		cfg.URL = strings.TrimSpace(urlFlag)
	}
	if strings.TrimSpace(tokenFlag) != "" {
		cfg.Token = strings.TrimSpace(tokenFlag)
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if err := config.ValidateMeshConfig(cfg); err != nil {
		return config.MeshConfig{}, err
	}
	return cfg, nil
}
