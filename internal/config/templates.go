package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "mesh":
		return meshTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const meshTemplate = `name = "default"
url = "ws://localhost:8765/bridge"
token = ""
connect_timeout = "10s"
ping_interval = "30s"
reconnect_delay = "5s"
max_reconnect_attempts = 5
request_timeout = "30s"
subscription_buffer = 64

[backoff]
multiplier = 1.0
max_delay = "0s"
jitter = false
`
