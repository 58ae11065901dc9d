package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		return serverTemplate, nil
	case "client":
		return clientTemplate, nil
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

const serverTemplate = `port = 9090
root = "local/share"
buffer_size = 4096
read_timeout = "30s"
write_timeout = "30s"
# wait for the next request on an open connection, "0s" waits forever
idle_timeout = "5m"
max_connections = 64
# largest rejected request drained before the connection is dropped, must be > 0
max_drain = 1048576
# empty disables the admin HTTP surface
admin_addr = "127.0.0.1:9091"
# bearer token for /metrics and /stats, empty leaves them open
admin_token = ""
log_level = "info"
`

const clientTemplate = `host = "127.0.0.1"
port = 9090
buffer_size = 4096
timeout = "30s"
connect_attempts = 3
`
