package config

import (
	"fmt"
	"os"
)

func Template() string {
	return replctlTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(replctlTemplate), 0o600)
}

const replctlTemplate = `# directory holding the mongod binary
mongo_path = "~/10gen/mongo/"
# wiped on every run when reset = true
data_dir = "/data/db/replset/"
reset = true

name = "foo"
host = "localhost"
port = 27017
set_size = 3
arbiters = 0
oplog_size = 100

settle_delay = "10s"
probe_attempts = 40
probe_interval = "250ms"
status_backoff = "1s"
poll_interval = "1s"

# auto | always | never
color = "auto"
# metrics_addr = "127.0.0.1:9464"

[tls]
enabled = false
pem_key_file = "/data/db/mongocert.pem"
pem_key_password = "mongo"
`
