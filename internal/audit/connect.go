package audit

import (
	"fmt"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"

	"github.com/labinsight/platform/internal/shared/config"
	"github.com/labinsight/platform/internal/shared/errors"
)

// Connect builds an esdb client from configuration.
func Connect(cfg config.KurrentDBConfig) (*esdb.Client, error) {
	settings, err := esdb.ParseConnectionString(buildConnectionString(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "invalid kurrentdb connection string")
	}

	client, err := esdb.NewClient(settings)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create kurrentdb client")
	}
	return client, nil
}

// buildConnectionString creates the esdb:// connection string
func buildConnectionString(cfg config.KurrentDBConfig) string {
	auth := ""
	if cfg.Username != "" {
		auth = fmt.Sprintf("%s:%s@", cfg.Username, cfg.Password)
	}

	params := ""
	if cfg.Insecure {
		params = "?tls=false"
	}

	return fmt.Sprintf("esdb://%s%s:%d%s", auth, cfg.Host, cfg.Port, params)
}
