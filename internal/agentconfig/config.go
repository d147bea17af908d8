// Package agentconfig implements the agent's configuration store: loading
// and validating the TOML configuration file, and writing it back with
// owner-only permissions whenever credentials are materialised or rotated.
package agentconfig

import (
	"os"
	"runtime"

	"github.com/BurntSushi/toml"
	"github.com/efficientgo/core/errors"
	"github.com/google/uuid"

	"github.com/smotra-monitoring/agent/internal/model"
)

// Sentinel error kinds, matching the Config(io|parse|invalid) and
// ConfigApiKey(empty) taxonomy.
var (
	ErrConfigIO      = errors.New("config: io error")
	ErrConfigParse   = errors.New("config: parse error")
	ErrConfigInvalid = errors.New("config: invalid")
	ErrAPIKeyEmpty   = errors.New("config: api key is empty")
)

// Load parses the TOML file at path into a Config. It does not validate
// the result.
func Load(path string) (model.Config, error) {
	cfg := model.Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Config{}, errors.Wrapf(ErrConfigIO, "read %s: %v", path, err)
	}
	if _, err := toml.Decode(string(raw), &cfg); err != nil {
		return model.Config{}, errors.Wrapf(ErrConfigParse, "decode %s: %v", path, err)
	}
	return cfg, nil
}

// Validate checks the field predicates spec.md §3 requires. The first
// violation wins with a human-readable message.
func Validate(cfg model.Config) error {
	switch {
	case cfg.AgentID == uuid.Nil:
		return errors.Wrap(ErrConfigInvalid, "agent_id cannot be nil UUID")
	case cfg.Monitoring.IntervalSecs == 0:
		return errors.Wrap(ErrConfigInvalid, "monitoring interval must be greater than 0")
	case cfg.Server.TimeoutSecs == 0:
		return errors.Wrap(ErrConfigInvalid, "server timeout must be greater than 0")
	case cfg.Server.ReportIntervalSecs == 0:
		return errors.Wrap(ErrConfigInvalid, "server report interval must be greater than 0")
	case cfg.Server.ReportIntervalSecs < 2*cfg.Server.TimeoutSecs:
		return errors.Wrap(ErrConfigInvalid, "server report interval must be at least twice the timeout")
	case cfg.Server.URL == "":
		return errors.Wrap(ErrConfigInvalid, "server url must not be empty")
	case cfg.Server.APIKey == "":
		return errors.Wrap(ErrAPIKeyEmpty, "server url is configured but api key is empty")
	}
	return nil
}

// LoadAndValidate composes Load and Validate; used on startup and on every
// reload trigger.
func LoadAndValidate(path string) (model.Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return model.Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return model.Config{}, err
	}
	return cfg, nil
}

// SaveSecure serialises cfg as pretty TOML, writes it to path (create or
// truncate), flushes, and on POSIX sets file mode 0600. On non-POSIX
// platforms the file is left at the OS default permission; callers should
// treat credentials as world-readable there unless the host ACL says
// otherwise.
func SaveSecure(cfg model.Config, path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrapf(ErrConfigIO, "open %s: %v", path, err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return errors.Wrapf(ErrConfigIO, "encode %s: %v", path, err)
	}
	if err := f.Sync(); err != nil {
		return errors.Wrapf(ErrConfigIO, "flush %s: %v", path, err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(path, 0o600); err != nil {
			return errors.Wrapf(ErrConfigIO, "chmod %s: %v", path, err)
		}
	}
	return nil
}

// ApplyCredentials overwrites the API key and agent ID fields in place,
// as delivered by a completed claim workflow.
func ApplyCredentials(cfg *model.Config, apiKey string, agentID uuid.UUID) {
	cfg.Server.APIKey = apiKey
	cfg.AgentID = agentID
}
