package lifecycle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Config carries the tunables an operator may override through the agent's
// JSON config file. Zero values mean "use the built-in default".
type Config struct {
	SweepIntervalSeconds     int `json:"sweepIntervalSeconds,omitempty"`
	SeedTimeoutSeconds       int `json:"seedTimeoutSeconds,omitempty"`
	NetworkTimeoutMillis     int `json:"networkTimeoutMillis,omitempty"`
	TelemetryIntervalSeconds int `json:"telemetryIntervalSeconds,omitempty"`
	MaxReplayAttempts        int `json:"maxReplayAttempts,omitempty"`
	ReplayBackoffBaseSeconds int `json:"replayBackoffBaseSeconds,omitempty"`
	ReplayBackoffCapSeconds  int `json:"replayBackoffCapSeconds,omitempty"`
	ConnectivityProbeSeconds int `json:"connectivityProbeSeconds,omitempty"`
}

const configSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"sweepIntervalSeconds": {"type": "integer", "minimum": 1},
		"seedTimeoutSeconds": {"type": "integer", "minimum": 1},
		"networkTimeoutMillis": {"type": "integer", "minimum": 100},
		"telemetryIntervalSeconds": {"type": "integer", "minimum": 1},
		"maxReplayAttempts": {"type": "integer", "minimum": 1, "maximum": 20},
		"replayBackoffBaseSeconds": {"type": "integer", "minimum": 1},
		"replayBackoffCapSeconds": {"type": "integer", "minimum": 1},
		"connectivityProbeSeconds": {"type": "integer", "minimum": 1}
	}
}`

const configSchemaURL = "opscache://config.schema.json"

// LoadConfig reads and validates the agent config file. A missing file is
// not an error; a file that fails schema validation is.
func LoadConfig(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return &Config{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	if err := validateConfig(raw); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	var cfg Config
	if err := jsonUnmarshalStrict(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func validateConfig(raw []byte) error {
	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(configSchema))
	if err != nil {
		return err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(configSchemaURL, schemaDoc); err != nil {
		return err
	}
	schema, err := compiler.Compile(configSchemaURL)
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return schema.Validate(instance)
}

func jsonUnmarshalStrict(raw []byte, dst any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
