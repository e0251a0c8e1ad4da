// Command configgen renders one arena config per deployment from a base file plus overrides.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

type Profile struct {
	Base        string                       `yaml:"base"`
	OutputDir   string                       `yaml:"outputDir"`
	Shared      SharedInfra                  `yaml:"shared"`
	Deployments map[string]DeploymentProfile `yaml:"deployments"`
}

// SharedInfra holds endpoints every deployment of one environment talks to.
type SharedInfra struct {
	DatabaseDSN  string   `yaml:"databaseDSN"`
	RedisAddr    string   `yaml:"redisAddr"`
	Broker       string   `yaml:"broker"`
	KafkaBrokers []string `yaml:"kafkaBrokers"`
	NATSURL      string   `yaml:"natsURL"`
}

type DeploymentProfile struct {
	Output    string                 `yaml:"output"`
	Overrides map[string]interface{} `yaml:"overrides"`
}

func main() {
	profilePath := flag.String("profile", "configs/profiles/dev.yaml", "Path to config profile")
	outputDir := flag.String("output-dir", "", "Override output directory")
	flag.Parse()

	written, err := run(*profilePath, *outputDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
	for _, path := range written {
		fmt.Println(path)
	}
}

func run(profilePath, outputDir string) ([]string, error) {
	profilePathAbs, err := filepath.Abs(profilePath)
	if err != nil {
		return nil, fmt.Errorf("resolve profile path failed: %w", err)
	}
	profile, err := loadProfile(profilePathAbs)
	if err != nil {
		return nil, err
	}
	if outputDir != "" {
		profile.OutputDir = outputDir
	}
	if profile.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	profileDir := filepath.Dir(profilePathAbs)
	if !filepath.IsAbs(profile.OutputDir) {
		profile.OutputDir = filepath.Join(profileDir, profile.OutputDir)
	}
	base := profile.Base
	if !filepath.IsAbs(base) {
		base = filepath.Join(profileDir, base)
	}
	baseConfig, err := loadYAML(base)
	if err != nil {
		return nil, fmt.Errorf("load base config failed: %w", err)
	}
	baseConfig = normalizeValue(baseConfig)

	names := make([]string, 0, len(profile.Deployments))
	for name := range profile.Deployments {
		names = append(names, name)
	}
	sort.Strings(names)

	written := make([]string, 0, len(names))
	for _, name := range names {
		deployment := profile.Deployments[name]
		config := baseConfig
		config, err = applyShared(profile.Shared, config)
		if err != nil {
			return nil, fmt.Errorf("apply shared infra for %q failed: %w", name, err)
		}
		if len(deployment.Overrides) > 0 {
			config, err = mergeMap(config, normalizeValue(deployment.Overrides))
			if err != nil {
				return nil, fmt.Errorf("merge overrides for %q failed: %w", name, err)
			}
		}
		output := deployment.Output
		if output == "" {
			output = "arena-" + name + ".yaml"
		}
		if !filepath.IsAbs(output) {
			output = filepath.Join(profile.OutputDir, output)
		}
		if err := writeYAML(output, config); err != nil {
			return nil, fmt.Errorf("write config for %q failed: %w", name, err)
		}
		written = append(written, output)
	}
	return written, nil
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile failed: %w", err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile failed: %w", err)
	}
	if profile.Base == "" {
		return nil, errors.New("profile has no base config")
	}
	if len(profile.Deployments) == 0 {
		return nil, errors.New("profile has no deployments")
	}
	return &profile, nil
}

func loadYAML(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read yaml failed: %w", err)
	}

	var value interface{}
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("parse yaml failed: %w", err)
	}
	return value, nil
}

func writeYAML(path string, value interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir failed: %w", err)
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal yaml failed: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func normalizeValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = normalizeValue(v)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[fmt.Sprint(k)] = normalizeValue(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, normalizeValue(item))
		}
		return out
	default:
		return value
	}
}

// mergeMap returns a new map; nested maps merge, everything else is replaced.
func mergeMap(base interface{}, override interface{}) (interface{}, error) {
	baseMap, ok := base.(map[string]interface{})
	if !ok {
		return nil, errors.New("base config is not a map")
	}
	overrideMap, ok := override.(map[string]interface{})
	if !ok {
		return nil, errors.New("override config is not a map")
	}

	merged := make(map[string]interface{}, len(baseMap))
	for k, v := range baseMap {
		merged[k] = v
	}
	for key, overrideValue := range overrideMap {
		baseChild, baseIsMap := merged[key].(map[string]interface{})
		overrideChild, overrideIsMap := overrideValue.(map[string]interface{})
		if baseIsMap && overrideIsMap {
			combined, err := mergeMap(baseChild, overrideChild)
			if err != nil {
				return nil, err
			}
			merged[key] = combined
			continue
		}
		merged[key] = overrideValue
	}
	return merged, nil
}

func applyShared(shared SharedInfra, config interface{}) (interface{}, error) {
	override := map[string]interface{}{}
	set := func(section, key string, value interface{}) {
		child, ok := override[section].(map[string]interface{})
		if !ok {
			child = map[string]interface{}{}
			override[section] = child
		}
		child[key] = value
	}
	if shared.DatabaseDSN != "" {
		set("database", "dsn", shared.DatabaseDSN)
	}
	if shared.RedisAddr != "" {
		set("redis", "addr", shared.RedisAddr)
	}
	if shared.Broker != "" {
		set("events", "broker", shared.Broker)
	}
	if len(shared.KafkaBrokers) > 0 {
		brokers := make([]interface{}, 0, len(shared.KafkaBrokers))
		for _, b := range shared.KafkaBrokers {
			brokers = append(brokers, b)
		}
		set("kafka", "brokers", brokers)
	}
	if shared.NATSURL != "" {
		set("nats", "url", shared.NATSURL)
	}
	if len(override) == 0 {
		return config, nil
	}
	return mergeMap(config, override)
}
