package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Endpoints are the base URLs of the external collaborators.
type Endpoints struct {
	Directory   string `yaml:"directory"`
	Wallet      string `yaml:"wallet"`
	Transaction string `yaml:"transaction"`
}

type servicesFile struct {
	Environments map[string]Endpoints `yaml:"environments"`
}

// ResolveEndpoints reads the per-environment table from path. A missing
// file yields empty endpoints so env overrides alone can configure them.
func ResolveEndpoints(path, environment string) (Endpoints, error) {
	if path == "" {
		return Endpoints{}, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Endpoints{}, nil
	}
	if err != nil {
		return Endpoints{}, fmt.Errorf("read services file: %w", err)
	}
	return parseEndpoints(raw, environment)
}

func parseEndpoints(raw []byte, environment string) (Endpoints, error) {
	var file servicesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Endpoints{}, fmt.Errorf("parse services file: %w", err)
	}
	endpoints, ok := file.Environments[environment]
	if !ok {
		return Endpoints{}, fmt.Errorf("services file has no %q environment", environment)
	}
	return endpoints, nil
}

func (e Endpoints) Override(with Endpoints) Endpoints {
	if with.Directory != "" {
		e.Directory = with.Directory
	}
	if with.Wallet != "" {
		e.Wallet = with.Wallet
	}
	if with.Transaction != "" {
		e.Transaction = with.Transaction
	}
	return e
}

func (e Endpoints) Validate() error {
	for name, raw := range map[string]string{
		"directory":   e.Directory,
		"wallet":      e.Wallet,
		"transaction": e.Transaction,
	} {
		if raw == "" {
			return fmt.Errorf("%s service URL is not configured", name)
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s service URL %q is invalid", name, raw)
		}
	}
	return nil
}
