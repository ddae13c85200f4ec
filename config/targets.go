package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// TargetSeed is one building entry in a seed file
type TargetSeed struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	WebsiteURL string `yaml:"website_url"`
	City       string `yaml:"city"`
	Group      string `yaml:"group"`
}

type targetSeedFile struct {
	Targets []TargetSeed `yaml:"targets"`
}

// LoadTargetSeeds reads a YAML file of the form `targets: [...]`
func LoadTargetSeeds(path string) ([]TargetSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read %s", path)
	}

	var f targetSeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "config: parse %s", path)
	}

	for i, t := range f.Targets {
		if t.Name == "" {
			return nil, eris.Errorf("config: %s target %d has no name", path, i)
		}
	}
	return f.Targets, nil
}
