package policy

import (
	"os"

	"github.com/guardmc/invguard/gerror"
	"github.com/pelletier/go-toml"
)

// Save writes the policy to a TOML file at path, overwriting any existing
// file.
func Save(path string, p Policy) error {
	data, err := toml.Marshal(p)
	if err != nil {
		return gerror.New("failed encoding policy: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return gerror.New("failed writing policy file: %v", err)
	}
	return nil
}

// SaveDefault creates a policy file at path containing the default policy. It
// returns an error if the file already exists.
func SaveDefault(path string) error {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return gerror.New("policy file already exists")
	}
	return Save(path, Default())
}

// Load reads a policy from the TOML file at path.
func Load(path string) (Policy, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Policy{}, gerror.New("policy file doesn't exist")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, gerror.New("error reading policy file: %v", err)
	}
	var p Policy
	if err := toml.Unmarshal(data, &p); err != nil {
		return Policy{}, gerror.New("error decoding policy file: %v", err)
	}
	return p, nil
}
