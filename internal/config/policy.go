package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/enforcement-sync/internal/model"
)

// LoadPolicy reads the sync policy file. An empty path yields the default
// policy; types missing from the file keep their defaults.
func LoadPolicy(path string) (model.SyncPolicy, error) {
	policy := model.DefaultSyncPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, eris.Wrapf(err, "config: read policy %s", path)
	}

	// The YAML has a top-level "policy" key
	var wrapper struct {
		Policy struct {
			Violation  *model.TypePolicy `yaml:"violation"`
			Inspection *model.TypePolicy `yaml:"inspection"`
			Permit     *model.TypePolicy `yaml:"permit"`
		} `yaml:"policy"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return policy, eris.Wrap(err, "config: parse policy")
	}

	if p := wrapper.Policy.Violation; p != nil {
		if p.Signature != "" {
			policy.Violation.Signature = p.Signature
		}
		if p.ClosingStatuses != nil {
			policy.Violation.ClosingStatuses = p.ClosingStatuses
		}
	}
	if p := wrapper.Policy.Inspection; p != nil && p.Signature != "" {
		policy.Inspection.Signature = p.Signature
	}
	if p := wrapper.Policy.Permit; p != nil && p.Signature != "" {
		policy.Permit.Signature = p.Signature
	}

	return policy, policy.Validate()
}
