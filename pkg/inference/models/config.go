package models

import (
	"fmt"
	"os"

	"github.com/mattn/go-shellwords"
	"gopkg.in/yaml.v3"

	"github.com/shimmy-run/shimmy/pkg/inference"
)

// specFile is the on-disk YAML shape for an explicit model spec file named
// by SHIMMY_MODELS_FILE. It is intentionally simple: one list of model
// entries, each naming a backend variant by its on-the-wire string.
type specFile struct {
	Models []specFileEntry `yaml:"models"`
}

type specFileEntry struct {
	Name            string `yaml:"name"`
	Backend         string `yaml:"backend"` // "local_gguf" | "remote_adapter"
	BasePath        string `yaml:"base_path,omitempty"`
	AdapterPath     string `yaml:"adapter_path,omitempty"`
	BaseID          string `yaml:"base_id,omitempty"`
	OfflineHint     bool   `yaml:"offline_hint,omitempty"`
	TemplateFamily  string `yaml:"template_family,omitempty"`
	ContextLength   int    `yaml:"context_length,omitempty"`
	DeviceHint      string `yaml:"device_hint,omitempty"`
	ThreadCountHint *int   `yaml:"thread_count_hint,omitempty"`
	RuntimeFlags    string `yaml:"runtime_flags,omitempty"`
}

// LoadSpecFile reads and parses a YAML model-spec file, the "explicit spec
// file" configuration source. A missing path is not an error; it returns an
// empty slice so startup can proceed with environment-only configuration.
func LoadSpecFile(path string) ([]inference.ModelSpec, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, inference.Wrap(inference.ErrorInvalidRequest, "reading model spec file", err)
	}

	var file specFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, inference.Wrap(inference.ErrorInvalidRequest, "parsing model spec file", err)
	}

	specs := make([]inference.ModelSpec, 0, len(file.Models))
	for _, e := range file.Models {
		spec, err := e.toModelSpec()
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (e specFileEntry) toModelSpec() (inference.ModelSpec, error) {
	spec := inference.ModelSpec{
		Name:            e.Name,
		TemplateFamily:  inference.TemplateFamily(e.TemplateFamily),
		ContextLength:   e.ContextLength,
		DeviceHint:      e.DeviceHint,
		ThreadCountHint: e.ThreadCountHint,
	}

	switch e.Backend {
	case string(inference.BackendLocalGGUF), "":
		spec.Backend = inference.BackendLocalGGUF
		spec.LocalGGUF = &inference.LocalGGUFVariant{BasePath: e.BasePath, AdapterPath: e.AdapterPath}
	case string(inference.BackendRemoteAdapter):
		spec.Backend = inference.BackendRemoteAdapter
		spec.RemoteAdapter = &inference.RemoteAdapterVariant{
			BaseID:      e.BaseID,
			AdapterPath: e.AdapterPath,
			OfflineHint: e.OfflineHint,
		}
	default:
		return inference.ModelSpec{}, inference.NewError(inference.ErrorInvalidRequest, fmt.Sprintf("unknown backend %q for model %q", e.Backend, e.Name))
	}

	if e.RuntimeFlags != "" {
		flags, err := shellwords.Parse(e.RuntimeFlags)
		if err != nil {
			return inference.ModelSpec{}, inference.Wrap(inference.ErrorInvalidRequest, fmt.Sprintf("invalid runtime flags for model %q", e.Name), err)
		}
		spec.RuntimeFlags = flags
	}

	return spec.WithDefaults(), nil
}

// LoadFromEnvironment builds the default model spec implied by
// SHIMMY_BASE_GGUF and SHIMMY_LORA_GGUF, named "default". A missing
// SHIMMY_BASE_GGUF is not an error: it simply leaves no default spec
// registered, matching the documented behavior that missing environment
// variables never fail startup.
func LoadFromEnvironment() *inference.ModelSpec {
	base := os.Getenv("SHIMMY_BASE_GGUF")
	if base == "" {
		return nil
	}
	spec := inference.ModelSpec{
		Name:    "default",
		Backend: inference.BackendLocalGGUF,
		LocalGGUF: &inference.LocalGGUFVariant{
			BasePath:    base,
			AdapterPath: os.Getenv("SHIMMY_LORA_GGUF"),
		},
	}
	spec = spec.WithDefaults()
	return &spec
}
