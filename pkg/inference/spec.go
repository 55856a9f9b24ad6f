package inference

// BackendKind is the closed, tagged variant over backend kinds a ModelSpec
// may name. Dispatch on BackendKind is a switch, never subtype
// polymorphism — adding a backend means extending this enumeration and
// implementing the Backend adapter contract.
type BackendKind string

const (
	BackendLocalGGUF     BackendKind = "local_gguf"
	BackendRemoteAdapter BackendKind = "remote_adapter"
)

// LocalGGUFVariant names an on-disk GGUF base model and an optional LoRA
// adapter file.
type LocalGGUFVariant struct {
	BasePath    string
	AdapterPath string
}

// RemoteAdapterVariant names a remote OpenAI-compatible endpoint to forward
// generation calls to.
type RemoteAdapterVariant struct {
	BaseID      string
	AdapterPath string
	OfflineHint bool
}

// TemplateFamily names one of the supported chat-templating conventions.
type TemplateFamily string

const (
	TemplateChatML   TemplateFamily = "chatml"
	TemplateLlama3   TemplateFamily = "llama3"
	TemplateOpenChat TemplateFamily = "openchat"
)

// ModelSpec is the canonical description of one servable model.
type ModelSpec struct {
	Name            string
	Backend         BackendKind
	LocalGGUF       *LocalGGUFVariant
	RemoteAdapter   *RemoteAdapterVariant
	TemplateFamily  TemplateFamily
	ContextLength   int
	DeviceHint      string
	ThreadCountHint *int
	RuntimeFlags    []string
}

// WithDefaults returns a copy of s with documented defaults applied.
func (s ModelSpec) WithDefaults() ModelSpec {
	out := s
	if out.ContextLength == 0 {
		out.ContextLength = DefaultContextLength
	}
	if out.TemplateFamily == "" {
		out.TemplateFamily = TemplateChatML
	}
	return out
}

// Validate checks the invariants named in the data model: a LocalGGUF
// variant's paths are checked for readability by the caller at load time
// (this package has no filesystem access); Validate only checks shape.
func (s ModelSpec) Validate() error {
	if s.Name == "" {
		return NewError(ErrorInvalidRequest, "model spec missing name")
	}
	switch s.Backend {
	case BackendLocalGGUF:
		if s.LocalGGUF == nil || s.LocalGGUF.BasePath == "" {
			return NewError(ErrorInvalidRequest, "local_gguf spec missing base_path")
		}
	case BackendRemoteAdapter:
		if s.RemoteAdapter == nil || s.RemoteAdapter.BaseID == "" {
			return NewError(ErrorInvalidRequest, "remote_adapter spec missing base_id")
		}
	default:
		return NewError(ErrorInvalidRequest, "unknown backend kind: "+string(s.Backend))
	}
	switch s.TemplateFamily {
	case TemplateChatML, TemplateLlama3, TemplateOpenChat:
	default:
		return NewError(ErrorInvalidRequest, "unknown template family: "+string(s.TemplateFamily))
	}
	return nil
}

// DiscoveredModel is a tentative spec produced by scanning, before a name
// has been assigned. It is promoted into a ModelSpec by the registry's
// auto-registration pass, or discarded.
type DiscoveredModel struct {
	BasePath       string
	AdapterPath    string
	Backend        BackendKind
	TemplateFamily TemplateFamily
	NameHint       string
}
