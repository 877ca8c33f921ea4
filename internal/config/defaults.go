package config

// Config holds all kernel configuration values. Defaults come from
// DefaultConfig; the dotfile loader overrides them per key.
type Config struct {
	Kernel KernelConfig `json:"kernel"`
	Audit  AuditConfig  `json:"audit"`
	Policy PolicyConfig `json:"policy"`
}

type KernelConfig struct {
	// LogLevel is the zerolog level for kernel logging.
	LogLevel string `json:"log_level" validate:"oneof=trace debug info warn error"`
	// Permissive runs the kernel without a policy engine. Every request is
	// allowed; the kernel logs a warning on startup.
	Permissive bool `json:"permissive"`
	// SignalBuffer is the channel buffer handed to signal subscribers.
	SignalBuffer int `json:"signal_buffer" validate:"gte=1"`
}

type AuditConfig struct {
	// Dir is the directory for the durable audit log. Empty means the audit
	// trail is kept in memory only.
	Dir string `json:"dir"`
	// File is the JSONL file name inside Dir.
	File string `json:"file" validate:"required"`
	// BatchSize is how many entries buffer before a flush; 1 is immediate
	// mode.
	BatchSize int `json:"batch_size" validate:"gte=1"`
}

type PolicyConfig struct {
	// Path points at the YAML policy document. Required unless the kernel
	// runs permissive.
	Path string `json:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Kernel: KernelConfig{
			LogLevel:     "info",
			SignalBuffer: 16,
		},
		Audit: AuditConfig{
			File:      "audit.jsonl",
			BatchSize: 1,
		},
	}
}
