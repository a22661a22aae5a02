package models

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port           string `json:"port,omitzero" yaml:"port"`
	AllowedOrigins string `json:"allowed_origins,omitzero" yaml:"allowed_origins"`
	Environment    string `json:"environment,omitzero" yaml:"environment"`
	LogLevel       string `json:"log_level,omitzero" yaml:"log_level"`
}

// RedisConfig points at the optional lookup-cache backend. An empty address
// disables caching entirely.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty" json:"addr,omitzero"`
	Password string `yaml:"password,omitempty" json:"-"`
	DB       int    `yaml:"db,omitempty" json:"db,omitzero"`
	TTLSecs  int    `yaml:"ttl_seconds,omitempty" json:"ttl_seconds,omitzero"`
}
