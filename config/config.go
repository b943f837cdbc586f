package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/sealtrust/association"
	"github.com/georgepadayatti/sealtrust/hybrid"
	"github.com/georgepadayatti/sealtrust/revocation"
	"github.com/georgepadayatti/sealtrust/truststore"
)

// Common errors
var (
	ErrConfigurationError   = errors.New("configuration error")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrInvalidOID           = errors.New("invalid OID")
	ErrInvalidValue         = errors.New("invalid value")
)

// OIDRegex matches OID strings like "1.2.3.4"
var OIDRegex = regexp.MustCompile(`^\d+(\.\d+)+$`)

// Revocation modes.
const (
	RevocationNone    = "none"
	RevocationOffline = "offline"
	RevocationOnline  = "online"
)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	if e.Err == nil {
		return ErrConfigurationError
	}
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// TrustStoreConfig lists the certificate sources.
type TrustStoreConfig struct {
	// UseSystem loads the operating system CA bundle into the system partition.
	UseSystem bool `yaml:"use-system" json:"use_system"`

	// SystemBundles overrides the system bundle locations searched.
	SystemBundles []string `yaml:"system-bundles" json:"system_bundles,omitempty"`

	// CustomRootsDirs hold custom trust anchors.
	CustomRootsDirs []string `yaml:"custom-roots-dirs" json:"custom_roots_dirs,omitempty"`

	// AssociationDir holds one sub-directory per association.
	AssociationDir string `yaml:"association-dir" json:"association_dir,omitempty"`

	// PKCS12Password unlocks .p12/.pfx bundles.
	PKCS12Password string `yaml:"pkcs12-password" json:"-"`

	// ReloadSchedule is a cron expression for periodic reloads. Empty disables them.
	ReloadSchedule string `yaml:"reload-schedule" json:"reload_schedule,omitempty"`
}

// Sources converts the configuration for the loader.
func (c *TrustStoreConfig) Sources() truststore.Sources {
	return truststore.Sources{
		UseSystem:      c.UseSystem,
		SystemBundles:  c.SystemBundles,
		CustomDirs:     c.CustomRootsDirs,
		AssociationDir: c.AssociationDir,
		PKCS12Password: c.PKCS12Password,
	}
}

// Validate validates the trust store configuration.
func (c *TrustStoreConfig) Validate() error {
	if c.ReloadSchedule != "" {
		if _, err := cron.ParseStandard(c.ReloadSchedule); err != nil {
			return &ConfigError{Field: "trust-store.reload-schedule", Message: err.Error(), Err: ErrInvalidValue}
		}
	}
	return nil
}

// RevocationConfig contains revocation checking settings.
type RevocationConfig struct {
	// Mode is none, offline (local CRL files) or online (OCSP and CRL over HTTP).
	Mode string `yaml:"mode" json:"mode"`

	// CRLDirs hold CRL files for offline checking.
	CRLDirs []string `yaml:"crl-dirs" json:"crl_dirs,omitempty"`

	// CRLFirst tries CRL distribution points before OCSP in online mode.
	CRLFirst bool `yaml:"crl-first" json:"crl_first"`

	// Timeout bounds one online check.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// MaxResponseSize is the largest accepted response, in bytes.
	MaxResponseSize int64 `yaml:"max-response-size" json:"max_response_size"`

	// CacheTTL is how long fetched responses are reused.
	CacheTTL time.Duration `yaml:"cache-ttl" json:"cache_ttl"`

	// MaxAttempts is the number of attempts per fetch.
	MaxAttempts int `yaml:"max-attempts" json:"max_attempts"`
}

// SetDefaults sets default values for revocation configuration.
func (c *RevocationConfig) SetDefaults() {
	def := revocation.DefaultConfig()
	if c.Mode == "" {
		c.Mode = RevocationNone
	}
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxResponseSize == 0 {
		c.MaxResponseSize = def.MaxResponseSize
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = def.CacheTTL
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = def.Retry.MaxAttempts
	}
}

// Validate validates the revocation configuration.
func (c *RevocationConfig) Validate() error {
	switch c.Mode {
	case RevocationNone, RevocationOnline:
	case RevocationOffline:
		if len(c.CRLDirs) == 0 {
			return &ConfigError{Field: "revocation.crl-dirs", Message: "offline mode needs at least one CRL directory", Err: ErrMissingRequiredField}
		}
	default:
		return &ConfigError{Field: "revocation.mode", Message: fmt.Sprintf("unknown mode %q", c.Mode), Err: ErrInvalidValue}
	}
	if c.Timeout < 0 || c.CacheTTL < 0 || c.MaxResponseSize < 0 || c.MaxAttempts < 0 {
		return &ConfigError{Field: "revocation", Message: "durations, sizes and attempts must not be negative", Err: ErrInvalidValue}
	}
	return nil
}

// FetcherConfig converts the configuration for the online checker.
func (c *RevocationConfig) FetcherConfig() *revocation.FetcherConfig {
	fc := revocation.DefaultConfig()
	fc.Timeout = c.Timeout
	fc.MaxResponseSize = c.MaxResponseSize
	fc.CacheTTL = c.CacheTTL
	fc.Retry.MaxAttempts = c.MaxAttempts
	return fc
}

// ChainConfig contains chain building settings.
type ChainConfig struct {
	// MaxDepth bounds the number of certificates in a chain.
	MaxDepth int `yaml:"max-depth" json:"max_depth"`
}

// ValidationConfig contains per-signature policy.
type ValidationConfig struct {
	// RequireTimeValidity rejects chains with expired or not yet valid certificates.
	RequireTimeValidity bool `yaml:"require-time-validity" json:"require_time_validity"`
}

// ComplianceConfig selects how seal and digital verdicts combine.
type ComplianceConfig struct {
	RequireBoth  bool `yaml:"require-both" json:"require_both"`
	AcceptEither bool `yaml:"accept-either" json:"accept_either"`

	// MinimumSealConfidence defaults to 0.7 when unset.
	MinimumSealConfidence *float64 `yaml:"minimum-seal-confidence" json:"minimum_seal_confidence,omitempty"`
}

// SetDefaults selects accept-either when no mode is configured.
func (c *ComplianceConfig) SetDefaults() {
	def := hybrid.DefaultRules()
	if !c.RequireBoth && !c.AcceptEither {
		c.AcceptEither = def.AcceptEither
	}
	if c.MinimumSealConfidence == nil {
		v := def.MinimumSealConfidence
		c.MinimumSealConfidence = &v
	}
}

// Rules converts the configuration for the hybrid validator.
func (c *ComplianceConfig) Rules() hybrid.Rules {
	r := hybrid.Rules{RequireBoth: c.RequireBoth, AcceptEither: c.AcceptEither}
	if c.MinimumSealConfidence != nil {
		r.MinimumSealConfidence = *c.MinimumSealConfidence
	} else {
		r.MinimumSealConfidence = hybrid.DefaultRules().MinimumSealConfidence
	}
	return r
}

// Validate validates the compliance configuration.
func (c *ComplianceConfig) Validate() error {
	if err := c.Rules().Validate(); err != nil {
		return &ConfigError{Field: "compliance", Message: err.Error(), Err: err}
	}
	return nil
}

// AssociationsConfig overrides the built-in association table.
type AssociationsConfig struct {
	// File is a YAML association table.
	File string `yaml:"file" json:"file,omitempty"`

	// Table lists associations inline; it takes precedence over File.
	Table association.Table `yaml:"table" json:"table,omitempty"`
}

// LoadTable returns the configured table, falling back to the built-in one.
func (c *AssociationsConfig) LoadTable() (association.Table, error) {
	switch {
	case len(c.Table) > 0:
		return c.Table, nil
	case c.File != "":
		return association.LoadTable(c.File)
	default:
		return association.DefaultTable(), nil
	}
}

// Validate validates inline associations, including their policy OIDs.
func (c *AssociationsConfig) Validate() error {
	for i, a := range c.Table {
		if _, err := ProcessOIDs(a.PolicyOIDs); err != nil {
			return &ConfigError{Field: fmt.Sprintf("associations.table[%d].policy-oids", i), Message: err.Error(), Err: ErrInvalidOID}
		}
	}
	if len(c.Table) > 0 {
		if err := c.Table.Validate(); err != nil {
			return &ConfigError{Field: "associations.table", Message: err.Error(), Err: err}
		}
	}
	return nil
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	// Workers is the number of documents validated concurrently.
	Workers int `yaml:"workers" json:"workers"`
}

// SetDefaults sets the default worker count.
func (c *BatchConfig) SetDefaults() {
	if c.Workers == 0 {
		c.Workers = 4
	}
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format (text, json).
	Format string `yaml:"format" json:"format,omitempty"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `yaml:"output" json:"output,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// Validate validates the logging configuration.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ConfigError{Field: "logging.level", Message: fmt.Sprintf("unknown level %q", c.Level), Err: ErrInvalidValue}
	}
	switch c.Format {
	case "text", "json":
	default:
		return &ConfigError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q", c.Format), Err: ErrInvalidValue}
	}
	return nil
}

// AppConfig contains the complete application configuration.
type AppConfig struct {
	TrustStore   *TrustStoreConfig   `yaml:"trust-store" json:"trust_store,omitempty"`
	Revocation   *RevocationConfig   `yaml:"revocation" json:"revocation,omitempty"`
	Chain        *ChainConfig        `yaml:"chain" json:"chain,omitempty"`
	Validation   *ValidationConfig   `yaml:"validation" json:"validation,omitempty"`
	Compliance   *ComplianceConfig   `yaml:"compliance" json:"compliance,omitempty"`
	Associations *AssociationsConfig `yaml:"associations" json:"associations,omitempty"`
	Batch        *BatchConfig        `yaml:"batch" json:"batch,omitempty"`
	Logging      *LoggingConfig      `yaml:"logging" json:"logging,omitempty"`
}

// DefaultAppConfig returns a configuration with every section defaulted.
func DefaultAppConfig() *AppConfig {
	config := &AppConfig{}
	config.SetDefaults()
	return config
}

// SetDefaults fills missing sections and values.
func (c *AppConfig) SetDefaults() {
	if c.TrustStore == nil {
		c.TrustStore = &TrustStoreConfig{}
	}
	if c.Revocation == nil {
		c.Revocation = &RevocationConfig{}
	}
	c.Revocation.SetDefaults()
	if c.Chain == nil {
		c.Chain = &ChainConfig{}
	}
	if c.Chain.MaxDepth == 0 {
		c.Chain.MaxDepth = 10
	}
	if c.Validation == nil {
		c.Validation = &ValidationConfig{}
	}
	if c.Compliance == nil {
		c.Compliance = &ComplianceConfig{}
	}
	c.Compliance.SetDefaults()
	if c.Associations == nil {
		c.Associations = &AssociationsConfig{}
	}
	if c.Batch == nil {
		c.Batch = &BatchConfig{}
	}
	c.Batch.SetDefaults()
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.SetDefaults()
}

// Validate validates every section. SetDefaults must run first.
func (c *AppConfig) Validate() error {
	if c.Chain.MaxDepth < 1 {
		return &ConfigError{Field: "chain.max-depth", Message: "must be at least 1", Err: ErrInvalidValue}
	}
	if c.Batch.Workers < 1 {
		return &ConfigError{Field: "batch.workers", Message: "must be at least 1", Err: ErrInvalidValue}
	}
	validators := []interface{ Validate() error }{
		c.TrustStore, c.Revocation, c.Compliance, c.Associations, c.Logging,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadAppConfig loads the complete application configuration from a file
// and fills defaults.
func LoadAppConfig(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseAppConfig(data)
}

// ParseAppConfig parses configuration from YAML data and fills defaults.
// Unknown keys are rejected.
func ParseAppConfig(data []byte) (*AppConfig, error) {
	var config AppConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.SetDefaults()
	return &config, nil
}

// ProcessOID validates an OID string.
func ProcessOID(oidString string) (string, error) {
	if oidString == "" {
		return "", NewConfigError("oid", "OID string is empty")
	}
	if !OIDRegex.MatchString(oidString) {
		return "", &ConfigError{Field: "oid", Message: fmt.Sprintf("'%s' is not a dotted OID", oidString), Err: ErrInvalidOID}
	}
	return oidString, nil
}

// ProcessOIDs validates a list of OID strings.
func ProcessOIDs(oidStrings []string) ([]string, error) {
	result := make([]string, 0, len(oidStrings))
	for _, oid := range oidStrings {
		processed, err := ProcessOID(oid)
		if err != nil {
			return nil, err
		}
		result = append(result, processed)
	}
	return result, nil
}
