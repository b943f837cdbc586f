package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SEALTRUST_"

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads variables from path into the process environment when
// the file exists. Variables already set are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides configuration values from SEALTRUST_* variables. List
// values are separated by the platform path list separator.
func (c *AppConfig) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	c.SetDefaults()

	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = filepath.SplitList(v)
		}
	}
	var errs []error
	boolean := func(name string, dst *bool) bool {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return false
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, envError(name, v, err))
			return false
		}
		*dst = b
		return true
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, envError(name, v, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, envError(name, v, err))
				return
			}
			*dst = d
		}
	}

	boolean("USE_SYSTEM_ROOTS", &c.TrustStore.UseSystem)
	list("CUSTOM_ROOTS_DIRS", &c.TrustStore.CustomRootsDirs)
	str("ASSOCIATION_DIR", &c.TrustStore.AssociationDir)
	str("PKCS12_PASSWORD", &c.TrustStore.PKCS12Password)
	str("RELOAD_SCHEDULE", &c.TrustStore.ReloadSchedule)

	if v, ok := lookup(EnvPrefix + "REVOCATION_MODE"); ok && v != "" {
		c.Revocation.Mode = strings.ToLower(v)
	}
	list("CRL_DIRS", &c.Revocation.CRLDirs)
	duration("REVOCATION_TIMEOUT", &c.Revocation.Timeout)

	integer("CHAIN_MAX_DEPTH", &c.Chain.MaxDepth)
	boolean("REQUIRE_TIME_VALIDITY", &c.Validation.RequireTimeValidity)

	if boolean("REQUIRE_BOTH", &c.Compliance.RequireBoth) {
		c.Compliance.AcceptEither = !c.Compliance.RequireBoth
	}
	if v, ok := lookup(EnvPrefix + "MIN_SEAL_CONFIDENCE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, envError("MIN_SEAL_CONFIDENCE", v, err))
		} else {
			c.Compliance.MinimumSealConfidence = &f
		}
	}

	str("ASSOCIATIONS_FILE", &c.Associations.File)
	integer("BATCH_WORKERS", &c.Batch.Workers)

	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("LOG_OUTPUT", &c.Logging.Output)

	return errors.Join(errs...)
}

func envError(name, value string, err error) error {
	return &ConfigError{
		Field:   EnvPrefix + name,
		Message: fmt.Sprintf("cannot parse %q: %v", value, err),
		Err:     ErrInvalidValue,
	}
}

// Load builds the effective configuration: the file (or defaults when
// filename is empty), then a .env file next to the working directory, then
// SEALTRUST_* variables. The result is validated.
func Load(filename string) (*AppConfig, error) {
	config := DefaultAppConfig()
	if filename != "" {
		var err error
		if config, err = LoadAppConfig(filename); err != nil {
			return nil, err
		}
	}
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
