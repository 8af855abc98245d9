// Package config loads process configuration into tagged structs.
//
// Values resolve in three layers, later layers winning:
//
//	envDefault:"..." struct tags
//	a YAML (.yaml/.yml) or JSON (.json) file, when one is configured and exists
//	environment variables named by env:"..." tags, optionally prefixed
//
// Nested structs extend the prefix with their own env tag, so a
// `Redis redis.Config` field tagged env:"CACHE" under prefix CLAIMSAPI
// reads CLAIMSAPI_CACHE_REDIS_URI for an inner env:"REDIS_URI". Untagged
// nested structs keep the parent prefix.
//
// After loading, fields tagged required:"true" must be non-zero and a
// struct implementing [Validator] is asked to validate itself.
//
//	cfg := config.MustLoad[server.Config](
//	    config.New().WithEnvPrefix("CLAIMSAPI").WithFile("claimsapi.yaml"),
//	)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Loader resolves configuration. It is not safe for concurrent use.
type Loader struct {
	envPrefix string
	filePath  string
	lookupEnv func(string) (string, bool)
}

// New returns a Loader reading only defaults and unprefixed env vars.
func New() *Loader {
	return &Loader{lookupEnv: os.LookupEnv}
}

// WithEnvPrefix prepends PREFIX_ to every env var name. The prefix is
// uppercased.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets an optional configuration file. A missing file is not an
// error; an unknown extension or a path containing ".." is.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// WithLookup replaces os.LookupEnv, mainly for tests.
func (l *Loader) WithLookup(lookup func(string) (string, bool)) *Loader {
	l.lookupEnv = lookup
	return l
}

// Load fills cfg, which must be a non-nil pointer to a struct.
// Loading failures carry CodeConfiguration; missing required fields carry
// CodeValidationRequired.
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return sserr.New(sserr.CodeConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}
	rv = rv.Elem()

	if err := walk(rv, "", applyDefault); err != nil {
		return err
	}
	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}
	if err := walk(rv, l.envPrefix, l.applyEnv); err != nil {
		return err
	}
	return validate(cfg, rv)
}

// MustLoad loads a T or panics. Intended for main.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return sserr.New(sserr.CodeConfiguration,
			"config: file path must not contain '..'")
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return sserr.Wrapf(err, sserr.CodeConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return sserr.Newf(sserr.CodeConfiguration,
			"config: unsupported file extension %q", ext)
	}
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeConfiguration,
			"config: failed to parse file %q", l.filePath)
	}
	return nil
}

// visitFunc is called for every settable leaf field; envName is the fully
// prefixed env var name, or "" when the field has no env tag.
type visitFunc func(field reflect.Value, sf reflect.StructField, envName string) error

func walk(rv reflect.Value, prefix string, visit visitFunc) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}
		tag := sf.Tag.Get("env")

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := walk(field, joinEnv(prefix, tag), visit); err != nil {
				return err
			}
			continue
		}

		envName := ""
		if tag != "" {
			envName = joinEnv(prefix, tag)
		}
		if err := visit(field, sf, envName); err != nil {
			return err
		}
	}
	return nil
}

func joinEnv(prefix, name string) string {
	switch {
	case prefix == "":
		return name
	case name == "":
		return prefix
	default:
		return prefix + "_" + name
	}
}

func applyDefault(field reflect.Value, sf reflect.StructField, _ string) error {
	def, ok := sf.Tag.Lookup("envDefault")
	if !ok || !field.IsZero() {
		return nil
	}
	if err := setField(field, def); err != nil {
		return sserr.Wrapf(err, sserr.CodeConfiguration,
			"config: bad default for field %q", sf.Name)
	}
	return nil
}

func (l *Loader) applyEnv(field reflect.Value, sf reflect.StructField, envName string) error {
	if envName == "" {
		return nil
	}
	val, ok := l.lookupEnv(envName)
	if !ok {
		return nil
	}
	if err := setField(field, val); err != nil {
		return sserr.Wrapf(err, sserr.CodeConfiguration,
			"config: cannot set field %q from %s", sf.Name, envName)
	}
	return nil
}

// setField parses value into field. Supported: string kinds, bool, signed
// and unsigned integers, time.Duration, and []string (comma-separated;
// an empty value yields an empty slice).
func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse unsigned integer %q: %w", value, err)
		}
		field.SetUint(n)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem().Kind())
		}
		var parts []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(p)
		}
		field.Set(slice)
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}
