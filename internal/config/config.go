// Package config loads feednode options and the format schedule file.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to every env tag.
const EnvPrefix = "FEEDNODE_"

// field is one settable option: its struct value, CLI flag name and the
// toml path and env key it is read from.
type field struct {
	name  string
	flag  string
	toml  string
	env   string
	value reflect.Value
}

// LoadConfig fills opts, a pointer to a flat struct with toml and env tags,
// with precedence CLI > env > dotenv file > TOML file. The TOML path is
// taken from a string field named Config and the dotenv path from one named
// EnvFile; a missing file of either kind is skipped. Flags explicitly set
// on cmd (which may be nil) are never overwritten. Values of the wrong type
// are reported together after every valid value has been applied.
func LoadConfig(opts any, cmd *cobra.Command) error {
	fields, configPath, envPath := collectFields(reflect.ValueOf(opts).Elem())

	fromCLI := changedFlags(cmd)
	var errs []error

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err == nil {
			var doc map[string]any
			if err := toml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("failed to parse TOML config: %w", err)
			}
			for _, f := range fields {
				if f.toml == "" || fromCLI[f.flag] {
					continue
				}
				if v := lookupPath(doc, f.toml); v != nil {
					if err := assign(f.value, v); err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", f.toml, err))
					}
				}
			}
		}
	}

	dotenv, err := readDotenv(envPath)
	if err != nil {
		return err
	}

	for _, f := range fields {
		if f.env == "" || fromCLI[f.flag] {
			continue
		}
		key := EnvPrefix + f.env
		raw := os.Getenv(key)
		if raw == "" {
			raw = dotenv[key]
		}
		if raw != "" {
			if err := assignString(f.value, raw); err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, f.env, err))
			}
		}
	}

	return errors.Join(errs...)
}

func readDotenv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	return values, nil
}

func collectFields(v reflect.Value) ([]field, string, string) {
	t := v.Type()
	fields := make([]field, 0, t.NumField())
	var configPath, envPath string

	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if sf.Type.Kind() == reflect.String {
			switch sf.Name {
			case "Config":
				configPath = v.Field(i).String()
			case "EnvFile":
				envPath = v.Field(i).String()
			}
		}
		fields = append(fields, field{
			name:  sf.Name,
			flag:  fieldNameToFlag(sf.Name),
			toml:  sf.Tag.Get("toml"),
			env:   sf.Tag.Get("env"),
			value: v.Field(i),
		})
	}
	return fields, configPath, envPath
}

func changedFlags(cmd *cobra.Command) map[string]bool {
	changed := make(map[string]bool)
	if cmd == nil {
		return changed
	}
	mark := func(f *pflag.Flag) {
		if f.Changed {
			changed[f.Name] = true
		}
	}
	cmd.Flags().VisitAll(mark)
	cmd.PersistentFlags().VisitAll(mark)
	return changed
}

// fieldNameToFlag converts a struct field name to its CLI flag name.
// Example: "LoggingLevel" -> "logging-level".
func fieldNameToFlag(fieldName string) string {
	var b strings.Builder
	for i, r := range fieldName {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte('-')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// lookupPath resolves a dotted path such as "feed.mode" in a decoded TOML
// document. It returns nil when any segment is missing.
func lookupPath(doc map[string]any, path string) any {
	keys := strings.Split(path, ".")
	table := doc
	for _, key := range keys[:len(keys)-1] {
		next, ok := table[key].(map[string]any)
		if !ok {
			return nil
		}
		table = next
	}
	return table[keys[len(keys)-1]]
}

// assign sets a decoded TOML value.
func assign(dst reflect.Value, v any) error {
	switch dst.Kind() {
	case reflect.String:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", v)
		}
		dst.SetString(s)
	case reflect.Bool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("want bool, got %T", v)
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int64:
		i, ok := v.(int64)
		if !ok {
			return fmt.Errorf("want integer, got %T", v)
		}
		dst.SetInt(i)
	case reflect.Float64:
		switch n := v.(type) {
		case float64:
			dst.SetFloat(n)
		case int64:
			dst.SetFloat(float64(n))
		default:
			return fmt.Errorf("want number, got %T", v)
		}
	case reflect.Slice:
		items, ok := v.([]any)
		if !ok || dst.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("want string array, got %T", v)
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("want string array element, got %T", item)
			}
			out = append(out, s)
		}
		dst.Set(reflect.ValueOf(out))
	default:
		return fmt.Errorf("unsupported option type %s", dst.Type())
	}
	return nil
}

// assignString parses an environment value into dst.
func assignString(dst reflect.Value, raw string) error {
	switch dst.Kind() {
	case reflect.String:
		dst.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int64:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		dst.SetInt(i)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		dst.SetFloat(f)
	case reflect.Slice:
		if dst.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported option type %s", dst.Type())
		}
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		dst.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported option type %s", dst.Type())
	}
	return nil
}
