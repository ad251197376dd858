package config

import (
	"reflect"
	"sync"
)

// EnvMapping links an environment variable to a dotted config path.
type EnvMapping struct {
	EnvVar     string
	ConfigPath string
	Sensitive  bool
}

var sensitiveType = reflect.TypeOf(SensitiveString(""))

var envMappings = sync.OnceValue(func() []EnvMapping {
	var out []EnvMapping
	walkLeaves(reflect.TypeOf(Config{}), "", func(path string, f *reflect.StructField) {
		out = append(out, EnvMapping{
			EnvVar:     f.Tag.Get("env"),
			ConfigPath: path,
			Sensitive:  f.Type == sensitiveType || f.Tag.Get("sensitive") == "true",
		})
	})
	return out
})

// walkLeaves visits every koanf-tagged leaf field below t with its dotted path.
func walkLeaves(t reflect.Type, prefix string, visit func(path string, f *reflect.StructField)) {
	for i := range t.NumField() {
		f := t.Field(i)
		key := f.Tag.Get("koanf")
		if !f.IsExported() || key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct && f.Type.PkgPath() != "time" {
			walkLeaves(f.Type, key, visit)
			continue
		}
		visit(key, &f)
	}
}

// GenerateEnvMappings lists the config leaves with their `env` variable; leaves without one are skipped.
func GenerateEnvMappings() []EnvMapping {
	all := envMappings()
	out := make([]EnvMapping, 0, len(all))
	for _, m := range all {
		if m.EnvVar != "" && m.EnvVar != "-" {
			out = append(out, m)
		}
	}
	return out
}

func lookupLeaf(configPath string) (EnvMapping, bool) {
	for _, m := range envMappings() {
		if m.ConfigPath == configPath {
			return m, true
		}
	}
	return EnvMapping{}, false
}

// EnvVarFor returns the environment variable bound to a config path, or "".
func EnvVarFor(configPath string) string {
	m, _ := lookupLeaf(configPath)
	if m.EnvVar == "-" {
		return ""
	}
	return m.EnvVar
}

// IsSensitivePath reports whether the config path holds a secret.
func IsSensitivePath(configPath string) bool {
	m, ok := lookupLeaf(configPath)
	return ok && m.Sensitive
}
