package config

import (
	"reflect"
	"strings"
	"sync"
)

// secretKeys collects the dot-separated keys of Config fields tagged
// secret:"true".
var secretKeys = sync.OnceValue(func() map[string]bool {
	keys := make(map[string]bool)
	collectSecrets("", reflect.TypeFor[Config](), keys)
	return keys
})

func collectSecrets(prefix string, t reflect.Type, keys map[string]bool) {
	for i := range t.NumField() {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct {
			collectSecrets(name, f.Type, keys)
			continue
		}
		if f.Tag.Get("secret") == "true" {
			keys[name] = true
		}
	}
}

// IsSecretKey reports whether key names a secret config value.
func IsSecretKey(key string) bool {
	return secretKeys()[key]
}

// Flatten converts a nested map into a flat map with dot-separated keys.
// For example, {"devin": {"base_url": "x"}} becomes {"devin.base_url": "x"}.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	flatten("", m, out)
	return out
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch child := v.(type) {
		case map[string]any:
			flatten(key, child, out)
		default:
			out[key] = v
		}
	}
}

// Unflatten converts a flat map with dot-separated keys back into a nested map.
// For example, {"http.listen": ":8484"} becomes {"http": {"listen": ":8484"}}.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		parts := strings.Split(k, ".")
		current := out
		for i, part := range parts {
			if i == len(parts)-1 {
				current[part] = v
			} else {
				next, ok := current[part]
				if !ok {
					next = make(map[string]any)
					current[part] = next
				}
				m, ok := next.(map[string]any)
				if !ok {
					m = make(map[string]any)
					current[part] = m
				}
				current = m
			}
		}
	}
	return out
}

// MaskSecrets returns a copy of flat with secret values shown as "***"
// plus their last 4 characters. Empty secrets stay empty.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if s, ok := v.(string); ok && s != "" && IsSecretKey(k) {
			v = mask(s)
		}
		out[k] = v
	}
	return out
}

func mask(s string) string {
	if r := []rune(s); len(r) > 4 {
		s = string(r[len(r)-4:])
	}
	return "***" + s
}
