package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variable references in configuration data
// using Go template syntax: {{.VAR_NAME}}.
//
// This deliberately avoids ${VAR} / $VAR syntax so that regex patterns and
// shell fragments embedded in YAML values pass through untouched.
//
// Missing variables expand to an empty string (missingkey=zero). On any
// parse or execution error the original data is returned unchanged, leaving
// the YAML parser to produce the clearer error message.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			env[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}

	return buf.Bytes()
}
