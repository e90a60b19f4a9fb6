package config

import (
	"fmt"

	"cuelang.org/go/cue"
)

// configSchemaName is the definition every configuration file is unified
// with.
const configSchemaName = "#Config"

// builtinConfigSchema supplies the defaults and closes the configuration so
// that misspelled fields are rejected.
const builtinConfigSchema = `
#Config: {
	worker: {
		command?:           string
		timeout:            *"60s" | string
		wasm_call_timeout?: string
		log_file?:          string
		log_level?:         "trace" | "debug" | "info" | "warn" | "error"
	}

	output: {
		extension: *".txt" | (string & =~"^\\.[^/\\\\]+$")
	}

	parallelism: *4 | (int & >=1 & <=64)

	references:      *[] | [...string]
	reference_paths: *[] | [...string]
	package_cache?:  string

	variables: *{} | {[string]: string}

	policy: {
		strict: *false | bool
		paths:  *[] | [...string]
	}

	history: {
		enabled:    *false | bool
		path:       *".texttransform/history.db" | string
		retention?: string
	}

	telemetry: {
		log_level?:  "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		log_format?: "console" | "json"
		metrics: {
			enabled:         *false | bool
			listen_address?: string
		}
		tracing: {
			enabled:       *false | bool
			exporter?:     "otlp" | "stdout" | "none"
			endpoint?:     string
			sampling_rate: *1.0 | (number & >=0 & <=1)
		}
	}
}
`

// compileSchema compiles the built-in schema and returns its definition.
func compileSchema(ctx *cue.Context) (cue.Value, error) {
	val := ctx.CompileString(builtinConfigSchema, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile schema: %w", err)
	}
	return val.LookupPath(cue.ParsePath(configSchemaName)), nil
}
