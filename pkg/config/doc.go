// Package config loads the host configuration of texttransform from a CUE
// file.
//
// # Overview
//
// The file is unified with a built-in CUE schema, which supplies defaults
// and rejects unknown or ill-typed fields, then decoded into Config and
// checked with struct tags. A missing file yields Default().
//
// # Configuration Structure
//
//	worker: {
//	    command: "/usr/local/bin/template-runner"
//	    timeout: "60s"
//	    wasm_call_timeout: "5s"
//	}
//
//	output: extension: ".cs"
//	parallelism: 4
//
//	references: ["$(SolutionDir)lib/strutil.star"]
//	reference_paths: ["/usr/share/texttransform/lib"]
//	package_cache: "$(HOME)/.cache/texttransform/packages"
//
//	variables: {
//	    SolutionDir: "/src/app/"
//	}
//
//	policy: {
//	    strict: true
//	    paths: ["policies"]
//	}
//
//	history: {
//	    enabled: true
//	    retention: "720h"
//	}
//
//	telemetry: {
//	    log_level: "debug"
//	    metrics: enabled: true
//	}
//
// Relative paths are resolved against the directory holding the file.
//
// # Error Handling
//
// Parse, schema and validation failures are returned as ValidationErrors,
// each carrying the file position when CUE reports one:
//
//	ValidationError{
//	    File: "texttransform.cue",
//	    Line: 3,
//	    Column: 14,
//	    Path: "parallelism",
//	    Message: "invalid value 0 (out of bound >=1)",
//	    Severity: "error",
//	}
package config
