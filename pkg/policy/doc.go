// Package policy admits or denies the library references of a template
// before a worker is spawned.
//
// Policies are Rego modules whose package defines a deny set. Each element
// is a message string or an object with message, severity and reference
// fields. The input document is:
//
//	{
//	    "template": "/abs/path/report.tt",
//	    "strict": true,
//	    "roots": ["/abs/path", "/usr/share/texttransform/lib"],
//	    "references": [
//	        {"raw": "/abs/path/lib/strutil.star", "resolved": "/abs/path/lib/strutil.star", "by_path": true},
//	        {"raw": "codec", "resolved": "codec", "by_path": false}
//	    ]
//	}
//
// Two policies are built in: reference-roots confines by-path references to
// the roots when strict is set, and reference-kind rejects files that are
// neither Starlark nor WebAssembly modules. Additional policies are loaded
// from .rego files, or .json files carrying the Rego source inline.
//
// Violations with severity "warning" are reported without blocking.
package policy
