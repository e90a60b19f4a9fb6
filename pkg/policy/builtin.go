package policy

// Names of the built-in policies.
const (
	PolicyReferenceRoots = "reference-roots"
	PolicyReferenceKind  = "reference-kind"
)

// BuiltinPolicies returns the built-in policies.
func BuiltinPolicies() []Policy {
	return []Policy{
		referenceRootsPolicy(),
		referenceKindPolicy(),
	}
}

// referenceRootsPolicy confines by-path references to the template
// directory, the reference paths and the package cache in strict mode.
func referenceRootsPolicy() Policy {
	return Policy{
		Name:        PolicyReferenceRoots,
		Description: "In strict mode, library files must live under the template directory, a reference path or the package cache",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package texttransform.references.roots

import rego.v1

deny contains violation if {
	input.strict
	some ref in input.references
	ref.by_path
	not under_root(ref.resolved)
	violation := {
		"message": sprintf("Library reference %q resolves outside the allowed directories: %s", [ref.raw, ref.resolved]),
		"reference": ref.raw,
	}
}

under_root(path) if {
	some root in input.roots
	startswith(path, concat("", [trim_right(root, "/"), "/"]))
}
`,
	}
}

// referenceKindPolicy reports by-path references that no module loader
// accepts.
func referenceKindPolicy() Policy {
	return Policy{
		Name:        PolicyReferenceKind,
		Description: "Library files must be Starlark (.star) or WebAssembly (.wasm) modules",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package texttransform.references.kind

import rego.v1

deny contains violation if {
	some ref in input.references
	ref.by_path
	not loadable(ref.resolved)
	violation := {
		"message": sprintf("Library reference %q is not a .star or .wasm module", [ref.raw]),
		"reference": ref.raw,
	}
}

loadable(path) if endswith(lower(path), ".star")

loadable(path) if endswith(lower(path), ".wasm")
`,
	}
}
