package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		emptyDocumentPolicy(),
		nullValuesPolicy(),
		emptySectionPolicy(),
	}
}

// emptyDocumentPolicy flags scripts that produced no values at all.
func emptyDocumentPolicy() Policy {
	return Policy{
		Name:        "empty-document",
		Description: "Reports documents without any top-level value",
		Severity:    SeverityInfo,
		Enabled:     true,
		Tags:        []string{"document"},
		Rego: `package scopecfg.policies.empty

import rego.v1

deny contains violation if {
	count(input.document) == 0
	violation := {"message": "Document has no values"}
}
`,
	}
}

// nullValuesPolicy reports null leaves, which only appear for defaults of
// null and explicitly assigned nulls.
func nullValuesPolicy() Policy {
	return Policy{
		Name:        "null-values",
		Description: "Reports null values anywhere in the document",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"document", "values"},
		Rego: `package scopecfg.policies.nulls

import rego.v1

deny contains violation if {
	walk(input.document, [path, value])
	count(path) > 0
	value == null
	violation := {
		"message": "Value is null",
		"path": concat(".", [sprintf("%v", [x]) | some x in path]),
	}
}
`,
	}
}

// emptySectionPolicy reports list sections that were declared but never
// entered.
func emptySectionPolicy() Policy {
	return Policy{
		Name:        "empty-section",
		Description: "Reports empty lists in the document",
		Severity:    SeverityInfo,
		Enabled:     false,
		Tags:        []string{"document", "sections"},
		Rego: `package scopecfg.policies.sections

import rego.v1

deny contains violation if {
	walk(input.document, [path, value])
	count(path) > 0
	is_array(value)
	count(value) == 0
	violation := {
		"message": "List is empty",
		"path": concat(".", [sprintf("%v", [x]) | some x in path]),
	}
}
`,
	}
}
