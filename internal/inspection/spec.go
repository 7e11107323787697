// Package inspection holds the domain model for software stack
// inspections: the specification transcoding codec and the interfaces
// the HTTP layer depends on.
package inspection

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stackinspect/inspectd/internal/document"
)

// Integer-valued specification fields that the workflow template engine
// expects as strings.
var intFields = []string{"allowed_failures", "batch_size", "parallelism"}

// DefaultRequests are assigned explicitly to incoming specifications so
// that inspection documents always carry resource requests.
var DefaultRequests = ResourceRequests{CPU: "500m", Memory: "256Mi"}

// ResourceRequests are the cpu/memory requests applied to build and run
// sub-documents when the caller left them out.
type ResourceRequests struct {
	CPU    string
	Memory string
}

// EscapeQuotes doubles every single quote that is not already followed
// by another quote, so the string survives embedding in a single-quote
// delimited template literal. Applying it twice double-escapes; the
// paired UnescapeQuotes undoes exactly one application.
func EscapeQuotes(s string) string {
	if !strings.ContainsRune(s, '\'') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\'' && (i+1 >= len(s) || s[i+1] != '\'') {
			b.WriteString("''")
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// UnescapeQuotes collapses doubled single quotes left to right,
// non-overlapping.
func UnescapeQuotes(s string) string {
	if !strings.Contains(s, "''") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\'' && i+1 < len(s) && s[i+1] == '\'' {
			b.WriteByte('\'')
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// ParseSpecification prepares a specification for submission to the
// workflow template engine: quotes in string leaves are escaped, the
// known integer fields are cast to strings and the build/run
// sub-documents are defaulted to empty mappings. The caller's document
// is never mutated.
func ParseSpecification(spec document.Mapping) document.Mapping {
	parsed := spec.Copy()
	if parsed == nil {
		parsed = document.Mapping{}
	}

	document.MapStrings(parsed, EscapeQuotes)

	for _, key := range intFields {
		v, ok := parsed[key]
		if !ok {
			continue
		}
		if i, ok := v.(document.Int); ok {
			parsed[key] = document.String(strconv.FormatInt(int64(i), 10))
		}
	}

	if _, ok := parsed["build"]; !ok {
		parsed["build"] = document.Mapping{}
	}
	if _, ok := parsed["run"]; !ok {
		parsed["run"] = document.Mapping{}
	}

	return parsed
}

// UnparseSpecification inverts ParseSpecification on a document read
// back from stored workflow metadata: quotes are unescaped and the
// integer fields cast back. The build/run defaults are a parse-time
// convenience and are deliberately not removed here. A non-numeric
// value in an integer field is a malformed-input error and propagates.
func UnparseSpecification(parsed document.Mapping) (document.Mapping, error) {
	spec := parsed.Copy()
	if spec == nil {
		return document.Mapping{}, nil
	}

	document.MapStrings(spec, UnescapeQuotes)

	for _, key := range intFields {
		v, ok := spec[key]
		if !ok {
			continue
		}
		s, ok := v.(document.String)
		if !ok {
			continue
		}
		i, err := strconv.ParseInt(string(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cast field %q: %w", key, err)
		}
		spec[key] = document.Int(i)
	}

	return spec, nil
}

// AdjustDefaultRequests assigns default cpu/memory requests on the
// given build or run sub-document so the requested values are always
// carried within the inspection document.
func AdjustDefaultRequests(doc document.Mapping, defaults ResourceRequests) {
	requests, ok := doc["requests"].(document.Mapping)
	if !ok {
		requests = document.Mapping{}
		doc["requests"] = requests
	}
	if !hasText(requests, "cpu") {
		requests["cpu"] = document.String(defaults.CPU)
	}
	if !hasText(requests, "memory") {
		requests["memory"] = document.String(defaults.Memory)
	}
}

func hasText(m document.Mapping, key string) bool {
	s, ok := m[key].(document.String)
	return ok && s != ""
}

// Template parameter names shared by the build and run job templates.
const (
	paramCPUFamily    = "CPU_FAMILY"
	paramCPUModel     = "CPU_MODEL"
	paramPhysicalCPUs = "PHYSICAL_CPUS"
	paramProcessor    = "PROCESSOR"
)

// ConstructHardwareParameters lifts the optional hardware requirements
// out of a build or run sub-document into template parameters. The
// second return reports whether the hardware-aware template is needed
// at all.
func ConstructHardwareParameters(doc document.Mapping) (map[string]string, bool) {
	parameters := map[string]string{}

	requests, ok := doc["requests"].(document.Mapping)
	if !ok {
		return parameters, false
	}
	hardware, ok := requests["hardware"].(document.Mapping)
	if !ok {
		return parameters, false
	}

	lift := func(field, param string) {
		if v, ok := hardware[field]; ok {
			if s, ok := document.ScalarString(v); ok {
				parameters[param] = s
			}
		}
	}
	lift("cpu_family", paramCPUFamily)
	lift("cpu_model", paramCPUModel)
	lift("physical_cpus", paramPhysicalCPUs)
	lift("processor", paramProcessor)

	return parameters, true
}
