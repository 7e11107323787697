package inspection

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stackinspect/inspectd/internal/document"
)

func TestEscapeQuotes_DoublesSingleQuote(t *testing.T) {
	t.Parallel()

	require.Equal(t, "O''Reilly", EscapeQuotes("O'Reilly"))
}

func TestEscapeQuotes_SkipsFirstQuoteOfPair(t *testing.T) {
	t.Parallel()

	// Only the last quote of a run matches; a run of n quotes grows by one.
	require.Equal(t, "a'''b", EscapeQuotes("a''b"))
}

func TestEscapeQuotes_NotIdempotent(t *testing.T) {
	t.Parallel()

	once := EscapeQuotes("don't")
	require.Equal(t, "don''t", once)
	require.Equal(t, "don'''t", EscapeQuotes(once))
}

func TestUnescapeQuotes_CollapsesPairs(t *testing.T) {
	t.Parallel()

	require.Equal(t, "O'Reilly", UnescapeQuotes("O''Reilly"))
	require.Equal(t, "a''b", UnescapeQuotes("a'''b"))
	require.Equal(t, "plain", UnescapeQuotes("plain"))
}

func TestEscapeUnescape_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "no quotes", "O'Reilly", "a''b", "x' y' z'", "trailing'"} {
		require.Equal(t, s, UnescapeQuotes(EscapeQuotes(s)), "round trip of %q", s)
	}
}

func TestParseSpecification_EscapesNestedStrings(t *testing.T) {
	t.Parallel()

	spec := document.Mapping{
		"note": document.String("O'Reilly"),
		"run": document.Mapping{
			"args": document.Sequence{document.String("it's"), document.Int(3)},
		},
	}

	parsed := ParseSpecification(spec)

	require.Equal(t, document.String("O''Reilly"), parsed["note"])
	run := parsed["run"].(document.Mapping)
	require.Equal(t, document.Sequence{document.String("it''s"), document.Int(3)}, run["args"])
}

func TestParseSpecification_CastsIntFieldsAndDefaults(t *testing.T) {
	t.Parallel()

	parsed := ParseSpecification(document.Mapping{"allowed_failures": document.Int(2)})

	require.Equal(t, document.String("2"), parsed["allowed_failures"])
	require.Equal(t, document.Mapping{}, parsed["build"])
	require.Equal(t, document.Mapping{}, parsed["run"])
	require.NotContains(t, parsed, "batch_size")
}

func TestParseSpecification_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	spec := document.Mapping{
		"batch_size": document.Int(5),
		"note":       document.String("don't"),
		"build":      document.Mapping{"base": document.String("fedora:40")},
	}

	_ = ParseSpecification(spec)

	require.Equal(t, document.Int(5), spec["batch_size"])
	require.Equal(t, document.String("don't"), spec["note"])
	require.Equal(t, document.Mapping{"base": document.String("fedora:40")}, spec["build"])
	require.NotContains(t, spec, "run")
}

func TestUnparseSpecification_InvertsParse(t *testing.T) {
	t.Parallel()

	spec := document.Mapping{
		"batch_size":  document.Int(10),
		"parallelism": document.Int(2),
		"note":        document.String("O'Reilly"),
		"build":       document.Mapping{"base": document.String("fedora:40")},
		"run":         document.Mapping{},
	}

	parsed := ParseSpecification(spec)
	back, err := UnparseSpecification(parsed)
	require.NoError(t, err)

	require.Equal(t, spec, back)
}

func TestUnparseSpecification_MalformedIntPropagates(t *testing.T) {
	t.Parallel()

	_, err := UnparseSpecification(document.Mapping{"allowed_failures": document.String("abc")})

	require.Error(t, err)
	require.ErrorContains(t, err, "allowed_failures")
}

func TestUnparseSpecification_KeepsBuildRunDefaults(t *testing.T) {
	t.Parallel()

	back, err := UnparseSpecification(document.Mapping{
		"build": document.Mapping{},
		"run":   document.Mapping{},
	})
	require.NoError(t, err)

	require.Contains(t, back, "build")
	require.Contains(t, back, "run")
}

func TestAdjustDefaultRequests_FillsMissingValues(t *testing.T) {
	t.Parallel()

	doc := document.Mapping{}
	AdjustDefaultRequests(doc, DefaultRequests)

	requests := doc["requests"].(document.Mapping)
	require.Equal(t, document.String("500m"), requests["cpu"])
	require.Equal(t, document.String("256Mi"), requests["memory"])
}

func TestAdjustDefaultRequests_KeepsExplicitValues(t *testing.T) {
	t.Parallel()

	doc := document.Mapping{
		"requests": document.Mapping{
			"cpu":    document.String("2"),
			"memory": document.String(""),
		},
	}
	AdjustDefaultRequests(doc, DefaultRequests)

	requests := doc["requests"].(document.Mapping)
	require.Equal(t, document.String("2"), requests["cpu"])
	require.Equal(t, document.String("256Mi"), requests["memory"])
}

func TestConstructHardwareParameters_NoHardware(t *testing.T) {
	t.Parallel()

	params, useHW := ConstructHardwareParameters(document.Mapping{
		"requests": document.Mapping{"cpu": document.String("1")},
	})

	require.False(t, useHW)
	require.Empty(t, params)
}

func TestConstructHardwareParameters_LiftsFields(t *testing.T) {
	t.Parallel()

	params, useHW := ConstructHardwareParameters(document.Mapping{
		"requests": document.Mapping{
			"hardware": document.Mapping{
				"cpu_family":    document.Int(6),
				"cpu_model":     document.Int(94),
				"physical_cpus": document.Int(32),
				"processor":     document.String("Intel Core"),
			},
		},
	})

	require.True(t, useHW)
	require.Equal(t, map[string]string{
		"CPU_FAMILY":    "6",
		"CPU_MODEL":     "94",
		"PHYSICAL_CPUS": "32",
		"PROCESSOR":     "Intel Core",
	}, params)
}

func TestConstructHardwareParameters_PartialHardware(t *testing.T) {
	t.Parallel()

	params, useHW := ConstructHardwareParameters(document.Mapping{
		"requests": document.Mapping{
			"hardware": document.Mapping{
				"cpu_family": document.Int(6),
			},
		},
	})

	require.True(t, useHW)
	require.Equal(t, map[string]string{"CPU_FAMILY": "6"}, params)
}
