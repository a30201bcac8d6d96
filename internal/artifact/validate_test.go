package artifact

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func generated(t *testing.T) string {
	t.Helper()
	doc, err := GenerateMetadata(testTenant("acmeHomes0123456789", "Acme Homes"), "https://feeds.example.org/e.csv", "2026-10-19")
	require.NoError(t, err)
	return string(doc)
}

func TestValidateAcceptsGeneratedOutput(t *testing.T) {
	doc := generated(t)
	require.Empty(t, Validate([]byte(doc)))
	require.NoError(t, Check([]byte(doc)))
}

func TestValidateReportsEachCorruption(t *testing.T) {
	doc := generated(t)
	id := DailyIdentifier("acmeHomes0123456789", "2026-10-19")

	tests := []struct {
		name    string
		mutate  func(string) string
		code    ProblemCode
		element string
	}{
		{
			name:   "namespace stripped",
			mutate: func(s string) string { return strings.Replace(s, ` xmlns="`+Namespace+`"`, "", 1) },
			code:   ProblemMissingNamespace,
		},
		{
			name:   "namespace replaced",
			mutate: func(s string) string { return strings.Replace(s, Namespace, "urn:other", 1) },
			code:   ProblemMissingNamespace,
		},
		{
			name:    "schema type stripped",
			mutate:  func(s string) string { return strings.Replace(s, "<schemaType>"+SchemaType+"</schemaType>", "", 1) },
			code:    ProblemMissingElement,
			element: "schemaType",
		},
		{
			name:    "schema type wrong",
			mutate:  func(s string) string { return strings.Replace(s, "<schemaType>"+SchemaType, "<schemaType>price-list", 1) },
			code:    ProblemSchemaType,
			element: "schemaType",
		},
		{
			name:    "schema version stripped",
			mutate:  func(s string) string { return strings.Replace(s, "<schemaVersion>"+SchemaVersion+"</schemaVersion>", "", 1) },
			code:    ProblemMissingElement,
			element: "schemaVersion",
		},
		{
			name:    "schema version wrong",
			mutate:  func(s string) string { return strings.Replace(s, "<schemaVersion>"+SchemaVersion, "<schemaVersion>2.0", 1) },
			code:    ProblemSchemaVersion,
			element: "schemaVersion",
		},
		{
			name:    "identifier truncated",
			mutate:  func(s string) string { return strings.Replace(s, id, id[:31], 1) },
			code:    ProblemIdentifierLength,
			element: "identifier",
		},
		{
			name:    "identifier extended",
			mutate:  func(s string) string { return strings.Replace(s, id, id+"00", 1) },
			code:    ProblemIdentifierLength,
			element: "identifier",
		},
		{
			name:    "identifier not hex",
			mutate:  func(s string) string { return strings.Replace(s, id, strings.Repeat("z", IdentifierLength), 1) },
			code:    ProblemIdentifierCharset,
			element: "identifier",
		},
		{
			name:    "identifier stripped",
			mutate:  func(s string) string { return strings.Replace(s, "<identifier>"+id+"</identifier>", "", 1) },
			code:    ProblemMissingElement,
			element: "identifier",
		},
		{
			name: "distribution stripped",
			mutate: func(s string) string {
				start := strings.Index(s, "<distribution>")
				end := strings.Index(s, "</distribution>") + len("</distribution>")
				return s[:start] + s[end:]
			},
			code:    ProblemMissingElement,
			element: "distribution",
		},
		{
			name:   "not xml",
			mutate: func(string) string { return "{}" },
			code:   ProblemMalformed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			corrupted := tc.mutate(doc)
			require.NotEqual(t, doc, corrupted, "mutation must change the document")
			problems := Validate([]byte(corrupted))
			require.True(t, HasProblem(problems, tc.code), "want %s in %v", tc.code, problems)
			if tc.element != "" {
				found := false
				for _, p := range problems {
					if p.Code == tc.code && p.Element == tc.element {
						found = true
					}
				}
				require.True(t, found, "want element %s in %v", tc.element, problems)
			}

			err := Check([]byte(corrupted))
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrGenerationDefect))
		})
	}
}

func TestProblemError(t *testing.T) {
	p := Problem{Code: ProblemSchemaType, Element: "schemaType", Detail: "got x"}
	require.Equal(t, "wrong_schema_type <schemaType>: got x", p.Error())
	require.Equal(t, "missing_namespace", Problem{Code: ProblemMissingNamespace}.Error())
}
