package artifact

import (
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// ProblemCode classifies a self-check failure.
type ProblemCode string

const (
	ProblemMalformed         ProblemCode = "malformed_document"
	ProblemMissingNamespace  ProblemCode = "missing_namespace"
	ProblemMissingElement    ProblemCode = "missing_element"
	ProblemSchemaType        ProblemCode = "wrong_schema_type"
	ProblemSchemaVersion     ProblemCode = "wrong_schema_version"
	ProblemIdentifierLength  ProblemCode = "wrong_identifier_length"
	ProblemIdentifierCharset ProblemCode = "identifier_not_hex"
)

// Problem is a single self-check finding.
type Problem struct {
	Code    ProblemCode
	Element string
	Detail  string
}

func (p Problem) Error() string {
	var b strings.Builder
	b.WriteString(string(p.Code))
	if p.Element != "" {
		b.WriteString(" <")
		b.WriteString(p.Element)
		b.WriteString(">")
	}
	if p.Detail != "" {
		b.WriteString(": ")
		b.WriteString(p.Detail)
	}
	return b.String()
}

// parsedDocument uses pointers so absent elements stay nil and can be told
// apart from empty ones.
type parsedDocument struct {
	XMLName       xml.Name `xml:"dataset"`
	Identifier    *string  `xml:"identifier"`
	Title         *string  `xml:"title"`
	Publisher     *string  `xml:"publisher"`
	Issued        *string  `xml:"issued"`
	SchemaType    *string  `xml:"schemaType"`
	SchemaVersion *string  `xml:"schemaVersion"`
	Distribution  *struct {
		AccessURL *string `xml:"accessURL"`
		FileName  *string `xml:"fileName"`
	} `xml:"distribution"`
}

type requiredElement struct {
	name  string
	value *string
}

// Validate re-parses a generated metadata document and reports every
// deviation from the mandated shape. An empty result means the document is
// fit to serve.
func Validate(doc []byte) []Problem {
	var parsed parsedDocument
	if err := xml.Unmarshal(doc, &parsed); err != nil {
		return []Problem{{Code: ProblemMalformed, Detail: err.Error()}}
	}

	var problems []Problem
	if parsed.XMLName.Space != Namespace {
		problems = append(problems, Problem{
			Code:   ProblemMissingNamespace,
			Detail: fmt.Sprintf("got %q", parsed.XMLName.Space),
		})
	}

	required := []requiredElement{
		{"identifier", parsed.Identifier},
		{"title", parsed.Title},
		{"publisher", parsed.Publisher},
		{"issued", parsed.Issued},
		{"schemaType", parsed.SchemaType},
		{"schemaVersion", parsed.SchemaVersion},
	}
	if parsed.Distribution == nil {
		problems = append(problems, Problem{Code: ProblemMissingElement, Element: "distribution"})
	} else {
		required = append(required,
			requiredElement{"accessURL", parsed.Distribution.AccessURL},
			requiredElement{"fileName", parsed.Distribution.FileName},
		)
	}
	for _, field := range required {
		if field.value == nil || strings.TrimSpace(*field.value) == "" {
			problems = append(problems, Problem{Code: ProblemMissingElement, Element: field.name})
		}
	}

	if parsed.SchemaType != nil && *parsed.SchemaType != "" && *parsed.SchemaType != SchemaType {
		problems = append(problems, Problem{
			Code:    ProblemSchemaType,
			Element: "schemaType",
			Detail:  fmt.Sprintf("got %q want %q", *parsed.SchemaType, SchemaType),
		})
	}
	if parsed.SchemaVersion != nil && *parsed.SchemaVersion != "" && *parsed.SchemaVersion != SchemaVersion {
		problems = append(problems, Problem{
			Code:    ProblemSchemaVersion,
			Element: "schemaVersion",
			Detail:  fmt.Sprintf("got %q want %q", *parsed.SchemaVersion, SchemaVersion),
		})
	}
	if parsed.Identifier != nil && *parsed.Identifier != "" {
		id := *parsed.Identifier
		if len(id) != IdentifierLength {
			problems = append(problems, Problem{
				Code:    ProblemIdentifierLength,
				Element: "identifier",
				Detail:  fmt.Sprintf("length %d", len(id)),
			})
		} else if _, err := hex.DecodeString(id); err != nil || strings.ToLower(id) != id {
			problems = append(problems, Problem{Code: ProblemIdentifierCharset, Element: "identifier"})
		}
	}
	return problems
}

// Check runs Validate and folds any problems into an error wrapping
// ErrGenerationDefect.
func Check(doc []byte) error {
	problems := Validate(doc)
	if len(problems) == 0 {
		return nil
	}
	errs := make([]error, 0, len(problems)+1)
	errs = append(errs, ErrGenerationDefect)
	for _, p := range problems {
		errs = append(errs, p)
	}
	return errors.Join(errs...)
}

// HasProblem reports whether problems contains code.
func HasProblem(problems []Problem, code ProblemCode) bool {
	for _, p := range problems {
		if p.Code == code {
			return true
		}
	}
	return false
}
