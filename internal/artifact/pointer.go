package artifact

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/l0p7/pricefeed/internal/handle"
	"github.com/l0p7/pricefeed/internal/templates"
)

// DefaultPointerTemplate locates the export next to the other artifacts.
const DefaultPointerTemplate = `{{ trimSuffix "/" .BaseURL }}/{{ .Handle }}/export.csv`

// ErrInvalidPointer reports a rendered export URL that is not absolute http(s).
var ErrInvalidPointer = errors.New("artifact: invalid export pointer url")

// PointerData is the template input for the export pointer.
type PointerData struct {
	BaseURL string
	Handle  string
	Date    string
}

// Pointer renders the URL of the externally produced data export. The
// result depends only on the configured base URL, the handle and the date.
type Pointer struct {
	baseURL string
	tmpl    *templates.Template
}

// NewPointer compiles source (DefaultPointerTemplate when empty) against
// baseURL.
func NewPointer(renderer *templates.Renderer, baseURL, source string) (*Pointer, error) {
	if renderer == nil {
		renderer = templates.NewRenderer()
	}
	if err := validatePointer(baseURL); err != nil {
		return nil, fmt.Errorf("artifact: base url: %w", err)
	}
	if strings.TrimSpace(source) == "" {
		source = DefaultPointerTemplate
	}
	tmpl, err := renderer.CompileInline("export_pointer", source)
	if err != nil {
		return nil, err
	}
	return &Pointer{baseURL: baseURL, tmpl: tmpl}, nil
}

// URL renders and validates the export pointer for h on date.
func (p *Pointer) URL(h handle.Handle, date string) (string, error) {
	if p == nil {
		return "", errors.New("artifact: nil pointer")
	}
	rendered, err := p.tmpl.Render(PointerData{BaseURL: p.baseURL, Handle: h.String(), Date: date})
	if err != nil {
		return "", fmt.Errorf("artifact: render pointer: %w", err)
	}
	rendered = strings.TrimSpace(rendered)
	if err := validatePointer(rendered); err != nil {
		return "", err
	}
	return rendered, nil
}

func validatePointer(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPointer, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidPointer, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidPointer)
	}
	return nil
}
