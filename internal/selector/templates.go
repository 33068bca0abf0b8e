package selector

import (
	"fmt"
	"strconv"
	"strings"
)

// Pre-approved template names. No other name may be sent.
const (
	TemplateOfficialAnnouncement = "official_announcement"
	TemplateSponsoredMoment      = "sponsored_moment"
	TemplateMomentNotification   = "moment_notification"
)

// Template is a platform-approved message with positional {{n}} parameters.
type Template struct {
	Name   string
	Body   string
	Params int
}

// Render substitutes params into the body. It is used for compliance checks
// and audit previews; the platform performs the real substitution.
func (t Template) Render(params []string) (string, error) {
	if len(params) != t.Params {
		return "", fmt.Errorf("template %s expects %d params, got %d", t.Name, t.Params, len(params))
	}
	out := t.Body
	for i, p := range params {
		out = strings.ReplaceAll(out, "{{"+strconv.Itoa(i+1)+"}}", p)
	}
	return out, nil
}

// Catalog is the fixed set of approved templates.
type Catalog struct {
	templates map[string]Template
}

func DefaultCatalog() *Catalog {
	return NewCatalog(
		Template{
			Name:   TemplateOfficialAnnouncement,
			Body:   "Official announcement: {{1}}\n\n{{2}}\n\n{{4}}\nRead more: {{3}}\n\n" + OptOutMarker + ".",
			Params: 4,
		},
		Template{
			Name:   TemplateSponsoredMoment,
			Body:   "{{1}}\n\n{{2}}\n\nSponsored by {{3}}\nRead more: {{4}}\n\n" + OptOutMarker + ".",
			Params: 4,
		},
		Template{
			Name:   TemplateMomentNotification,
			Body:   "New moment in {{1}}: {{2}}\n\n{{3}}\n\nRead more: {{4}}\n\n" + OptOutMarker + ".",
			Params: 4,
		},
	)
}

func NewCatalog(templates ...Template) *Catalog {
	c := &Catalog{templates: make(map[string]Template, len(templates))}
	for _, t := range templates {
		c.templates[t.Name] = t
	}
	return c
}

func (c *Catalog) Lookup(name string) (Template, error) {
	t, ok := c.templates[name]
	if !ok {
		return Template{}, fmt.Errorf("template %q is not approved", name)
	}
	return t, nil
}
