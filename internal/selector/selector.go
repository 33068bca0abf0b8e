package selector

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
)

// Channel is the delivery channel chosen for one message.
type Channel string

const (
	ChannelFreeform Channel = "freeform"
	ChannelTemplate Channel = "template"
)

// AggregateChannel is recorded for a broadcast whose channel is decided per recipient.
const AggregateChannel = "freeform_or_template"

const (
	snippetLength   = 160
	officialNotice  = "Official notice"
	defaultLanguage = "en"
)

// WindowChecker answers whether a recipient is inside the free-form window.
type WindowChecker interface {
	IsWithinWindow(ctx context.Context, phone string) (bool, error)
}

// Decision is the message to send to one recipient.
type Decision struct {
	Channel      Channel
	TemplateName string
	Language     string
	Params       []string
	// Body is the free-form text, or the rendered template for audit purposes.
	Body      string
	MediaURLs []string
}

// Aggregate summarizes the messages of a whole broadcast for the compliance record.
type Aggregate struct {
	TemplateName        string
	Channel             string
	SponsorDisclosed    bool
	OptOutIncluded      bool
	ContentLinkIncluded bool
}

type Selector struct {
	window   WindowChecker
	catalog  *Catalog
	baseURL  string
	language string
	logger   *zap.Logger
}

func New(window WindowChecker, catalog *Catalog, publicBaseURL string, language string, logger *zap.Logger) (*Selector, error) {
	if window == nil {
		return nil, fmt.Errorf("window checker is required")
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if strings.TrimSpace(language) == "" {
		language = defaultLanguage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		window:   window,
		catalog:  catalog,
		baseURL:  strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		language: language,
		logger:   logger,
	}, nil
}

// Select picks the channel for phone and builds the message. A window lookup failure
// falls back to the template channel. A message that fails validation is returned with
// an ErrComplianceViolation and must not be sent.
func (s *Selector) Select(ctx context.Context, phone string, content *domain.Content) (Decision, error) {
	if content == nil {
		return Decision{}, fmt.Errorf("%w: content is required", domain.ErrValidation)
	}

	within, err := s.window.IsWithinWindow(ctx, phone)
	if err != nil {
		s.logger.Warn("window lookup failed, using template channel",
			zap.String("contentId", content.ID),
			zap.Error(err),
		)
		within = false
	}

	var decision Decision
	if within {
		decision = s.freeform(content)
	} else {
		decision, err = s.template(content)
		if err != nil {
			return Decision{}, err
		}
	}

	if err := Validate(decision.Body, content); err != nil {
		return decision, err
	}
	return decision, nil
}

// TemplateFor applies the template decision table.
func TemplateFor(content *domain.Content) string {
	switch {
	case content.AuthorityLevel >= domain.AuthorityOfficial:
		return TemplateOfficialAnnouncement
	case content.IsSponsored():
		return TemplateSponsoredMoment
	default:
		return TemplateMomentNotification
	}
}

// AggregateDecision validates both channels for content and summarizes them.
func (s *Selector) AggregateDecision(content *domain.Content) (Aggregate, error) {
	if content == nil {
		return Aggregate{}, fmt.Errorf("%w: content is required", domain.ErrValidation)
	}

	tmpl, err := s.template(content)
	if err != nil {
		return Aggregate{}, err
	}
	free := s.freeform(content)

	link := s.ContentLink(content.ID)
	agg := Aggregate{
		TemplateName:        tmpl.TemplateName,
		Channel:             AggregateChannel,
		OptOutIncluded:      hasOptOut(tmpl.Body) && hasOptOut(free.Body),
		ContentLinkIncluded: strings.Contains(tmpl.Body, link) && strings.Contains(free.Body, link),
	}
	if content.IsSponsored() {
		agg.SponsorDisclosed = Validate(tmpl.Body, content) == nil && Validate(free.Body, content) == nil
	}

	if err := Validate(tmpl.Body, content); err != nil {
		return agg, err
	}
	if err := Validate(free.Body, content); err != nil {
		return agg, err
	}
	return agg, nil
}

// ContentLink is the canonical public link of a content item.
func (s *Selector) ContentLink(contentID string) string {
	return s.baseURL + "/moments/" + contentID
}

func (s *Selector) freeform(content *domain.Content) Decision {
	var b strings.Builder
	if title := strings.TrimSpace(content.Title); title != "" {
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	if body := strings.TrimSpace(content.Body); body != "" {
		b.WriteString(body)
		b.WriteString("\n\n")
	}
	if where := locality(content); where != "" {
		b.WriteString(where)
		b.WriteString("\n")
	}
	if content.IsSponsored() {
		b.WriteString(sponsorDisclosurePrefix)
		b.WriteString(content.Sponsor.Disclosure())
		b.WriteString("\n")
	}
	b.WriteString("Read more: ")
	b.WriteString(s.ContentLink(content.ID))
	b.WriteString("\n\n")
	b.WriteString(OptOutMarker)
	b.WriteString(".")

	return Decision{
		Channel:   ChannelFreeform,
		Language:  s.languageFor(content),
		Body:      b.String(),
		MediaURLs: content.MediaURLs,
	}
}

func (s *Selector) template(content *domain.Content) (Decision, error) {
	name := TemplateFor(content)
	tmpl, err := s.catalog.Lookup(name)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", domain.ErrComplianceViolation, err)
	}

	title := param(content.Title)
	snippet := param(truncate(content.Body, snippetLength))
	link := s.ContentLink(content.ID)

	var params []string
	switch name {
	case TemplateOfficialAnnouncement:
		attribution := officialNotice
		if content.IsSponsored() {
			attribution = sponsorDisclosurePrefix + param(content.Sponsor.Disclosure())
		}
		params = []string{title, snippet, link, attribution}
	case TemplateSponsoredMoment:
		params = []string{title, snippet, param(content.Sponsor.Disclosure()), link}
	default:
		region := param(content.Region)
		if region == "" {
			region = "your area"
		}
		params = []string{region, title, snippet, link}
	}

	body, err := tmpl.Render(params)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", domain.ErrComplianceViolation, err)
	}

	return Decision{
		Channel:      ChannelTemplate,
		TemplateName: name,
		Language:     s.languageFor(content),
		Params:       params,
		Body:         body,
	}, nil
}

func (s *Selector) languageFor(content *domain.Content) string {
	if lang := strings.TrimSpace(content.Language); lang != "" {
		return lang
	}
	return s.language
}

func locality(content *domain.Content) string {
	region := strings.TrimSpace(content.Region)
	category := strings.TrimSpace(content.Category)
	switch {
	case region != "" && category != "":
		return region + " | " + category
	case region != "":
		return region
	default:
		return category
	}
}

func hasOptOut(text string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(OptOutMarker))
}

// param flattens whitespace; template parameters may not contain newlines or tabs.
func param(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit-3])) + "..."
}
