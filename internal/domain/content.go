package domain

import (
	"strings"
	"time"
)

// AuthorityLevel is the role of the originator of a content item.
type AuthorityLevel int

const (
	AuthorityGeneral AuthorityLevel = iota
	AuthorityVerified
	AuthorityPartner
	// AuthorityOfficial is the highest level and selects the official announcement template.
	AuthorityOfficial
)

// AllRegions in a targeting region list disables region filtering.
const AllRegions = "all"

// Targeting selects the audience of a content item.
type Targeting struct {
	Regions    []string
	Categories []string
}

// Normalize lowercases and trims values, drops empties, and clears regions when "all" is present.
func (t Targeting) Normalize() Targeting {
	regions := normalizeSet(t.Regions)
	for _, r := range regions {
		if r == AllRegions {
			regions = nil
			break
		}
	}
	return Targeting{
		Regions:    regions,
		Categories: normalizeSet(t.Categories),
	}
}

func (t Targeting) IsEmpty() bool {
	return len(t.Regions) == 0 && len(t.Categories) == 0
}

// Matches reports whether a recipient intersects the targeting. Empty dimensions match everything.
func (t Targeting) Matches(r Recipient) bool {
	n := t.Normalize()
	if len(n.Regions) > 0 && !intersects(n.Regions, r.Regions) {
		return false
	}
	if len(n.Categories) > 0 && !intersects(n.Categories, r.Categories) {
		return false
	}
	return true
}

// Sponsor is the commercial party behind sponsored content.
type Sponsor struct {
	ID          string
	Name        string
	DisplayName string
}

// Disclosure returns the name shown in the sponsor disclosure, with whitespace runs
// collapsed so it reads the same in free-form bodies and single-line template params.
func (s *Sponsor) Disclosure() string {
	if s == nil {
		return ""
	}
	if name := strings.Join(strings.Fields(s.DisplayName), " "); name != "" {
		return name
	}
	return strings.Join(strings.Fields(s.Name), " ")
}

// Content is a moment to broadcast. It belongs to an external content store.
type Content struct {
	ID             string
	Title          string
	Body           string
	Region         string
	Category       string
	Language       string
	MediaURLs      []string
	Targeting      Targeting
	AuthorityLevel AuthorityLevel
	Sponsor        *Sponsor
	CampaignID     *string
	CreatedAt      time.Time
}

func (c *Content) IsSponsored() bool {
	return c != nil && c.Sponsor != nil
}

// Campaign is a sponsored, budgeted source of exactly one content item.
type Campaign struct {
	ID          string
	Title       string
	Body        string
	SponsorID   *string
	ContentID   *string
	TotalBudget int64
	SpentAmount int64
}

func (c *Campaign) Remaining() int64 {
	if c == nil {
		return 0
	}
	return c.TotalBudget - c.SpentAmount
}

// Recipient is the read-only subscriber view.
type Recipient struct {
	Phone        string
	OptedIn      bool
	Regions      []string
	Categories   []string
	LastActivity *time.Time
}

func normalizeSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		n := strings.ToLower(strings.TrimSpace(v))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func intersects(want []string, have []string) bool {
	for _, h := range have {
		n := strings.ToLower(strings.TrimSpace(h))
		for _, w := range want {
			if n == w {
				return true
			}
		}
	}
	return false
}
