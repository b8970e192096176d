package compliance

import (
	"context"
	"strings"

	"github.com/Aidin1998/otcdesk/internal/database"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/agnivade/levenshtein"
	"gorm.io/gorm"
)

// ScreenResult is the outcome of screening one destination.
type ScreenResult struct {
	Hit       bool   `json:"hit"`
	Lookalike bool   `json:"lookalike"`
	Matched   string `json:"matched,omitempty"`
}

// Screener tests destinations against the denylist.
type Screener struct {
	db *gorm.DB
}

func NewScreener(db *gorm.DB) *Screener {
	return &Screener{db: db}
}

// AddSanction adds an address or domain to the denylist. Re-adding is a no-op.
func (s *Screener) AddSanction(ctx context.Context, kind models.SanctionKind, value, source string) (*models.SanctionedEntity, error) {
	if kind != models.SanctionAddress && kind != models.SanctionDomain {
		return nil, errors.Invalid.Explain("unknown sanction kind %q", kind)
	}
	entity := &models.SanctionedEntity{Kind: kind, Value: normalizeDestination(value), Source: source}
	if entity.Value == "" {
		return nil, errors.Invalid.Explain("sanctioned value is required")
	}
	err := s.db.WithContext(ctx).Create(entity).Error
	if database.IsDuplicate(err) {
		return entity, nil
	}
	return entity, err
}

// Screen checks destination. An exact address or domain match is a hit.
// A domain one edit away from a listed domain is a lookalike.
func (s *Screener) Screen(ctx context.Context, destination string) (*ScreenResult, error) {
	return screenTx(s.db.WithContext(ctx), destination)
}

func screenTx(tx *gorm.DB, destination string) (*ScreenResult, error) {
	value := normalizeDestination(destination)
	if value == "" {
		return &ScreenResult{}, nil
	}
	domain := domainOf(value)

	var entities []models.SanctionedEntity
	if err := tx.Find(&entities).Error; err != nil {
		return nil, err
	}

	res := &ScreenResult{}
	for _, e := range entities {
		switch e.Kind {
		case models.SanctionAddress:
			if e.Value == value {
				return &ScreenResult{Hit: true, Matched: e.Value}, nil
			}
		case models.SanctionDomain:
			if domain == "" {
				continue
			}
			if e.Value == domain {
				return &ScreenResult{Hit: true, Matched: e.Value}, nil
			}
			if levenshtein.ComputeDistance(e.Value, domain) == 1 {
				res.Lookalike = true
				res.Matched = e.Value
			}
		}
	}
	return res, nil
}

func normalizeDestination(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, p := range []string{"https://", "http://"} {
		v = strings.TrimPrefix(v, p)
	}
	v = strings.TrimPrefix(v, "www.")
	return strings.TrimSuffix(v, "/")
}

// domainOf extracts the domain of an email, url or bare domain; "" for addresses.
func domainOf(v string) string {
	if i := strings.LastIndex(v, "@"); i >= 0 {
		v = v[i+1:]
	}
	if i := strings.Index(v, "/"); i >= 0 {
		v = v[:i]
	}
	if !strings.Contains(v, ".") {
		return ""
	}
	return v
}
