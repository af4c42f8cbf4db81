package services

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"unicode"

	"github.com/buscai/backend/internal/models"
	"github.com/jmoiron/sqlx"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// companyColumns is the company projection shared by every listing query.
const companyColumns = `c.id, c.name, c.slug, c.cnpj, c.phone, c.whatsapp, c.address, c.city_id,
	c.rating, c.reviews_count, c.website, c.place_id, c.logo_url, c.owner_id, c.status,
	c.created_at, c.updated_at`

const companyNicheIDs = `COALESCE(ARRAY(SELECT niche_id FROM company_niches WHERE company_id = c.id ORDER BY niche_id), '{}') AS niche_ids`

type CatalogService struct {
	db *sqlx.DB
}

func NewCatalogService(db *sqlx.DB) *CatalogService {
	return &CatalogService{db: db}
}

func (s *CatalogService) ListCities(ctx context.Context) ([]models.City, error) {
	cities := []models.City{}
	err := s.db.SelectContext(ctx, &cities, `SELECT id, name, state, slug FROM cities ORDER BY name`)
	return cities, err
}

func (s *CatalogService) ListNiches(ctx context.Context) ([]models.Niche, error) {
	niches := []models.Niche{}
	err := s.db.SelectContext(ctx, &niches, `SELECT id, name, slug, synonyms FROM niches ORDER BY name`)
	return niches, err
}

func (s *CatalogService) GetCity(ctx context.Context, id int) (*models.City, error) {
	var city models.City
	err := s.db.GetContext(ctx, &city, `SELECT id, name, state, slug FROM cities WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCityNotFound
	}
	return &city, err
}

func (s *CatalogService) GetNiche(ctx context.Context, id int) (*models.Niche, error) {
	var niche models.Niche
	err := s.db.GetContext(ctx, &niche, `SELECT id, name, slug, synonyms FROM niches WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNicheNotFound
	}
	return &niche, err
}

func (s *CatalogService) CityBySlug(ctx context.Context, slug string) (*models.City, error) {
	var city models.City
	err := s.db.GetContext(ctx, &city, `SELECT id, name, state, slug FROM cities WHERE slug = $1`, strings.ToLower(slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCityNotFound
	}
	return &city, err
}

func (s *CatalogService) NicheBySlug(ctx context.Context, slug string) (*models.Niche, error) {
	var niche models.Niche
	err := s.db.GetContext(ctx, &niche, `SELECT id, name, slug, synonyms FROM niches WHERE slug = $1`, strings.ToLower(slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNicheNotFound
	}
	return &niche, err
}

// GetCompany looks a company up by numeric id or by slug.
func (s *CatalogService) GetCompany(ctx context.Context, idOrSlug string) (*models.Company, error) {
	query := `SELECT ` + companyColumns + `, ` + companyNicheIDs + ` FROM companies c WHERE `
	var arg any = idOrSlug
	if id, err := strconv.Atoi(idOrSlug); err == nil {
		query += `c.id = $1`
		arg = id
	} else {
		query += `c.slug = $1`
	}

	var company models.Company
	err := s.db.GetContext(ctx, &company, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCompanyNotFound
	}
	return &company, err
}

// ResolveOwnedCompany returns the company the user acts for. A non-zero
// requested id must be owned by the user; otherwise the oldest owned company
// is used.
func (s *CatalogService) ResolveOwnedCompany(ctx context.Context, userID, requested int) (int, error) {
	if requested > 0 {
		var ownerID sql.NullInt64
		err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM companies WHERE id = $1`, requested).Scan(&ownerID)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrCompanyNotFound
		}
		if err != nil {
			return 0, err
		}
		if !ownerID.Valid || int(ownerID.Int64) != userID {
			return 0, ErrCompanyNotOwned
		}
		return requested, nil
	}

	var companyID int
	err := s.db.QueryRowContext(ctx, `SELECT id FROM companies WHERE owner_id = $1 ORDER BY id LIMIT 1`, userID).Scan(&companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoCompany
	}
	return companyID, err
}

// MatchCityNiche resolves free text such as "encanador em campinas" to a
// city and a niche. Either result may be nil.
func (s *CatalogService) MatchCityNiche(ctx context.Context, text string) (*models.City, *models.Niche, error) {
	cities, err := s.ListCities(ctx)
	if err != nil {
		return nil, nil, err
	}
	niches, err := s.ListNiches(ctx)
	if err != nil {
		return nil, nil, err
	}
	city, niche := matchCityNiche(text, cities, niches)
	return city, niche, nil
}

func matchCityNiche(text string, cities []models.City, niches []models.Niche) (*models.City, *models.Niche) {
	haystack := " " + normalizeText(text) + " "

	var city *models.City
	best := 0
	for i := range cities {
		for _, term := range []string{cities[i].Name, strings.ReplaceAll(cities[i].Slug, "-", " ")} {
			if n := matchLen(haystack, term); n > best {
				best, city = n, &cities[i]
			}
		}
	}

	var niche *models.Niche
	best = 0
	for i := range niches {
		terms := append([]string{niches[i].Name, strings.ReplaceAll(niches[i].Slug, "-", " ")}, niches[i].Synonyms...)
		for _, term := range terms {
			if n := matchLen(haystack, term); n > best {
				best, niche = n, &niches[i]
			}
		}
	}
	return city, niche
}

// matchLen returns the length of term when it appears as whole words in the
// padded haystack, 0 otherwise.
func matchLen(haystack, term string) int {
	t := normalizeText(term)
	if t == "" {
		return 0
	}
	if strings.Contains(haystack, " "+t+" ") {
		return len(t)
	}
	return 0
}

// normalizeText lowercases, strips accents and collapses punctuation to
// single spaces.
func normalizeText(s string) string {
	stripAccents := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(stripAccents, strings.ToLower(s))
	if err != nil {
		out = strings.ToLower(s)
	}
	fields := strings.FieldsFunc(out, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func slugify(s string) string {
	return strings.ReplaceAll(normalizeText(s), " ", "-")
}

// uniqueSlug derives a company slug from name, suffixing -2, -3... when it is
// already taken.
func uniqueSlug(ctx context.Context, q sqlx.QueryerContext, name string) (string, error) {
	base := slugify(name)
	if base == "" {
		base = "empresa"
	}

	var taken []string
	err := sqlx.SelectContext(ctx, q, &taken, `SELECT slug FROM companies WHERE slug = $1 OR slug LIKE $2`, base, base+"-%")
	if err != nil {
		return "", err
	}
	used := make(map[string]bool, len(taken))
	for _, s := range taken {
		used[s] = true
	}

	slug := base
	for i := 2; used[slug]; i++ {
		slug = base + "-" + strconv.Itoa(i)
	}
	return slug, nil
}
