package lawyer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"legalease/internal/apperr"
	"legalease/internal/logger"
	"legalease/internal/models"
)

const (
	anySpecialization = "All Specialties"
	anyLanguage       = "Any Language"
)

const selectColumns = `SELECT lawyer_id, first_name, last_name, specialization, city, state,
	experience_years, hourly_rate, languages, email, phone, website_url, rating, reviews, bio
	FROM Lawyer`

// Service queries the read-only lawyer directory.
type Service struct {
	db     *sql.DB
	driver string
	log    logger.Logger
}

func NewService(db *sql.DB, driver string, log logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{db: db, driver: strings.ToLower(driver), log: log.Named("lawyer")}
}

// Search returns the lawyers matching every non-empty filter, ordered by id.
func (s *Service) Search(ctx context.Context, filter models.LawyerFilter) ([]models.Lawyer, error) {
	query, args := s.buildSearch(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.log.Error("lawyer search failed", logger.Error(err))
		return nil, apperr.Internal("Failed to fetch lawyers", err)
	}
	defer rows.Close()

	lawyers := make([]models.Lawyer, 0)
	for rows.Next() {
		l, err := scanLawyer(rows)
		if err != nil {
			return nil, apperr.Internal("Failed to fetch lawyers", err)
		}
		lawyers = append(lawyers, l)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("Failed to fetch lawyers", err)
	}
	return lawyers, nil
}

func (s *Service) Get(ctx context.Context, id int64) (models.Lawyer, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE lawyer_id = ?`, id)
	l, err := scanLawyer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Lawyer{}, apperr.NotFound("Lawyer not found")
		}
		return models.Lawyer{}, apperr.Internal("Failed to fetch lawyer", err)
	}
	return l, nil
}

func (s *Service) buildSearch(filter models.LawyerFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if spec := strings.TrimSpace(filter.Specialization); spec != "" && spec != anySpecialization {
		where = append(where, "specialization LIKE ?")
		args = append(args, "%"+spec+"%")
	}
	if city := strings.TrimSpace(filter.City); city != "" {
		where = append(where, "LOWER(city) LIKE ?")
		args = append(args, "%"+strings.ToLower(city)+"%")
	}
	if lang := strings.TrimSpace(filter.Language); lang != "" && lang != anyLanguage {
		if s.driver == "mysql" {
			where = append(where, "FIND_IN_SET(?, REPLACE(languages, ', ', ',')) > 0")
		} else {
			where = append(where, "instr(',' || REPLACE(languages, ', ', ',') || ',', ',' || ? || ',') > 0")
		}
		args = append(args, lang)
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return query + " ORDER BY lawyer_id", args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLawyer(row scanner) (models.Lawyer, error) {
	var (
		l                          models.Lawyer
		email, phone, website, bio sql.NullString
	)
	err := row.Scan(
		&l.ID, &l.FirstName, &l.LastName, &l.Specialization, &l.City, &l.State,
		&l.ExperienceYears, &l.HourlyRate, &l.Languages,
		&email, &phone, &website, &l.Rating, &l.Reviews, &bio,
	)
	if err != nil {
		return models.Lawyer{}, fmt.Errorf("scan lawyer: %w", err)
	}
	l.Email = email.String
	l.Phone = phone.String
	l.WebsiteURL = website.String
	l.Bio = bio.String
	return l, nil
}
