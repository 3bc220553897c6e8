package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vistream/vistream/internal/billing"
	"github.com/vistream/vistream/internal/models"
)

var ErrPlanNotFound = errors.New("plan not found")

type PlanService struct {
	db *gorm.DB
}

func NewPlanService(db *gorm.DB) *PlanService {
	return &PlanService{db: db}
}

func (s *PlanService) GetByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	var plan models.Plan
	if err := s.db.WithContext(ctx).First(&plan, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (s *PlanService) List(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("price ASC").
		Find(&plans).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}

type seedPlan struct {
	Name        string
	Price       string
	PeriodUnit  billing.PeriodUnit
	PeriodCount int
	PeriodLabel string
	Features    string
}

var seedPlans = []seedPlan{
	{Name: "Essentiel", Price: "9.90", PeriodUnit: billing.UnitMonth, PeriodCount: 1, PeriodLabel: "1 mois",
		Features: `["Streaming HD","1 flux simultané","Support standard"]`},
	{Name: "Standard", Price: "19.90", PeriodUnit: billing.UnitMonth, PeriodCount: 1, PeriodLabel: "1 mois",
		Features: `["Streaming Full HD","3 flux simultanés","Enregistrement cloud","Support prioritaire"]`},
	{Name: "Pro", Price: "29.00", PeriodUnit: billing.UnitMonth, PeriodCount: 1, PeriodLabel: "1 mois",
		Features: `["Streaming 4K","Flux illimités","Enregistrement cloud","API d'intégration","Support dédié"]`},
	{Name: "Pro Annuel", Price: "290.00", PeriodUnit: billing.UnitYear, PeriodCount: 1, PeriodLabel: "12 mois",
		Features: `["Streaming 4K","Flux illimités","Enregistrement cloud","API d'intégration","Support dédié","2 mois offerts"]`},
}

// SeedPlans inserts the default catalog, keyed by name so reruns are
// no-ops and operator edits survive restarts.
func SeedPlans(db *gorm.DB) error {
	seeded := 0
	for _, sp := range seedPlans {
		var existing models.Plan
		if err := db.Where("name = ?", sp.Name).First(&existing).Error; err == nil {
			continue
		}

		price, err := decimal.NewFromString(sp.Price)
		if err != nil {
			return fmt.Errorf("invalid seed price for plan %s: %w", sp.Name, err)
		}

		plan := models.Plan{
			ID:          uuid.New(),
			Name:        sp.Name,
			Price:       price,
			Currency:    "EUR",
			PeriodUnit:  sp.PeriodUnit,
			PeriodCount: sp.PeriodCount,
			PeriodLabel: sp.PeriodLabel,
			Features:    datatypes.JSON(sp.Features),
			Active:      true,
		}
		if err := db.Create(&plan).Error; err != nil {
			return fmt.Errorf("failed to seed plan %s: %w", sp.Name, err)
		}
		seeded++
	}

	if seeded > 0 {
		slog.Info("seeded plan catalog", "new", seeded, "total", len(seedPlans))
	}
	return nil
}
