package appraisal

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"circlefi/native/lending"
)

// Appraisal is the latest value recorded for a domain.
type Appraisal struct {
	Domain    string `gorm:"primaryKey"`
	Value     string `gorm:"not null"`
	Source    string
	UpdatedAt time.Time
}

// Seizure records collateral handed over after a liquidation.
type Seizure struct {
	LoanID     uint64 `gorm:"primaryKey;autoIncrement:false"`
	CircleID   uint64 `gorm:"index"`
	Domain     string `gorm:"index"`
	Borrower   string
	Liquidator string
	Principal  string
	SeizedAt   time.Time
}

// Store keeps appraisals and seizures in SQL. It serves as both the
// collateral oracle and the liquidation custodian of the daemon.
type Store struct {
	db *gorm.DB
}

// OpenStore connects to driver ("sqlite" or "postgres") and migrates the schema.
func OpenStore(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("appraisal: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("appraisal: open %s: %w", driver, err)
	}
	if err := db.AutoMigrate(&Appraisal{}, &Seizure{}); err != nil {
		return nil, fmt.Errorf("appraisal: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Upsert records the value of domain, replacing any previous appraisal.
func (s *Store) Upsert(ctx context.Context, domain string, value *big.Int, source string) error {
	ref, err := lending.NormalizeCollateralRef(domain)
	if err != nil {
		return fmt.Errorf("appraisal %q: %w", domain, err)
	}
	if value == nil || value.Sign() <= 0 {
		return fmt.Errorf("appraisal %s: value must be positive", ref)
	}
	row := Appraisal{Domain: ref, Value: value.String(), Source: source, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "domain"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "source", "updated_at"}),
	}).Create(&row).Error
}

func (s *Store) Valuate(ctx context.Context, collateralRef string) (*big.Int, error) {
	var row Appraisal
	err := s.db.WithContext(ctx).First(&row, "domain = ?", collateralRef).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoAppraisal, collateralRef)
	}
	if err != nil {
		return nil, err
	}
	value, ok := new(big.Int).SetString(row.Value, 10)
	if !ok {
		return nil, fmt.Errorf("appraisal %s: stored value %q is not an integer", collateralRef, row.Value)
	}
	return value, nil
}

// Seize implements lending.CollateralCustodian. Repeated notifications for
// the same loan are ignored.
func (s *Store) Seize(ctx context.Context, loan *lending.Loan) error {
	row := Seizure{
		LoanID:     loan.ID,
		CircleID:   loan.CircleID,
		Domain:     loan.CollateralRef,
		Borrower:   loan.Borrower,
		Liquidator: loan.LiquidatedBy,
		Principal:  loan.Amount.String(),
		SeizedAt:   time.Unix(loan.ClosedAt, 0).UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// Seizures lists recorded seizures ordered by loan id.
func (s *Store) Seizures(ctx context.Context) ([]Seizure, error) {
	var rows []Seizure
	if err := s.db.WithContext(ctx).Order("loan_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
