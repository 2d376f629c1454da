// Package report exports the loan book as CSV and Parquet for offline
// reconciliation.
package report

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"circlefi/native/lending"
)

// LoanBook is the read surface of the engine the report needs.
type LoanBook interface {
	ListLoans() []*lending.Loan
	LoanOwed(loanID uint64, now int64) (*big.Int, *big.Int, error)
}

const (
	StatusActive     = "active"
	StatusOverdue    = "overdue"
	StatusRepaid     = "repaid"
	StatusLiquidated = "liquidated"
)

// Row is one loan as of the report time.
type Row struct {
	LoanID          uint64
	CircleID        uint64
	Borrower        string
	Collateral      string
	CollateralValue string
	Principal       string
	RateBps         uint64
	StartTime       int64
	DueTime         int64
	Status          string
	AccruedInterest string
	RepaidAmount    string
	ClosedBy        string
	ClosedAt        int64
}

// Build snapshots the loan book at now. Interest is accrued only for
// active loans.
func Build(book LoanBook, now int64) ([]Row, error) {
	loans := book.ListLoans()
	rows := make([]Row, 0, len(loans))
	for _, loan := range loans {
		row := Row{
			LoanID:          loan.ID,
			CircleID:        loan.CircleID,
			Borrower:        loan.Borrower,
			Collateral:      loan.CollateralRef,
			CollateralValue: loan.CollateralValue.String(),
			Principal:       loan.Amount.String(),
			RateBps:         loan.InterestRateBps,
			StartTime:       loan.StartTime,
			DueTime:         loan.DueTime,
			AccruedInterest: "0",
			RepaidAmount:    loan.RepaidAmount.String(),
			ClosedAt:        loan.ClosedAt,
		}
		switch {
		case loan.IsLiquidated:
			row.Status = StatusLiquidated
			row.ClosedBy = loan.LiquidatedBy
		case !loan.IsActive:
			row.Status = StatusRepaid
			row.ClosedBy = loan.RepaidBy
		default:
			row.Status = StatusActive
			if loan.Overdue(now) {
				row.Status = StatusOverdue
			}
			_, interest, err := book.LoanOwed(loan.ID, now)
			if err != nil {
				return nil, fmt.Errorf("report: loan %d: %w", loan.ID, err)
			}
			row.AccruedInterest = interest.String()
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Export writes loans-<timestamp>.csv and .parquet under dir and returns
// both paths.
func Export(dir string, book LoanBook, now time.Time, logger *slog.Logger) (string, string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rows, err := Build(book, now.Unix())
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("report: create dir: %w", err)
	}
	name := "loans-" + now.UTC().Format("20060102T150405Z")
	csvPath := filepath.Join(dir, name+".csv")
	if err := writeCSV(csvPath, rows); err != nil {
		return "", "", err
	}
	parquetPath := filepath.Join(dir, name+".parquet")
	if err := writeParquet(parquetPath, rows); err != nil {
		return "", "", err
	}
	logger.Info("loan book exported", "csv", csvPath, "parquet", parquetPath, "rows", len(rows))
	return csvPath, parquetPath, nil
}

var csvHeader = []string{
	"loan_id", "circle_id", "borrower", "collateral", "collateral_value", "principal", "rate_bps",
	"start_time", "due_time", "status", "accrued_interest", "repaid_amount", "closed_by", "closed_at",
}

func writeCSV(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("report: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			strconv.FormatUint(row.LoanID, 10),
			strconv.FormatUint(row.CircleID, 10),
			row.Borrower,
			row.Collateral,
			row.CollateralValue,
			row.Principal,
			strconv.FormatUint(row.RateBps, 10),
			formatUnix(row.StartTime),
			formatUnix(row.DueTime),
			row.Status,
			row.AccruedInterest,
			row.RepaidAmount,
			row.ClosedBy,
			formatUnix(row.ClosedAt),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("report: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("report: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	LoanID          int64  `parquet:"name=loan_id, type=INT64"`
	CircleID        int64  `parquet:"name=circle_id, type=INT64"`
	Borrower        string `parquet:"name=borrower, type=BYTE_ARRAY, convertedtype=UTF8"`
	Collateral      string `parquet:"name=collateral, type=BYTE_ARRAY, convertedtype=UTF8"`
	CollateralValue string `parquet:"name=collateral_value, type=BYTE_ARRAY, convertedtype=UTF8"`
	Principal       string `parquet:"name=principal, type=BYTE_ARRAY, convertedtype=UTF8"`
	RateBps         int64  `parquet:"name=rate_bps, type=INT64"`
	StartTime       int64  `parquet:"name=start_time, type=INT64"`
	DueTime         int64  `parquet:"name=due_time, type=INT64"`
	Status          string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	AccruedInterest string `parquet:"name=accrued_interest, type=BYTE_ARRAY, convertedtype=UTF8"`
	RepaidAmount    string `parquet:"name=repaid_amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	ClosedBy        string `parquet:"name=closed_by, type=BYTE_ARRAY, convertedtype=UTF8"`
	ClosedAt        int64  `parquet:"name=closed_at, type=INT64"`
}

func writeParquet(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("report: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			LoanID:          int64(row.LoanID),
			CircleID:        int64(row.CircleID),
			Borrower:        row.Borrower,
			Collateral:      row.Collateral,
			CollateralValue: row.CollateralValue,
			Principal:       row.Principal,
			RateBps:         int64(row.RateBps),
			StartTime:       row.StartTime,
			DueTime:         row.DueTime,
			Status:          row.Status,
			AccruedInterest: row.AccruedInterest,
			RepaidAmount:    row.RepaidAmount,
			ClosedBy:        row.ClosedBy,
			ClosedAt:        row.ClosedAt,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("report: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("report: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("report: close parquet file: %w", err)
	}
	return nil
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
