package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gorm.io/gorm"
)

// ExportOptions contains options for exporting ledger transactions
type ExportOptions struct {
	Account   string
	TxType    *TransactionType
	OutputDir string
}

// TransactionExporter handles exporting ledger transactions to CSV
type TransactionExporter struct {
	db *gorm.DB
}

// NewTransactionExporter creates a new transaction exporter
func NewTransactionExporter(db *gorm.DB) *TransactionExporter {
	return &TransactionExporter{
		db: db,
	}
}

// ExportToCSV exports ledger transactions to CSV format
func (e *TransactionExporter) ExportToCSV(writer io.Writer, options ExportOptions) error {
	transactions, err := GetLedgerTransactions(e.db, options.Account, options.TxType)
	if err != nil {
		return fmt.Errorf("failed to get transactions: %w", err)
	}

	csvWriter := csv.NewWriter(writer)
	defer csvWriter.Flush()

	header := []string{"ID", "Type", "FromAccount", "ToAccount", "Amount", "CreatedAt"}
	if err := csvWriter.Write(header); err != nil {
		return fmt.Errorf("failed to write header to CSV: %w", err)
	}

	for _, tx := range transactions {
		row := []string{
			fmt.Sprintf("%d", tx.ID),
			tx.Type.String(),
			tx.FromAccount,
			tx.ToAccount,
			tx.Amount.String(),
			tx.CreatedAt.String(),
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write row to CSV: %w", err)
		}
	}
	return nil
}

// ExportToFile exports ledger transactions to a CSV file
func (e *TransactionExporter) ExportToFile(options ExportOptions) (string, error) {
	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", options.OutputDir, err)
	}

	fileName := filepath.Join(options.OutputDir, fmt.Sprintf("transactions_%s.csv", options.Account))
	file, err := os.Create(fileName)
	if err != nil {
		return "", fmt.Errorf("failed to create CSV file %s: %w", fileName, err)
	}
	defer file.Close()

	if err := e.ExportToCSV(file, options); err != nil {
		return "", fmt.Errorf("failed to export to CSV: %w", err)
	}

	return fileName, nil
}

func runExportTransactionsCli(logger Logger) {
	logger = logger.NewSystem("export-transactions")
	if len(os.Args) < 3 || len(os.Args) > 4 {
		logger.Fatal("Usage: hubnode export-transactions <account> [txType]")
	}

	account := os.Args[2]

	var txType *TransactionType
	if len(os.Args) > 3 {
		parsedType, err := parseLedgerTransactionType(os.Args[3])
		if err != nil {
			logger.Fatal("Invalid transaction type", "type", os.Args[3], "error", err)
		}
		txType = &parsedType
	}

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}

	db, err := ConnectToDB(config.dbConf)
	if err != nil {
		logger.Fatal("Failed to setup database", "error", err)
	}

	exporter := NewTransactionExporter(db)
	options := ExportOptions{
		Account:   account,
		TxType:    txType,
		OutputDir: "csv_export",
	}

	fileName, err := exporter.ExportToFile(options)
	if err != nil {
		logger.Fatal("Failed to export transactions", "error", err)
	}
	logger.Info("Successfully exported transactions", "file", fileName)
}
