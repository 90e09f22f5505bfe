package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/agistaffers/backoffice/internal/pkg/catalog"
	"github.com/agistaffers/backoffice/internal/pkg/env"
	"github.com/google/uuid"
)

// BankTransferConfig describes the receiving account shown to customers.
type BankTransferConfig struct {
	BankName      string
	AccountName   string
	AccountNumber string
	SwiftCode     string
	DueDays       int
}

func BankTransferConfigFromEnv() BankTransferConfig {
	return BankTransferConfig{
		BankName:      env.GetEnv("BANK_DEPOSIT_BANK_NAME", ""),
		AccountName:   env.GetEnv("BANK_DEPOSIT_ACCOUNT_NAME", "AGI Staffers Co., Ltd."),
		AccountNumber: env.GetEnv("BANK_DEPOSIT_ACCOUNT_NUMBER", ""),
		SwiftCode:     env.GetEnv("BANK_DEPOSIT_SWIFT", ""),
		DueDays:       env.GetEnvInt("BANK_DEPOSIT_DUE_DAYS", 7),
	}
}

// BankTransfer is the manual settlement "gateway": nothing is charged, the
// customer wires money and staff verify the receipt.
type BankTransfer struct {
	cfg BankTransferConfig
}

func NewBankTransfer(cfg BankTransferConfig) *BankTransfer {
	if cfg.DueDays <= 0 {
		cfg.DueDays = 7
	}
	return &BankTransfer{cfg: cfg}
}

func (b *BankTransfer) Name() string { return models.ProviderBankDeposit }

// NewReferenceCode returns the code the customer puts on the transfer.
func (b *BankTransfer) NewReferenceCode(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("BD-%s-%s", now.UTC().Format("060102"), suffix)
}

func (b *BankTransfer) DueDate(from time.Time) time.Time {
	return from.AddDate(0, 0, b.cfg.DueDays)
}

func (b *BankTransfer) Instructions(reference string, amount int64, currency string, due time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Please transfer %s by %s.\n", catalog.FormatPrice(amount, currency), due.UTC().Format("2006-01-02"))
	if b.cfg.BankName != "" {
		fmt.Fprintf(&sb, "Bank: %s\n", b.cfg.BankName)
	}
	if b.cfg.AccountName != "" {
		fmt.Fprintf(&sb, "Account name: %s\n", b.cfg.AccountName)
	}
	if b.cfg.AccountNumber != "" {
		fmt.Fprintf(&sb, "Account number: %s\n", b.cfg.AccountNumber)
	}
	if b.cfg.SwiftCode != "" {
		fmt.Fprintf(&sb, "SWIFT: %s\n", b.cfg.SwiftCode)
	}
	fmt.Fprintf(&sb, "Reference: %s", reference)
	return sb.String()
}
