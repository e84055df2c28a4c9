package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/pkg/db/pagination"
)

// AddCreditsRequest describes one ledger posting.
type AddCreditsRequest struct {
	OrgID             snowflake.ID
	Amount            int64
	Type              TransactionType
	ExternalReference *string
	Description       *string
	CreatedBy         *snowflake.ID
}

// AddCreditsResult carries the recorded (or previously recorded) transaction.
type AddCreditsResult struct {
	Transaction CreditTransaction
	// AlreadyApplied is true when the external reference had been recorded
	// before this call; the returned transaction is the existing one.
	AlreadyApplied bool
}

type ListTransactionsRequest struct {
	pagination.Pagination
	OrgID snowflake.ID
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []CreditTransaction `json:"transactions"`
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	// AddCredits appends one transaction inside a single database transaction.
	// Re-posting an already-recorded external reference succeeds and returns
	// the existing transaction unchanged.
	AddCredits(ctx context.Context, req AddCreditsRequest) (AddCreditsResult, error)
	// GetBalance returns the sum of all transactions for the organization.
	GetBalance(ctx context.Context, orgID snowflake.ID) (int64, error)
	// BalanceByOrg batches GetBalance for a set of organizations. Orgs with
	// no transactions are absent from the map.
	BalanceByOrg(ctx context.Context, orgIDs []snowflake.ID) (map[snowflake.ID]int64, error)
	List(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidType         = errors.New("invalid_transaction_type")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
)
