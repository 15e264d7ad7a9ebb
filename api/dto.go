/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the donation domain model from the external API contract. Amounts cross
  the wire as decimal strings ("1500.00"), never as floats.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Users:         UserDTO, CreateUserRequest, UpdateUserRequest
  Donations:     DonationDTO, StatusEntryDTO, DonationDetailDTO,
                 SubmitDonationRequest, ReviewRequest
  Aggregation:   DonorTotalsDTO, TierDTO, SeriesDTO, SummaryDTO, StandingDTO
  Notifications: NotificationDTO

VALIDATION:
  Validation is done in handlers and the donation package, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/donation-ledger/donation"
)

// =============================================================================
// USERS
// =============================================================================

type UserDTO struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	AccountStatus string `json:"account_status"`
	CreatedAt     string `json:"created_at,omitempty"`
}

type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// UpdateUserRequest changes only the fields that are present.
type UpdateUserRequest struct {
	Name          *string `json:"name,omitempty"`
	Email         *string `json:"email,omitempty"`
	Role          *string `json:"role,omitempty"`
	AccountStatus *string `json:"account_status,omitempty"`
}

func toUserDTO(u donation.User) UserDTO {
	dto := UserDTO{
		ID:            int64(u.ID),
		Name:          u.Name,
		Email:         u.Email,
		Role:          string(u.Role),
		AccountStatus: string(u.AccountStatus),
	}
	if !u.CreatedAt.IsZero() {
		dto.CreatedAt = u.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// DONATIONS
// =============================================================================

// SubmitDonationRequest is the JSON form of a submission. The multipart form
// uses the same field names with a "proof" file part instead of proof_ref.
type SubmitDonationRequest struct {
	Amount          string `json:"amount"`
	PaymentMethod   string `json:"payment_method"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	ProofRef        string `json:"proof_ref"`
}

// ReviewRequest is the body of verify and reject.
type ReviewRequest struct {
	Notes string `json:"notes"`
}

type DonationDTO struct {
	ID              int64  `json:"id"`
	DonorID         int64  `json:"donor_id"`
	Amount          string `json:"amount"`
	PaymentMethod   string `json:"payment_method"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	ProofRef        string `json:"proof_ref"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
	StatusChangedAt string `json:"status_changed_at,omitempty"`
}

type StatusEntryDTO struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	ChangedBy int64  `json:"changed_by"`
	ChangedAt string `json:"changed_at"`
	Notes     string `json:"notes,omitempty"`
}

type DonationDetailDTO struct {
	DonationDTO
	History []StatusEntryDTO `json:"history"`
}

func toDonationDTO(d donation.Donation, status donation.Status) DonationDTO {
	return DonationDTO{
		ID:              int64(d.ID),
		DonorID:         int64(d.DonorID),
		Amount:          money(d.Amount),
		PaymentMethod:   string(d.PaymentMethod),
		ReferenceNumber: d.ReferenceNumber,
		ProofRef:        d.ProofRef,
		Status:          string(status),
		CreatedAt:       d.CreatedAt.Format(time.RFC3339),
	}
}

func toRecordDTO(r donation.Record) DonationDTO {
	dto := toDonationDTO(r.Donation, r.Status)
	if !r.StatusChangedAt.IsZero() {
		dto.StatusChangedAt = r.StatusChangedAt.Format(time.RFC3339)
	}
	return dto
}

func toStatusEntryDTO(e donation.StatusEntry) StatusEntryDTO {
	return StatusEntryDTO{
		ID:        int64(e.ID),
		Status:    string(e.Status),
		ChangedBy: int64(e.ChangedBy),
		ChangedAt: e.ChangedAt.Format(time.RFC3339),
		Notes:     e.Notes,
	}
}

func toDetailDTO(d donation.Detail) DonationDetailDTO {
	dto := DonationDetailDTO{
		DonationDTO: toDonationDTO(d.Donation, d.Status),
		History:     make([]StatusEntryDTO, len(d.History)),
	}
	for i, e := range d.History {
		dto.History[i] = toStatusEntryDTO(e)
	}
	if cur, err := donation.CurrentStatus(d.History); err == nil {
		dto.StatusChangedAt = cur.ChangedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// AGGREGATION
// =============================================================================

type DonorTotalsDTO struct {
	DonorID  int64  `json:"donor_id"`
	Year     *int   `json:"year,omitempty"`
	Verified string `json:"verified"`
	Pending  string `json:"pending"`
	Rejected string `json:"rejected"`
}

type TierDTO struct {
	DonorID       int64  `json:"donor_id"`
	Year          int    `json:"year"`
	Month         int    `json:"month"`
	Tier          string `json:"tier"`
	MonthlyTotal  string `json:"monthly_total"`
	AnnualTotal   string `json:"annual_total"`
	LifetimeTotal string `json:"lifetime_total"`
	NextTier      string `json:"next_tier,omitempty"`
	Shortfall     string `json:"shortfall"`
}

func toTierDTO(s donation.TierStanding) TierDTO {
	dto := TierDTO{
		DonorID:       int64(s.DonorID),
		Year:          s.Year,
		Month:         int(s.Month),
		Tier:          s.Tier.String(),
		MonthlyTotal:  money(s.MonthlyTotal),
		AnnualTotal:   money(s.AnnualTotal),
		LifetimeTotal: money(s.LifetimeTotal),
		Shortfall:     money(s.Shortfall),
	}
	if s.NextTier != s.Tier {
		dto.NextTier = s.NextTier.String()
	}
	return dto
}

type MonthAmountDTO struct {
	Month  string `json:"month"`
	Amount string `json:"amount"`
}

type SeriesDTO struct {
	Year    int              `json:"year"`
	DonorID *int64           `json:"donor_id,omitempty"`
	Months  []MonthAmountDTO `json:"months"`
	Total   string           `json:"total"`
}

func toSeriesDTO(year int, donorID *donation.UserID, series [12]decimal.Decimal) SeriesDTO {
	dto := SeriesDTO{Year: year, Months: make([]MonthAmountDTO, 12)}
	if donorID != nil {
		id := int64(*donorID)
		dto.DonorID = &id
	}
	total := decimal.Zero
	for i, v := range series {
		dto.Months[i] = MonthAmountDTO{Month: time.Month(i + 1).String(), Amount: money(v)}
		total = total.Add(v)
	}
	dto.Total = money(total)
	return dto
}

type BreakdownDTO struct {
	Count  int    `json:"count"`
	Amount string `json:"amount"`
}

type SummaryDTO struct {
	From             string                  `json:"from,omitempty"`
	To               string                  `json:"to,omitempty"`
	TotalAmount      string                  `json:"total_amount"`
	TransactionCount int                     `json:"transaction_count"`
	ByStatus         map[string]BreakdownDTO `json:"by_status"`
	ByPaymentMethod  map[string]BreakdownDTO `json:"by_payment_method"`
}

func toSummaryDTO(s donation.Summary) SummaryDTO {
	dto := SummaryDTO{
		TotalAmount:      money(s.TotalAmount),
		TransactionCount: s.TransactionCount,
		ByStatus:         make(map[string]BreakdownDTO, len(s.ByStatus)),
		ByPaymentMethod:  make(map[string]BreakdownDTO, len(s.ByPaymentMethod)),
	}
	if !s.Period.Start.IsZero() {
		dto.From = s.Period.Start.Format(time.RFC3339)
	}
	if !s.Period.End.IsZero() {
		dto.To = s.Period.End.Format(time.RFC3339)
	}
	for st, amount := range s.ByStatus {
		dto.ByStatus[string(st)] = BreakdownDTO{Count: s.CountByStatus[st], Amount: money(amount)}
	}
	for m, n := range s.ByPaymentMethod {
		dto.ByPaymentMethod[string(m)] = BreakdownDTO{Count: n, Amount: money(s.AmountByMethod[m])}
	}
	return dto
}

type StandingDTO struct {
	Rank          int    `json:"rank"`
	DonorID       int64  `json:"donor_id"`
	Name          string `json:"name,omitempty"`
	MonthlyTotal  string `json:"monthly_total"`
	AnnualTotal   string `json:"annual_total"`
	DonationCount int    `json:"donation_count"`
	Tier          string `json:"tier"`
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type NotificationDTO struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Kind      string `json:"kind"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
}

func toNotificationDTO(n donation.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        int64(n.ID),
		Title:     n.Title,
		Message:   n.Message,
		Kind:      string(n.Kind),
		Read:      n.Read,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }
