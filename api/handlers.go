/*
handlers.go - HTTP API handlers for the donation ledger

PURPOSE:
  Exposes the donation lifecycle, aggregation service and notification
  inbox via REST API. Handles HTTP request/response, JSON serialization,
  and delegates to the donation package.

ENDPOINTS:
  Users (admin):
    GET    /api/users                      List accounts (?role=&account_status=)
    POST   /api/users                      Create account
    GET    /api/users/{id}                 Get account
    PUT    /api/users/{id}                 Update name/email/role/status

  Donations:
    POST   /api/donations                  Submit (donor; JSON or multipart)
    GET    /api/donations                  List (?status=&payment_method=&donor_id=&from=&to=&limit=)
    GET    /api/donations/{id}             Detail with status history
    GET    /api/donations/{id}/proof       Stream the proof file
    POST   /api/donations/{id}/verify      Verify (cashier, admin)
    POST   /api/donations/{id}/reject      Reject with notes (cashier, admin)

  Donor views (donors see only themselves):
    GET    /api/donors/{id}/totals         Totals per status (?year=)
    GET    /api/donors/{id}/tier           Tier for a month (?year=&month=)
    GET    /api/donors/{id}/series         Monthly verified totals (?year=)

  Reports (cashier, admin):
    GET    /api/reports/summary[.csv]      Period summary
    GET    /api/reports/series[.csv]       Monthly verified totals
    GET    /api/reports/standings[.csv]    Donor ranking with tiers

  Notifications:
    GET    /api/notifications              Caller's inbox (?unread=true)
    POST   /api/notifications/{id}/read    Mark as read

REQUEST FLOW:
  1. Resolve actor (middleware.go)
  2. Parse and validate input
  3. Call donation.Lifecycle / donation.Aggregator
  4. Serialize response
  5. Map errors (writeDomainError)

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 403: Role or ownership check failed
  - 404: Donation, user, notification or proof not found
  - 409: Donation already reviewed, duplicate email
  - 500: Internal errors (details logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/donation-ledger/donation"
	"github.com/warp/donation-ledger/export"
	"github.com/warp/donation-ledger/proof"
)

const (
	defaultMaxUpload = 10 << 20
	maxJSONBody      = 1 << 20
	maxListLimit     = 1000
	dateLayout       = "2006-01-02"
)

var errInvalidID = errors.New("must be a positive integer")

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Lifecycle     *donation.Lifecycle
	Aggregator    *donation.Aggregator
	Users         donation.UserStore
	Notifications donation.NotificationStore

	// Proofs stores uploaded proof files. Nil disables multipart uploads
	// and the proof download endpoint.
	Proofs proof.Store

	Logger *zap.Logger

	// MaxUploadBytes caps multipart submissions; zero means 10 MiB.
	MaxUploadBytes int64

	// Now defaults to time.Now. Used for "current year/month" defaults.
	Now func() time.Time
}

func NewHandler(lc *donation.Lifecycle, agg *donation.Aggregator, users donation.UserStore, inbox donation.NotificationStore, proofs proof.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Lifecycle:     lc,
		Aggregator:    agg,
		Users:         users,
		Notifications: inbox,
		Proofs:        proofs,
		Logger:        logger,
		Now:           time.Now,
	}
}

func (h *Handler) log() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *Handler) loc() *time.Location {
	if h.Aggregator == nil || h.Aggregator.Location == nil {
		return time.UTC
	}
	return h.Aggregator.Location
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now().In(h.loc())
	}
	return h.Now().In(h.loc())
}

func (h *Handler) maxUpload() int64 {
	if h.MaxUploadBytes <= 0 {
		return defaultMaxUpload
	}
	return h.MaxUploadBytes
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns accounts, optionally filtered by role and status.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	var f donation.UserFilter
	q := r.URL.Query()
	if s := q.Get("role"); s != "" {
		role, err := donation.ParseRole(s)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		f.Role = role
	}
	if s := q.Get("account_status"); s != "" {
		st, err := donation.ParseAccountStatus(s)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		f.AccountStatus = st
	}

	users, err := h.Users.ListUsers(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUser registers a new active account.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		h.writeDomainError(w, &donation.ValidationError{Field: "name", Err: donation.ErrMissingName})
		return
	}
	role, err := donation.ParseRole(req.Role)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	u := donation.User{
		Name:          name,
		Email:         strings.TrimSpace(req.Email),
		Role:          role,
		AccountStatus: donation.AccountActive,
	}
	id, err := h.Users.CreateUser(r.Context(), u)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	created, err := h.Users.GetUser(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.log().Info("user created",
		zap.Int64("user_id", int64(id)),
		zap.String("role", string(role)))
	writeJSON(w, http.StatusCreated, toUserDTO(created))
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	u, err := h.Users.GetUser(r.Context(), donation.UserID(id))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

// UpdateUser applies the fields present in the body. Deactivated accounts
// keep their donations; they can no longer sign in or submit.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	var req UpdateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	u, err := h.Users.GetUser(r.Context(), donation.UserID(id))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			h.writeDomainError(w, &donation.ValidationError{Field: "name", Err: donation.ErrMissingName})
			return
		}
		u.Name = name
	}
	if req.Email != nil {
		u.Email = strings.TrimSpace(*req.Email)
	}
	if req.Role != nil {
		if u.Role, err = donation.ParseRole(*req.Role); err != nil {
			h.writeDomainError(w, err)
			return
		}
	}
	if req.AccountStatus != nil {
		if u.AccountStatus, err = donation.ParseAccountStatus(*req.AccountStatus); err != nil {
			h.writeDomainError(w, err)
			return
		}
	}

	if err := h.Users.UpdateUser(r.Context(), u); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

// =============================================================================
// DONATION HANDLERS
// =============================================================================

// SubmitDonation records a pending donation for the calling donor. The proof
// is either an existing reference (JSON) or a file part named "proof"
// (multipart/form-data) that is stored before the donation is written.
func (h *Handler) SubmitDonation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := ActorFrom(ctx)

	var (
		req      SubmitDonationRequest
		upload   io.Reader
		filename string
	)
	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload())
		if err := r.ParseMultipartForm(h.maxUpload()); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid multipart form", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		req.Amount = r.FormValue("amount")
		req.PaymentMethod = r.FormValue("payment_method")
		req.ReferenceNumber = r.FormValue("reference_number")
		req.ProofRef = r.FormValue("proof_ref")

		file, hdr, err := r.FormFile("proof")
		switch {
		case err == nil:
			defer file.Close()
			upload, filename = file, hdr.Filename
		case !errors.Is(err, http.ErrMissingFile):
			writeError(w, http.StatusBadRequest, "Invalid proof file", err)
			return
		}
	} else if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	method, err := donation.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	if upload != nil {
		if h.Proofs == nil {
			writeError(w, http.StatusBadRequest, "Proof uploads are not enabled", nil)
			return
		}
		ref, err := h.Proofs.Put(ctx, filename, upload)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		req.ProofRef = ref
	}

	d, err := h.Lifecycle.Submit(ctx, donation.SubmitRequest{
		DonorID:         actor.ID,
		Amount:          amount,
		PaymentMethod:   method,
		ReferenceNumber: req.ReferenceNumber,
		ProofRef:        req.ProofRef,
	})
	if err != nil {
		if upload != nil {
			h.log().Warn("proof stored for a rejected submission",
				zap.String("proof_ref", req.ProofRef),
				zap.Int64("donor_id", int64(actor.ID)))
		}
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDonationDTO(d, donation.StatusPending))
}

// ListDonations returns donations newest first. Donors only ever see their
// own; donor_id is honoured for staff.
func (h *Handler) ListDonations(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	q := r.URL.Query()

	var f donation.Filter
	if s := q.Get("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			st, err := donation.ParseStatus(part)
			if err != nil {
				h.writeDomainError(w, err)
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if s := q.Get("payment_method"); s != "" {
		m, err := donation.ParsePaymentMethod(s)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		f.PaymentMethod = m
	}

	if actor.Role == donation.RoleDonor {
		id := actor.ID
		f.DonorID = &id
	} else {
		donorID, err := queryUserID(q, "donor_id")
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		f.DonorID = donorID
	}

	period, err := h.periodFromQuery(q)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	f.Created = period

	limit, err := queryInt(q, "limit")
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if limit != nil {
		if *limit <= 0 || *limit > maxListLimit {
			h.writeDomainError(w, &donation.ValidationError{Field: "limit", Err: fmt.Errorf("must be between 1 and %d", maxListLimit), Value: *limit})
			return
		}
		f.Limit = *limit
	}

	records, err := h.Lifecycle.Store.QueryDonations(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]DonationDTO, len(records))
	for i, rec := range records {
		dtos[i] = toRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetDonation returns a donation with its full status history.
func (h *Handler) GetDonation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	detail, err := h.Lifecycle.Get(r.Context(), donation.DonationID(id))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if !visible(r, detail.DonorID) {
		h.writeDomainError(w, donation.ErrDonationNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toDetailDTO(detail))
}

// GetProof streams the stored proof file for a donation.
func (h *Handler) GetProof(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	d, err := h.Lifecycle.Store.GetDonation(r.Context(), donation.DonationID(id))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if !visible(r, d.DonorID) {
		h.writeDomainError(w, donation.ErrDonationNotFound)
		return
	}
	if h.Proofs == nil {
		writeError(w, http.StatusNotFound, "Proof storage is not configured", nil)
		return
	}

	rc, contentType, err := h.Proofs.Open(r.Context(), d.ProofRef)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", path.Base(d.ProofRef)))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.log().Warn("proof stream interrupted", zap.Int64("donation_id", id), zap.Error(err))
	}
}

// VerifyDonation moves a pending donation to verified.
func (h *Handler) VerifyDonation(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, donation.StatusVerified)
}

// RejectDonation moves a pending donation to rejected. Notes are required.
func (h *Handler) RejectDonation(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, donation.StatusRejected)
}

func (h *Handler) review(w http.ResponseWriter, r *http.Request, status donation.Status) {
	ctx := r.Context()
	actor, _ := ActorFrom(ctx)

	id, err := pathID(r, "id")
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	var req ReviewRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := donation.RequireRejectionNotes(status, req.Notes); err != nil {
		h.writeDomainError(w, err)
		return
	}

	_, err = h.Lifecycle.Transition(ctx, donation.TransitionRequest{
		DonationID: donation.DonationID(id),
		Status:     status,
		ActorID:    actor.ID,
		Notes:      strings.TrimSpace(req.Notes),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	detail, err := h.Lifecycle.Get(ctx, donation.DonationID(id))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailDTO(detail))
}

// =============================================================================
// DONOR VIEWS
// =============================================================================

// DonorTotals returns the donor's totals per current status.
func (h *Handler) DonorTotals(w http.ResponseWriter, r *http.Request) {
	donorID, ok := h.donorFromPath(w, r)
	if !ok {
		return
	}
	year, err := queryInt(r.URL.Query(), "year")
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	totals := make(map[donation.Status]decimal.Decimal, len(donation.Statuses))
	for _, st := range donation.Statuses {
		total, err := h.Aggregator.TotalForDonor(r.Context(), donorID, st, year)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		totals[st] = total
	}

	writeJSON(w, http.StatusOK, DonorTotalsDTO{
		DonorID:  int64(donorID),
		Year:     year,
		Verified: money(totals[donation.StatusVerified]),
		Pending:  money(totals[donation.StatusPending]),
		Rejected: money(totals[donation.StatusRejected]),
	})
}

// DonorTier classifies the donor for a month, the current one by default.
func (h *Handler) DonorTier(w http.ResponseWriter, r *http.Request) {
	donorID, ok := h.donorFromPath(w, r)
	if !ok {
		return
	}
	year, month, err := h.yearMonth(r.URL.Query())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	at := time.Date(year, month, 1, 12, 0, 0, 0, h.loc())
	standing, err := h.Aggregator.DonorTier(r.Context(), donorID, at)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTierDTO(standing))
}

// DonorSeries returns the donor's verified total for each month of a year.
func (h *Handler) DonorSeries(w http.ResponseWriter, r *http.Request) {
	donorID, ok := h.donorFromPath(w, r)
	if !ok {
		return
	}
	year, err := h.year(r.URL.Query())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	series, err := h.Aggregator.MonthlySeries(r.Context(), &donorID, year)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSeriesDTO(year, &donorID, series))
}

// donorFromPath resolves {id}, enforcing that donors only read their own
// figures. It writes the error response itself.
func (h *Handler) donorFromPath(w http.ResponseWriter, r *http.Request) (donation.UserID, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeDomainError(w, err)
		return 0, false
	}
	donorID := donation.UserID(id)

	actor, _ := ActorFrom(r.Context())
	if actor.Role == donation.RoleDonor && actor.ID != donorID {
		h.writeDomainError(w, donation.ErrForbidden)
		return 0, false
	}
	if _, err := h.Users.GetUser(r.Context(), donorID); err != nil {
		h.writeDomainError(w, err)
		return 0, false
	}
	return donorID, true
}

// =============================================================================
// REPORTS
// =============================================================================

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.summary(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(s))
}

func (h *Handler) SummaryCSV(w http.ResponseWriter, r *http.Request) {
	s, err := h.summary(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeCSVHeaders(w, "donation-summary.csv")
	if err := export.WriteSummary(w, s); err != nil {
		h.log().Warn("summary export interrupted", zap.Error(err))
	}
}

func (h *Handler) summary(r *http.Request) (donation.Summary, error) {
	q := r.URL.Query()
	period, err := h.periodFromQuery(q)
	if err != nil {
		return donation.Summary{}, err
	}
	sq := donation.SummaryQuery{Period: period}
	if s := q.Get("status"); s != "" {
		st, err := donation.ParseStatus(s)
		if err != nil {
			return donation.Summary{}, err
		}
		sq.Status = &st
	}
	if s := q.Get("payment_method"); s != "" {
		if sq.PaymentMethod, err = donation.ParsePaymentMethod(s); err != nil {
			return donation.Summary{}, err
		}
	}
	if sq.DonorID, err = queryUserID(q, "donor_id"); err != nil {
		return donation.Summary{}, err
	}
	return h.Aggregator.SummaryForPeriod(r.Context(), sq)
}

func (h *Handler) Series(w http.ResponseWriter, r *http.Request) {
	year, donorID, series, err := h.series(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSeriesDTO(year, donorID, series))
}

func (h *Handler) SeriesCSV(w http.ResponseWriter, r *http.Request) {
	year, _, series, err := h.series(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeCSVHeaders(w, fmt.Sprintf("donation-series-%d.csv", year))
	if err := export.WriteSeries(w, year, series); err != nil {
		h.log().Warn("series export interrupted", zap.Error(err))
	}
}

func (h *Handler) series(r *http.Request) (int, *donation.UserID, [12]decimal.Decimal, error) {
	q := r.URL.Query()
	year, err := h.year(q)
	if err != nil {
		return 0, nil, [12]decimal.Decimal{}, err
	}
	donorID, err := queryUserID(q, "donor_id")
	if err != nil {
		return 0, nil, [12]decimal.Decimal{}, err
	}
	series, err := h.Aggregator.MonthlySeries(r.Context(), donorID, year)
	return year, donorID, series, err
}

func (h *Handler) Standings(w http.ResponseWriter, r *http.Request) {
	_, _, standings, names, err := h.standings(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]StandingDTO, len(standings))
	for i, s := range standings {
		dtos[i] = StandingDTO{
			Rank:          i + 1,
			DonorID:       int64(s.DonorID),
			Name:          names[s.DonorID],
			MonthlyTotal:  money(s.MonthlyTotal),
			AnnualTotal:   money(s.AnnualTotal),
			DonationCount: s.DonationCount,
			Tier:          s.Tier.String(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) StandingsCSV(w http.ResponseWriter, r *http.Request) {
	year, month, standings, names, err := h.standings(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeCSVHeaders(w, fmt.Sprintf("donor-standings-%d-%02d.csv", year, int(month)))
	if err := export.WriteStandings(w, year, month, standings, names); err != nil {
		h.log().Warn("standings export interrupted", zap.Error(err))
	}
}

func (h *Handler) standings(r *http.Request) (int, time.Month, []donation.Standing, export.Names, error) {
	year, month, err := h.yearMonth(r.URL.Query())
	if err != nil {
		return 0, 0, nil, nil, err
	}
	standings, err := h.Aggregator.Standings(r.Context(), year, month)
	if err != nil {
		return 0, 0, nil, nil, err
	}
	donors, err := h.Users.ListUsers(r.Context(), donation.UserFilter{Role: donation.RoleDonor})
	if err != nil {
		return 0, 0, nil, nil, err
	}
	names := make(export.Names, len(donors))
	for _, u := range donors {
		names[u.ID] = u.Name
	}
	return year, month, standings, names, nil
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// ListNotifications returns the caller's inbox, newest first.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	unread := r.URL.Query().Get("unread") == "true"

	list, err := h.Notifications.ListNotifications(r.Context(), actor.ID, unread)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]NotificationDTO, len(list))
	for i, n := range list {
		dtos[i] = toNotificationDTO(n)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := h.Notifications.MarkNotificationRead(r.Context(), actor.ID, donation.NotificationID(id)); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// QUERY PARSING
// =============================================================================

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &donation.ValidationError{Field: name, Err: errInvalidID, Value: raw}
	}
	return id, nil
}

func queryInt(q url.Values, name string) (*int, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &donation.ValidationError{Field: name, Err: errors.New("must be an integer"), Value: raw}
	}
	return &n, nil
}

func queryUserID(q url.Values, name string) (*donation.UserID, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return nil, &donation.ValidationError{Field: name, Err: errInvalidID, Value: raw}
	}
	id := donation.UserID(n)
	return &id, nil
}

func (h *Handler) year(q url.Values) (int, error) {
	y, err := queryInt(q, "year")
	if err != nil {
		return 0, err
	}
	if y == nil {
		return h.now().Year(), nil
	}
	return *y, nil
}

// yearMonth defaults each missing part to the current one.
func (h *Handler) yearMonth(q url.Values) (int, time.Month, error) {
	year, err := h.year(q)
	if err != nil {
		return 0, 0, err
	}
	m, err := queryInt(q, "month")
	if err != nil {
		return 0, 0, err
	}
	if m == nil {
		return year, h.now().Month(), nil
	}
	if *m < 1 || *m > 12 {
		return 0, 0, &donation.ValidationError{Field: "month", Err: donation.ErrInvalidPeriod, Value: *m}
	}
	return year, time.Month(*m), nil
}

// periodFromQuery reads ?year=[&month=] or ?from=&to= (inclusive dates).
// No parameters means all time.
func (h *Handler) periodFromQuery(q url.Values) (donation.Period, error) {
	if q.Get("year") != "" {
		year, err := h.year(q)
		if err != nil {
			return donation.Period{}, err
		}
		if q.Get("month") == "" {
			return donation.YearPeriod(year, h.loc()), nil
		}
		_, month, err := h.yearMonth(q)
		if err != nil {
			return donation.Period{}, err
		}
		return donation.MonthPeriod(year, month, h.loc()), nil
	}
	if q.Get("month") != "" {
		return donation.Period{}, &donation.ValidationError{Field: "month", Err: errors.New("requires year")}
	}

	from, err := h.queryDate(q, "from")
	if err != nil {
		return donation.Period{}, err
	}
	to, err := h.queryDate(q, "to")
	if err != nil {
		return donation.Period{}, err
	}
	p := donation.DayRange(from, to, h.loc())
	return p, p.Validate()
}

func (h *Handler) queryDate(q url.Values, name string) (time.Time, error) {
	raw := q.Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout, raw, h.loc())
	if err != nil {
		return time.Time{}, &donation.ValidationError{Field: name, Err: errors.New("use YYYY-MM-DD"), Value: raw}
	}
	return t, nil
}

// parseAmount accepts a positive decimal with at most two fraction digits.
func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() || !d.Equal(d.Round(2)) {
		return decimal.Zero, &donation.ValidationError{Field: "amount", Err: donation.ErrInvalidAmount, Value: raw}
	}
	return d, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// visible reports whether the caller may see a donation owned by donorID.
func visible(r *http.Request, donorID donation.UserID) bool {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		return false
	}
	return actor.Role != donation.RoleDonor || actor.ID == donorID
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	err := decodeJSON(w, r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeCSVHeaders(w http.ResponseWriter, filename string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
}

// writeDomainError maps donation and proof errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, donation.ErrForbidden):
		writeError(w, http.StatusForbidden, "Forbidden", err)
	case errors.Is(err, donation.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "Email already in use", err)
	case donation.IsConflict(err):
		writeError(w, http.StatusConflict, "Donation was already reviewed", err)
	case donation.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, proof.ErrNotFound), errors.Is(err, proof.ErrInvalidRef):
		writeError(w, http.StatusNotFound, "Proof file not found", nil)
	case errors.Is(err, proof.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, "Unsupported proof file type", err)
	case donation.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		h.log().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}
