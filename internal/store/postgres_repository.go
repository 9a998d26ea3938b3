/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Amounts are stored as NUMERIC and moved across the wire as text so that no precision
 * is lost between the database and shopspring/decimal.
 *
 * Every state change that must happen at most once is expressed as a single guarded
 * statement (status compare-and-set, NOT EXISTS insert) or as one transaction.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: Decimal parsing of NUMERIC columns.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kaleabSolomon/sewlesew-backend/internal/domain"
	"github.com/shopspring/decimal"
)

const campaignColumns = `
	id, title, description, category,
	goal_amount::text, goal_currency, raised_amount::text, raised_amount_usd::text,
	deadline, status, user_id, agent_id, business_id, charity_id,
	close_code_hash, close_code_expires_at, close_code_verified_at,
	created_at, updated_at`

const donationColumns = `
	id, campaign_id, user_id, tx_ref, amount::text, currency,
	donor_first_name, donor_last_name, email, is_anonymous,
	payment_status, gateway, failure_reason, created_at, updated_at`

// raisedColumns maps a donation currency to the campaign column that accumulates it.
var raisedColumns = map[domain.Currency]string{
	domain.CurrencyETB: "raised_amount",
	domain.CurrencyUSD: "raised_amount_usd",
}

type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var (
		c                          domain.Campaign
		goal, raisedETB, raisedUSD string
		goalCurrency, status       string
		userID, agentID            *uuid.UUID
		businessID, charityID      *uuid.UUID
	)
	err := row.Scan(
		&c.ID, &c.Title, &c.Description, &c.Category,
		&goal, &goalCurrency, &raisedETB, &raisedUSD,
		&c.Deadline, &status, &userID, &agentID, &businessID, &charityID,
		&c.CloseCodeHash, &c.CloseCodeExpiresAt, &c.CloseCodeVerifiedAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if c.GoalAmount, err = decimal.NewFromString(goal); err != nil {
		return nil, fmt.Errorf("parse goal amount: %w", err)
	}
	etb, err := decimal.NewFromString(raisedETB)
	if err != nil {
		return nil, fmt.Errorf("parse raised amount: %w", err)
	}
	usd, err := decimal.NewFromString(raisedUSD)
	if err != nil {
		return nil, fmt.Errorf("parse raised usd amount: %w", err)
	}
	c.Raised = domain.Ledger{domain.CurrencyETB: etb, domain.CurrencyUSD: usd}
	if c.GoalCurrency, err = domain.ParseCurrency(goalCurrency); err != nil {
		return nil, fmt.Errorf("campaign %s: %w", c.ID, err)
	}
	c.Status = domain.CampaignStatus(status)

	if c.Owner, err = domain.OwnerFromColumns(userID, agentID); err != nil {
		return nil, fmt.Errorf("campaign %s: %w", c.ID, err)
	}
	if c.Registration, err = domain.RegistrationFromColumns(businessID, charityID); err != nil {
		return nil, fmt.Errorf("campaign %s: %w", c.ID, err)
	}
	return &c, nil
}

func scanDonation(row rowScanner) (*domain.Donation, error) {
	var (
		d                      domain.Donation
		amount, currency       string
		paymentStatus, gateway string
	)
	err := row.Scan(
		&d.ID, &d.CampaignID, &d.UserID, &d.TxRef, &amount, &currency,
		&d.DonorFirstName, &d.DonorLastName, &d.Email, &d.IsAnonymous,
		&paymentStatus, &gateway, &d.FailureReason, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if d.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse donation amount: %w", err)
	}
	if d.Currency, err = domain.ParseCurrency(currency); err != nil {
		return nil, fmt.Errorf("donation %s: %w", d.ID, err)
	}
	d.PaymentStatus = domain.PaymentStatus(paymentStatus)
	d.Gateway = domain.Gateway(gateway)
	return &d, nil
}

func statusStrings(statuses []domain.CampaignStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

// GetCampaignByID retrieves a campaign by its ID.
func (r *PostgresRepository) GetCampaignByID(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	campaign, err := scanCampaign(r.db.QueryRow(ctx, query, campaignID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	return campaign, nil
}

// ListCampaigns returns campaigns in the requested status, newest first. DELETED campaigns
// are never listed.
func (r *PostgresRepository) ListCampaigns(ctx context.Context, opts domain.CampaignListOptions) ([]domain.Campaign, error) {
	status := opts.Status
	if status == "" {
		status = domain.CampaignStatusActive
	}
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		conditions = []string{"status = $1", "status <> 'DELETED'"}
		args       = []any{string(status)}
	)
	if category := strings.TrimSpace(opts.Category); category != "" {
		args = append(args, category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT %s
		FROM campaigns
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, campaignColumns, strings.Join(conditions, " AND "), len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := make([]domain.Campaign, 0, limit)
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *campaign)
	}
	return campaigns, rows.Err()
}

// GetCampaignContactPhone returns the phone of the business or charity behind a campaign.
func (r *PostgresRepository) GetCampaignContactPhone(ctx context.Context, campaignID uuid.UUID) (string, error) {
	query := `
		SELECT COALESCE(b.contact_phone, ch.contact_phone, '')
		FROM campaigns c
		LEFT JOIN businesses b ON b.id = c.business_id
		LEFT JOIN charities ch ON ch.id = c.charity_id
		WHERE c.id = $1
	`
	var phone string
	if err := r.db.QueryRow(ctx, query, campaignID).Scan(&phone); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrCampaignNotFound
		}
		return "", err
	}
	if strings.TrimSpace(phone) == "" {
		return "", ErrContactPhoneNotFound
	}
	return phone, nil
}

// TransitionCampaignStatus performs a compare-and-set on the campaign status.
func (r *PostgresRepository) TransitionCampaignStatus(ctx context.Context, campaignID uuid.UUID, from []domain.CampaignStatus, to domain.CampaignStatus) (*domain.Campaign, error) {
	query := `
		UPDATE campaigns
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
		RETURNING ` + campaignColumns
	campaign, err := scanCampaign(r.db.QueryRow(ctx, query, campaignID, string(to), statusStrings(from)))
	if err == nil {
		return campaign, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM campaigns WHERE id = $1)`, campaignID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrCampaignNotFound
	}
	return nil, ErrCampaignStatusConflict
}

// CloseActiveCampaign transitions an ACTIVE campaign and records why, in one transaction.
func (r *PostgresRepository) CloseActiveCampaign(ctx context.Context, campaignID uuid.UUID, to domain.CampaignStatus, reason string, isCompleted bool) (*domain.Campaign, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	transitioned := true
	updateQuery := `
		UPDATE campaigns
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING ` + campaignColumns
	campaign, err := scanCampaign(tx.QueryRow(ctx, updateQuery, campaignID, string(to)))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("failed to transition campaign: %w", err)
		}
		campaign, err = scanCampaign(tx.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1 FOR UPDATE`, campaignID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, false, ErrCampaignNotFound
			}
			return nil, false, err
		}
		if campaign.Status != to {
			return campaign, false, ErrCampaignStatusConflict
		}
		transitioned = false
	}

	if _, err := insertClosureRecord(ctx, tx, campaignID, reason, isCompleted); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit campaign closure: %w", err)
	}
	return campaign, transitioned, nil
}

// CloseCampaignsPastDeadline bulk-closes every ACTIVE campaign whose deadline has passed.
func (r *PostgresRepository) CloseCampaignsPastDeadline(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	query := `
		UPDATE campaigns
		SET status = 'CLOSED', updated_at = NOW()
		WHERE status = 'ACTIVE' AND deadline <= $1
		RETURNING id
	`
	return r.collectIDs(ctx, query, now)
}

// ListClosedCampaignsMissingClosure finds deadline-closed campaigns that have no closure record.
func (r *PostgresRepository) ListClosedCampaignsMissingClosure(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	query := `
		SELECT c.id
		FROM campaigns c
		WHERE c.status = 'CLOSED'
		  AND c.deadline <= $1
		  AND NOT EXISTS (SELECT 1 FROM closed_campaigns cc WHERE cc.campaign_id = c.id)
	`
	return r.collectIDs(ctx, query, now)
}

func (r *PostgresRepository) collectIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertClosureRecord(ctx context.Context, db execer, campaignID uuid.UUID, reason string, isCompleted bool) (bool, error) {
	query := `
		INSERT INTO closed_campaigns (id, campaign_id, reason, is_completed, created_at)
		SELECT $1, $2, $3, $4, NOW()
		WHERE NOT EXISTS (SELECT 1 FROM closed_campaigns WHERE campaign_id = $2)
		ON CONFLICT (campaign_id) DO NOTHING
	`
	tag, err := db.Exec(ctx, query, uuid.New(), campaignID, reason, isCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to insert closure record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertClosureRecord writes the closure record unless one already exists.
func (r *PostgresRepository) InsertClosureRecord(ctx context.Context, campaignID uuid.UUID, reason string, isCompleted bool) (bool, error) {
	return insertClosureRecord(ctx, r.db, campaignID, reason, isCompleted)
}

// GetClosureRecord returns the closure record of a campaign, or nil when it has none.
func (r *PostgresRepository) GetClosureRecord(ctx context.Context, campaignID uuid.UUID) (*domain.ClosedCampaign, error) {
	var record domain.ClosedCampaign
	query := `SELECT id, campaign_id, reason, is_completed, created_at FROM closed_campaigns WHERE campaign_id = $1`
	err := r.db.QueryRow(ctx, query, campaignID).Scan(&record.ID, &record.CampaignID, &record.Reason, &record.IsCompleted, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// SetCloseCode stores a fresh verification code hash, replacing any previous one.
func (r *PostgresRepository) SetCloseCode(ctx context.Context, campaignID uuid.UUID, codeHash string, expiresAt time.Time) error {
	query := `
		UPDATE campaigns
		SET close_code_hash = $2, close_code_expires_at = $3, close_code_verified_at = NULL, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, campaignID, codeHash, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCampaignNotFound
	}
	return nil
}

// ConsumeCloseCode clears the stored code so it cannot be used twice.
func (r *PostgresRepository) ConsumeCloseCode(ctx context.Context, campaignID uuid.UUID, verifiedAt time.Time) error {
	query := `
		UPDATE campaigns
		SET close_code_hash = NULL, close_code_expires_at = NULL, close_code_verified_at = $2, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, campaignID, verifiedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCampaignNotFound
	}
	return nil
}

// CreateDonation inserts a new donation record.
func (r *PostgresRepository) CreateDonation(ctx context.Context, d *domain.Donation) error {
	query := `
		INSERT INTO donations (
			id, campaign_id, user_id, tx_ref, amount, currency,
			donor_first_name, donor_last_name, email, is_anonymous,
			payment_status, gateway
		)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		d.ID, d.CampaignID, d.UserID, d.TxRef, d.Amount.String(), string(d.Currency),
		d.DonorFirstName, d.DonorLastName, d.Email, d.IsAnonymous,
		string(d.PaymentStatus), string(d.Gateway),
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateTxRef
		}
		return err
	}
	return nil
}

// GetDonationByTxRef retrieves a donation by its transaction reference.
func (r *PostgresRepository) GetDonationByTxRef(ctx context.Context, txRef string) (*domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE tx_ref = $1`
	donation, err := scanDonation(r.db.QueryRow(ctx, query, txRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDonationNotFound
		}
		return nil, err
	}
	return donation, nil
}

// ListVerifiedDonationsByCampaign returns confirmed donations of a campaign, newest first.
func (r *PostgresRepository) ListVerifiedDonationsByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE campaign_id = $1 AND payment_status = 'VERIFIED' ORDER BY created_at DESC`
	return r.listDonations(ctx, query, campaignID)
}

// ListVerifiedDonationsByUser returns confirmed donations made by a user, newest first.
func (r *PostgresRepository) ListVerifiedDonationsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE user_id = $1 AND payment_status = 'VERIFIED' ORDER BY created_at DESC`
	return r.listDonations(ctx, query, userID)
}

func (r *PostgresRepository) listDonations(ctx context.Context, query string, args ...any) ([]domain.Donation, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	donations := []domain.Donation{}
	for rows.Next() {
		donation, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		donations = append(donations, *donation)
	}
	return donations, rows.Err()
}

// pendingGuardMiss distinguishes an unknown reference from one that is no longer PENDING.
func pendingGuardMiss(ctx context.Context, tx pgx.Tx, txRef string) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT payment_status FROM donations WHERE tx_ref = $1`, txRef).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDonationNotFound
		}
		return err
	}
	return ErrDonationAlreadyProcessed
}

// VerifyDonationAndCredit runs the PENDING guard and the ledger increment in one transaction.
func (r *PostgresRepository) VerifyDonationAndCredit(ctx context.Context, txRef string) (*domain.Donation, *domain.Campaign, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	verifyQuery := `
		UPDATE donations
		SET payment_status = 'VERIFIED', updated_at = NOW()
		WHERE tx_ref = $1 AND payment_status = 'PENDING'
		RETURNING ` + donationColumns
	donation, err := scanDonation(tx.QueryRow(ctx, verifyQuery, txRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, pendingGuardMiss(ctx, tx, txRef)
		}
		return nil, nil, fmt.Errorf("failed to verify donation: %w", err)
	}

	column, ok := raisedColumns[donation.Currency]
	if !ok {
		return nil, nil, fmt.Errorf("donation %s has unsupported currency %q", donation.ID, donation.Currency)
	}
	creditQuery := fmt.Sprintf(`
		UPDATE campaigns
		SET %[1]s = %[1]s + $2::numeric, updated_at = NOW()
		WHERE id = $1
		RETURNING %[2]s
	`, column, campaignColumns)
	campaign, err := scanCampaign(tx.QueryRow(ctx, creditQuery, donation.CampaignID, donation.Amount.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrCampaignNotFound
		}
		return nil, nil, fmt.Errorf("failed to credit campaign: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit donation verification: %w", err)
	}
	return donation, campaign, nil
}

// MarkDonationFailed flips a PENDING donation to FAILED.
func (r *PostgresRepository) MarkDonationFailed(ctx context.Context, txRef string, reason string) (*domain.Donation, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE donations
		SET payment_status = 'FAILED', failure_reason = NULLIF($2, ''), updated_at = NOW()
		WHERE tx_ref = $1 AND payment_status = 'PENDING'
		RETURNING ` + donationColumns
	donation, err := scanDonation(tx.QueryRow(ctx, query, txRef, reason))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pendingGuardMiss(ctx, tx, txRef)
		}
		return nil, fmt.Errorf("failed to mark donation failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit donation failure: %w", err)
	}
	return donation, nil
}

// GetLatestCurrencyRate returns the current rate snapshot.
func (r *PostgresRepository) GetLatestCurrencyRate(ctx context.Context) (*domain.CurrencyRate, error) {
	var (
		rate     domain.CurrencyRate
		etb, usd string
	)
	query := `SELECT id, etb_value::text, usd_value::text, created_at FROM currency_rates ORDER BY created_at DESC LIMIT 1`
	if err := r.db.QueryRow(ctx, query).Scan(&rate.ID, &etb, &usd, &rate.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCurrencyRateNotFound
		}
		return nil, err
	}

	var err error
	if rate.ETBValue, err = decimal.NewFromString(etb); err != nil {
		return nil, fmt.Errorf("parse etb value: %w", err)
	}
	if rate.USDValue, err = decimal.NewFromString(usd); err != nil {
		return nil, fmt.Errorf("parse usd value: %w", err)
	}
	return &rate, nil
}

// ReplaceCurrencyRate swaps the stored snapshot for a new one in a single transaction, so
// readers never observe an empty table.
func (r *PostgresRepository) ReplaceCurrencyRate(ctx context.Context, rate domain.CurrencyRate) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM currency_rates`); err != nil {
		return fmt.Errorf("failed to clear currency rates: %w", err)
	}

	insertQuery := `
		INSERT INTO currency_rates (id, etb_value, usd_value, created_at)
		VALUES ($1, $2::numeric, $3::numeric, $4)
	`
	if _, err := tx.Exec(ctx, insertQuery, rate.ID, rate.ETBValue.String(), rate.USDValue.String(), rate.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert currency rate: %w", err)
	}

	return tx.Commit(ctx)
}
