package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/bryanwahyu/stageready/internal/domain/properties"
)

type PropertyRepository struct {
	db *sql.DB
}

func NewPropertyRepository(db *sql.DB) *PropertyRepository {
	return &PropertyRepository{db: db}
}

const propertyColumns = `p.id, u.name, u.email, u.phone, p.address, p.status, p.upload_token,
       p.photos_json, p.analysis_status, p.analysis_results_json, p.analysis_count, p.analysis_mode,
       p.created_at, p.updated_at`

// Create inserts the property, reusing an existing owner row by email.
func (r *PropertyRepository) Create(ctx context.Context, p *domain.Property) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const upsertUser = `
INSERT INTO users (id, name, email, phone, created_at)
VALUES (?,?,?,?,?)
ON DUPLICATE KEY UPDATE name=VALUES(name), phone=VALUES(phone);`
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if _, err := tx.ExecContext(ctx, upsertUser,
		uuid.New().String(), p.Owner.Name, p.Owner.Email, p.Owner.Phone, created,
	); err != nil {
		return err
	}

	var userID string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE email=?`, p.Owner.Email).Scan(&userID); err != nil {
		return err
	}

	photos, results, err := marshalCollections(p.Photos, p.AnalysisResults)
	if err != nil {
		return err
	}

	const insertProperty = `
INSERT INTO properties
  (id, user_id, address, status, upload_token,
   photos_json, analysis_status, analysis_results_json, analysis_count, analysis_mode,
   created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?);`
	status := stringOrDash(string(p.Status))
	if _, err := tx.ExecContext(ctx, insertProperty,
		p.ID, userID, p.Address, status, nullable(p.UploadToken),
		photos, stringOrDash(string(p.AnalysisStatus)), results, p.AnalysisCount, stringOrDash(string(p.AnalysisMode)),
		created, created,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// Get by ID
func (r *PropertyRepository) GetByID(ctx context.Context, id domain.PropertyID) (*domain.Property, error) {
	q := `
SELECT ` + propertyColumns + `
FROM properties p JOIN users u ON u.id = p.user_id
WHERE p.id=? LIMIT 1;`
	return r.scanOne(r.db.QueryRowContext(ctx, q, id))
}

// Get by upload token
func (r *PropertyRepository) GetByToken(ctx context.Context, token string) (*domain.Property, error) {
	q := `
SELECT ` + propertyColumns + `
FROM properties p JOIN users u ON u.id = p.user_id
WHERE p.upload_token=? LIMIT 1;`
	return r.scanOne(r.db.QueryRowContext(ctx, q, token))
}

// MarkPaid flips to paid and mints the token once; an existing token wins.
func (r *PropertyRepository) MarkPaid(ctx context.Context, id domain.PropertyID, uploadToken string) error {
	const q = `
UPDATE properties
SET status='paid', upload_token=COALESCE(upload_token, ?), updated_at=?
WHERE id=?;`
	res, err := r.db.ExecContext(ctx, q, uploadToken, time.Now(), id)
	if err != nil {
		return err
	}
	return notFoundOnZero(res)
}

// ReplacePhoto upserts the photo by room type and discards that room's
// result inside one transaction.
func (r *PropertyRepository) ReplacePhoto(ctx context.Context, id domain.PropertyID, photo domain.Photo) (*domain.Photo, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	const sel = `
SELECT photos_json, analysis_status, analysis_results_json
FROM properties WHERE id=? FOR UPDATE;`
	var photosRaw, resultsRaw []byte
	var analysisStatus string
	if err := tx.QueryRowContext(ctx, sel, id).Scan(&photosRaw, &analysisStatus, &resultsRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	var photos []domain.Photo
	var results []domain.Result
	if err := unmarshalCollections(photosRaw, resultsRaw, &photos, &results); err != nil {
		return nil, err
	}

	var replaced *domain.Photo
	kept := photos[:0]
	for _, ph := range photos {
		if ph.RoomType == photo.RoomType {
			old := ph
			replaced = &old
			continue
		}
		kept = append(kept, ph)
	}
	photos = append(kept, photo)

	filtered := results[:0]
	for _, res := range results {
		if res.RoomType != photo.RoomType {
			filtered = append(filtered, res)
		}
	}
	results = filtered

	// A fresh photo invalidates the room's verdict; reset to pending unless
	// a run is in flight right now.
	nextStatus := analysisStatus
	if analysisStatus != string(domain.AnalysisAnalyzing) {
		nextStatus = string(domain.AnalysisPending)
	}

	photosJSON, resultsJSON, err := marshalCollections(photos, results)
	if err != nil {
		return nil, err
	}
	const upd = `
UPDATE properties
SET photos_json=?, analysis_results_json=?, analysis_status=?, updated_at=?
WHERE id=?;`
	if _, err := tx.ExecContext(ctx, upd, photosJSON, resultsJSON, nextStatus, time.Now(), id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return replaced, nil
}

// ClaimAnalysis is the sole concurrency guard: one conditional UPDATE moves
// the row into analyzing. Stale analyzing rows (crashed runs) become
// reclaimable after the staleness window.
func (r *PropertyRepository) ClaimAnalysis(ctx context.Context, token string, mode domain.AnalysisMode) (bool, error) {
	const q = `
UPDATE properties
SET analysis_status='analyzing', analysis_mode=?, updated_at=NOW()
WHERE upload_token=?
  AND (analysis_status <> 'analyzing' OR updated_at < NOW() - INTERVAL 10 MINUTE);`
	res, err := r.db.ExecContext(ctx, q, mode, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpsertResult replaces-or-appends the result keyed by roomType.
func (r *PropertyRepository) UpsertResult(ctx context.Context, id domain.PropertyID, result domain.Result) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var resultsRaw []byte
	if err := tx.QueryRowContext(ctx,
		`SELECT analysis_results_json FROM properties WHERE id=? FOR UPDATE;`, id,
	).Scan(&resultsRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	}

	var results []domain.Result
	if len(resultsRaw) > 0 {
		if err := json.Unmarshal(resultsRaw, &results); err != nil {
			return fmt.Errorf("decode analysis_results_json: %w", err)
		}
	}

	kept := results[:0]
	for _, res := range results {
		if res.RoomType != result.RoomType {
			kept = append(kept, res)
		}
	}
	results = append(kept, result)

	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE properties SET analysis_results_json=?, updated_at=? WHERE id=?;`,
		resultsJSON, time.Now(), id,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// FinishAnalysis records a completed run.
func (r *PropertyRepository) FinishAnalysis(ctx context.Context, id domain.PropertyID, runs int, mode domain.AnalysisMode) error {
	const q = `
UPDATE properties
SET analysis_status='completed', analysis_count=?, analysis_mode=?, updated_at=?
WHERE id=?;`
	res, err := r.db.ExecContext(ctx, q, runs, mode, time.Now(), id)
	if err != nil {
		return err
	}
	return notFoundOnZero(res)
}

// MarkAnalysisFailed only flips the status; the run count stays untouched.
func (r *PropertyRepository) MarkAnalysisFailed(ctx context.Context, id domain.PropertyID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE properties SET analysis_status='failed', updated_at=? WHERE id=?;`,
		time.Now(), id,
	)
	return err
}

func (r *PropertyRepository) scanOne(row *sql.Row) (*domain.Property, error) {
	var p domain.Property
	var token sql.NullString
	var photosRaw, resultsRaw []byte
	if err := row.Scan(
		&p.ID, &p.Owner.Name, &p.Owner.Email, &p.Owner.Phone, &p.Address, &p.Status, &token,
		&photosRaw, &p.AnalysisStatus, &resultsRaw, &p.AnalysisCount, &p.AnalysisMode,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	p.UploadToken = token.String
	if err := unmarshalCollections(photosRaw, resultsRaw, &p.Photos, &p.AnalysisResults); err != nil {
		return nil, err
	}
	return &p, nil
}

func marshalCollections(photos []domain.Photo, results []domain.Result) ([]byte, []byte, error) {
	if photos == nil {
		photos = []domain.Photo{}
	}
	if results == nil {
		results = []domain.Result{}
	}
	photosJSON, err := json.Marshal(photos)
	if err != nil {
		return nil, nil, err
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return nil, nil, err
	}
	return photosJSON, resultsJSON, nil
}

func unmarshalCollections(photosRaw, resultsRaw []byte, photos *[]domain.Photo, results *[]domain.Result) error {
	if len(photosRaw) > 0 {
		if err := json.Unmarshal(photosRaw, photos); err != nil {
			return fmt.Errorf("decode photos_json: %w", err)
		}
	}
	if len(resultsRaw) > 0 {
		if err := json.Unmarshal(resultsRaw, results); err != nil {
			return fmt.Errorf("decode analysis_results_json: %w", err)
		}
	}
	return nil
}

// stringOrDash keeps enum columns non-empty; "-" marks a value that was
// never set.
func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func notFoundOnZero(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
