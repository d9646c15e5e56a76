package properties

import (
	"context"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/stageready/internal/application"
	domain "github.com/bryanwahyu/stageready/internal/domain/properties"
)

// Service implements the glue use-cases around the analysis core: intake,
// payment confirmation, upload links and photo uploads.
type Service struct {
	Repo   domain.Repository
	Photos domain.PhotoStore
	Clock  application.Clock
}

// Command untuk intake
type CreatePropertyCommand struct {
	Name    string
	Email   string
	Phone   string
	Address string
}

// CreateProperty registers a pending property for a (possibly new) owner.
func (s *Service) CreateProperty(ctx context.Context, cmd CreatePropertyCommand) (domain.PropertyID, error) {
	if cmd.Name == "" || cmd.Email == "" || cmd.Address == "" {
		return "", fmt.Errorf("name, email and address are required")
	}

	p := &domain.Property{
		ID:             domain.PropertyID(uuid.New().String()),
		Owner:          domain.Owner{Name: cmd.Name, Email: cmd.Email, Phone: cmd.Phone},
		Address:        cmd.Address,
		Status:         domain.StatusPending,
		AnalysisStatus: domain.AnalysisPending,
		AnalysisMode:   domain.ModeStrict,
		CreatedAt:      s.Clock.Now(),
	}
	if err := s.Repo.Create(ctx, p); err != nil {
		return "", err
	}
	return p.ID, nil
}

// ConfirmPayment flips the property to paid and mints its upload token.
// Called from the payment webhook; idempotent, an existing token is kept.
func (s *Service) ConfirmPayment(ctx context.Context, id domain.PropertyID) error {
	return s.Repo.MarkPaid(ctx, id, uuid.New().String())
}

// UploadLink returns the upload token for a paid property.
func (s *Service) UploadLink(ctx context.Context, id domain.PropertyID) (string, error) {
	p, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if p.Status != domain.StatusPaid {
		return "", domain.ErrNotPaid
	}
	if p.UploadToken == "" {
		return "", domain.ErrTokenNotIssued
	}
	return p.UploadToken, nil
}

// GetByToken resolves a paid property for the upload page.
func (s *Service) GetByToken(ctx context.Context, token string) (*domain.Property, error) {
	p, err := s.Repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.StatusPaid {
		return nil, domain.ErrNotPaid
	}
	return p, nil
}

// UploadPhoto stores the photo bytes and registers them on the property.
// A new upload for a room replaces the previous photo, discards that room's
// analysis result and removes the replaced object from storage.
func (s *Service) UploadPhoto(ctx context.Context, token string, roomType domain.RoomType, data []byte, contentType string) (domain.Photo, error) {
	if !domain.ValidRoomType(roomType) {
		return domain.Photo{}, fmt.Errorf("invalid roomType: %s", roomType)
	}
	if len(data) == 0 {
		return domain.Photo{}, fmt.Errorf("empty photo upload")
	}

	p, err := s.GetByToken(ctx, token)
	if err != nil {
		return domain.Photo{}, err
	}

	key := photoKey(p.ID, roomType, contentType)
	url, err := s.Photos.Upload(ctx, key, data, contentType)
	if err != nil {
		return domain.Photo{}, err
	}

	photo := domain.Photo{URL: url, StorageID: key, RoomType: roomType}
	replaced, err := s.Repo.ReplacePhoto(ctx, p.ID, photo)
	if err != nil {
		return domain.Photo{}, err
	}
	if replaced != nil && replaced.StorageID != photo.StorageID {
		if err := s.Photos.Remove(ctx, replaced.StorageID); err != nil {
			log.Printf("warning: failed to remove replaced photo key=%s err=%v", replaced.StorageID, err)
		}
	}
	return photo, nil
}

func photoKey(id domain.PropertyID, rt domain.RoomType, contentType string) string {
	ext := ".jpg"
	switch strings.ToLower(contentType) {
	case "image/png":
		ext = ".png"
	case "image/webp":
		ext = ".webp"
	}
	name := fmt.Sprintf("%s-%d%s", rt, time.Now().UnixNano(), ext)
	return path.Join(string(id), name)
}
