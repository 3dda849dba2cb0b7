package media

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

type CloudinaryStore struct {
	client    *cloudinary.Cloudinary
	cloudName string
}

func NewCloudinaryStore(cloudName, apiKey, apiSecret string) (*CloudinaryStore, error) {
	client, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("cloudinary init: %w", err)
	}
	return &CloudinaryStore{client: client, cloudName: cloudName}, nil
}

func (s *CloudinaryStore) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	params := uploader.UploadParams{
		PublicID: in.PublicID,
		Folder:   in.Folder,
	}
	if in.ResourceType != "" {
		params.ResourceType = in.ResourceType
	}
	res, err := s.client.Upload.Upload(ctx, in.Reader, params)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", in.FileName, err)
	}
	if res.Error.Message != "" {
		return nil, fmt.Errorf("upload %s: %s", in.FileName, res.Error.Message)
	}
	// The upload response carries no duration; it stays zero until a
	// metadata query supplies it.
	return &UploadResult{
		URL:          res.SecureURL,
		PublicID:     res.PublicID,
		ResourceType: res.ResourceType,
		Format:       res.Format,
		Bytes:        int64(res.Bytes),
		Width:        res.Width,
		Height:       res.Height,
	}, nil
}

func (s *CloudinaryStore) Delete(ctx context.Context, item Item) error {
	resourceType := item.ResourceType
	if resourceType == "" {
		resourceType = api.Image.String()
	}
	res, err := s.client.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     item.PublicID,
		ResourceType: resourceType,
	})
	if err != nil {
		return fmt.Errorf("destroy %s: %w", item.PublicID, err)
	}
	// "not found" counts as deleted; the goal is the asset being gone.
	if res.Result != "ok" && res.Result != "not found" {
		return fmt.Errorf("destroy %s: %s", item.PublicID, res.Result)
	}
	return nil
}

func (s *CloudinaryStore) Cleanup(ctx context.Context, items []Item) CleanupSummary {
	summary := CleanupSummary{TotalAttempted: len(items)}
	for _, item := range items {
		r := ItemResult{PublicID: item.PublicID}
		if err := s.Delete(ctx, item); err != nil {
			r.Error = err.Error()
			summary.Failed++
			slog.Warn("media cleanup failed", "public_id", item.PublicID, "error", err)
		} else {
			r.Deleted = true
			summary.Deleted++
		}
		summary.Items = append(summary.Items, r)
	}
	return summary
}

// Derived video URLs are assembled from the documented delivery URL scheme so
// no extra API round trips are needed after upload.
func (s *CloudinaryStore) VideoFormatURL(publicID, transform, format string) string {
	return fmt.Sprintf("https://res.cloudinary.com/%s/video/upload/%s/%s.%s",
		s.cloudName, transform, publicID, format)
}

func (s *CloudinaryStore) VideoMP4URL(publicID string) string {
	return s.VideoFormatURL(publicID, "q_auto", "mp4")
}

func (s *CloudinaryStore) VideoWebMURL(publicID string) string {
	return s.VideoFormatURL(publicID, "q_auto", "webm")
}

func (s *CloudinaryStore) VideoMobileURL(publicID string) string {
	return s.VideoFormatURL(publicID, "q_auto:low,w_640", "mp4")
}

// VideoThumbnailURL captures a frame at the start of the video.
func (s *CloudinaryStore) VideoThumbnailURL(publicID string) string {
	return s.VideoFormatURL(publicID, "so_0,w_640", "jpg")
}

// SanitizePublicID strips characters Cloudinary rejects in public IDs.
func SanitizePublicID(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
