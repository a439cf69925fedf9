package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bakehouse/backoffice/common/model"
	"github.com/bakehouse/backoffice/modules/api"
)

const (
	basePath   = "/audit-logs"
	exportPath = basePath + "/export"
	// audit data changes constantly; cache just long enough to absorb re-renders
	listCacheTTL = 30 * time.Second
	// entries are immutable once written
	itemCacheTTL = time.Hour
)

// Export formats accepted by the server.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

type AuditService interface {
	List(ctx context.Context, filter model.AuditFilter) (*model.Page[model.AuditEntry], error)
	Get(ctx context.Context, id uuid.UUID) (*model.AuditEntry, error)
	Export(ctx context.Context, filter model.AuditFilter, format string) ([]byte, error)
}

type auditService struct {
	client api.Client
}

func NewAuditService(client api.Client) AuditService {
	return &auditService{client: client}
}

func (s *auditService) List(ctx context.Context, filter model.AuditFilter) (*model.Page[model.AuditEntry], error) {
	var page model.Page[model.AuditEntry]
	err := s.client.GetJSON(ctx, basePath, &page, &api.RequestOptions{
		Params:   filter.Params(),
		UseCache: true,
		CacheTTL: listCacheTTL,
	})
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (s *auditService) Get(ctx context.Context, id uuid.UUID) (*model.AuditEntry, error) {
	var entry model.AuditEntry
	err := s.client.GetJSON(ctx, fmt.Sprintf("%s/%s", basePath, id), &entry, &api.RequestOptions{
		UseCache: true,
		CacheTTL: itemCacheTTL,
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Export downloads the entries matching filter as a file in the given format.
func (s *auditService) Export(ctx context.Context, filter model.AuditFilter, format string) ([]byte, error) {
	switch format {
	case "":
		format = FormatCSV
	case FormatCSV, FormatXLSX:
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	params := filter.Params()
	params["format"] = format
	return s.client.Download(ctx, exportPath, &api.RequestOptions{Params: params})
}
