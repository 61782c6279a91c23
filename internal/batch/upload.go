package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/finbase/docingest/internal/api"
	"github.com/finbase/docingest/internal/config"
	"github.com/finbase/docingest/internal/models"
)

// Transfer timeout estimation. The byte term assumes a worst-case upload
// throughput; the record term budgets server-side intake per statement row,
// with the row count estimated from the file size.
const (
	transferRate   = 250 * 1024 // bytes per second
	avgRecordBytes = 512
	perRecordCost  = 2 * time.Millisecond
)

// transferTimeout scales the transfer deadline with the file's byte size and
// its estimated record count, clamped to the configured bounds.
func transferTimeout(size int64, cfg *config.IngestConfig) time.Duration {
	records := size / avgRecordBytes
	timeout := time.Second +
		time.Duration(size/transferRate)*time.Second +
		time.Duration(records)*perRecordCost
	if floor := cfg.TransferTimeoutFloor(); timeout < floor {
		return floor
	}
	if ceiling := cfg.TransferTimeoutCeiling(); timeout > ceiling {
		return ceiling
	}
	return timeout
}

// transferItem streams one item's file to the backend under a size-scaled
// deadline, reporting byte progress as the transfer advances.
func transferItem(ctx context.Context, client Service, item *Item, cfg *config.IngestConfig) (*models.UploadResult, error) {
	file := item.File()

	reader, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", file.Name, err)
	}
	defer reader.Close()

	ctx, cancel := context.WithTimeout(ctx, transferTimeout(file.Size, cfg))
	defer cancel()

	item.SetUploadProgress(0)
	result, err := client.UploadDocument(ctx, api.UploadRequest{
		UploadID: item.UploadID(),
		FileName: file.Name,
		FileSize: file.Size,
		Category: item.Category(),
		Body:     reader,
		Progress: func(sent, total int64) {
			if total > 0 {
				item.SetUploadProgress(int(sent * 100 / total))
			}
		},
	})
	if err != nil {
		return nil, err
	}

	item.SetUploadProgress(100)
	return result, nil
}
