// Package alerts builds low-stock summaries on top of the inventory ledger.
package alerts

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/wareline/wareline/internal/inventory"
)

// StockLister exposes the ledger read we need.
type StockLister interface {
	ListLowStock(ctx context.Context) ([]inventory.StockRecord, error)
}

// Alert is one record at or below its threshold, with a display line.
type Alert struct {
	SKUID      int64  `json:"sku_id"`
	StoreID    int64  `json:"store_id"`
	Quantity   int64  `json:"quantity"`
	Threshold  int64  `json:"threshold"`
	OutOfStock bool   `json:"out_of_stock"`
	Summary    string `json:"summary"`
}

// Report is the cached low-stock summary.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Total       int       `json:"total"`
	OutOfStock  int       `json:"out_of_stock"`
	Alerts      []Alert   `json:"alerts"`
}

// Service computes and caches low-stock reports.
type Service struct {
	lister  StockLister
	cache   *Cache
	group   singleflight.Group
	printer *message.Printer
}

// NewService wires the ledger reader with the cache helper.
func NewService(lister StockLister, cache *Cache) *Service {
	return &Service{
		lister:  lister,
		cache:   cache,
		printer: message.NewPrinter(language.English),
	}
}

// LowStock returns the current low-stock report. Concurrent callers share a
// single computation and the result is cached until the next stock mutation
// bumps the cache version.
func (s *Service) LowStock(ctx context.Context) (Report, error) {
	key, err := s.cache.BuildKey(ctx, keyLowStock())
	if err != nil {
		return Report{}, err
	}
	value, err, _ := s.group.Do(key, func() (interface{}, error) {
		var report Report
		err := s.cache.FetchJSON(ctx, key, &report, func(ctx context.Context) (interface{}, error) {
			return s.build(ctx)
		})
		return report, err
	})
	if err != nil {
		return Report{}, err
	}
	return value.(Report), nil
}

func (s *Service) build(ctx context.Context) (Report, error) {
	records, err := s.lister.ListLowStock(ctx)
	if err != nil {
		return Report{}, err
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].StoreID != records[j].StoreID {
			return records[i].StoreID < records[j].StoreID
		}
		return records[i].SKUID < records[j].SKUID
	})

	report := Report{
		GeneratedAt: time.Now().UTC(),
		Total:       len(records),
		Alerts:      make([]Alert, 0, len(records)),
	}
	for _, rec := range records {
		alert := Alert{
			SKUID:      rec.SKUID,
			StoreID:    rec.StoreID,
			Quantity:   rec.Quantity,
			Threshold:  rec.LowStockThreshold,
			OutOfStock: rec.IsOutOfStock(),
		}
		if alert.OutOfStock {
			report.OutOfStock++
			alert.Summary = s.printer.Sprintf("SKU %d is out of stock at store %d", rec.SKUID, rec.StoreID)
		} else {
			alert.Summary = s.printer.Sprintf("SKU %d at store %d is down to %d units (threshold %d)",
				rec.SKUID, rec.StoreID, rec.Quantity, rec.LowStockThreshold)
		}
		report.Alerts = append(report.Alerts, alert)
	}
	return report, nil
}
