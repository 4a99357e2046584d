package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/ledger"
	"posledger/backend/internal/store"
	"posledger/backend/internal/xid"
)

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Product{}, err
	}

	product := domain.Product{
		ID:       xid.New("prd"),
		Code:     strings.ToUpper(strings.TrimSpace(req.Code)),
		Barcode:  strings.TrimSpace(req.Barcode),
		Name:     strings.TrimSpace(req.Name),
		Category: strings.TrimSpace(req.Category),
		Unit:     strings.TrimSpace(req.Unit),
		Price:    req.Price,
		Stock:    req.Stock,
		MinStock: req.MinStock,
		Active:   true,
	}
	if product.Code == "" || product.Name == "" || product.Category == "" || product.Unit == "" {
		return domain.Product{}, store.Validation("code, name, category and unit are required")
	}
	if err := ledger.ValidatePrice(product.Price); err != nil {
		return domain.Product{}, err
	}
	if err := validateStockLevel(product.Stock, "stock"); err != nil {
		return domain.Product{}, err
	}
	if err := validateStockLevel(product.MinStock, "min_stock"); err != nil {
		return domain.Product{}, err
	}
	product.CreatedAt = s.now()
	product.UpdatedAt = product.CreatedAt

	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateProduct(ctx, product)
	}); err != nil {
		return domain.Product{}, err
	}

	s.invalidateDashboards(ctx)
	s.logAudit(ctx, "product_create", "product", product.ID,
		slog.String("code", product.Code), slog.String("price", product.Price.String()), slog.String("stock", product.Stock.String()))
	return product, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (s *Service) ListProducts(ctx context.Context, filter store.ProductFilter) ([]domain.Product, error) {
	filter.Skip, filter.Limit = clampPage(filter.Skip, filter.Limit, 100, 500)
	return s.repo.ListProducts(ctx, filter)
}

// SearchProducts matches name, code or barcode among active products.
func (s *Service) SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, store.Validation("search query is required")
	}
	return s.ListProducts(ctx, store.ProductFilter{Query: query, Limit: limit})
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Product{}, err
	}

	var updated domain.Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.GetProductForUpdate(ctx, id)
		if err != nil {
			return err
		}
		updated = *existing
		if req.Code != nil {
			updated.Code = strings.ToUpper(strings.TrimSpace(*req.Code))
		}
		if req.Barcode != nil {
			updated.Barcode = strings.TrimSpace(*req.Barcode)
		}
		if req.Name != nil {
			updated.Name = strings.TrimSpace(*req.Name)
		}
		if req.Category != nil {
			updated.Category = strings.TrimSpace(*req.Category)
		}
		if req.Unit != nil {
			updated.Unit = strings.TrimSpace(*req.Unit)
		}
		if req.MinStock != nil {
			if err := validateStockLevel(*req.MinStock, "min_stock"); err != nil {
				return err
			}
			updated.MinStock = *req.MinStock
		}
		if req.Active != nil {
			updated.Active = *req.Active
		}
		if updated.Code == "" || updated.Name == "" || updated.Category == "" || updated.Unit == "" {
			return store.Validation("code, name, category and unit must not be empty")
		}
		updated.UpdatedAt = s.now()
		return tx.UpdateProduct(ctx, updated)
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateDashboards(ctx)
	s.logAudit(ctx, "product_update", "product", updated.ID, slog.Bool("active", updated.Active))
	return updated, nil
}

// SetStock overwrites the stock level, for stock counts and manual corrections.
func (s *Service) SetStock(ctx context.Context, id string, req domain.StockUpdateRequest) (domain.Product, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Product{}, err
	}
	if err := validateStockLevel(req.Stock, "stock"); err != nil {
		return domain.Product{}, err
	}

	var before decimal.Decimal
	var updated domain.Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.GetProductForUpdate(ctx, id)
		if err != nil {
			return err
		}
		before = existing.Stock
		updated = *existing
		updated.Stock = req.Stock
		updated.UpdatedAt = s.now()
		return tx.UpdateProduct(ctx, updated)
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateDashboards(ctx)
	s.logAudit(ctx, "stock_set", "product", updated.ID,
		slog.String("before", before.String()), slog.String("after", updated.Stock.String()))
	return updated, nil
}

// DeactivateProduct is a soft delete; tickets keep their snapshots.
func (s *Service) DeactivateProduct(ctx context.Context, id string) (domain.Product, error) {
	active := false
	product, err := s.UpdateProduct(ctx, id, domain.ProductUpdateRequest{Active: &active})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (s *Service) UpdatePrice(ctx context.Context, id string, req domain.PriceUpdateRequest) (domain.Product, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	if err := ledger.ValidatePrice(req.Price); err != nil {
		return domain.Product{}, err
	}

	var updated domain.Product
	var entry domain.PriceHistory
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.GetProductForUpdate(ctx, id)
		if err != nil {
			return err
		}
		updated, entry, err = s.applyPrice(ctx, tx, *existing, req.Price, req.Reason, actor)
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateDashboards(ctx)
	s.logAudit(ctx, "price_update", "product", updated.ID,
		slog.String("old_price", entry.OldPrice.String()), slog.String("new_price", entry.NewPrice.String()))
	return updated, nil
}

// BulkUpdatePrices applies every change or none of them.
func (s *Service) BulkUpdatePrices(ctx context.Context, req domain.BulkPriceRequest) (domain.BulkPriceResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.BulkPriceResponse{}, err
	}
	if len(req.Items) == 0 {
		return domain.BulkPriceResponse{}, store.Validation("at least one price change is required")
	}
	ids := make([]string, 0, len(req.Items))
	seen := make(map[string]struct{}, len(req.Items))
	for _, item := range req.Items {
		if _, dup := seen[item.ProductID]; dup {
			return domain.BulkPriceResponse{}, store.Validation("product %s appears more than once", item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
		if err := ledger.ValidatePrice(item.Price); err != nil {
			return domain.BulkPriceResponse{}, err
		}
		ids = append(ids, item.ProductID)
	}

	updated := make([]domain.Product, 0, len(req.Items))
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		products, err := tx.GetProductsForUpdate(ctx, ids)
		if err != nil {
			return err
		}
		for _, item := range req.Items {
			existing, ok := products[item.ProductID]
			if !ok {
				return store.NotFound("product %s not found", item.ProductID)
			}
			p, _, err := s.applyPrice(ctx, tx, existing, item.Price, item.Reason, actor)
			if err != nil {
				return err
			}
			updated = append(updated, p)
		}
		return nil
	})
	if err != nil {
		return domain.BulkPriceResponse{}, err
	}

	s.invalidateDashboards(ctx)
	s.logAudit(ctx, "price_bulk_update", "product", "bulk", slog.Int("count", len(updated)))
	return domain.BulkPriceResponse{Updated: updated}, nil
}

func (s *Service) applyPrice(ctx context.Context, tx store.Tx, product domain.Product, price decimal.Decimal, reason string, actor domain.Actor) (domain.Product, domain.PriceHistory, error) {
	now := s.now()
	entry := domain.PriceHistory{
		ID:        xid.New("prh"),
		ProductID: product.ID,
		OldPrice:  product.Price,
		NewPrice:  price,
		Reason:    strings.TrimSpace(reason),
		ChangedBy: actor.Username,
		ChangedAt: now,
	}
	product.Price = price
	product.UpdatedAt = now
	if err := tx.UpdateProduct(ctx, product); err != nil {
		return domain.Product{}, domain.PriceHistory{}, err
	}
	if err := tx.CreatePriceHistory(ctx, entry); err != nil {
		return domain.Product{}, domain.PriceHistory{}, err
	}
	return product, entry, nil
}

func (s *Service) ListPriceHistory(ctx context.Context, productID string, limit int) ([]domain.PriceHistory, error) {
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	_, limit = clampPage(0, limit, 50, 500)
	return s.repo.ListPriceHistory(ctx, productID, limit)
}

func (s *Service) InventorySummary(ctx context.Context) (domain.InventorySummary, error) {
	products, err := s.repo.ListProducts(ctx, store.ProductFilter{IncludeInactive: true})
	if err != nil {
		return domain.InventorySummary{}, err
	}

	summary := domain.InventorySummary{
		TotalProducts: len(products),
		LowStock:      []domain.Product{},
		StockValue:    decimal.Zero,
	}
	for _, p := range products {
		if !p.Active {
			summary.InactiveProducts++
			continue
		}
		summary.ActiveProducts++
		if p.Stock.LessThanOrEqual(p.MinStock) {
			summary.LowStock = append(summary.LowStock, p)
		}
		summary.StockValue = summary.StockValue.Add(p.Price.Mul(p.Stock))
	}
	summary.StockValue = ledger.Money(summary.StockValue)
	return summary, nil
}

func validateStockLevel(qty decimal.Decimal, field string) error {
	if qty.IsNegative() {
		return store.Validation("%s must not be negative", field)
	}
	if !ledger.Qty(qty).Equal(qty) {
		return store.Validation("%s supports at most %d decimal places", field, domain.QtyPlaces)
	}
	return nil
}
