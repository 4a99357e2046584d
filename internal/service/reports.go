package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"posledger/backend/internal/cache"
	"posledger/backend/internal/domain"
	"posledger/backend/internal/ledger"
	"posledger/backend/internal/store"
)

var (
	hundred = decimal.NewFromInt(100)

	periodDays = map[string]int{
		domain.PeriodToday:   1,
		domain.PeriodWeek:    7,
		domain.PeriodMonth:   30,
		domain.PeriodQuarter: 90,
		domain.PeriodYear:    365,
	}

	summaryPeriods = []string{domain.PeriodToday, domain.PeriodWeek, domain.PeriodMonth, domain.PeriodYear}
	rankingPeriods = []string{domain.PeriodWeek, domain.PeriodMonth, domain.PeriodQuarter, domain.PeriodYear}
	cashierPeriods = []string{domain.PeriodWeek, domain.PeriodMonth, domain.PeriodQuarter}
)

const (
	defaultTopProducts = 10
	maxTopProducts     = 50
	defaultMonths      = 12
	maxMonths          = 24
)

// cachedReport serves key from the report cache and builds it at most once
// concurrently on a miss. The fill is skipped when scope is invalidated while
// the build runs.
func cachedReport[T any](ctx context.Context, s *Service, key string, scope string, build func(context.Context) (T, error)) (T, error) {
	cached, hit, err := cache.GetJSON[T](ctx, s.reports, key)
	if err != nil {
		s.logger.WarnContext(ctx, "report cache read failed", slog.String("key", key), slog.Any("error", err))
	}
	if hit {
		return cached, nil
	}

	v, err, _ := s.reportGroup.Do(key, func() (any, error) {
		gen := s.generation(scope)
		report, err := build(ctx)
		if err != nil {
			return nil, err
		}
		s.fillReport(ctx, key, scope, gen, report)
		return report, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// DailySales aggregates tickets, withdrawals and registers of one UTC date.
// Results are cached until the next sale or withdrawal touching that date.
func (s *Service) DailySales(ctx context.Context, date time.Time) (domain.DailySales, error) {
	from, to := utcDay(date)
	key := cache.DailyKey(from)
	return cachedReport(ctx, s, key, key, func(ctx context.Context) (domain.DailySales, error) {
		return s.buildDailySales(ctx, from.Format(time.DateOnly), from, to)
	})
}

func (s *Service) buildDailySales(ctx context.Context, day string, from, to time.Time) (domain.DailySales, error) {
	tickets, err := s.repo.ListTickets(ctx, domain.TicketFilter{From: &from, To: &to})
	if err != nil {
		return domain.DailySales{}, err
	}
	withdrawals, err := s.repo.ListWithdrawals(ctx, from, to)
	if err != nil {
		return domain.DailySales{}, err
	}
	registers, err := s.repo.ListRegisters(ctx, domain.RegisterFilter{From: &from, To: &to})
	if err != nil {
		return domain.DailySales{}, err
	}

	report := domain.DailySales{
		Date:             day,
		TotalSales:       decimal.Zero,
		TotalCash:        decimal.Zero,
		TotalCard:        decimal.Zero,
		TotalTransfer:    decimal.Zero,
		TotalWithdrawals: decimal.Zero,
		NumRegisters:     len(registers),
	}
	for _, t := range tickets {
		if t.Status == domain.TicketStatusCancelled {
			report.CancelledTickets++
			continue
		}
		report.NumTickets++
		report.TotalSales = report.TotalSales.Add(t.Total)
		switch t.PaymentMethod {
		case domain.PaymentCash:
			report.TotalCash = report.TotalCash.Add(t.Total)
		case domain.PaymentCard:
			report.TotalCard = report.TotalCard.Add(t.Total)
		case domain.PaymentTransfer:
			report.TotalTransfer = report.TotalTransfer.Add(t.Total)
		default:
			return domain.DailySales{}, store.Validation("ticket %s has unknown payment method %q", t.TicketNumber, t.PaymentMethod)
		}
	}
	for _, w := range withdrawals {
		if w.Status == domain.WithdrawalStatusCompleted {
			report.TotalWithdrawals = report.TotalWithdrawals.Add(w.Amount)
		}
	}
	for _, r := range registers {
		if r.Status == domain.RegisterStatusOpen {
			report.OpenRegisters++
		} else {
			report.ClosedRegisters++
		}
	}

	report.TotalSales = ledger.Money(report.TotalSales)
	report.TotalCash = ledger.Money(report.TotalCash)
	report.TotalCard = ledger.Money(report.TotalCard)
	report.TotalTransfer = ledger.Money(report.TotalTransfer)
	report.TotalWithdrawals = ledger.Money(report.TotalWithdrawals)
	return report, nil
}

func resolvePeriod(period string, fallback string, allowed []string) (string, error) {
	period = strings.ToLower(strings.TrimSpace(period))
	if period == "" {
		return fallback, nil
	}
	if !slices.Contains(allowed, period) {
		return "", store.Validation("period must be one of %s, got %q", strings.Join(allowed, ", "), period)
	}
	return period, nil
}

// periodWindow returns [from, to) spanning the period's days and ending at
// the close of today (UTC).
func periodWindow(period string, now time.Time) (time.Time, time.Time) {
	_, end := utcDay(now)
	return end.AddDate(0, 0, -periodDays[period]), end
}

func today(now time.Time) string {
	return now.UTC().Format(time.DateOnly)
}

func (s *Service) completedTickets(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleTicket, error) {
	return s.repo.ListTickets(ctx, domain.TicketFilter{Status: domain.TicketStatusCompleted, From: &from, To: &to})
}

func percentOf(part decimal.Decimal, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(2)
}

// changePercent is zero when there is nothing to compare against.
func changePercent(current decimal.Decimal, previous decimal.Decimal) decimal.Decimal {
	if !previous.IsPositive() {
		return decimal.Zero
	}
	return current.Sub(previous).Div(previous).Mul(hundred).Round(2)
}

func average(total decimal.Decimal, n int) decimal.Decimal {
	if n == 0 {
		return decimal.Zero
	}
	return ledger.Money(total.Div(decimal.NewFromInt(int64(n))))
}

// DashboardSummary compares the period with the one right before it and adds
// the payment mix and the low-stock share of active products.
func (s *Service) DashboardSummary(ctx context.Context, period string) (domain.DashboardSummary, error) {
	period, err := resolvePeriod(period, domain.PeriodToday, summaryPeriods)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	now := s.now()
	key := cache.DashboardKey("summary", today(now), period)
	return cachedReport(ctx, s, key, cache.DashboardPrefix, func(ctx context.Context) (domain.DashboardSummary, error) {
		return s.buildSummary(ctx, period, now)
	})
}

func (s *Service) buildSummary(ctx context.Context, period string, now time.Time) (domain.DashboardSummary, error) {
	from, to := periodWindow(period, now)
	prevFrom := from.AddDate(0, 0, -periodDays[period])
	tickets, err := s.completedTickets(ctx, prevFrom, to)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	products, err := s.repo.ListProducts(ctx, store.ProductFilter{})
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	current, previous := decimal.Zero, decimal.Zero
	curCount, prevCount := 0, 0
	methods := make(map[string]*domain.PaymentBreakdown)
	for _, t := range tickets {
		if t.CreatedAt.Before(from) {
			previous = previous.Add(t.Total)
			prevCount++
			continue
		}
		current = current.Add(t.Total)
		curCount++
		m, ok := methods[t.PaymentMethod]
		if !ok {
			m = &domain.PaymentBreakdown{Method: t.PaymentMethod, Total: decimal.Zero}
			methods[t.PaymentMethod] = m
		}
		m.Total = m.Total.Add(t.Total)
		m.Count++
	}
	current = ledger.Money(current)
	previous = ledger.Money(previous)

	breakdown := make([]domain.PaymentBreakdown, 0, len(methods))
	for _, m := range methods {
		m.Total = ledger.Money(m.Total)
		m.Percentage = percentOf(m.Total, current)
		breakdown = append(breakdown, *m)
	}
	slices.SortFunc(breakdown, func(a, b domain.PaymentBreakdown) int {
		if c := b.Total.Cmp(a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.Method, b.Method)
	})

	health := domain.InventoryHealth{TotalProducts: len(products), StockHealth: hundred}
	for _, p := range products {
		if p.Stock.LessThanOrEqual(p.MinStock) {
			health.LowStockItems++
		}
	}
	if health.TotalProducts > 0 {
		ok := decimal.NewFromInt(int64(health.TotalProducts - health.LowStockItems))
		health.StockHealth = percentOf(ok, decimal.NewFromInt(int64(health.TotalProducts)))
	}

	prevTickets := decimal.NewFromInt(int64(prevCount))
	return domain.DashboardSummary{
		Period:    period,
		DateRange: domain.DateRange{Start: from, End: to},
		Sales: domain.AmountComparison{
			Total:          current,
			PreviousPeriod: previous,
			ChangePercent:  changePercent(current, previous),
		},
		Transactions: domain.CountComparison{
			Total:          curCount,
			PreviousPeriod: prevCount,
			ChangePercent:  changePercent(decimal.NewFromInt(int64(curCount)), prevTickets),
		},
		AverageTicket:  average(current, curCount),
		PaymentMethods: breakdown,
		Inventory:      health,
		GeneratedAt:    now,
	}, nil
}

// SalesByMonth returns one row per calendar month, oldest first, ending with
// the current month. Months without sales are reported as zero.
func (s *Service) SalesByMonth(ctx context.Context, months int) (domain.SalesByMonth, error) {
	if months == 0 {
		months = defaultMonths
	}
	if months < 1 || months > maxMonths {
		return domain.SalesByMonth{}, store.Validation("months must be between 1 and %d", maxMonths)
	}
	now := s.now()
	key := cache.DashboardKey("by-month", today(now), strconv.Itoa(months))
	return cachedReport(ctx, s, key, cache.DashboardPrefix, func(ctx context.Context) (domain.SalesByMonth, error) {
		return s.buildSalesByMonth(ctx, months, now)
	})
}

func (s *Service) buildSalesByMonth(ctx context.Context, months int, now time.Time) (domain.SalesByMonth, error) {
	n := now.UTC()
	first := time.Date(n.Year(), n.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)
	_, to := utcDay(n)
	tickets, err := s.completedTickets(ctx, first, to)
	if err != nil {
		return domain.SalesByMonth{}, err
	}

	rows := make([]domain.MonthlySales, months)
	index := make(map[string]int, months)
	for i := range rows {
		m := first.AddDate(0, i, 0)
		rows[i] = domain.MonthlySales{
			Period:     m.Format("2006-01"),
			MonthName:  m.Format("January 2006"),
			TotalSales: decimal.Zero,
		}
		index[rows[i].Period] = i
	}
	for _, t := range tickets {
		i, ok := index[t.CreatedAt.UTC().Format("2006-01")]
		if !ok {
			continue
		}
		rows[i].TotalSales = rows[i].TotalSales.Add(t.Total)
		rows[i].NumTickets++
	}
	for i := range rows {
		rows[i].TotalSales = ledger.Money(rows[i].TotalSales)
		rows[i].AvgTicket = average(rows[i].TotalSales, rows[i].NumTickets)
	}
	return domain.SalesByMonth{Data: rows, MonthsAnalyzed: len(rows)}, nil
}

// productCategories maps every product, active or not, to its category.
func (s *Service) productCategories(ctx context.Context) (map[string]string, error) {
	products, err := s.repo.ListProducts(ctx, store.ProductFilter{IncludeInactive: true})
	if err != nil {
		return nil, err
	}
	categories := make(map[string]string, len(products))
	for _, p := range products {
		categories[p.ID] = p.Category
	}
	return categories, nil
}

// TopProducts ranks sold products by revenue. Percentages are relative to the
// revenue of the returned products.
func (s *Service) TopProducts(ctx context.Context, period string, limit int) (domain.TopProducts, error) {
	period, err := resolvePeriod(period, domain.PeriodMonth, rankingPeriods)
	if err != nil {
		return domain.TopProducts{}, err
	}
	if limit == 0 {
		limit = defaultTopProducts
	}
	if limit < 1 || limit > maxTopProducts {
		return domain.TopProducts{}, store.Validation("limit must be between 1 and %d", maxTopProducts)
	}
	now := s.now()
	key := cache.DashboardKey("top-products", today(now), period, strconv.Itoa(limit))
	return cachedReport(ctx, s, key, cache.DashboardPrefix, func(ctx context.Context) (domain.TopProducts, error) {
		return s.buildTopProducts(ctx, period, limit, now)
	})
}

func (s *Service) buildTopProducts(ctx context.Context, period string, limit int, now time.Time) (domain.TopProducts, error) {
	from, to := periodWindow(period, now)
	tickets, err := s.completedTickets(ctx, from, to)
	if err != nil {
		return domain.TopProducts{}, err
	}
	categories, err := s.productCategories(ctx)
	if err != nil {
		return domain.TopProducts{}, err
	}

	byProduct := make(map[string]*domain.TopProduct)
	for _, t := range tickets {
		seen := make(map[string]bool, len(t.Items))
		for _, item := range t.Items {
			p, ok := byProduct[item.ProductID]
			if !ok {
				// Tickets come newest first, so the name is the latest one sold.
				p = &domain.TopProduct{
					ProductID:    item.ProductID,
					Name:         item.ProductName,
					Category:     categories[item.ProductID],
					QuantitySold: decimal.Zero,
					Revenue:      decimal.Zero,
				}
				byProduct[item.ProductID] = p
			}
			p.QuantitySold = p.QuantitySold.Add(item.Quantity)
			p.Revenue = p.Revenue.Add(item.Subtotal)
			if !seen[item.ProductID] {
				seen[item.ProductID] = true
				p.NumOrders++
			}
		}
	}

	ranked := make([]domain.TopProduct, 0, len(byProduct))
	for _, p := range byProduct {
		p.Revenue = ledger.Money(p.Revenue)
		p.QuantitySold = ledger.Qty(p.QuantitySold)
		ranked = append(ranked, *p)
	}
	slices.SortFunc(ranked, func(a, b domain.TopProduct) int {
		if c := b.Revenue.Cmp(a.Revenue); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	total := decimal.Zero
	for _, p := range ranked {
		total = total.Add(p.Revenue)
	}
	for i := range ranked {
		ranked[i].PercentageOfTotal = percentOf(ranked[i].Revenue, total)
	}
	return domain.TopProducts{Period: period, TotalRevenue: total, Products: ranked}, nil
}

// SalesByCategory groups sold lines by the current category of their product.
func (s *Service) SalesByCategory(ctx context.Context, period string) (domain.SalesByCategory, error) {
	period, err := resolvePeriod(period, domain.PeriodMonth, rankingPeriods)
	if err != nil {
		return domain.SalesByCategory{}, err
	}
	now := s.now()
	key := cache.DashboardKey("by-category", today(now), period)
	return cachedReport(ctx, s, key, cache.DashboardPrefix, func(ctx context.Context) (domain.SalesByCategory, error) {
		return s.buildSalesByCategory(ctx, period, now)
	})
}

func (s *Service) buildSalesByCategory(ctx context.Context, period string, now time.Time) (domain.SalesByCategory, error) {
	from, to := periodWindow(period, now)
	tickets, err := s.completedTickets(ctx, from, to)
	if err != nil {
		return domain.SalesByCategory{}, err
	}
	categories, err := s.productCategories(ctx)
	if err != nil {
		return domain.SalesByCategory{}, err
	}

	byCategory := make(map[string]*domain.CategorySales)
	productsIn := make(map[string]map[string]bool)
	for _, t := range tickets {
		for _, item := range t.Items {
			name := categories[item.ProductID]
			c, ok := byCategory[name]
			if !ok {
				c = &domain.CategorySales{Category: name, Revenue: decimal.Zero, QuantitySold: decimal.Zero}
				byCategory[name] = c
				productsIn[name] = make(map[string]bool)
			}
			c.Revenue = c.Revenue.Add(item.Subtotal)
			c.QuantitySold = c.QuantitySold.Add(item.Quantity)
			productsIn[name][item.ProductID] = true
		}
	}

	total := decimal.Zero
	rows := make([]domain.CategorySales, 0, len(byCategory))
	for name, c := range byCategory {
		c.Revenue = ledger.Money(c.Revenue)
		c.QuantitySold = ledger.Qty(c.QuantitySold)
		c.NumProducts = len(productsIn[name])
		total = total.Add(c.Revenue)
		rows = append(rows, *c)
	}
	for i := range rows {
		rows[i].Percentage = percentOf(rows[i].Revenue, total)
	}
	slices.SortFunc(rows, func(a, b domain.CategorySales) int {
		if c := b.Revenue.Cmp(a.Revenue); c != 0 {
			return c
		}
		return cmp.Compare(a.Category, b.Category)
	})
	return domain.SalesByCategory{Period: period, TotalRevenue: total, Categories: rows}, nil
}

// SalesByHour spreads one UTC date's completed sales over 24 hourly buckets.
func (s *Service) SalesByHour(ctx context.Context, date time.Time) (domain.SalesByHour, error) {
	from, to := utcDay(date)
	day := from.Format(time.DateOnly)
	key := cache.DashboardKey("by-hour", day)
	return cachedReport(ctx, s, key, cache.DashboardPrefix, func(ctx context.Context) (domain.SalesByHour, error) {
		tickets, err := s.completedTickets(ctx, from, to)
		if err != nil {
			return domain.SalesByHour{}, err
		}
		hours := make([]domain.HourlySales, 24)
		for h := range hours {
			hours[h] = domain.HourlySales{Hour: fmt.Sprintf("%02d:00", h), TotalSales: decimal.Zero}
		}
		for _, t := range tickets {
			h := t.CreatedAt.UTC().Hour()
			hours[h].TotalSales = hours[h].TotalSales.Add(t.Total)
			hours[h].NumTickets++
		}
		for h := range hours {
			hours[h].TotalSales = ledger.Money(hours[h].TotalSales)
		}
		return domain.SalesByHour{Date: day, Hourly: hours}, nil
	})
}

// CashierPerformance ranks users by completed sales in the period.
func (s *Service) CashierPerformance(ctx context.Context, period string) (domain.CashierPerformance, error) {
	period, err := resolvePeriod(period, domain.PeriodMonth, cashierPeriods)
	if err != nil {
		return domain.CashierPerformance{}, err
	}
	now := s.now()
	key := cache.DashboardKey("cashiers", today(now), period)
	return cachedReport(ctx, s, key, cache.DashboardPrefix, func(ctx context.Context) (domain.CashierPerformance, error) {
		return s.buildCashierPerformance(ctx, period, now)
	})
}

func (s *Service) buildCashierPerformance(ctx context.Context, period string, now time.Time) (domain.CashierPerformance, error) {
	from, to := periodWindow(period, now)
	tickets, err := s.completedTickets(ctx, from, to)
	if err != nil {
		return domain.CashierPerformance{}, err
	}
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return domain.CashierPerformance{}, err
	}
	accounts := make(map[string]domain.UserAccount, len(users))
	for _, u := range users {
		accounts[u.ID] = u
	}

	byUser := make(map[string]*domain.CashierStats)
	for _, t := range tickets {
		c, ok := byUser[t.UserID]
		if !ok {
			account := accounts[t.UserID]
			c = &domain.CashierStats{UserID: t.UserID, Username: account.Username, Role: account.Role, TotalSales: decimal.Zero}
			byUser[t.UserID] = c
		}
		c.TotalSales = c.TotalSales.Add(t.Total)
		c.NumTickets++
	}

	rows := make([]domain.CashierStats, 0, len(byUser))
	for _, c := range byUser {
		c.TotalSales = ledger.Money(c.TotalSales)
		c.AvgTicket = average(c.TotalSales, c.NumTickets)
		rows = append(rows, *c)
	}
	slices.SortFunc(rows, func(a, b domain.CashierStats) int {
		if c := b.TotalSales.Cmp(a.TotalSales); c != 0 {
			return c
		}
		return cmp.Compare(a.Username, b.Username)
	})
	return domain.CashierPerformance{Period: period, Cashiers: rows}, nil
}
