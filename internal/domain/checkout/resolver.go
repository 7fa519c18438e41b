package checkout

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

// Resolver prices cart lines against the live catalog. Every call reads the
// catalog again; nothing is cached between checkouts.
type Resolver struct {
	products product.Repository
}

// NewResolver creates a Resolver over the product catalog.
func NewResolver(products product.Repository) *Resolver {
	return &Resolver{products: products}
}

// Resolve validates lines, fetches their products in one batch and copies
// name, price and image into order items, preserving line order.
func (r *Resolver) Resolve(ctx context.Context, lines []Line) (*Snapshot, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: l.ProductID}
		}
	}

	ids := lo.Uniq(lo.Map(lines, func(l Line, _ int) string { return l.ProductID }))
	fetched, err := r.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	byID := lo.KeyBy(fetched, func(p product.Product) string { return p.ID })

	snap := &Snapshot{
		Items:    make([]order.OrderItem, 0, len(lines)),
		Lines:    make([]coupon.Item, 0, len(lines)),
		Subtotal: decimal.Zero,
	}
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, &ItemUnavailableError{ProductID: l.ProductID, Reason: "not found"}
		}
		if !p.InStock {
			return nil, &ItemUnavailableError{ProductID: l.ProductID, Reason: "out of stock"}
		}

		snap.Items = append(snap.Items, order.OrderItem{
			ProductID: p.ID,
			Name:      p.Title,
			Price:     p.Price,
			Quantity:  l.Quantity,
			Image:     p.Image.Thumbnail,
		})
		ci := coupon.Item{
			ProductID: p.ID,
			Price:     p.Price,
			Quantity:  l.Quantity,
			Category:  p.Category,
			Section:   p.Section,
		}
		snap.Lines = append(snap.Lines, ci)
		snap.Subtotal = snap.Subtotal.Add(ci.LineTotal())
	}

	return snap, nil
}
