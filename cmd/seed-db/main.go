package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/product"
	"github.com/xenking/storefront-checkout/internal/handler"
	"github.com/xenking/storefront-checkout/internal/repository"
)

type productJSON struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
	Section  string          `json:"section"`
	InStock  *bool           `json:"inStock"`
	Image    struct {
		Thumbnail string `json:"thumbnail"`
		Mobile    string `json:"mobile"`
		Tablet    string `json:"tablet"`
		Desktop   string `json:"desktop"`
	} `json:"image"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&apiKey, "api-key", "", "payment gateway API key to seed (or KART_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or KART_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("KART_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or KART_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("KART_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, repository.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedCoupons(ctx, coupon.NewService(repository.NewCouponRepository(pool))); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedAPIKey(ctx, repository.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedProducts(ctx context.Context, repo *repository.ProductRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		inStock := true
		if p.InStock != nil {
			inStock = *p.InStock
		}
		if err := repo.Upsert(ctx, &product.Product{
			ID:       p.ID,
			Title:    p.Title,
			Price:    p.Price,
			Category: p.Category,
			Section:  p.Section,
			InStock:  inStock,
			Image: product.Image{
				Thumbnail: p.Image.Thumbnail,
				Mobile:    p.Image.Mobile,
				Tablet:    p.Image.Tablet,
				Desktop:   p.Image.Desktop,
			},
		}); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("title", p.Title))
	}

	return nil
}

func seedCoupons(ctx context.Context, svc *coupon.Service) error {
	slog.Info("seeding demo coupons")

	expires := time.Now().AddDate(1, 0, 0).UTC().Truncate(24 * time.Hour)
	limit := func(n int) *int { return &n }

	drafts := []coupon.Draft{
		{
			Code:           "WELCOME10",
			DiscountType:   coupon.DiscountPercentage,
			DiscountValue:  decimal.NewFromInt(10),
			ExpirationDate: expires,
			IsActive:       true,
			ApplicableType: coupon.ApplicableAll,
		},
		{
			Code:           "SHOES15",
			DiscountType:   coupon.DiscountFixed,
			DiscountValue:  decimal.NewFromInt(15),
			ExpirationDate: expires,
			IsActive:       true,
			UsageLimit:     limit(100),
			ApplicableType: coupon.ApplicableCollection,
			ApplicableIDs:  []string{"shoes"},
		},
		{
			Code:           "FIRST50",
			DiscountType:   coupon.DiscountPercentage,
			DiscountValue:  decimal.NewFromInt(50),
			ExpirationDate: expires,
			IsActive:       true,
			UsageLimit:     limit(1),
			ApplicableType: coupon.ApplicableAll,
		},
	}

	for _, d := range drafts {
		c, err := svc.Create(ctx, d)
		if errors.Is(err, coupon.ErrCodeTaken) {
			slog.Info("coupon exists, skipping", slog.String("code", d.Code))
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "create coupon %s", d.Code)
		}

		slog.Info("created coupon", slog.String("code", c.Code), slog.String("type", string(c.DiscountType)))
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo *repository.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding payment gateway API key")

	info := &auth.APIKeyInfo{
		ID:      "payment-gateway",
		KeyHash: hex.EncodeToString(handler.HashAPIKey([]byte(pepper), apiKey)),
		Name:    "Payment gateway",
		Scopes:  []string{auth.ScopePaymentWebhook},
	}
	if err := repo.Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert gateway API key")
	}

	slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))

	return nil
}
