package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront-coupons/internal/codec"
	"github.com/xenking/storefront-coupons/internal/domain/auth"
	"github.com/xenking/storefront-coupons/internal/repository"
)

// sampleCoupons are the reference coupons every environment starts with.
var sampleCoupons = []string{
	`{"code": "SAVE10", "type": "percent", "value": 10, "minCartValue": 0}`,
	`{"code": "FLAT50", "type": "flat", "value": 50, "minCartValue": 100}`,
	`{"code": "BULK", "type": "flat", "value": 10, "products": ["P1"], "oncePerOrder": false}`,
	`{
		"code": "CODFLAT",
		"type": "percent",
		"value": 20,
		"paymentSpecific": true,
		"paymentDiscounts": {"cod": {"type": "flat", "value": 5}},
		"codMaxOrderValue": 1500,
		"enforceSingleOutstandingCOD": true
	}`,
}

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or COUPONS_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or COUPONS_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("COUPONS_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or COUPONS_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("COUPONS_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string) error {
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

	if err := seedCoupons(ctx, repository.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedAPIKey(ctx, repository.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedCoupons(ctx context.Context, coupons *repository.CouponRepository) error {
	slog.Info("seeding sample coupons", slog.Int("count", len(sampleCoupons)))

	for _, raw := range sampleCoupons {
		c, err := codec.DecodeCoupon(jx.DecodeStr(raw))
		if err != nil {
			return errors.Wrap(err, "decode sample coupon")
		}
		if err := coupons.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}

		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("id", c.ID))
	}

	return nil
}

func seedAPIKey(ctx context.Context, keys *repository.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	info := &auth.APIKeyInfo{
		KeyHash: auth.HashHex([]byte(pepper), apiKey),
		Name:    "Default storefront key",
		Scopes:  []string{auth.ScopeCouponsApply},
	}
	if err := keys.UpsertAPIKey(ctx, info); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))

	return nil
}
