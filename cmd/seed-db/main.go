package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-api/db"
	"github.com/xenking/storefront-api/internal/domain/auth"
	"github.com/xenking/storefront-api/internal/repository"
)

type productJSON struct {
	ID             string          `json:"id"`
	Number         int             `json:"number"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	Image          string          `json:"image"`
	SellPrice      decimal.Decimal `json:"sellPrice"`
	Cost           decimal.Decimal `json:"cost"`
	QuantityOnHand int             `json:"quantityOnHand"`
	MinQuantity    int             `json:"minQuantity"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "", "path to products JSON file (default: embedded catalog)")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or STORE_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STORE_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("STORE_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or STORE_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("STORE_API_KEY_PEPPER")
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

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedAccounts(ctx, pool); err != nil {
		return errors.Wrap(err, "seed accounts")
	}

	if err := seedPromotions(ctx, pool); err != nil {
		return errors.Wrap(err, "seed promotions")
	}

	if err := seedStoreDiscount(ctx, pool); err != nil {
		return errors.Wrap(err, "seed store discount")
	}

	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

const upsertProductSQL = `
INSERT INTO products (id, number, name, category, image, sell_price, cost, quantity_on_hand, min_quantity)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
    number = EXCLUDED.number,
    name = EXCLUDED.name,
    category = EXCLUDED.category,
    image = EXCLUDED.image,
    sell_price = EXCLUDED.sell_price,
    cost = EXCLUDED.cost,
    quantity_on_hand = EXCLUDED.quantity_on_hand,
    min_quantity = EXCLUDED.min_quantity
`

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	data := db.SeedProducts
	if productsFile != "" {
		slog.Info("reading products file", slog.String("path", productsFile))

		var err error
		data, err = os.ReadFile(productsFile)
		if err != nil {
			return errors.Wrap(err, "read products file")
		}
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		_, err := pool.Exec(ctx, upsertProductSQL,
			p.ID, p.Number, p.Name, p.Category, p.Image,
			p.SellPrice, p.Cost, p.QuantityOnHand, p.MinQuantity,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

const upsertAccountSQL = `
INSERT INTO accounts (id, username, address, phone)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
    username = EXCLUDED.username,
    address = EXCLUDED.address,
    phone = EXCLUDED.phone
`

func seedAccounts(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo accounts")

	accounts := []struct {
		id, username, address, phone string
	}{
		{"acc-demo-1", "ada", "12 Byron St, London", "07700900123"},
		{"acc-demo-2", "grace", "90 Navy Yard Ave, Arlington", "07700900456"},
	}

	for _, a := range accounts {
		if _, err := pool.Exec(ctx, upsertAccountSQL, a.id, a.username, a.address, a.phone); err != nil {
			return errors.Wrapf(err, "upsert account %s", a.id)
		}

		slog.Info("upserted account", slog.String("id", a.id), slog.String("username", a.username))
	}

	return nil
}

const upsertPromotionSQL = `
INSERT INTO promotions (code, kind, value, description, active, usage_limit)
VALUES ($1, $2, $3, $4, TRUE, $5)
ON CONFLICT (code) DO UPDATE SET
    kind = EXCLUDED.kind,
    value = EXCLUDED.value,
    description = EXCLUDED.description,
    active = EXCLUDED.active,
    usage_limit = EXCLUDED.usage_limit
`

func seedPromotions(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo coupons")

	coupons := []struct {
		code, kind  string
		value       decimal.Decimal
		description string
		usageLimit  int
	}{
		{"SAVE10", "percent", decimal.NewFromInt(10), "10% off entire order", 0},
		{"FIVER", "amount", decimal.NewFromInt(5), "$5 off your order", 0},
		{"LAUNCH25", "percent", decimal.NewFromInt(25), "Launch week: 25% off", 500},
	}

	for _, c := range coupons {
		if _, err := pool.Exec(ctx, upsertPromotionSQL,
			c.code, c.kind, c.value, c.description, c.usageLimit,
		); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.code)
		}

		slog.Info("upserted coupon", slog.String("code", c.code), slog.String("description", c.description))
	}

	return nil
}

const insertStoreDiscountSQL = `
INSERT INTO store_discount (id, active, kind, value, min_total, shipping_enabled, shipping_amount)
VALUES (TRUE, FALSE, 'general', 0, 0, FALSE, 0)
ON CONFLICT (id) DO NOTHING
`

func seedStoreDiscount(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding store discount defaults")

	if _, err := pool.Exec(ctx, insertStoreDiscountSQL); err != nil {
		return errors.Wrap(err, "insert store discount row")
	}

	return nil
}

const upsertAPIKeySQL = `
INSERT INTO api_keys (id, key_hash, name, scopes, active)
VALUES ($1, $2, $3, $4, TRUE)
ON CONFLICT (id) DO UPDATE SET
    key_hash = EXCLUDED.key_hash,
    name = EXCLUDED.name,
    scopes = EXCLUDED.scopes,
    active = EXCLUDED.active
`

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding default admin API key")

	keyHash := auth.HashKey([]byte(pepper), apiKey)

	if _, err := pool.Exec(ctx, upsertAPIKeySQL,
		"default", keyHash, "Default admin key", []string{"admin"},
	); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"), slog.String("name", "Default admin key"))

	return nil
}
