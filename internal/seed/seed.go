// Package seed holds the demo catalog used for local runs.
package seed

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopfront/internal/domain/cart"
	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/domain/inventory"
	"github.com/xenking/shopfront/internal/domain/user"
)

// Dataset is a complete set of seed records.
type Dataset struct {
	Users    []user.User
	Products []inventory.Product
	Coupons  []coupon.Coupon
	Carts    map[string][]cart.Item
}

// Target receives seed records. Every method must be an upsert so that
// seeding twice is harmless.
type Target interface {
	UpsertUser(ctx context.Context, u user.User) error
	UpsertProduct(ctx context.Context, p inventory.Product) error
	UpsertCoupons(ctx context.Context, coupons []coupon.Coupon) error
	SetCart(ctx context.Context, userID string, items []cart.Item) error
}

// Apply writes ds to t. Users go first since carts reference them.
func Apply(ctx context.Context, t Target, ds Dataset) error {
	for _, u := range ds.Users {
		if err := t.UpsertUser(ctx, u); err != nil {
			return errors.Wrapf(err, "user %s", u.ID)
		}
	}
	for _, p := range ds.Products {
		if err := t.UpsertProduct(ctx, p); err != nil {
			return errors.Wrapf(err, "product %s", p.ID)
		}
	}
	if err := t.UpsertCoupons(ctx, ds.Coupons); err != nil {
		return errors.Wrap(err, "coupons")
	}
	for userID, items := range ds.Carts {
		if err := t.SetCart(ctx, userID, items); err != nil {
			return errors.Wrapf(err, "cart of %s", userID)
		}
	}
	return nil
}

func money(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// Demo returns a small phone-shop catalog with coupons valid for 90 days
// from now.
func Demo(now time.Time) Dataset {
	start := now.Add(-24 * time.Hour).UTC().Truncate(time.Hour)
	end := now.Add(90 * 24 * time.Hour).UTC().Truncate(time.Hour)

	return Dataset{
		Users: []user.User{
			{ID: "user-lan", Email: "lan@shopfront.local", Name: "Nguyen Lan"},
			{ID: "user-minh", Email: "minh@shopfront.local", Name: "Tran Minh"},
			{ID: "user-admin", Email: "admin@shopfront.local", Name: "Store Admin"},
		},
		Products: []inventory.Product{
			{
				ID:    "iphone-15",
				Name:  "iPhone 15",
				Image: "iphone-15.png",
				Variants: []inventory.Variant{
					{SKU: "IP15-BLK-128", Color: "black", Storage: "128GB", RAM: "6GB", Price: money(19990000), Stock: 25},
					{SKU: "IP15-BLU-256", Color: "blue", Storage: "256GB", RAM: "6GB", Price: money(22990000), Stock: 10},
				},
			},
			{
				ID:    "galaxy-s24",
				Name:  "Galaxy S24",
				Image: "galaxy-s24.png",
				Variants: []inventory.Variant{
					{SKU: "S24-GRY-256", Color: "gray", Storage: "256GB", RAM: "8GB", Price: money(18490000), Stock: 15},
					{SKU: "S24-VIO-512", Color: "violet", Storage: "512GB", RAM: "8GB", Price: money(21990000), Stock: 3},
				},
			},
			{
				ID:    "usb-c-charger",
				Name:  "USB-C Charger 25W",
				Image: "charger.png",
				Variants: []inventory.Variant{
					{SKU: "CHG-25W", Color: "white", Price: money(390000), Stock: 200},
				},
			},
		},
		Coupons: []coupon.Coupon{
			{
				ID: "coupon-welcome10", Code: "WELCOME10", Type: coupon.TypeShopping, Kind: coupon.KindPercent,
				Discount: money(10), MaximumDiscount: money(500000), Quantity: 1000,
				StartDate: start, EndDate: end,
			},
			{
				ID: "coupon-big200", Code: "BIG200K", Type: coupon.TypeShopping, Kind: coupon.KindFixed,
				Discount: money(200000), MinimumOrder: money(15000000), Quantity: 100,
				StartDate: start, EndDate: end,
			},
			{
				ID: "coupon-freeship", Code: "FREESHIP", Type: coupon.TypeShipping, Kind: coupon.KindFixed,
				Discount: money(30000), Quantity: 500,
				StartDate: start, EndDate: end,
			},
			{
				ID: "coupon-staff", Code: "STAFF50", Type: coupon.TypeShopping, Kind: coupon.KindPercent,
				Discount: money(50), MaximumDiscount: money(5000000), Quantity: 20, Hidden: true,
				StartDate: start, EndDate: end,
			},
		},
		Carts: map[string][]cart.Item{
			"user-lan": {
				{ProductID: "iphone-15", SKU: "IP15-BLK-128", Quantity: 1},
				{ProductID: "usb-c-charger", SKU: "CHG-25W", Quantity: 2},
			},
		},
	}
}
