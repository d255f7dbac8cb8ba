package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
)

// Catalog is a seeded shop with an owner and a single stocked listing.
type Catalog struct {
	Customer models.User
	Owner    models.User
	Shop     models.Shop
	Medicine models.Medicine
	Listing  models.ShopMedicine
}

// SeedUser inserts a user with the given role.
func SeedUser(t testing.TB, conn *gorm.DB, name string, role enums.ActorRole) models.User {
	t.Helper()
	phone := "01700000000"
	user := models.User{ID: uuid.New(), Name: name, Email: name + "@example.test", Phone: &phone, Role: role}
	if err := conn.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// SeedShop inserts a shop owned by owner.
func SeedShop(t testing.TB, conn *gorm.DB, owner models.User, name string) models.Shop {
	t.Helper()
	shop := models.Shop{ID: uuid.New(), OwnerUserID: owner.ID, Name: name, IsActive: true}
	if err := conn.Create(&shop).Error; err != nil {
		t.Fatalf("seed shop: %v", err)
	}
	return shop
}

// SeedListing inserts a medicine and a listing for it in shop.
func SeedListing(t testing.TB, conn *gorm.DB, shop models.Shop, name string, priceCents int64, discountCents *int64, stock int) models.ShopMedicine {
	t.Helper()
	strength := "500mg"
	form := "tablet"
	manufacturer := "Square Pharmaceuticals"
	med := models.Medicine{ID: uuid.New(), Name: name, Strength: &strength, Form: &form, Manufacturer: &manufacturer}
	if err := conn.Create(&med).Error; err != nil {
		t.Fatalf("seed medicine: %v", err)
	}
	listing := models.ShopMedicine{
		ID:                 uuid.New(),
		ShopID:             shop.ID,
		MedicineID:         med.ID,
		PriceCents:         priceCents,
		DiscountPriceCents: discountCents,
		StockQuantity:      stock,
		IsAvailable:        true,
	}
	if err := conn.Create(&listing).Error; err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	listing.Medicine = med
	return listing
}

// SeedCatalog builds the common single-listing fixture.
func SeedCatalog(t testing.TB, conn *gorm.DB, priceCents int64, discountCents *int64, stock int) Catalog {
	t.Helper()
	customer := SeedUser(t, conn, "customer", enums.ActorRoleCustomer)
	owner := SeedUser(t, conn, "owner", enums.ActorRoleShopOwner)
	shop := SeedShop(t, conn, owner, "Lazz Pharma")
	listing := SeedListing(t, conn, shop, "Napa", priceCents, discountCents, stock)
	return Catalog{Customer: customer, Owner: owner, Shop: shop, Medicine: listing.Medicine, Listing: listing}
}

// Stock reads the current stock quantity of a listing.
func Stock(t testing.TB, conn *gorm.DB, listingID uuid.UUID) int {
	t.Helper()
	var row models.ShopMedicine
	if err := conn.Select("stock_quantity").Where("id = ?", listingID).Take(&row).Error; err != nil {
		t.Fatalf("read stock: %v", err)
	}
	return row.StockQuantity
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}
