package main

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/xelth-com/tapcount/internal/config"
	"github.com/xelth-com/tapcount/internal/database"
	"github.com/xelth-com/tapcount/internal/logger"
	"github.com/xelth-com/tapcount/internal/models"
)

func main() {
	fmt.Println("🌱 Taproom Demo Data Seeder")
	fmt.Println(strings.Repeat("=", 60))

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Connect to database
	db, err := database.Connect(cfg.Database, logger.Must(cfg.NodeEnv))
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	fmt.Println("✅ Connected to database")
	fmt.Println()

	// Run migrations first
	fmt.Println("🔨 Running database migrations...")
	if err := db.Migrate(); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	fmt.Println("✅ Migrations complete")
	fmt.Println()

	// Check if data already exists
	var productCount int64
	db.Model(&models.Product{}).Count(&productCount)
	if productCount > 0 {
		fmt.Printf("⚠️  Database already has %d products. Clear it first? (y/N): ", productCount)
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("❌ Aborted. Database not modified.")
			return
		}

		fmt.Println("🗑️  Clearing existing data...")
		db.Exec("TRUNCATE TABLE keg_sensor_readings, taps, kegs, inventory_counts, inventory_sessions, product_zones, products, zones RESTART IDENTITY CASCADE")
		fmt.Println("✅ Data cleared")
	}

	fmt.Println()
	fmt.Println("📦 Creating demo data...")
	fmt.Println()

	// 1. Zones
	fmt.Println("📍 Creating zones...")
	zones := []models.Zone{
		{ID: 1, Name: "Main Bar Cooler", Description: "Reach-in cooler behind the bar"},
		{ID: 2, Name: "Walk-in", Description: "Walk-in cooler with backup cases and kegs"},
		{ID: 3, Name: "Dry Storage"},
	}
	for i := range zones {
		if err := db.Create(&zones[i]).Error; err != nil {
			log.Printf("⚠️  Failed to create zone %s: %v", zones[i].Name, err)
		} else {
			fmt.Printf("   ✓ Created zone: %s\n", zones[i].Name)
		}
	}
	fmt.Printf("✅ Created %d zones\n\n", len(zones))

	bar, walkIn, dry := zones[0], zones[1], zones[2]

	// 2. Products
	fmt.Println("🍺 Creating products...")
	products := []models.Product{
		{ID: 1, Name: "House Pilsner 500ml", Barcode: "4006048000011", BottleSizeMl: 500, EmptyWeightGrams: 360, FullWeightGrams: 875, BackupCount: 24, CurrentCountBottles: 30.5, Active: true, Zones: []models.Zone{bar, walkIn}},
		{ID: 2, Name: "Hazy IPA 330ml", Barcode: "4006048000028", UPC: "012345678905", BottleSizeMl: 330, EmptyWeightGrams: 230, FullWeightGrams: 570, BackupCount: 12, CurrentCountBottles: 14.0, Active: true, Zones: []models.Zone{bar}},
		{ID: 3, Name: "Gin 700ml", Barcode: "5000289020701", BottleSizeMl: 700, EmptyWeightGrams: 550, FullWeightGrams: 1210, BackupCount: 3, CurrentCountBottles: 3.6, Active: true, Zones: []models.Zone{bar, dry}},
		{ID: 4, Name: "Rye Whiskey 750ml", Barcode: "0088004021344", BottleSizeMl: 750, BackupCount: 2, CurrentCountBottles: 2.3, Active: true, Zones: []models.Zone{bar, dry}},
		{ID: 5, Name: "Tonic Water 200ml", Barcode: "5060108450010", BottleSizeMl: 200, BackupCount: 48, CurrentCountBottles: 48, Active: true},
		{ID: 6, Name: "Seasonal Stout (keg)", IsSoldByVolume: true, CurrentCountBottles: 2.6, Active: true, Zones: []models.Zone{bar, walkIn}},
		{ID: 7, Name: "House Lager (keg)", IsSoldByVolume: true, CurrentCountBottles: 3.4, Active: true, Zones: []models.Zone{bar, walkIn}},
	}
	for i := range products {
		if err := db.Create(&products[i]).Error; err != nil {
			log.Printf("⚠️  Failed to create product %s: %v", products[i].Name, err)
		} else {
			fmt.Printf("   ✓ Created product: %s\n", products[i].Name)
		}
	}
	fmt.Printf("✅ Created %d products\n\n", len(products))

	// 3. Kegs and taps
	fmt.Println("🛢️  Creating kegs and taps...")
	now := time.Now().UTC()
	kegs := []models.Keg{
		{ID: 1, ProductID: 6, Status: models.KegTapped, TapNumber: intPtr(1), RemainingPercent: 60, TappedAt: &now},
		{ID: 2, ProductID: 6, Status: models.KegOnDeck, RemainingPercent: 100},
		{ID: 3, ProductID: 6, Status: models.KegOnDeck, RemainingPercent: 100},
		{ID: 4, ProductID: 7, Status: models.KegTapped, TapNumber: intPtr(2), RemainingPercent: 25, TappedAt: &now},
		{ID: 5, ProductID: 7, Status: models.KegTapped, TapNumber: intPtr(3), RemainingPercent: 15, TappedAt: &now},
		{ID: 6, ProductID: 7, Status: models.KegOnDeck, RemainingPercent: 100},
		{ID: 7, ProductID: 7, Status: models.KegOnDeck, RemainingPercent: 100},
		{ID: 8, ProductID: 7, Status: models.KegEmpty},
	}
	for i := range kegs {
		if err := db.Create(&kegs[i]).Error; err != nil {
			log.Printf("⚠️  Failed to create keg %d: %v", kegs[i].ID, err)
		}
	}

	taps := []models.Tap{
		{Number: 1, KegID: int64Ptr(1)},
		{Number: 2, KegID: int64Ptr(4)},
		{Number: 3, KegID: int64Ptr(5), SensorFillPercent: floatPtr(12), SensorUpdatedAt: &now},
		{Number: 4},
	}
	for i := range taps {
		if err := db.Create(&taps[i]).Error; err != nil {
			log.Printf("⚠️  Failed to create tap %d: %v", taps[i].Number, err)
		}
	}
	fmt.Printf("✅ Created %d kegs on %d taps\n\n", len(kegs), len(taps))

	// Explicit IDs leave the sequences behind
	for _, table := range []string{"zones", "products", "kegs"} {
		db.Exec(fmt.Sprintf("SELECT setval(pg_get_serial_sequence('%s', 'id'), (SELECT MAX(id) FROM %s))", table, table))
	}

	// Summary
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("🎉 Demo data created successfully!")
	fmt.Println()
	fmt.Println("📊 Summary:")
	fmt.Printf("   • %d zones\n", len(zones))
	fmt.Printf("   • %d products (bottles, cans and kegs)\n", len(products))
	fmt.Printf("   • %d kegs, %d tap lines\n", len(kegs), len(taps))
	fmt.Println()
	fmt.Println("🌐 Start the server:")
	fmt.Println("   go run ./cmd/api")
	fmt.Println()
	fmt.Println("🍻 Then count from a station:")
	fmt.Println("   go run ./cmd/station count")
	fmt.Println(strings.Repeat("=", 60))
}

func intPtr(i int) *int {
	return &i
}

func int64Ptr(i int64) *int64 {
	return &i
}

func floatPtr(f float64) *float64 {
	return &f
}
