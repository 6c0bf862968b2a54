package main

import (
	"time"

	orm "github.com/medatechnology/sequel"
)

// NewProduct is inserted with CreateFromStruct; the keys are the attribute names.
// Implements orm.TableStruct interface
type NewProduct struct {
	Name  string  `json:"name" db:"name"`
	Price float64 `json:"price" db:"price"`
	Stock int     `json:"stock" db:"stock"`
}

// TableName implements the orm.TableStruct interface
func (p *NewProduct) TableName() string {
	return "Products"
}

// Product is a row of the products table, read back with orm.QueryInto.
type Product struct {
	ID        int       `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Stock     int       `json:"stock" db:"stock"`
	CreatedAt time.Time `json:"createdAt" db:"createdAt"`
}

// defineModels declares the shop schema. Orders reference users, order items reference
// orders and products, so Sync creates them in that order.
func defineModels(db *orm.DB) error {
	if _, err := db.Define("User", []orm.Attribute{
		{Name: "name", Type: orm.StringType(100), AllowNull: orm.NotNull()},
		{Name: "email", Type: orm.StringType(100), AllowNull: orm.NotNull(), Unique: true},
		{Name: "age", Type: orm.TypeInteger},
		{Name: "role", Type: orm.EnumType("admin", "member"), DefaultValue: "member"},
	}, &orm.DefineOptions{Paranoid: true}); err != nil {
		return err
	}

	if _, err := db.Define("Product", []orm.Attribute{
		{Name: "name", Type: orm.StringType(200), AllowNull: orm.NotNull()},
		{Name: "price", Type: orm.DecimalType(10, 2), AllowNull: orm.NotNull()},
		{Name: "stock", Type: orm.TypeInteger, DefaultValue: 0},
	}, nil); err != nil {
		return err
	}

	if _, err := db.Define("Order", []orm.Attribute{
		{Name: "userId", Type: orm.TypeInteger, References: &orm.Reference{Model: "User", OnDelete: "CASCADE"}},
		{Name: "reference", Type: orm.TypeUUID, DefaultValue: orm.DefaultUUIDV4},
		{Name: "total", Type: orm.DecimalType(10, 2)},
		{Name: "status", Type: orm.StringType(50), DefaultValue: "pending"},
	}, nil); err != nil {
		return err
	}

	_, err := db.Define("OrderItem", []orm.Attribute{
		{Name: "orderId", Type: orm.TypeInteger, References: &orm.Reference{Model: "Order"}},
		{Name: "productId", Type: orm.TypeInteger, References: &orm.Reference{Model: "Product"}},
		{Name: "quantity", Type: orm.TypeInteger, AllowNull: orm.NotNull()},
		{Name: "price", Type: orm.DecimalType(10, 2)},
	}, nil)
	return err
}
