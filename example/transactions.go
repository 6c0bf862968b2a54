package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	orm "github.com/medatechnology/sequel"
)

var errOutOfStock = errors.New("out of stock")

// runTransactionExamples demonstrates transaction usage patterns
func runTransactionExamples(ctx context.Context, db *orm.DB) {
	fmt.Println("\n--- Example 3: Transactions ---")

	explicitTransactionExample(ctx, db)
	managedOrderExample(ctx, db, "Laptop", 2)
	managedOrderExample(ctx, db, "Laptop", 1000)
}

// explicitTransactionExample begins, writes and commits by hand
func explicitTransactionExample(ctx context.Context, db *orm.DB) {
	fmt.Println("\n  Explicit transaction with Commit")

	tx, err := db.BeginTransaction(ctx, &orm.TransactionOptions{IsolationLevel: orm.IsolationReadCommitted})
	if err != nil {
		log.Printf("  ✗ Failed to begin transaction: %v", err)
		return
	}
	tx.AfterCommit(func() { fmt.Printf("  ✓ Transaction %s committed\n", tx.ID()) })

	// model operations join the transaction carried in the context
	txCtx := orm.WithTransaction(ctx, tx)
	users, _ := db.Model("User")
	for _, email := range []string{"tx_a@example.com", "tx_b@example.com"} {
		if _, err := users.Create(txCtx, map[string]interface{}{"name": "Transaction User", "email": email}); err != nil {
			tx.Rollback(ctx)
			log.Printf("  ✗ Insert failed: %v", err)
			return
		}
	}
	if _, err := tx.Query(ctx, `UPDATE "Products" SET stock = stock + ? WHERE name = ?`, orm.QueryOptions{
		Replacements: []interface{}{5, "Laptop"},
	}); err != nil {
		tx.Rollback(ctx)
		log.Printf("  ✗ Update failed: %v", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		log.Printf("  ✗ Commit failed: %v", err)
	}
}

// managedOrderExample places an order; the stock check failing rolls everything back
func managedOrderExample(ctx context.Context, db *orm.DB, productName string, quantity int) {
	fmt.Printf("\n  Managed transaction: order %d x %s\n", quantity, productName)

	users, _ := db.Model("User")
	products, _ := db.Model("Product")
	orders, _ := db.Model("Order")
	items, _ := db.Model("OrderItem")

	err := db.Transaction(ctx, func(ctx context.Context, tx *orm.Transaction) error {
		buyer, err := users.FindOne(ctx, &orm.FindOptions{Where: &orm.Condition{Field: "email", Operator: orm.OpEq, Value: "alice@example.com"}})
		if err != nil {
			return err
		}
		product, err := products.FindOne(ctx, &orm.FindOptions{Where: &orm.Condition{Field: "name", Operator: orm.OpEq, Value: productName}})
		if err != nil {
			return err
		}
		inStock := orm.Condition{}
		available, err := products.Count(ctx, &orm.FindOptions{Where: inStock.And(
			orm.Where("name", orm.OpEq, productName),
			orm.Where("stock", orm.OpGte, quantity),
		)})
		if err != nil {
			return err
		}
		if available == 0 {
			return fmt.Errorf("%w: not enough %s left", errOutOfStock, productName)
		}

		order, err := orders.Create(ctx, map[string]interface{}{"userId": buyer.Data["id"], "status": "placed"})
		if err != nil {
			return err
		}
		_, err = items.Create(ctx, map[string]interface{}{
			"orderId":   order.Data["id"],
			"productId": product.Data["id"],
			"quantity":  quantity,
			"price":     product.Data["price"],
		})
		return err
	}, nil)

	switch {
	case errors.Is(err, errOutOfStock):
		fmt.Printf("  ✓ Rolled back: %v\n", err)
	case err != nil:
		log.Printf("  ✗ Order failed: %v", err)
	default:
		fmt.Println("  ✓ Order placed")
	}
}
