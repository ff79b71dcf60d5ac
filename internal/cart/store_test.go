package cart

import (
	"sync"
	"testing"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/pricing"
)

func book(id string, price int64) domain.Book {
	return domain.Book{ID: id, Title: "Book " + id, PriceMinor: price, WeightGrams: 400}
}

func TestStore_AddIncrementsExisting(t *testing.T) {
	s := NewStore(nil)
	s.Add(book("a", 1000))
	s.Add(book("a", 1000))
	s.Add(book("b", 500))

	items := s.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(items))
	}
	if items[0].Book.ID != "a" || items[0].Quantity != 2 {
		t.Fatalf("unexpected first line: %#v", items[0])
	}
	if s.TotalQuantity() != 3 {
		t.Fatalf("expected 3 books, got %d", s.TotalQuantity())
	}
	if s.TotalPrice() != 2500 {
		t.Fatalf("expected subtotal 2500, got %d", s.TotalPrice())
	}
}

func TestStore_SingleBookScenario(t *testing.T) {
	s := NewStore(nil)
	s.Add(book("beardmore", 1291))

	if s.TotalPrice() != 1291 || s.BulkDiscount() != 0 || s.FinalTotal() != 1291 {
		t.Fatalf("unexpected totals: %+v", s.Totals())
	}
}

func TestStore_BulkScenario(t *testing.T) {
	s := NewStore(nil)
	for i := 0; i < 5; i++ {
		s.Add(book("clydeside", 1000))
	}

	if s.BulkDiscountPercentage() != 10 {
		t.Fatalf("expected 10%%, got %d", s.BulkDiscountPercentage())
	}
	if pricing.Format(s.TotalPrice()) != "50.00" ||
		pricing.Format(s.BulkDiscount()) != "5.00" ||
		pricing.Format(s.FinalTotal()) != "45.00" {
		t.Fatalf("unexpected totals: %+v", s.Totals())
	}
}

func TestStore_BelowThresholdHasNoDiscount(t *testing.T) {
	s := NewStore(nil)
	s.UpdateQuantity("x", 3) // отсутствующая позиция не создаётся
	if !s.IsEmpty() {
		t.Fatal("UpdateQuantity must not create items")
	}

	s.Add(book("x", 999))
	for qty := 1; qty <= 4; qty++ {
		s.UpdateQuantity("x", qty)
		if s.BulkDiscount() != 0 {
			t.Fatalf("qty=%d: expected no discount, got %d", qty, s.BulkDiscount())
		}
	}
}

func TestStore_UpdateQuantityZeroEqualsRemove(t *testing.T) {
	viaUpdate := NewStore(nil)
	viaRemove := NewStore(nil)
	for _, s := range []*Store{viaUpdate, viaRemove} {
		s.Add(book("a", 1000))
		s.Add(book("b", 2000))
	}

	viaUpdate.UpdateQuantity("a", 0)
	viaRemove.Remove("a")

	for name, s := range map[string]*Store{"update": viaUpdate, "remove": viaRemove} {
		for _, item := range s.Items() {
			if item.Book.ID == "a" {
				t.Fatalf("%s: item a still present", name)
			}
		}
		if s.TotalPrice() != 2000 {
			t.Fatalf("%s: unexpected subtotal %d", name, s.TotalPrice())
		}
	}

	viaUpdate.UpdateQuantity("b", -3)
	if !viaUpdate.IsEmpty() {
		t.Fatal("negative quantity must remove the item")
	}
}

func TestStore_RemoveMissingIsNoop(t *testing.T) {
	s := NewStore(nil)
	s.Add(book("a", 1000))
	s.Remove("zzz")
	if len(s.Items()) != 1 {
		t.Fatal("remove of absent item must not change the cart")
	}
}

func TestStore_FinalTotalInvariantWithShipping(t *testing.T) {
	s := NewStore(pricing.NewCalculator(nil, pricing.DefaultWeightBasedShipping()))
	s.SetDestination("US")
	for i := 0; i < 6; i++ {
		s.Add(book("a", 1291))
	}

	totals := s.Totals()
	if totals.ShippingMinor == 0 {
		t.Fatal("expected shipping to be charged under weight policy")
	}
	if s.FinalTotal() != s.TotalPrice()-s.BulkDiscount()+s.ShippingCost() {
		t.Fatalf("invariant broken: %+v", totals)
	}
}

func TestStore_ClearAndItemsCopy(t *testing.T) {
	s := NewStore(nil)
	s.Add(book("a", 1000))

	items := s.Items()
	items[0].Quantity = 99
	if s.TotalQuantity() != 1 {
		t.Fatal("Items must return a copy")
	}

	s.Clear()
	if !s.IsEmpty() || s.FinalTotal() != 0 {
		t.Fatal("cart must be empty after Clear")
	}
}

func TestStore_ConcurrentAdds(t *testing.T) {
	s := NewStore(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Add(book("a", 100))
		}()
	}
	wg.Wait()

	if s.TotalQuantity() != 50 {
		t.Fatalf("expected 50 books, got %d", s.TotalQuantity())
	}
}
