package domain

// DefaultBookWeightGrams применяется, если в каталоге не указан вес книги.
const DefaultBookWeightGrams = 300

// Book — неизменяемая запись каталога.
type Book struct {
	ID     string   `json:"id"`
	Slug   string   `json:"slug"`
	Title  string   `json:"title"`
	Author string   `json:"author"`
	ISBN   string   `json:"isbn"`
	Pages  int      `json:"pages"`
	Tags   []string `json:"tags,omitempty"`
	// PriceMinor — цена в пенсах.
	PriceMinor  int64  `json:"price_minor"`
	WeightGrams int    `json:"weight_grams"`
	Category    string `json:"category"`
}

// BookCatalog — источник цен, которому доверяет сервер при пересчёте итогов.
type BookCatalog interface {
	Get(id string) (Book, error)
	List() []Book
}
