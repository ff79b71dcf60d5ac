// Package catalog загружает неизменяемый каталог книг из YAML.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/pricing"
)

//go:embed books.yaml
var defaultCatalog []byte

type fileFormat struct {
	Books []bookRecord `yaml:"books"`
}

type bookRecord struct {
	ID          string   `yaml:"id"`
	Slug        string   `yaml:"slug"`
	Title       string   `yaml:"title"`
	Author      string   `yaml:"author"`
	Price       string   `yaml:"price"`
	ISBN        string   `yaml:"isbn"`
	Pages       int      `yaml:"pages"`
	WeightGrams int      `yaml:"weight_grams"`
	Category    string   `yaml:"category"`
	Tags        []string `yaml:"tags"`
}

// Catalog — индекс книг по ID; после загрузки не меняется.
type Catalog struct {
	books map[string]domain.Book
	order []string
}

// Load читает YAML-каталог и проверяет записи.
func Load(r io.Reader) (*Catalog, error) {
	var file fileFormat
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{books: make(map[string]domain.Book, len(file.Books))}
	for i, rec := range file.Books {
		book, err := rec.toBook()
		if err != nil {
			return nil, fmt.Errorf("catalog record %d: %w", i, err)
		}
		if _, dup := c.books[book.ID]; dup {
			return nil, fmt.Errorf("catalog record %d: duplicate id %q", i, book.ID)
		}
		c.books[book.ID] = book
		c.order = append(c.order, book.ID)
	}
	if len(c.order) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}

	return c, nil
}

// Default возвращает встроенный каталог магазина.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

// LoadFile загружает каталог с диска; пустой путь означает встроенный каталог.
func LoadFile(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func (r bookRecord) toBook() (domain.Book, error) {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return domain.Book{}, fmt.Errorf("id is required")
	}
	if strings.TrimSpace(r.Title) == "" {
		return domain.Book{}, fmt.Errorf("book %q: title is required", id)
	}
	price, err := pricing.ParseAmount(r.Price)
	if err != nil {
		return domain.Book{}, fmt.Errorf("book %q: %w", id, err)
	}
	if price <= 0 {
		return domain.Book{}, fmt.Errorf("book %q: price must be positive", id)
	}

	weight := r.WeightGrams
	if weight <= 0 {
		weight = domain.DefaultBookWeightGrams
	}
	slug := r.Slug
	if slug == "" {
		slug = id
	}

	return domain.Book{
		ID:          id,
		Slug:        slug,
		Title:       strings.TrimSpace(r.Title),
		Author:      r.Author,
		ISBN:        r.ISBN,
		Pages:       r.Pages,
		Tags:        append([]string(nil), r.Tags...),
		PriceMinor:  price,
		WeightGrams: weight,
		Category:    r.Category,
	}, nil
}

// Get возвращает книгу или ErrBookNotFound.
func (c *Catalog) Get(id string) (domain.Book, error) {
	book, ok := c.books[strings.TrimSpace(id)]
	if !ok {
		return domain.Book{}, domain.ErrBookNotFound
	}
	return book, nil
}

// List возвращает книги в порядке файла.
func (c *Catalog) List() []domain.Book {
	out := make([]domain.Book, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.books[id])
	}
	return out
}

// ByCategory возвращает книги одной категории.
func (c *Catalog) ByCategory(category string) []domain.Book {
	out := make([]domain.Book, 0)
	for _, id := range c.order {
		if book := c.books[id]; strings.EqualFold(book.Category, category) {
			out = append(out, book)
		}
	}
	return out
}

// Len — количество книг.
func (c *Catalog) Len() int { return len(c.order) }

var _ domain.BookCatalog = (*Catalog)(nil)
