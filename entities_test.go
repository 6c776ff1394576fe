package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/guregu/null.v4"
)

type Actor struct {
	ID     int `store:"_id,id"`
	Age    int
	Name   string
	Phones []string
}

type Movie struct {
	Title  string
	Year   int
	Actors []string
}

type Director struct {
	ID    int `store:"_id,id"`
	Name  string
	Movie Movie `store:"movie,embedded"`
}

type Money struct {
	Currency string
	Amount   int64
}

func parseMoney(s string) (Money, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return Money{}, fmt.Errorf("invalid money %q", s)
	}

	amount, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money amount %q", parts[1])
	}

	return Money{Currency: parts[0], Amount: amount}, nil
}

func moneyConverter() ValueConverter {
	return NewConverter(func(m Money) (string, error) {
		return fmt.Sprintf("%s %d", m.Currency, m.Amount), nil
	}, parseMoney)
}

func csvConverter() ValueConverter {
	return NewConverter(func(list []string) (string, error) {
		return strings.Join(list, ","), nil
	}, func(s string) ([]string, error) {
		if s == "" {
			return nil, nil
		}
		return strings.Split(s, ","), nil
	})
}

type Worker struct {
	ID     string `store:"_id,id"`
	Name   string
	Salary Money    `store:"salary,converter=money"`
	Skills []string `store:"skills,converter=csv"`
}

type Audit struct {
	CreatedBy string
	CreatedAt time.Time
}

type Address struct {
	Street string
	City   string
}

type Person struct {
	ID   string
	Name string
}

type Profile struct {
	ID int64 `store:"_id,id"`
	Audit
	Nickname *string
	Email    null.String
	Score    float64
	Active   bool
	Tags     []string
	Home     Address `store:"home,embedded"`
	Work     *Address
	Past     []Address
	Contacts map[string]Address
	Ratings  map[int]string
	Owner    *Person `store:"owner,ref"`
	Avatar   []byte
	Internal string `store:"-"`
}

type Animal interface {
	Sound() string
}

type Dog struct {
	EntityDef `name:"Animal" discriminator:"Dog"`
	ID        string `store:"_id,id"`
	Name      string
}

func (d *Dog) Sound() string { return "woof" }

type Cat struct {
	EntityDef `name:"Animal" discriminator:"Cat"`
	ID        string `store:"_id,id"`
	Name      string
	Lives     int
}

func (c *Cat) Sound() string { return "meow" }

type Shelter struct {
	ID      int `store:"_id,id"`
	Animals []Animal
	Mascot  Animal `store:"mascot,embedded"`
}

type Node struct {
	Name string
	Next *Node
}

type Account struct {
	ID     int `store:"_id,id"`
	Secret string
}

type Label struct {
	Name string
}

// Badge writes Label.Name at its own level, where its Name already lives.
type Badge struct {
	ID    int    `store:"_id,id"`
	Name  string
	Label Label `store:"label,flatten"`
}

type Ribbon struct {
	ID     int   `store:"_id,id"`
	First  Label `store:"first,flatten"`
	Second Label `store:"second,flatten"`
}

type Office struct {
	ID   int      `store:"_id,id"`
	Home Address  `store:"home,flatten"`
	Work *Address `store:"work,embedded"`
}

type Link struct {
	Name string
	Next *Link `store:"next,udt=link"`
}

type Catalog struct {
	ID     string `store:"_id,id"`
	Labels []map[string]string
}

type Customer struct {
	ID       string `store:"_id,id"`
	Name     string
	Address  Address   `store:"address,udt=address"`
	Previous []Address `store:"previous,udt=address"`
}

func ptr[T any](v T) *T {
	return &v
}

func newConverter(options ...ConverterOption) (*EntityConverter, *MetadataRegistry) {
	registry := NewMetadataRegistry()
	converters := NewConverterRegistry()
	converters.RegisterConverter("money", moneyConverter())
	converters.Register("csv", func() (ValueConverter, error) {
		return csvConverter(), nil
	})

	options = append([]ConverterOption{WithConverters(converters)}, options...)
	c, err := NewEntityConverter(registry, options...)
	if err != nil {
		panic(err)
	}

	return c, registry
}
