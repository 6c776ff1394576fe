package store

import (
	"reflect"
	"testing"

	"github.com/iancoleman/strcase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStoreTag(t *testing.T) {
	tests := []struct {
		tag      string
		expected storeTag
	}{
		{tag: "", expected: storeTag{}},
		{tag: "-", expected: storeTag{name: "-", skip: true}},
		{tag: "_id,id", expected: storeTag{name: "_id", id: true}},
		{tag: ",key", expected: storeTag{id: true}},
		{tag: "movie,embedded", expected: storeTag{name: "movie", embedded: true}},
		{tag: "audit,flatten", expected: storeTag{name: "audit", embedded: true, flatten: true}},
		{tag: "owner,ref", expected: storeTag{name: "owner", ref: true}},
		{tag: "price,converter=money udt=amount", expected: storeTag{name: "price", converter: "money", udt: "amount"}},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseStoreTag(tt.tag))
		})
	}
}

func TestIntrospect(t *testing.T) {
	meta, err := Introspect(reflect.TypeOf(&Profile{}), nil)
	require.NoError(t, err)

	assert.Equal(t, "Profile", meta.Name)
	assert.Equal(t, reflect.TypeOf(Profile{}), meta.Type)
	require.NotNil(t, meta.ID)
	assert.Equal(t, "_id", meta.ID.Name)

	tests := []struct {
		name     string
		kind     FieldKind
		elemType reflect.Type
		flatten  bool
	}{
		{name: "_id", kind: KindScalar},
		{name: "Audit", kind: KindEmbedded, elemType: reflect.TypeOf(Audit{}), flatten: true},
		{name: "nickname", kind: KindScalar},
		{name: "email", kind: KindScalar},
		{name: "score", kind: KindScalar},
		{name: "active", kind: KindScalar},
		{name: "tags", kind: KindCollection, elemType: reflect.TypeOf("")},
		{name: "home", kind: KindEmbedded, elemType: reflect.TypeOf(Address{})},
		{name: "work", kind: KindEmbedded, elemType: reflect.TypeOf(Address{})},
		{name: "past", kind: KindCollection, elemType: reflect.TypeOf(Address{})},
		{name: "contacts", kind: KindMap, elemType: reflect.TypeOf(Address{})},
		{name: "ratings", kind: KindMap, elemType: reflect.TypeOf("")},
		{name: "owner", kind: KindEntityReference, elemType: reflect.TypeOf(Person{})},
		{name: "avatar", kind: KindScalar},
	}

	require.Len(t, meta.Fields, len(tests))
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd, ok := meta.Field(tt.name)
			require.True(t, ok)
			assert.Same(t, meta.Fields[i], fd, "fields keep declaration order")
			assert.Equal(t, tt.kind, fd.Kind)
			assert.Equal(t, tt.flatten, fd.Flatten)
			if tt.elemType != nil {
				assert.Equal(t, tt.elemType, fd.ElemType)
			}
		})
	}

	contacts, _ := meta.Field("contacts")
	assert.Equal(t, reflect.TypeOf(""), contacts.KeyType)
	assert.True(t, contacts.Embeddable())

	ratings, _ := meta.Field("ratings")
	assert.Equal(t, reflect.TypeOf(0), ratings.KeyType)
	assert.False(t, ratings.Embeddable())

	_, ok := meta.Field("internal")
	assert.False(t, ok)
}

func TestIntrospectImplicitID(t *testing.T) {
	meta, err := Introspect(reflect.TypeOf(Person{}), nil)
	require.NoError(t, err)
	require.NotNil(t, meta.ID)
	assert.Equal(t, "ID", meta.ID.GoName)

	type Tagged struct {
		ID   string
		Code string `store:"code,id"`
	}

	meta, err = Introspect(reflect.TypeOf(Tagged{}), nil)
	require.NoError(t, err)
	assert.Equal(t, "code", meta.ID.Name)
}

func TestIntrospectEntityDef(t *testing.T) {
	type Track struct {
		EntityDef `name:"tracks" schema:"music" discriminator:"Single" column:"kind"`
		ID        int
	}

	meta, err := Introspect(reflect.TypeOf(Track{}), nil)
	require.NoError(t, err)
	assert.Equal(t, "tracks", meta.Name)
	assert.Equal(t, "music", meta.Schema)
	assert.Equal(t, &Discriminator{Column: "kind", Value: "Single"}, meta.Discriminator)
	assert.Len(t, meta.Fields, 1)

	meta, err = Introspect(reflect.TypeOf(Dog{}), nil)
	require.NoError(t, err)
	assert.Equal(t, "dtype", meta.Discriminator.Column)
}

func TestIntrospectNaming(t *testing.T) {
	meta, err := Introspect(reflect.TypeOf(Audit{}), strcase.ToSnake)
	require.NoError(t, err)

	_, ok := meta.Field("created_by")
	assert.True(t, ok)
	_, ok = meta.Field("created_at")
	assert.True(t, ok)
}

func TestIntrospectErrors(t *testing.T) {
	type TwoKeys struct {
		A string `store:"a,id"`
		B string `store:"b,id"`
	}

	type Duplicate struct {
		A string `store:"name"`
		B string `store:"name"`
	}

	type BadEmbedded struct {
		Count int `store:"count,embedded"`
	}

	tests := []struct {
		name string
		typ  reflect.Type
	}{
		{name: "not a struct", typ: reflect.TypeOf(42)},
		{name: "nil type", typ: nil},
		{name: "anonymous struct", typ: reflect.TypeOf(struct{ A int }{})},
		{name: "two id fields", typ: reflect.TypeOf(TwoKeys{})},
		{name: "duplicate names", typ: reflect.TypeOf(Duplicate{})},
		{name: "embedded scalar", typ: reflect.TypeOf(BadEmbedded{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Introspect(tt.typ, nil)
			assert.Error(t, err)
		})
	}
}

func TestNewEntityMetadata(t *testing.T) {
	title := &FieldDescriptor{
		Name: "title",
		Kind: KindScalar,
		Type: reflect.TypeOf(""),
		Get: func(v reflect.Value) reflect.Value {
			return v.FieldByName("Title")
		},
		Set: func(v reflect.Value, value reflect.Value) {
			v.FieldByName("Title").Set(value)
		},
	}

	meta, err := NewEntityMetadata("Film", reflect.TypeOf(&Movie{}), title)
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeOf(Movie{}), meta.Type)

	registry := NewMetadataRegistry()
	require.NoError(t, registry.RegisterMetadata(meta))

	c, err := NewEntityConverter(registry)
	require.NoError(t, err)

	rec, err := c.ToRecord(Movie{Title: "Matrix", Year: 1999})
	require.NoError(t, err)
	assert.Equal(t, "Film", rec.Name)
	assert.Equal(t, []string{"title"}, rec.Names())

	entity, err := c.ToEntity(rec)
	require.NoError(t, err)
	assert.Equal(t, &Movie{Title: "Matrix"}, entity)

	_, err = NewEntityMetadata("Broken", reflect.TypeOf(Movie{}), &FieldDescriptor{Name: "title"})
	assert.Error(t, err)

	_, err = NewEntityMetadata("Number", reflect.TypeOf(1))
	assert.Error(t, err)
}

func TestEntityMetadataIDValue(t *testing.T) {
	meta, err := Introspect(reflect.TypeOf(Actor{}), nil)
	require.NoError(t, err)

	id, ok := meta.IDValue(reflect.ValueOf(&Actor{ID: 5}))
	require.True(t, ok)
	assert.Equal(t, 5, id)

	_, ok = meta.IDValue(reflect.ValueOf((*Actor)(nil)))
	assert.False(t, ok)

	movie, err := Introspect(reflect.TypeOf(Movie{}), nil)
	require.NoError(t, err)
	_, ok = movie.IDValue(reflect.ValueOf(Movie{}))
	assert.False(t, ok)
}

func TestRegistryNames(t *testing.T) {
	registry := NewMetadataRegistry()
	require.NoError(t, registry.Register(Actor{}, reflect.TypeOf(Director{})))

	meta, err := registry.LookupByName("Director")
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeOf(Director{}), meta.Type)

	type Other struct {
		EntityDef `name:"Actor"`
		ID        int
	}
	assert.Error(t, registry.Register(Other{}), "entity names are unique")

	_, err = registry.Lookup(reflect.TypeOf(0))
	assert.ErrorIs(t, err, ErrUnknownEntity)

	_, err = registry.LookupByName("Missing")
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestRegistryLookupRecord(t *testing.T) {
	registry := NewMetadataRegistry()
	require.NoError(t, registry.Register(Dog{}, Cat{}))

	meta, err := registry.LookupRecord(NewRecord("Animal", Element{Name: "dtype", Value: "Cat"}))
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeOf(Cat{}), meta.Type)

	meta, err = registry.LookupRecord(NewRecord("Animal"))
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeOf(Dog{}), meta.Type, "first member is the default")

	_, err = registry.LookupRecord(NewRecord("Plant"))
	assert.ErrorIs(t, err, ErrUnknownEntity)
}
