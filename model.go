package store

// Model lets an entity override the table definition derived from its metadata.
type Model interface {
	GetTableDef() TableDef
}

// SQLTableCreator lets an entity provide its own CREATE TABLE statement.
type SQLTableCreator interface {
	DDL() string
}
