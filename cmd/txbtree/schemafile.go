package main

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/txbtree/txbtree/pkg/btree"
	"github.com/txbtree/txbtree/pkg/txerr"
)

// schemaColumn is the YAML-facing representation of btree.Column; the CLI
// owns this file format so the core engine stays free of encoding
// concerns it doesn't need (§6's "external interfaces" live here, not in
// pkg/btree).
//
// The schema file carries only column definitions, never a root block id:
// per §6, "there is no separate root-pointer record on disk," so the CLI
// always locates the root by scanning the Block File (btree.Load) rather
// than remembering one here.
type schemaColumn struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	MaxLen int    `yaml:"max_len,omitempty"`
}

type schemaFile struct {
	Columns []schemaColumn `yaml:"columns"`
}

func columnTypeFromString(s string) (btree.ColumnType, error) {
	switch s {
	case "int64":
		return btree.TypeInt64, nil
	case "bool":
		return btree.TypeBool, nil
	case "string":
		return btree.TypeString, nil
	case "bytes":
		return btree.TypeBytes, nil
	default:
		return 0, txerr.BadRequestf("schema file: unknown column type %q", s)
	}
}

func columnTypeToString(t btree.ColumnType) string {
	switch t {
	case btree.TypeInt64:
		return "int64"
	case btree.TypeBool:
		return "bool"
	case btree.TypeString:
		return "string"
	default:
		return "bytes"
	}
}

// loadSchemaFile reads a schema YAML file into a RowSchema.
func loadSchemaFile(path string) (btree.RowSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return btree.RowSchema{}, txerr.Wrap(txerr.Internal, err, "read schema file")
	}
	var sf schemaFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return btree.RowSchema{}, txerr.Wrap(txerr.BadRequest, err, "parse schema file")
	}
	schema := btree.RowSchema{Columns: make([]btree.Column, len(sf.Columns))}
	for i, c := range sf.Columns {
		ct, err := columnTypeFromString(c.Type)
		if err != nil {
			return btree.RowSchema{}, err
		}
		schema.Columns[i] = btree.Column{Name: c.Name, Type: ct, MaxLen: c.MaxLen}
	}
	return schema, nil
}

// saveSchemaFile writes schema to path.
func saveSchemaFile(path string, schema btree.RowSchema) error {
	sf := schemaFile{Columns: make([]schemaColumn, len(schema.Columns))}
	for i, c := range schema.Columns {
		sf.Columns[i] = schemaColumn{Name: c.Name, Type: columnTypeToString(c.Type), MaxLen: c.MaxLen}
	}
	data, err := yaml.Marshal(sf)
	if err != nil {
		return txerr.Wrap(txerr.Internal, err, "marshal schema file")
	}
	return os.WriteFile(path, data, 0o644)
}
