package typemap

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Family is a dialect-independent group of column types.
type Family string

const (
	SmallInt  Family = "SMALLINT"
	Integer   Family = "INTEGER"
	BigInt    Family = "BIGINT"
	Numeric   Family = "NUMERIC"
	Float     Family = "FLOAT"
	Double    Family = "DOUBLE"
	Char      Family = "CHAR"
	Varchar   Family = "VARCHAR"
	Text      Family = "TEXT"
	Boolean   Family = "BOOLEAN"
	Date      Family = "DATE"
	Timestamp Family = "TIMESTAMP"
	Time      Family = "TIME"
	Binary    Family = "BINARY"
	JSON      Family = "JSON"
	UUID      Family = "UUID"
	Unknown   Family = "UNKNOWN"
)

// TypeMap holds the mapping from dialect type names to families.
type TypeMap struct {
	Mappings  map[string]Family `yaml:"mappings"`
	Overrides map[string]Family `yaml:"overrides,omitempty"`
	defaults  map[string]Family // not serialized; populated by ForDatabase
}

// DefaultPostgres returns the default type families for PostgreSQL.
func DefaultPostgres() *TypeMap {
	m := map[string]Family{
		"smallint":                    SmallInt,
		"int2":                        SmallInt,
		"integer":                     Integer,
		"int":                         Integer,
		"int4":                        Integer,
		"serial":                      Integer,
		"bigint":                      BigInt,
		"int8":                        BigInt,
		"bigserial":                   BigInt,
		"numeric":                     Numeric,
		"decimal":                     Numeric,
		"real":                        Float,
		"float4":                      Float,
		"float":                       Float,
		"double precision":            Double,
		"float8":                      Double,
		"double":                      Double,
		"character varying":           Varchar,
		"varchar":                     Varchar,
		"text":                        Text,
		"char":                        Char,
		"character":                   Char,
		"boolean":                     Boolean,
		"bool":                        Boolean,
		"date":                        Date,
		"timestamp":                   Timestamp,
		"timestamptz":                 Timestamp,
		"timestamp with time zone":    Timestamp,
		"timestamp without time zone": Timestamp,
		"datetime":                    Timestamp,
		"time":                        Time,
		"bytea":                       Binary,
		"uuid":                        UUID,
		"jsonb":                       JSON,
		"json":                        JSON,
	}
	return &TypeMap{Mappings: m}
}

// DefaultOracle returns the default type families for Oracle.
func DefaultOracle() *TypeMap {
	m := map[string]Family{
		"number":    Numeric,
		"integer":   Integer,
		"varchar2":  Varchar,
		"nvarchar2": Varchar,
		"char":      Char,
		"nchar":     Char,
		"clob":      Text,
		"nclob":     Text,
		"date":      Date,
		"timestamp": Timestamp,
		"blob":      Binary,
		"raw":       Binary,
		"float":     Double,
	}
	return &TypeMap{Mappings: m}
}

// ForDatabase returns a TypeMap with defaults for the given database type.
func ForDatabase(dbType string) *TypeMap {
	var tm *TypeMap
	switch dbType {
	case "oracle":
		tm = DefaultOracle()
	default:
		tm = DefaultPostgres()
	}
	tm.defaults = make(map[string]Family, len(tm.Mappings))
	for k, v := range tm.Mappings {
		tm.defaults[k] = v
	}
	if tm.Overrides == nil {
		tm.Overrides = make(map[string]Family)
	}
	return tm
}

// Type is a parsed column type: its family plus an optional length or precision.
type Type struct {
	Family Family
	Length int // 0 when unspecified
}

// Parse splits a declared type such as "varchar(255)" into its base name and
// length, and resolves the base name to a family.
func (tm *TypeMap) Parse(dataType string) Type {
	base, length := splitType(dataType)
	return Type{Family: tm.Resolve(base), Length: length}
}

// Resolve returns the family for the given base type name.
func (tm *TypeMap) Resolve(sourceType string) Family {
	key := strings.ToLower(strings.TrimSpace(sourceType))
	if f, ok := tm.Overrides[key]; ok {
		return f
	}
	if f, ok := tm.Mappings[key]; ok {
		return f
	}
	return Unknown
}

func splitType(dataType string) (string, int) {
	s := strings.ToLower(strings.TrimSpace(dataType))
	open := strings.Index(s, "(")
	if open < 0 {
		return s, 0
	}
	base := strings.TrimSpace(s[:open])
	args := strings.TrimSuffix(strings.TrimSpace(s[open+1:]), ")")
	if comma := strings.Index(args, ","); comma >= 0 {
		args = args[:comma]
	}
	n, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		return base, 0
	}
	return base, n
}

// Override applies a user override for a source type.
func (tm *TypeMap) Override(sourceType string, family Family) {
	key := strings.ToLower(sourceType)
	tm.Mappings[key] = family
	if tm.Overrides == nil {
		tm.Overrides = make(map[string]Family)
	}
	if tm.defaults != nil {
		if def, ok := tm.defaults[key]; ok && def == family {
			delete(tm.Overrides, key)
			return
		}
	}
	tm.Overrides[key] = family
}

// RestoreDefault restores the default family for a source type.
func (tm *TypeMap) RestoreDefault(sourceType string) {
	key := strings.ToLower(sourceType)
	if tm.defaults != nil {
		if def, ok := tm.defaults[key]; ok {
			tm.Mappings[key] = def
			delete(tm.Overrides, key)
		}
	}
}

// IsOverridden returns true if the source type has been overridden from its default.
func (tm *TypeMap) IsOverridden(sourceType string) bool {
	if tm.Overrides == nil {
		return false
	}
	_, ok := tm.Overrides[strings.ToLower(sourceType)]
	return ok
}

// SortedTypes returns the source type names sorted alphabetically.
func (tm *TypeMap) SortedTypes() []string {
	types := make([]string, 0, len(tm.Mappings))
	for k := range tm.Mappings {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}

// WriteYAML writes the type mapping to a YAML file.
func (tm *TypeMap) WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	data, err := yaml.Marshal(tm)
	if err != nil {
		return fmt.Errorf("marshaling type map: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// LoadYAML reads a type mapping from a YAML file. Entries in the file are
// layered on top of the PostgreSQL defaults as overrides.
func LoadYAML(path string) (*TypeMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading type map file: %w", err)
	}
	var file TypeMap
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing type map: %w", err)
	}

	tm := ForDatabase("postgresql")
	for k, v := range file.Mappings {
		tm.Override(k, v)
	}
	for k, v := range file.Overrides {
		tm.Override(k, v)
	}
	return tm, nil
}
