package snapshot

import (
	"context"
	"fmt"
	"reflect"

	"github.com/goccy/go-json"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Of captures value field by field using the gorm schema of its model.
//
// Plain columns are keyed by their column name. Belongs-to associations are
// represented by their foreign key column, which is already a plain field.
// Has-many and many2many associations become a list of primary keys, but
// only when the association was loaded (non-nil slice). Fields tagged
// `audit:"-"` are left out.
func Of(db *gorm.DB, value interface{}) (Snapshot, error) {
	if value == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("snapshot: %T is not a struct", value)
	}

	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(value); err != nil {
		return nil, fmt.Errorf("snapshot: parse %T: %w", value, err)
	}
	sch := stmt.Schema
	ctx := context.Background()
	if db.Statement != nil && db.Statement.Context != nil {
		ctx = db.Statement.Context
	}

	raw := make(map[string]interface{}, len(sch.Fields))
	for _, f := range sch.Fields {
		if f.DBName == "" || f.Tag.Get("audit") == "-" {
			continue
		}
		v, _ := f.ValueOf(ctx, rv)
		raw[f.DBName] = v
	}

	for name, rel := range sch.Relationships.Relations {
		if rel.Type != schema.HasMany && rel.Type != schema.Many2Many {
			continue
		}
		// gorm also lists back-references owned by other models here
		if rel.Field == nil || rel.Field.Schema == nil || rel.Field.Schema.ModelType != sch.ModelType {
			continue
		}
		if rel.Field.Tag.Get("audit") == "-" {
			continue
		}
		ids, ok := primaryKeys(ctx, rel, rv)
		if !ok {
			continue
		}
		raw[db.NamingStrategy.ColumnName(sch.Table, name)] = ids
	}

	return normalize(raw)
}

func primaryKeys(ctx context.Context, rel *schema.Relationship, rv reflect.Value) ([]interface{}, bool) {
	pk := rel.FieldSchema.PrioritizedPrimaryField
	if pk == nil {
		return nil, false
	}
	slice := reflect.Indirect(rel.Field.ReflectValueOf(ctx, rv))
	if slice.Kind() != reflect.Slice || slice.IsNil() {
		return nil, false
	}
	ids := make([]interface{}, 0, slice.Len())
	for i := 0; i < slice.Len(); i++ {
		elem := reflect.Indirect(slice.Index(i))
		if !elem.IsValid() {
			continue
		}
		id, _ := pk.ValueOf(ctx, elem)
		ids = append(ids, id)
	}
	return ids, true
}

// normalize round-trips through JSON so that the snapshot compares equal to
// one decoded back from storage.
func normalize(raw map[string]interface{}) (Snapshot, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	return s, nil
}
